package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/engine"
)

func newDeployCommand(opts *options) *cobra.Command {
	var components []string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or update every component of the manifest",
		Long: `Reconcile the deployment with the manifest.

This command:
  - Loads and validates the manifest
  - Resolves each component's attributes (stored defaults, manifest, script)
  - Evaluates the policies; error-severity violations block the deploy
  - Reconciles the stages in order, components of a stage concurrently
  - Waits for every resource to converge and records the run`,
		Example: `  # Deploy the manifest in the current directory
  kitdeploy deploy

  # Deploy two components only
  kitdeploy deploy -f prod.yaml --component api --component worker

  # Deploy against the remote API
  KITDEPLOY_TOKEN=... kitdeploy deploy --provider http --endpoint https://api.example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.loadManifest(ctx)
				if err != nil {
					return err
				}
				report, err := a.deploy(ctx, m, components)
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), report, opts.jsonOutput); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "deploy only these components")

	return cmd
}

// deploy resolves m, applies the policy gate and reconciles the selected
// components, or all of them when only is empty.
func (a *app) deploy(ctx context.Context, m *config.Manifest, only []string) (*runReport, error) {
	if err := checkComponents(m, only); err != nil {
		return nil, err
	}

	stages, err := a.resolve(ctx, a.store, m, only)
	if err != nil {
		return nil, err
	}

	if _, err := a.checkPolicies(ctx, stages); err != nil {
		return nil, err
	}

	p := plan{command: "deploy", deployment: m.Deployment, operation: "discover"}
	for _, s := range stages {
		ps := planStage{name: s.Name}
		for _, c := range s.Components {
			req := engine.Request{Tags: c.Tags, Desired: c.Desired}
			ps.steps = append(ps.steps, step{
				component: c.Name,
				kind:      c.Kind,
				call: func(ctx context.Context, r *engine.Reconciler) (*engine.Result, error) {
					return r.Reconcile(ctx, req)
				},
			})
		}
		p.stages = append(p.stages, ps)
	}

	return a.execute(ctx, p)
}

func checkComponents(m *config.Manifest, names []string) error {
	for _, name := range names {
		if _, ok := m.Component(name); !ok {
			return engine.NewPermanentError(fmt.Sprintf("component %q is not in the manifest", name), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(name)
		}
	}
	return nil
}
