package commands

import (
	"context"
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/engine"
)

var errDeleteNotConfirmed = errors.New("refusing to delete without --yes")

func newDeleteCommand(opts *options) *cobra.Command {
	var (
		components []string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the components of the manifest",
		Long: `Delete the remote resources of the deployment.

Every selected component is deleted concurrently, regardless of its stage,
and the command waits until the provider reports each one gone. Components
that no longer exist are reported as up to date.`,
		Example: `  # Delete the whole deployment
  kitdeploy delete -f prod.yaml --yes

  # Delete one component
  kitdeploy delete -f prod.yaml --component worker --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errDeleteNotConfirmed
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.loadManifest(ctx)
				if err != nil {
					return err
				}
				if err := checkComponents(m, components); err != nil {
					return err
				}

				p := teardownPlan(m, components, engine.OperationDelete, nil, func(ctx context.Context, r *engine.Reconciler, f engine.TagFilter) (*engine.Result, error) {
					return r.Delete(ctx, f)
				})
				report, err := a.execute(ctx, p)
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), report, opts.jsonOutput); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "delete only these components")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")

	return cmd
}

// teardownPlan puts the selected components into a single stage so they
// run concurrently. keep filters components further when non-nil.
func teardownPlan(
	m *config.Manifest,
	only []string,
	op engine.OperationType,
	keep func(config.ComponentConfig) bool,
	call func(context.Context, *engine.Reconciler, engine.TagFilter) (*engine.Result, error),
) plan {
	ps := planStage{name: string(op)}
	for _, c := range m.Components() {
		if len(only) > 0 && !slices.Contains(only, c.Name) {
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		filter := m.Tags(c.Name).Filter()
		ps.steps = append(ps.steps, step{
			component: c.Name,
			kind:      c.Kind,
			call: func(ctx context.Context, r *engine.Reconciler) (*engine.Result, error) {
				return call(ctx, r, filter)
			},
		})
	}

	p := plan{command: string(op), deployment: m.Deployment, operation: op}
	if len(ps.steps) > 0 {
		p.stages = []planStage{ps}
	}
	return p
}
