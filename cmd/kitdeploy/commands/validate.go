package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/kinds"
	"github.com/saaskit/kitdeploy/pkg/policy"
)

func newValidateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and evaluate the policies",
		Long: `Validate the manifest without touching any remote resource.

This command checks:
  - Manifest syntax and struct constraints
  - Schema conformance (CUE)
  - Component scripts
  - Policy compliance (OPA/Rego) of every resolved component

Built-in kind defaults are applied in memory only; the configuration store
is not written.`,
		Example: `  # Validate the manifest in the current directory
  kitdeploy validate

  # Validate with additional policies
  kitdeploy validate -f prod.yaml --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.loadManifest(ctx)
				if err != nil {
					return err
				}
				stages, err := a.resolve(ctx, previewDefaults{a.store}, m, nil)
				if err != nil {
					return err
				}

				res, err := a.checkPolicies(ctx, stages)
				if res == nil {
					return err
				}
				if opts.jsonOutput {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
					return err
				}

				w := cmd.OutOrStdout()
				for _, v := range res.Violations {
					fmt.Fprintln(w, v.String())
					if v.Remediation != "" {
						fmt.Fprintf(w, "    remediation: %s\n", v.Remediation)
					}
				}
				fmt.Fprintf(w, "%s: %d component(s), %d policies, %d violation(s), %d blocking\n",
					m.Source, len(policy.ComponentInputs(stages)), len(res.EvaluatedPolicies),
					len(res.Violations), len(res.Blocking()))
				return err
			})
		},
	}

	return cmd
}

// previewDefaults reads stored defaults and overlays them on the built-in
// kind defaults without backfilling the store.
type previewDefaults struct {
	store config.DefaultsStore
}

func (p previewDefaults) Defaults(ctx context.Context, deployment, kind string) (engine.Attributes, error) {
	stored, err := p.store.Defaults(ctx, deployment, kind)
	if err != nil {
		return nil, err
	}
	builtin, _ := kinds.Defaults(kind)
	merged := builtin.Clone()
	for k, v := range stored {
		merged[k] = v
	}
	return merged, nil
}

func (previewDefaults) Backfill(context.Context, string, string, engine.Attributes) (int, error) {
	return 0, nil
}
