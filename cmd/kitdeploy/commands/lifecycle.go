package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/engine"
)

func newStartCommand(opts *options) *cobra.Command {
	return newTransitionCommand(opts, engine.OperationStart)
}

func newStopCommand(opts *options) *cobra.Command {
	return newTransitionCommand(opts, engine.OperationStop)
}

// newTransitionCommand builds start or stop. Without arguments every
// pausable component of the manifest is transitioned.
func newTransitionCommand(opts *options, op engine.OperationType) *cobra.Command {
	verb, from, to := "Resume", "paused", "running"
	if op == engine.OperationStop {
		verb, from, to = "Pause", "running", "paused"
	}

	cmd := &cobra.Command{
		Use:   string(op) + " [component...]",
		Short: fmt.Sprintf("%s pausable components", verb),
		Long: fmt.Sprintf(`%s compute services and scheduled jobs without recreating them.

Each component must currently be %s; any other status stops the command
with a fatal error so that an operation started elsewhere is not disturbed.
The command waits until every component is %s.`, verb, from, to),
		Example: fmt.Sprintf(`  # %s every pausable component
  kitdeploy %s -f prod.yaml

  # %s one component
  kitdeploy %s -f prod.yaml api`, verb, op, verb, op),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.loadManifest(ctx)
				if err != nil {
					return err
				}
				if err := checkComponents(m, args); err != nil {
					return err
				}

				// Named components must be pausable; the engine reports that.
				keep := func(c config.ComponentConfig) bool { return len(args) > 0 || a.pausable(c.Kind) }
				p := teardownPlan(m, args, op, keep, func(ctx context.Context, r *engine.Reconciler, f engine.TagFilter) (*engine.Result, error) {
					if op == engine.OperationStop {
						return r.Stop(ctx, f)
					}
					return r.Start(ctx, f)
				})
				if len(p.stages) == 0 {
					a.logger.Info().Msg("No pausable components in the manifest")
					return nil
				}

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

	return cmd
}

func (a *app) pausable(kind string) bool {
	r, err := a.reconciler(kind)
	if err != nil {
		return false
	}
	_, ok := r.Kind().(engine.Pausable)
	return ok
}
