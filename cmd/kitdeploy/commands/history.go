package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/stores"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		deployment string
		component  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs and reconciliations",
		Long: `Show the runs recorded in the configuration store, newest first.

With a run ID, show every reconciliation of that run. With --component,
show the reconciliations of one component across runs.`,
		Example: `  # Recent runs of the manifest's deployment
  kitdeploy history

  # Reconciliations of one run
  kitdeploy history 0b6f8a52-3c1e-4f7d-9a51-2f43c5f4ad10

  # Reconciliations of one component
  kitdeploy history -d prod --component api --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					run, err := a.store.GetRun(ctx, args[0])
					if err != nil {
						return err
					}
					recs, err := a.store.ListReconciliations(ctx, stores.ReconciliationFilter{RunID: run.ID})
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return printJSON(cmd.OutOrStdout(), map[string]interface{}{"run": run, "reconciliations": recs})
					}
					if err := printRuns(cmd, []*stores.Run{run}); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout())
					return printReconciliations(cmd, recs)
				}

				dep, err := a.deploymentName(ctx, deployment)
				if err != nil {
					return err
				}

				if component != "" {
					recs, err := a.store.ListReconciliations(ctx, stores.ReconciliationFilter{
						Deployment: dep,
						Component:  component,
						Limit:      limit,
					})
					if err != nil {
						return err
					}
					if opts.jsonOutput {
						return printJSON(cmd.OutOrStdout(), recs)
					}
					return printReconciliations(cmd, recs)
				}

				runs, err := a.store.ListRuns(ctx, dep, limit, 0)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				return printRuns(cmd, runs)
			})
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment (default: the manifest's)")
	cmd.Flags().StringVarP(&component, "component", "c", "", "show reconciliations of this component")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")

	return cmd
}

func printRuns(cmd *cobra.Command, runs []*stores.Run) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "RUN\tCOMMAND\tDEPLOYMENT\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		errMsg := ""
		if r.Error != nil {
			errMsg = firstLine(*r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Command, r.Deployment, r.Status,
			r.StartedAt.Local().Format(time.DateTime), duration, orDash(errMsg))
	}
	return tw.Flush()
}

func printReconciliations(cmd *cobra.Command, recs []*stores.Reconciliation) error {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "STARTED\tCOMPONENT\tKIND\tOPERATION\tOUTCOME\tRESOURCE\tCODE\tDURATION")
	for _, r := range recs {
		resource, code := "", ""
		if r.ResourceID != nil {
			resource = *r.ResourceID
		}
		if r.ErrorCode != nil {
			code = *r.ErrorCode
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Component, r.Kind, r.Operation,
			r.Outcome, orDash(resource), orDash(code), r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}
