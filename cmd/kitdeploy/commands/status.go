package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// componentStatus is one row of the status command.
type componentStatus struct {
	Component string                `json:"component"`
	Kind      string                `json:"kind"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Status    engine.Status         `json:"status,omitempty"`
	Lifecycle engine.ResourceStatus `json:"lifecycle"`
	Tags      map[string]string     `json:"tags,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func newStatusCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the remote status of every component",
		Long: `Discover each component of the manifest by its tags and show its
provider status. Nothing is changed.

A component matching more than one remote resource is reported as an error;
delete the duplicates in the provider console.`,
		Example: `  kitdeploy status -f prod.yaml
  kitdeploy status -f prod.yaml --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.loadManifest(ctx)
				if err != nil {
					return err
				}

				components := m.Components()
				rows := make([]componentStatus, len(components))
				g, gctx := errgroup.WithContext(ctx)
				g.SetLimit(a.settings.MaxParallel)
				for i, c := range components {
					g.Go(func() error {
						rows[i] = a.status(gctx, c.Kind, m.Tags(c.Name).Filter())
						return nil
					})
				}
				_ = g.Wait()
				if err := ctx.Err(); err != nil {
					return err
				}

				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), rows)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "COMPONENT\tKIND\tID\tSTATUS\tLIFECYCLE")
				busy := 0
				for _, r := range rows {
					status := string(r.Status)
					if r.Error != "" {
						status = "error: " + r.Error
					}
					if r.Lifecycle.IsTransitional() {
						busy++
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Component, r.Kind, orDash(r.ID), orDash(status), r.Lifecycle)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if busy > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "\n%d component(s) still converging\n", busy)
				}
				return nil
			})
		},
	}

	return cmd
}

func (a *app) status(ctx context.Context, kind string, filter engine.TagFilter) componentStatus {
	row := componentStatus{Component: filter.Component, Kind: kind, Lifecycle: engine.ResourceStatusUnknown}

	r, err := a.reconciler(kind)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	res, err := r.Status(ctx, filter)
	switch {
	case err != nil:
		row.Error = err.Error()
	case res == nil:
		row.Lifecycle = engine.ResourceStatusNotFound
	default:
		row.ID = res.ID
		row.Name = res.Name
		row.Status = res.Status
		row.Tags = res.Tags
		row.Lifecycle = r.Kind().Lifecycle(res.Status)
	}
	return row
}
