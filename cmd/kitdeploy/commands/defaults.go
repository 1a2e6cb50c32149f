package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/kinds"
)

func newDefaultsCommand(opts *options) *cobra.Command {
	var deployment string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Manage the stored attribute defaults of a deployment",
		Long: `Stored defaults fill in attributes a manifest does not set. They are kept
per deployment and kind in the configuration store. Built-in kind defaults
are copied into the store the first time a kind is deployed and are never
overwritten afterwards, so values changed here stick.

The deployment is taken from --deployment, or from the manifest.`,
	}
	cmd.PersistentFlags().StringVarP(&deployment, "deployment", "d", "", "deployment (default: the manifest's)")

	cmd.AddCommand(&cobra.Command{
		Use:   "get [kind]",
		Short: "Show stored defaults",
		Example: `  kitdeploy defaults get -d prod
  kitdeploy defaults get compute-service -d prod --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				dep, err := a.deploymentName(ctx, deployment)
				if err != nil {
					return err
				}
				names := kinds.Names()
				if len(args) == 1 {
					if err := checkKind(args[0]); err != nil {
						return err
					}
					names = args
				}

				all := make(map[string]engine.Attributes, len(names))
				for _, kind := range names {
					attrs, err := a.store.Defaults(ctx, dep, kind)
					if err != nil {
						return err
					}
					if len(attrs) > 0 {
						all[kind] = attrs
					}
				}

				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), all)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "KIND\tKEY\tVALUE")
				for _, kind := range names {
					attrs := all[kind]
					keys := attrs.Keys()
					sort.Strings(keys)
					for _, key := range keys {
						v, err := json.Marshal(attrs[key])
						if err != nil {
							return err
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, key, v)
					}
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <kind> <key> <value>",
		Short: "Set a stored default",
		Long: `Set a stored default. The value is parsed as YAML, so numbers, booleans,
lists and maps keep their type; quote a value to force a string.`,
		Example: `  kitdeploy defaults set compute-service max_size 8 -d prod
  kitdeploy defaults set function environment '{LOG_LEVEL: debug}' -d prod`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKind(args[0]); err != nil {
				return err
			}
			var value interface{}
			if err := yaml.Unmarshal([]byte(args[2]), &value); err != nil {
				return fmt.Errorf("invalid value for %s: %w", args[1], err)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				dep, err := a.deploymentName(ctx, deployment)
				if err != nil {
					return err
				}
				if err := a.store.SetDefault(ctx, dep, args[0], args[1], value); err != nil {
					return err
				}
				a.logger.Info().Str("deployment", dep).Str("kind", args[0]).Str("key", args[1]).Msg("Default set")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "unset <kind> <key>",
		Short:   "Remove a stored default",
		Example: `  kitdeploy defaults unset compute-service max_size -d prod`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKind(args[0]); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				dep, err := a.deploymentName(ctx, deployment)
				if err != nil {
					return err
				}
				if err := a.store.DeleteDefault(ctx, dep, args[0], args[1]); err != nil {
					return err
				}
				a.logger.Info().Str("deployment", dep).Str("kind", args[0]).Str("key", args[1]).Msg("Default removed")
				return nil
			})
		},
	})

	return cmd
}

// deploymentName returns name, or the manifest's deployment when empty.
func (a *app) deploymentName(ctx context.Context, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	m, err := a.loadManifest(ctx)
	if err != nil {
		return "", fmt.Errorf("no --deployment given: %w", err)
	}
	return m.Deployment, nil
}

func checkKind(kind string) error {
	if slices.Contains(kinds.Names(), kind) {
		return nil
	}
	return engine.NewPermanentError(fmt.Sprintf("unknown resource kind %q", kind), nil).
		WithCode(engine.ErrCodeValidation).
		WithKind(kind).
		WithRemediation(fmt.Sprintf("use one of: %v", kinds.Names()))
}
