package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/policy"
)

func newWatchCommand(opts *options) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Deploy, then redeploy whenever the manifest changes",
		Long: `Deploy the manifest, then watch it and redeploy after every change.

Policy files under --policy-dir are watched too; a policy change reloads the
policies and redeploys so the new rules are enforced. A failed deploy is
logged and the command keeps watching. A fatal error stops the command,
because the deployment needs an operator before it can continue.

--timeout bounds each deploy rather than the whole command.`,
		Example: `  # Redeploy on save, serving metrics for scraping
  kitdeploy watch -f dev.yaml --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), cmd, opts, func(ctx context.Context, a *app) error {
				w := &manifestWatcher{
					app:      a,
					path:     opts.manifest,
					debounce: debounce,
					out:      cmd.OutOrStdout(),
				}
				return w.run(ctx)
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", time.Second, "quiet period after the last change before redeploying")

	return cmd
}

// manifestWatcher redeploys the manifest on change.
type manifestWatcher struct {
	app      *app
	path     string
	debounce time.Duration
	out      io.Writer

	// onDeploy, when set, is called after every deploy.
	onDeploy func(*runReport, error)
}

func (w *manifestWatcher) run(ctx context.Context) error {
	path, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// Editors replace files on save, so the directory is watched.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	trigger := make(chan string, 1)
	notify := func(reason string) {
		select {
		case trigger <- reason:
		default:
		}
	}

	if dir := w.app.settings.PolicyDir; dir != "" {
		pe, err := w.app.policyEngine(ctx)
		if err != nil {
			return err
		}
		loader := policy.NewLoader(w.app.logger)
		reload := func(policies []policy.Policy) error {
			if err := pe.ReplaceCustom(ctx, policies); err != nil {
				return err
			}
			notify("policies changed")
			return nil
		}
		if err := loader.Watch(ctx, []string{dir}, reload); err != nil {
			return err
		}
		defer func() { _ = loader.StopWatching() }()
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	w.app.logger.Info().Str("manifest", path).Msg("Watching manifest")
	notify("initial deploy")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { notify("manifest changed") })
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.app.logger.Warn().Err(err).Msg("Watcher error")

		case reason := <-trigger:
			if err := w.deploy(ctx, reason); engine.IsFatal(err) {
				return err
			}
		}
	}
}

// deploy runs one deploy bounded by the command timeout. Errors are logged
// and returned.
func (w *manifestWatcher) deploy(ctx context.Context, reason string) error {
	w.app.logger.Info().Str("reason", reason).Msg("Deploying")

	ctx, cancel := w.app.opts.commandContext(ctx)
	defer cancel()

	var report *runReport
	m, err := w.app.loadManifest(ctx)
	if err == nil {
		report, err = w.app.deploy(ctx, m, nil)
	}
	if report != nil {
		if perr := printReport(w.out, report, w.app.opts.jsonOutput); perr != nil {
			w.app.logger.Warn().Err(perr).Msg("Failed to print report")
		}
	}
	if err != nil && ctx.Err() == nil {
		w.app.logger.Error().Err(err).Msg("Deploy failed, waiting for the next change")
	}

	if w.onDeploy != nil {
		w.onDeploy(report, err)
	}
	return err
}
