package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/kinds"
	"github.com/saaskit/kitdeploy/pkg/policy"
	"github.com/saaskit/kitdeploy/pkg/provider"
	"github.com/saaskit/kitdeploy/pkg/stores"
	"github.com/saaskit/kitdeploy/pkg/telemetry"
	"github.com/saaskit/kitdeploy/pkg/transports/httpapi"
)

// app is everything one command needs: telemetry, the configuration store,
// the provider client and a reconciler per kind.
type app struct {
	opts     *options
	settings config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    *stores.SQLiteStore
	client   provider.Client
	clock    clock.Clock

	reconcilers map[string]*engine.Reconciler

	policyOnce sync.Once
	policies   *policy.Engine
	policyErr  error
}

// newApp wires the application for cmd. The caller must call close.
func newApp(ctx context.Context, cmd *cobra.Command, opts *options) (*app, error) {
	s := opts.settings

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = opts.version
	if tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = "dev"
	}
	tcfg.Logging.Level = s.LogLevel
	tcfg.Logging.Format = s.LogFormat
	tcfg.Logging.Writer = cmd.ErrOrStderr()
	tcfg.Tracing.Exporter = s.Tracing
	tcfg.Tracing.Endpoint = s.OTLPEndpoint
	tcfg.Tracing.Insecure = true
	tcfg.Metrics.ListenAddress = s.MetricsAddr

	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		opts:        opts,
		settings:    s,
		tel:         tel,
		logger:      tel.Logger.NewComponentLogger(cmd.Name()),
		clock:       opts.clk,
		reconcilers: make(map[string]*engine.Reconciler),
	}
	if a.clock == nil {
		a.clock = clock.NewClock()
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: s.StorePath})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	a.store = store

	client, err := a.newClient()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.client = client

	engineLogger := tel.Logger.NewComponentLogger("engine")
	for _, name := range kinds.Names() {
		kind, err := kinds.New(name, client)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.reconcilers[name] = engine.NewReconciler(kind, engine.Options{
			Clock:    a.clock,
			Logger:   engineLogger,
			Recorder: tel.Metrics,
		})
	}

	return a, nil
}

// newClient builds the provider client: the configured transport, then
// per-call metrics, then retries of transient and throttled errors.
func (a *app) newClient() (provider.Client, error) {
	var client provider.Client
	switch {
	case a.opts.client != nil:
		client = a.opts.client
	case a.settings.Provider == "http":
		cfg := httpapi.DefaultConfig(a.settings.Endpoint, a.settings.Token)
		cfg.Region = a.settings.Region
		cfg.RequestsPerSecond = a.settings.RequestsPerSecond
		hc, err := httpapi.New(cfg, a.tel.Logger.NewComponentLogger("httpapi"))
		if err != nil {
			return nil, fmt.Errorf("failed to create provider client: %w", err)
		}
		client = hc
	default:
		a.logger.Warn().Msg("Using the in-memory provider; remote state does not outlive this process")
		client = kinds.NewSimulator()
	}

	client = provider.Instrument(client, a.tel.Metrics)
	return provider.WithRetry(client, provider.DefaultRetryOptions(), a.logger), nil
}

// reconciler returns the reconciler of kind.
func (a *app) reconciler(kind string) (*engine.Reconciler, error) {
	r, ok := a.reconcilers[kind]
	if !ok {
		return nil, checkKind(kind)
	}
	return r, nil
}

// loadManifest reads and validates the manifest named by --manifest.
func (a *app) loadManifest(ctx context.Context) (*config.Manifest, error) {
	return config.NewLoader().LoadFile(ctx, a.opts.manifest)
}

// resolve builds the desired configuration of the named components, or of
// every component when only is empty, grouped by stage in manifest order.
func (a *app) resolve(ctx context.Context, store config.DefaultsStore, m *config.Manifest, only []string) ([]config.ResolvedStage, error) {
	r := config.NewResolver(store, nil, a.logger)
	if len(only) == 0 {
		return r.Resolve(ctx, m)
	}

	var stages []config.ResolvedStage
	for _, s := range m.Stages {
		stage := config.ResolvedStage{Name: s.Name}
		for _, c := range s.Components {
			if !slices.Contains(only, c.Name) {
				continue
			}
			rc, err := r.ResolveComponent(ctx, m, c.Name)
			if err != nil {
				return nil, err
			}
			stage.Components = append(stage.Components, *rc)
		}
		if len(stage.Components) > 0 {
			stages = append(stages, stage)
		}
	}
	return stages, nil
}

// policyEngine returns the policy engine, loading --policy-dir once.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	a.policyOnce.Do(func() {
		a.policies, a.policyErr = policy.NewEngine(a.logger)
		if a.policyErr != nil || a.settings.PolicyDir == "" {
			return
		}
		a.policyErr = a.policies.LoadPolicies(ctx, []string{a.settings.PolicyDir})
	})
	return a.policies, a.policyErr
}

// checkPolicies evaluates the policies against the resolved components and
// returns a POLICY_DENIED error when a blocking violation is found.
func (a *app) checkPolicies(ctx context.Context, stages []config.ResolvedStage) (*policy.Result, error) {
	pe, err := a.policyEngine(ctx)
	if err != nil {
		return nil, err
	}

	res, err := pe.EvaluateStages(ctx, stages)
	if err != nil {
		return nil, err
	}
	for _, v := range res.Violations {
		a.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		ev := a.logger.Warn()
		if v.Severity.Blocks() {
			ev = a.logger.Error()
		}
		ev.Str("policy", v.Policy).Str("component", v.Component).Msg(v.Message)
	}
	for _, w := range res.Warnings {
		a.logger.Warn().Msg(w)
	}
	return res, res.Err()
}

// serveMetrics exposes metrics until ctx is done when --metrics-addr is set.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.settings.MetricsAddr == "" {
		return nil
	}
	addr, err := a.tel.Metrics.Serve(ctx, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info().Str("addr", addr).Msg("Serving metrics")
	return nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// withApp runs fn with a fresh app bounded by the command timeout.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := opts.commandContext(cmd.Context())
	defer cancel()
	return runApp(ctx, cmd, opts, fn)
}

// runApp runs fn with a fresh app until ctx is done.
func runApp(ctx context.Context, cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.serveMetrics(ctx); err != nil {
		return err
	}
	return fn(a.tel.WithContext(ctx), a)
}
