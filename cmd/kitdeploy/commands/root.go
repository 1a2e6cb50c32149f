package commands

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/spf13/cobra"

	"github.com/saaskit/kitdeploy/pkg/config"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// options carries the global flags and the settings resolved from them.
type options struct {
	version string

	manifest   string
	jsonOutput bool
	flags      settingFlags

	// settings is filled in before any subcommand runs.
	settings config.Settings

	// Test hooks. A non-nil client replaces the configured provider and
	// clk replaces the wall clock used for polling.
	client provider.Client
	clk    clock.Clock
}

// settingFlags mirror config.Settings. Only flags set on the command line
// override the environment.
type settingFlags struct {
	provider     string
	endpoint     string
	token        string
	region       string
	store        string
	logLevel     string
	logFormat    string
	maxParallel  int
	rps          float64
	timeout      time.Duration
	metricsAddr  string
	tracing      string
	otlpEndpoint string
	policyDir    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	opts := &options{version: version}
	rootCmd := newRootCommand(opts, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate))
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(opts *options, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kitdeploy",
		Short: "kitdeploy - deploy a SaaS stack's cloud resources",
		Long: `kitdeploy reconciles the remote resources of a deployment (compute services,
functions, queues, tables, scheduled jobs and roles) with a manifest.

Components are discovered by their deployment and component tags, created or
updated in place, and polled until the provider reports them converged.
Components of one stage are reconciled concurrently; stages run in order.

Settings come from KITDEPLOY_* environment variables, overridden by flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.loadSettings(cmd)
		},
	}

	defaults := config.DefaultSettings()
	f := &opts.flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.manifest, "manifest", "f", "kitdeploy.yaml", "deployment manifest (YAML or CUE)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	pf.StringVar(&f.provider, "provider", defaults.Provider, "resource provider: memory or http")
	pf.StringVar(&f.endpoint, "endpoint", "", "provider API base URL")
	pf.StringVar(&f.token, "token", "", "provider API token (prefer KITDEPLOY_TOKEN)")
	pf.StringVar(&f.region, "region", "", "provider region")
	pf.StringVar(&f.store, "store", defaults.StorePath, "configuration store (SQLite file)")
	pf.StringVar(&f.logLevel, "log-level", defaults.LogLevel, "log level: trace, debug, info, warn, error")
	pf.StringVar(&f.logFormat, "log-format", defaults.LogFormat, "log format: console or json")
	pf.IntVar(&f.maxParallel, "max-parallel", defaults.MaxParallel, "max concurrent reconciliations per stage")
	pf.Float64Var(&f.rps, "rps", defaults.RequestsPerSecond, "provider requests per second (0 disables limiting)")
	pf.DurationVar(&f.timeout, "timeout", defaults.Timeout, "overall command timeout (0 disables)")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&f.tracing, "tracing", defaults.Tracing, "trace exporter: none, stdout or otlp")
	pf.StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	pf.StringVar(&f.policyDir, "policy-dir", "", "directory of additional Rego policies")

	rootCmd.AddCommand(newDeployCommand(opts))
	rootCmd.AddCommand(newDeleteCommand(opts))
	rootCmd.AddCommand(newStartCommand(opts))
	rootCmd.AddCommand(newStopCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newDefaultsCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}

// loadSettings applies explicitly set flags on top of the environment.
func (o *options) loadSettings(cmd *cobra.Command) error {
	s, err := config.LoadSettings()
	if err != nil {
		return err
	}

	f := o.flags
	overrides := map[string]func(){
		"provider":      func() { s.Provider = f.provider },
		"endpoint":      func() { s.Endpoint = f.endpoint },
		"token":         func() { s.Token = f.token },
		"region":        func() { s.Region = f.region },
		"store":         func() { s.StorePath = f.store },
		"log-level":     func() { s.LogLevel = f.logLevel },
		"log-format":    func() { s.LogFormat = f.logFormat },
		"max-parallel":  func() { s.MaxParallel = f.maxParallel },
		"rps":           func() { s.RequestsPerSecond = f.rps },
		"timeout":       func() { s.Timeout = f.timeout },
		"metrics-addr":  func() { s.MetricsAddr = f.metricsAddr },
		"tracing":       func() { s.Tracing = f.tracing },
		"otlp-endpoint": func() { s.OTLPEndpoint = f.otlpEndpoint },
		"policy-dir":    func() { s.PolicyDir = f.policyDir },
	}
	for name, apply := range overrides {
		if fl := cmd.Flag(name); fl != nil && fl.Changed {
			apply()
		}
	}

	if err := s.Validate(); err != nil {
		return err
	}
	o.settings = s
	return nil
}

// commandContext bounds ctx by the configured command timeout.
func (o *options) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.settings.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.settings.Timeout)
}
