package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the telemetry configuration for one kitdeploy process.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string `validate:"required"`

	// ServiceVersion is the kitdeploy build version.
	ServiceVersion string `validate:"required"`

	// Deployment is attached to every span as a resource attribute.
	Deployment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level.
	Level string `validate:"oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Ignored when Writer is set.
	Output string

	// Writer overrides Output.
	Writer io.Writer `validate:"-"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// NoColor disables console colors.
	NoColor bool
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is none, stdout or otlp. With none, spans are sampled and
	// propagated but not exported.
	Exporter string `validate:"oneof=none stdout otlp"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `validate:"required_if=Exporter otlp"`

	// SamplingRate is the root span sampling ratio.
	SamplingRate float64 `validate:"gte=0,lte=1"`

	// ExportTimeout bounds one batch export.
	ExportTimeout time.Duration

	// Headers are sent with every OTLP export.
	Headers map[string]string

	// Insecure disables TLS to the collector.
	Insecure bool

	// Writer receives stdout exporter output. Defaults to stderr.
	Writer io.Writer `validate:"-"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns collection on. Disabled metrics are no-ops.
	Enabled bool

	// ListenAddress serves Path when set.
	ListenAddress string `validate:"omitempty,hostname_port"`

	// Path is the HTTP path for metrics.
	Path string `validate:"required_if=Enabled true,omitempty,startswith=/"`

	// Namespace prefixes every metric name.
	Namespace string

	// DurationBuckets are the reconcile duration buckets in seconds.
	DurationBuckets []float64
}

// DefaultConfig returns the configuration used by the CLI when nothing
// overrides it: console logs on stderr, no trace export, metrics collected
// but not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "kitdeploy",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "kitdeploy",
			// Seconds, up to the longest convergence budget.
			DurationBuckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
