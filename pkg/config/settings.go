package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "KITDEPLOY_"

// Settings holds the CLI settings shared by every command.
type Settings struct {
	// Provider selects the remote resource client: "memory" or "http".
	Provider string `validate:"oneof=memory http"`

	// Endpoint is the provider API base URL.
	Endpoint string `validate:"required_if=Provider http,omitempty,url"`

	// Token is the provider API bearer token.
	Token string

	// Region is sent with every provider request.
	Region string

	// StorePath is the SQLite configuration store.
	StorePath string `validate:"required"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `validate:"oneof=trace debug info warn error"`

	// LogFormat is "console" or "json".
	LogFormat string `validate:"oneof=console json"`

	// MaxParallel bounds concurrent reconciliations within a stage.
	MaxParallel int `validate:"gte=1,lte=64"`

	// RequestsPerSecond rate-limits provider calls. Zero disables limiting.
	RequestsPerSecond float64 `validate:"gte=0"`

	// Timeout bounds a whole command.
	Timeout time.Duration `validate:"gte=0"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `validate:"omitempty,hostname_port"`

	// Tracing is "none", "stdout" or "otlp".
	Tracing string `validate:"oneof=none stdout otlp"`

	// OTLPEndpoint is the collector address for otlp tracing.
	OTLPEndpoint string `validate:"required_if=Tracing otlp"`

	// PolicyDir holds extra Rego policies.
	PolicyDir string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Provider:          "memory",
		StorePath:         "kitdeploy.db",
		LogLevel:          "info",
		LogFormat:         "console",
		MaxParallel:       10,
		RequestsPerSecond: 10,
		Timeout:           time.Hour,
		Tracing:           "none",
	}
}

// LoadSettings returns DefaultSettings overridden by KITDEPLOY_*
// environment variables.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	return s, nil
}

// ApplyEnv overrides fields from the environment as seen through lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PROVIDER":      &s.Provider,
		"ENDPOINT":      &s.Endpoint,
		"TOKEN":         &s.Token,
		"REGION":        &s.Region,
		"STORE":         &s.StorePath,
		"LOG_LEVEL":     &s.LogLevel,
		"LOG_FORMAT":    &s.LogFormat,
		"METRICS_ADDR":  &s.MetricsAddr,
		"TRACING":       &s.Tracing,
		"OTLP_ENDPOINT": &s.OTLPEndpoint,
		"POLICY_DIR":    &s.PolicyDir,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_PARALLEL: %w", EnvPrefix, err)
		}
		s.MaxParallel = n
	}
	if v, ok := lookup(EnvPrefix + "RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRPS: %w", EnvPrefix, err)
		}
		s.RequestsPerSecond = f
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", EnvPrefix, err)
		}
		s.Timeout = d
	}
	return nil
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
