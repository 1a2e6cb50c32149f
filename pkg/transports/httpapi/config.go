package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the remote API connection settings.
type Config struct {
	// BaseURL is the API endpoint, e.g. https://api.example.com
	BaseURL string `validate:"required,http_url"`

	// Token is the bearer token sent with every request
	Token string `validate:"required"`

	// Region is sent as the X-Region header when set
	Region string

	// Timeout bounds a single HTTP request
	Timeout time.Duration `validate:"gt=0"`

	// RequestsPerSecond is the client-side rate limit (0 disables it)
	RequestsPerSecond float64 `validate:"gte=0"`

	// Burst is the rate limiter bucket size
	Burst int `validate:"required_unless=RequestsPerSecond 0,gte=0"`

	// PageSize is the page size requested when listing
	PageSize int `validate:"gt=0"`

	// UserAgent is sent with every request
	UserAgent string

	// Transport is the base round tripper (default: http.DefaultTransport)
	Transport http.RoundTripper `validate:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL, token string) *Config {
	return &Config{
		BaseURL:           baseURL,
		Token:             token,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		PageSize:          50,
		UserAgent:         "kitdeploy",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid API config: %w", err)
	}
	return nil
}
