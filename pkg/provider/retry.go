package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxTries bounds the attempts per call, including the first.
	MaxTries uint

	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff interval.
	MaxInterval time.Duration

	// MaxElapsed caps the total time spent on one call.
	MaxElapsed time.Duration
}

// DefaultRetryOptions returns the retry policy used by the CLI.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxTries:        5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsed:      time.Minute,
	}
}

type retryingClient struct {
	next   Client
	opts   RetryOptions
	logger zerolog.Logger
}

// WithRetry retries individual calls that failed with a retryable error.
// Create is only retried when throttled, since a transient failure may have
// created the resource already.
func WithRetry(c Client, opts RetryOptions, logger zerolog.Logger) Client {
	if opts.MaxTries == 0 {
		opts = DefaultRetryOptions()
	}
	return &retryingClient{
		next:   c,
		opts:   opts,
		logger: logger.With().Str("component", "provider-retry").Logger(),
	}
}

func (c *retryingClient) List(ctx context.Context, kind string, opts ListOptions) (*ListResponse, error) {
	return retry(ctx, c, "list", engine.IsRetryable, func() (*ListResponse, error) {
		return c.next.List(ctx, kind, opts)
	})
}

func (c *retryingClient) Get(ctx context.Context, kind, id string) (*Resource, error) {
	return retry(ctx, c, "get", engine.IsRetryable, func() (*Resource, error) {
		return c.next.Get(ctx, kind, id)
	})
}

func (c *retryingClient) Create(ctx context.Context, kind string, req CreateRequest) (*Resource, error) {
	return retry(ctx, c, "create", engine.IsThrottled, func() (*Resource, error) {
		return c.next.Create(ctx, kind, req)
	})
}

func (c *retryingClient) Update(ctx context.Context, kind, id string, attrs map[string]interface{}) error {
	_, err := retry(ctx, c, "update", engine.IsRetryable, func() (struct{}, error) {
		return struct{}{}, c.next.Update(ctx, kind, id, attrs)
	})
	return err
}

func (c *retryingClient) Delete(ctx context.Context, kind, id string) error {
	_, err := retry(ctx, c, "delete", engine.IsRetryable, func() (struct{}, error) {
		return struct{}{}, c.next.Delete(ctx, kind, id)
	})
	return err
}

func (c *retryingClient) Tag(ctx context.Context, kind, id string, tags map[string]string) error {
	_, err := retry(ctx, c, "tag", engine.IsRetryable, func() (struct{}, error) {
		return struct{}{}, c.next.Tag(ctx, kind, id, tags)
	})
	return err
}

func (c *retryingClient) Action(ctx context.Context, kind, id, action string) error {
	_, err := retry(ctx, c, action, engine.IsRetryable, func() (struct{}, error) {
		return struct{}{}, c.next.Action(ctx, kind, id, action)
	})
	return err
}

func retry[T any](ctx context.Context, c *retryingClient, op string, retryable func(error) bool, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case !retryable(err):
			return v, backoff.Permanent(err)
		}
		if d, ok := RetryAfter(err); ok {
			return v, &retryAfterError{err: err, after: d}
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxTries),
		backoff.WithMaxElapsedTime(c.opts.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().Err(err).Str("op", op).Dur("retry_in", next).Msg("Retrying provider call")
		}),
	)
}

// RetryAfter returns the server-requested delay carried by a throttled error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *engine.EngineError
	if !errors.As(err, &e) || e.Details == nil {
		return 0, false
	}
	d, ok := e.Details["retry_after"].(time.Duration)
	return d, ok && d > 0
}

// retryAfterError keeps the provider error in the chain while telling the
// backoff loop how long the server asked us to wait.
type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func (e *retryAfterError) Unwrap() error { return e.err }

func (e *retryAfterError) As(target interface{}) bool {
	if t, ok := target.(**backoff.RetryAfterError); ok {
		*t = &backoff.RetryAfterError{Duration: e.after}
		return true
	}
	return false
}
