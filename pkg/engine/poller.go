package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
)

// FetchFunc reads the current snapshot of a resource. It returns nil, nil
// when the resource does not exist.
type FetchFunc func(ctx context.Context) (*ObservedResource, error)

// Subject identifies the resource a polling session is about.
type Subject struct {
	Kind   string
	Filter TagFilter
}

// Poller waits for resources to reach a terminal status. The same loop is
// used for every resource kind; only the fetch function and the
// ConvergenceSpec vary.
type Poller struct {
	clock    clock.Clock
	logger   zerolog.Logger
	recorder Recorder
}

// NewPoller creates a poller sleeping on clk.
func NewPoller(clk clock.Clock, logger zerolog.Logger, recorder Recorder) *Poller {
	if clk == nil {
		clk = clock.NewClock()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Poller{
		clock:    clk,
		logger:   logger,
		recorder: recorder,
	}
}

// Converge polls fetch until the resource reaches spec.TerminalStatus.
//
// A timeout is not an error: the returned Convergence carries
// OutcomeTimedOut and the caller decides whether that is fatal. Observing a
// status that is neither in progress nor terminal aborts immediately with a
// fatal INVALID_TRANSITION error.
func (p *Poller) Converge(ctx context.Context, subject Subject, fetch FetchFunc, spec ConvergenceSpec) (*Convergence, error) {
	if spec.Backoff.Initial <= 0 {
		spec.Backoff = DefaultBackoff()
	}
	if err := spec.Validate(); err != nil {
		return nil, NewPermanentError("invalid convergence spec", err).
			WithCode(ErrCodeValidation).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String())
	}

	var elapsed time.Duration
	delay := spec.Backoff.Initial

	for polls := 1; ; polls++ {
		res, err := fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s %s: %w", subject.Kind, subject.Filter, err)
		}

		if res == nil {
			if spec.TerminalStatus == StatusDeleted {
				p.logf(subject, "%ds status: %s", int(elapsed.Seconds()), StatusDeleted)
				return &Convergence{Outcome: OutcomeNotFound, Elapsed: elapsed, Polls: polls}, nil
			}
			return nil, p.fatal(subject, ErrCodeUnexpectedAbsence, "resource disappeared while converging").
				WithDetail("expected_status", string(spec.TerminalStatus)).
				WithRemediation("check the provider console for a concurrent deletion, then retry")
		}

		p.recorder.RecordPoll(subject.Kind, res.Status)
		p.logf(subject, "%ds status: %s", int(elapsed.Seconds()), res.Status)

		switch {
		case res.Status == spec.TerminalStatus:
			return &Convergence{Outcome: OutcomeReady, Resource: res, Elapsed: elapsed, Polls: polls}, nil
		case slices.Contains(spec.FailureStatuses, res.Status):
			return nil, p.fatal(subject, ErrCodeTerminalFailure, "resource reached a failed state").
				WithDetail("observed_status", string(res.Status)).
				WithDetail("expected_status", string(spec.TerminalStatus)).
				WithDetail("id", res.ID).
				WithRemediation("inspect the resource events in the provider console, fix the cause, then retry")
		case res.Status != spec.InProgressStatus:
			return nil, p.fatal(subject, ErrCodeInvalidTransition, "invalid state transition").
				WithDetail("observed_status", string(res.Status)).
				WithDetail("in_progress_status", string(spec.InProgressStatus)).
				WithDetail("expected_status", string(spec.TerminalStatus)).
				WithDetail("id", res.ID).
				WithRemediation("wait for any operation started outside this tool to finish, then retry")
		}

		if elapsed >= spec.MaxWait {
			return &Convergence{Outcome: OutcomeTimedOut, Resource: res, Elapsed: elapsed, Polls: polls}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(delay):
		}

		elapsed += delay
		delay = spec.Backoff.Next(elapsed)
	}
}

func (p *Poller) fatal(subject Subject, code, message string) *EngineError {
	p.recorder.RecordFatal(subject.Kind, code)
	return NewFatalError(message, nil).
		WithCode(code).
		WithKind(subject.Kind).
		WithResource(subject.Filter.String())
}

func (p *Poller) logf(subject Subject, format string, args ...interface{}) {
	p.logger.Info().
		Str("kind", subject.Kind).
		Msg(subject.Filter.String() + ": " + fmt.Sprintf(format, args...))
}
