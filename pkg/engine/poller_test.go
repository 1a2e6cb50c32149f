package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

var testSubject = Subject{Kind: "compute-service", Filter: TagFilter{Deployment: "prod", Component: "api"}}

// scripted returns a fetch function yielding statuses in order. StatusAbsent
// yields a nil resource. The last status repeats.
func scripted(statuses ...Status) (FetchFunc, *int) {
	calls := 0
	return func(ctx context.Context) (*ObservedResource, error) {
		i := calls
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		calls++
		if statuses[i] == StatusAbsent {
			return nil, nil
		}
		return &ObservedResource{ID: "res-1", Status: statuses[i]}, nil
	}, &calls
}

func testSpec(maxWait time.Duration) ConvergenceSpec {
	return ConvergenceSpec{
		MaxWait:          maxWait,
		InProgressStatus: statusInProgress,
		TerminalStatus:   statusRunning,
		FailureStatuses:  []Status{statusFailed},
	}
}

func TestConvergeReachesTerminal(t *testing.T) {
	clk := newStepClock()
	rec := &mockRecorder{}
	p := NewPoller(clk, zerolog.Nop(), rec)

	fetch, calls := scripted(statusInProgress, statusInProgress, statusInProgress, statusRunning)
	conv, err := p.Converge(context.Background(), testSubject, fetch, testSpec(300*time.Second))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if conv.Outcome != OutcomeReady {
		t.Errorf("Expected outcome %s, got %s", OutcomeReady, conv.Outcome)
	}
	if *calls != 4 {
		t.Errorf("Expected 4 polls, got %d", *calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, clk.Sleeps()); diff != "" {
		t.Errorf("Unexpected sleeps (-want +got):\n%s", diff)
	}
	if conv.Elapsed != 5*time.Second {
		t.Errorf("Expected elapsed 5s, got %s", conv.Elapsed)
	}
	if rec.polls != 4 {
		t.Errorf("Expected 4 recorded polls, got %d", rec.polls)
	}
}

func TestConvergeZeroMaxWaitTimesOutWithoutSleeping(t *testing.T) {
	clk := newStepClock()
	p := NewPoller(clk, zerolog.Nop(), nil)

	fetch, calls := scripted(statusInProgress)
	conv, err := p.Converge(context.Background(), testSubject, fetch, testSpec(0))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if conv.Outcome != OutcomeTimedOut {
		t.Errorf("Expected outcome %s, got %s", OutcomeTimedOut, conv.Outcome)
	}
	if *calls != 1 {
		t.Errorf("Expected exactly 1 poll, got %d", *calls)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("Expected no sleeps, got %v", clk.Sleeps())
	}
}

func TestConvergeTimesOutAfterMaxWait(t *testing.T) {
	clk := newStepClock()
	p := NewPoller(clk, zerolog.Nop(), nil)

	fetch, calls := scripted(statusInProgress)
	conv, err := p.Converge(context.Background(), testSubject, fetch, testSpec(5*time.Second))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if conv.Outcome != OutcomeTimedOut {
		t.Errorf("Expected outcome %s, got %s", OutcomeTimedOut, conv.Outcome)
	}
	if conv.Converged() {
		t.Error("Timed out convergence should not report converged")
	}
	if *calls != 4 {
		t.Errorf("Expected 4 polls, got %d", *calls)
	}
	if conv.Resource == nil || conv.Resource.Status != statusInProgress {
		t.Errorf("Expected last observed status %s, got %+v", statusInProgress, conv.Resource)
	}
}

func TestConvergeInvalidTransitionStopsPolling(t *testing.T) {
	clk := newStepClock()
	rec := &mockRecorder{}
	p := NewPoller(clk, zerolog.Nop(), rec)

	fetch, calls := scripted(statusInProgress, statusPaused, statusRunning)
	_, err := p.Converge(context.Background(), testSubject, fetch, testSpec(300*time.Second))
	if !IsFatal(err) {
		t.Fatalf("Expected fatal error, got %v", err)
	}

	e := engineError(err)
	if e.Code != ErrCodeInvalidTransition {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidTransition, e.Code)
	}
	if e.Details["observed_status"] != string(statusPaused) {
		t.Errorf("Expected observed status %s, got %v", statusPaused, e.Details["observed_status"])
	}
	if e.Remediation == "" {
		t.Error("Expected a remediation hint")
	}
	if *calls != 2 {
		t.Errorf("Expected polling to stop after 2 polls, got %d", *calls)
	}
	if diff := cmp.Diff([]string{ErrCodeInvalidTransition}, rec.fatal); diff != "" {
		t.Errorf("Unexpected fatal codes (-want +got):\n%s", diff)
	}
}

func TestConvergeFailureStatus(t *testing.T) {
	p := NewPoller(newStepClock(), zerolog.Nop(), nil)

	fetch, _ := scripted(statusInProgress, statusFailed)
	_, err := p.Converge(context.Background(), testSubject, fetch, testSpec(300*time.Second))
	if !IsFatal(err) || !HasCode(err, ErrCodeTerminalFailure) {
		t.Fatalf("Expected fatal %s, got %v", ErrCodeTerminalFailure, err)
	}
}

func TestConvergeAbsence(t *testing.T) {
	t.Run("expected when deleting", func(t *testing.T) {
		p := NewPoller(newStepClock(), zerolog.Nop(), nil)
		spec := testSpec(300 * time.Second)
		spec.TerminalStatus = StatusDeleted

		fetch, _ := scripted(statusInProgress, StatusAbsent)
		conv, err := p.Converge(context.Background(), testSubject, fetch, spec)
		if err != nil {
			t.Fatalf("Converge failed: %v", err)
		}
		if conv.Outcome != OutcomeNotFound {
			t.Errorf("Expected outcome %s, got %s", OutcomeNotFound, conv.Outcome)
		}
	})

	t.Run("unexpected otherwise", func(t *testing.T) {
		p := NewPoller(newStepClock(), zerolog.Nop(), nil)

		fetch, _ := scripted(statusInProgress, StatusAbsent)
		_, err := p.Converge(context.Background(), testSubject, fetch, testSpec(300*time.Second))
		if !IsFatal(err) || !HasCode(err, ErrCodeUnexpectedAbsence) {
			t.Fatalf("Expected fatal %s, got %v", ErrCodeUnexpectedAbsence, err)
		}
	})
}

func TestConvergeFetchError(t *testing.T) {
	p := NewPoller(newStepClock(), zerolog.Nop(), nil)
	boom := NewTransientError("connection reset", nil)

	fetch := func(ctx context.Context) (*ObservedResource, error) { return nil, boom }
	_, err := p.Converge(context.Background(), testSubject, fetch, testSpec(300*time.Second))
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped fetch error, got %v", err)
	}
	if IsFatal(err) {
		t.Error("Fetch errors should not be fatal")
	}
}

func TestConvergeContextCancelled(t *testing.T) {
	// A plain fake clock never fires unless incremented.
	p := NewPoller(fakeclock.NewFakeClock(time.Now()), zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch, _ := scripted(statusInProgress)
	_, err := p.Converge(ctx, testSubject, fetch, testSpec(300*time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestConvergeInvalidSpec(t *testing.T) {
	p := NewPoller(newStepClock(), zerolog.Nop(), nil)

	fetch, calls := scripted(statusRunning)
	_, err := p.Converge(context.Background(), testSubject, fetch, ConvergenceSpec{MaxWait: time.Second})
	if !IsPermanent(err) || !HasCode(err, ErrCodeValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if *calls != 0 {
		t.Errorf("Expected no polls for an invalid spec, got %d", *calls)
	}
}

func TestBackoffScheduleNext(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{1 * time.Second, 2 * time.Second},
		{20 * time.Second, 2 * time.Second},
		{21 * time.Second, 5 * time.Second},
		{60 * time.Second, 5 * time.Second},
		{61 * time.Second, 10 * time.Second},
		{10 * time.Minute, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Next(tt.elapsed); got != tt.want {
			t.Errorf("Next(%s) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}
