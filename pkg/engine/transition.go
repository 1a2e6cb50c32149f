package engine

import (
	"context"
	"fmt"
)

// Start resumes a paused resource and waits until it is running.
func (r *Reconciler) Start(ctx context.Context, filter TagFilter) (*Result, error) {
	return r.transition(ctx, filter, OperationStart)
}

// Stop pauses a running resource and waits until it is paused.
func (r *Reconciler) Stop(ctx context.Context, filter TagFilter) (*Result, error) {
	return r.transition(ctx, filter, OperationStop)
}

func (r *Reconciler) transition(ctx context.Context, filter TagFilter, op OperationType) (res *Result, err error) {
	subject := Subject{Kind: r.kind.Name(), Filter: filter}
	ctx, finish := r.begin(ctx, string(op), subject)
	defer func() { finish(op, res, err) }()

	p, ok := r.kind.(Pausable)
	if !ok {
		return nil, NewPermanentError(fmt.Sprintf("%s resources cannot be %s", subject.Kind, pastTense(op)), nil).
			WithCode(ErrCodeValidation).
			WithKind(subject.Kind).
			WithOperation(string(op))
	}

	expected, call := p.PausedStatus(), p.Resume
	if op == OperationStop {
		expected, call = p.RunningStatus(), p.Pause
	}

	r.logf(subject, "discovering")
	current, err := FindOne(ctx, subject.Kind, r.kind, filter)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, NewNotFoundError(subject.Kind, filter.String()).WithOperation(string(op))
	}

	if current.Status != expected {
		r.recorder.RecordFatal(subject.Kind, ErrCodeUnexpectedStatus)
		return nil, NewFatalError("resource is not in the expected status", nil).
			WithCode(ErrCodeUnexpectedStatus).
			WithKind(subject.Kind).
			WithResource(filter.String()).
			WithOperation(string(op)).
			WithDetail("id", current.ID).
			WithDetail("observed_status", string(current.Status)).
			WithDetail("expected_status", string(expected)).
			WithRemediation("wait for the resource to settle, check its status, then retry")
	}

	result := r.newResult(subject, op)
	result.Resource = current

	r.logf(subject, "%s %s", progressive(op), current.ID)
	if err := call(ctx, current.ID); err != nil {
		return nil, fmt.Errorf("failed to %s %s %s: %w", op, subject.Kind, filter, err)
	}

	conv, err := r.poller.Converge(ctx, subject, r.fetch(current.ID), r.kind.ConvergenceSpec(op))
	if err != nil {
		return nil, err
	}
	result.Convergence = conv
	if conv.Outcome == OutcomeTimedOut {
		return nil, NewPermanentError(fmt.Sprintf("%s did not converge", op), nil).
			WithCode(ErrCodeConvergenceTimeout).
			WithKind(subject.Kind).
			WithResource(filter.String()).
			WithOperation(string(op)).
			WithDetail("id", current.ID).
			WithDetail("observed_status", string(conv.Resource.Status)).
			WithDetail("waited", conv.Elapsed.String())
	}

	result.Resource = conv.Resource
	return result, nil
}

func pastTense(op OperationType) string {
	if op == OperationStop {
		return "stopped"
	}
	return "started"
}

func progressive(op OperationType) string {
	if op == OperationStop {
		return "stopping"
	}
	return "starting"
}
