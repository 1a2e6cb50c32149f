package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/saaskit/kitdeploy/pkg/engine"

// operationDiscover labels reconciliations that failed before deciding
// between create and update.
const operationDiscover OperationType = "discover"

// Request asks the Reconciler to make one component's resource match Desired.
type Request struct {
	// Tags identify the component and deployment. LastUpdated is set by the
	// engine.
	Tags Tags

	// Desired is the configuration the resource should have.
	Desired DesiredConfig
}

// Options configures a Reconciler. Zero values select defaults.
type Options struct {
	Clock            clock.Clock
	Logger           zerolog.Logger
	Recorder         Recorder
	MaxOrphanDeletes int

	// NameSuffix returns the random suffix appended to created resource
	// names so a recreated resource does not hit provider name cooldowns.
	NameSuffix func() string
}

// Reconciler drives one resource kind through discover, create-or-update,
// apply, tag and converge.
type Reconciler struct {
	kind     Kind
	poller   *Poller
	cleaner  *OrphanCleaner
	clock    clock.Clock
	logger   zerolog.Logger
	recorder Recorder
	tracer   trace.Tracer
	suffix   func() string
}

// NewReconciler creates a reconciler for kind.
func NewReconciler(kind Kind, opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.NameSuffix == nil {
		opts.NameSuffix = func() string { return uuid.New().String()[:8] }
	}

	logger := opts.Logger.With().Str("kind", kind.Name()).Logger()
	return &Reconciler{
		kind:     kind,
		poller:   NewPoller(opts.Clock, opts.Logger, opts.Recorder),
		cleaner:  NewOrphanCleaner(opts.Logger, opts.Recorder, opts.MaxOrphanDeletes),
		clock:    opts.Clock,
		logger:   logger,
		recorder: opts.Recorder,
		tracer:   otel.Tracer(tracerName),
		suffix:   opts.NameSuffix,
	}
}

// Kind returns the kind this reconciler manages.
func (r *Reconciler) Kind() Kind {
	return r.kind
}

// Reconcile creates the resource when none exists, updates the changed
// attribute groups when one exists, and reports "up to date" otherwise.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (res *Result, err error) {
	subject := Subject{Kind: r.kind.Name(), Filter: req.Tags.Filter()}
	op := operationDiscover
	ctx, finish := r.begin(ctx, "reconcile", subject)
	defer func() { finish(op, res, err) }()

	r.logf(subject, "discovering")
	current, err := FindOne(ctx, subject.Kind, r.kind, subject.Filter)
	if err != nil {
		return nil, err
	}

	if current == nil {
		op = OperationCreate
		return r.create(ctx, subject, req)
	}
	op = OperationUpdate
	return r.update(ctx, subject, req, current)
}

func (r *Reconciler) create(ctx context.Context, subject Subject, req Request) (*Result, error) {
	result := r.newResult(subject, OperationCreate)

	tags := req.Tags
	tags.LastUpdated = r.clock.Now().UTC()
	desired := r.stamp(req.Desired, tags.LastUpdated)

	if rm, ok := r.kind.(RevisionManager); ok && rm.MintsRevision(nil, ChangeSet{}) {
		result.Orphans = r.cleaner.Clean(ctx, subject, rm, nil)
	}

	name := fmt.Sprintf("%s-%s-%s", tags.Deployment, tags.Component, r.suffix())
	r.logf(subject, "creating %s", name)

	created, err := r.kind.Create(ctx, name, desired, tags)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", subject.Kind, subject.Filter, err)
	}

	conv, err := r.poller.Converge(ctx, subject, r.fetch(created.ID), r.kind.ConvergenceSpec(OperationCreate))
	if err != nil {
		return nil, err
	}
	result.Convergence = conv
	if conv.Outcome == OutcomeTimedOut {
		r.recorder.RecordFatal(subject.Kind, ErrCodeConvergenceTimeout)
		return nil, NewFatalError("resource did not become ready after creation", nil).
			WithCode(ErrCodeConvergenceTimeout).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String()).
			WithOperation(string(OperationCreate)).
			WithDetail("id", created.ID).
			WithDetail("observed_status", string(conv.Resource.Status)).
			WithDetail("waited", conv.Elapsed.String()).
			WithRemediation("check the resource in the provider console; delete it if it is stuck, then retry")
	}

	result.Resource = conv.Resource
	r.logf(subject, "created %s", created.ID)
	return result, nil
}

func (r *Reconciler) update(ctx context.Context, subject Subject, req Request, current *ObservedResource) (*Result, error) {
	result := r.newResult(subject, OperationUpdate)
	result.Resource = current

	changes := DiffGroups(current.Attributes, req.Desired.Attributes(), r.kind.AttributeGroups())
	result.Changes = changes
	if changes.IsEmpty() {
		result.Operation = OperationNoop
		r.logf(subject, "up to date")
		return result, nil
	}

	if rm, ok := r.kind.(RevisionManager); ok && rm.MintsRevision(current, changes) {
		result.Orphans = r.cleaner.Clean(ctx, subject, rm, current)
	}

	tags := req.Tags
	tags.LastUpdated = r.clock.Now().UTC()
	desired := r.stamp(req.Desired, tags.LastUpdated)

	r.logf(subject, "updating %s", strings.Join(changes.GroupNames(), ", "))
	if err := r.kind.Update(ctx, current, changes, desired); err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", subject.Kind, subject.Filter, err)
	}
	if err := r.kind.Tag(ctx, current.ID, tags); err != nil {
		return nil, fmt.Errorf("failed to tag %s %s: %w", subject.Kind, subject.Filter, err)
	}

	conv, err := r.poller.Converge(ctx, subject, r.fetch(current.ID), r.kind.ConvergenceSpec(OperationUpdate))
	if err != nil {
		return nil, err
	}
	result.Convergence = conv
	if conv.Outcome == OutcomeTimedOut {
		return nil, NewPermanentError("update did not converge", nil).
			WithCode(ErrCodeConvergenceTimeout).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String()).
			WithOperation(string(OperationUpdate)).
			WithDetail("id", current.ID).
			WithDetail("observed_status", string(conv.Resource.Status)).
			WithDetail("waited", conv.Elapsed.String())
	}

	if err := r.verifyMarker(ctx, subject, current.ID, desired); err != nil {
		return nil, err
	}

	result.Resource = conv.Resource
	return result, nil
}

// verifyMarker re-reads the resource and checks the marker written with the
// update survived. A provider that silently rolls an update back leaves the
// previous marker in place.
func (r *Reconciler) verifyMarker(ctx context.Context, subject Subject, id string, desired DesiredConfig) error {
	key := r.kind.MarkerKey()
	if key == "" {
		return nil
	}
	want, _ := desired.Get(key)

	after, err := r.kind.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to re-read %s %s: %w", subject.Kind, subject.Filter, err)
	}
	if after == nil {
		r.recorder.RecordFatal(subject.Kind, ErrCodeUnexpectedAbsence)
		return NewFatalError("resource disappeared after update", nil).
			WithCode(ErrCodeUnexpectedAbsence).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String()).
			WithDetail("id", id)
	}

	got := after.Attributes[key]
	if !valuesEqual(got, want) {
		r.recorder.RecordFatal(subject.Kind, ErrCodeRolledBack)
		return NewFatalError("provider rolled the update back", nil).
			WithCode(ErrCodeRolledBack).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String()).
			WithOperation(string(OperationUpdate)).
			WithDetail("id", id).
			WithDetail("marker", key).
			WithDetail("expected", want).
			WithDetail("observed", got).
			WithRemediation("inspect the failed deployment in the provider console (often a failing health check), fix it, then retry")
	}
	return nil
}

// Delete removes the component's resource and waits until it is gone. A
// resource that is already absent counts as deleted.
func (r *Reconciler) Delete(ctx context.Context, filter TagFilter) (res *Result, err error) {
	subject := Subject{Kind: r.kind.Name(), Filter: filter}
	ctx, finish := r.begin(ctx, "delete", subject)
	defer func() { finish(OperationDelete, res, err) }()

	result := r.newResult(subject, OperationDelete)

	r.logf(subject, "discovering")
	current, err := FindOne(ctx, subject.Kind, r.kind, filter)
	if err != nil {
		return nil, err
	}
	if current == nil {
		result.Operation = OperationNoop
		r.logf(subject, "already deleted")
		return result, nil
	}
	result.Resource = current

	r.logf(subject, "deleting %s", current.ID)
	if err := r.kind.Delete(ctx, current.ID); err != nil {
		if !IsNotFound(err) {
			return nil, fmt.Errorf("failed to delete %s %s: %w", subject.Kind, subject.Filter, err)
		}
	}

	conv, err := r.poller.Converge(ctx, subject, r.fetch(current.ID), r.kind.ConvergenceSpec(OperationDelete))
	if err != nil {
		return nil, err
	}
	result.Convergence = conv
	if conv.Outcome == OutcomeTimedOut {
		return nil, NewPermanentError("deletion did not complete", nil).
			WithCode(ErrCodeConvergenceTimeout).
			WithKind(subject.Kind).
			WithResource(subject.Filter.String()).
			WithOperation(string(OperationDelete)).
			WithDetail("id", current.ID).
			WithDetail("waited", conv.Elapsed.String())
	}

	if rm, ok := r.kind.(RevisionManager); ok {
		result.Orphans = r.cleaner.Clean(ctx, subject, rm, nil)
	}
	return result, nil
}

// Status returns the component's current resource, or nil if none exists.
func (r *Reconciler) Status(ctx context.Context, filter TagFilter) (*ObservedResource, error) {
	return FindOne(ctx, r.kind.Name(), r.kind, filter)
}

func (r *Reconciler) fetch(id string) FetchFunc {
	return func(ctx context.Context) (*ObservedResource, error) {
		return r.kind.Get(ctx, id)
	}
}

// stamp writes the marker attribute into the desired payload. The marker is
// unique per write so two updates within one clock tick stay distinguishable.
func (r *Reconciler) stamp(desired DesiredConfig, at time.Time) DesiredConfig {
	key := r.kind.MarkerKey()
	if key == "" {
		return desired
	}
	return desired.With(key, at.Format(time.RFC3339Nano)+"/"+uuid.NewString())
}

func (r *Reconciler) newResult(subject Subject, op OperationType) *Result {
	return &Result{
		Kind:      subject.Kind,
		Filter:    subject.Filter,
		Operation: op,
		StartedAt: r.clock.Now(),
	}
}

// begin opens the span for one engine call and returns the function that
// closes it and records the outcome under op, or under the result's
// operation when there is a result.
func (r *Reconciler) begin(ctx context.Context, name string, subject Subject) (context.Context, func(OperationType, *Result, error)) {
	start := r.clock.Now()
	ctx, span := r.tracer.Start(ctx, name+" "+subject.Kind, trace.WithAttributes(
		attribute.String("resource.kind", subject.Kind),
		attribute.String("deployment", subject.Filter.Deployment),
		attribute.String("component", subject.Filter.Component),
	))

	return ctx, func(operation OperationType, res *Result, err error) {
		defer span.End()
		d := r.clock.Since(start)

		if res != nil {
			operation = res.Operation
			res.Duration = d
		}

		outcome := "succeeded"
		switch {
		case IsFatal(err):
			outcome = "fatal"
		case err != nil:
			outcome = "failed"
		case res != nil && res.Operation == OperationNoop:
			outcome = "noop"
		}
		r.recorder.RecordReconciliation(subject.Kind, operation, outcome, d)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("operation", string(operation)))
		span.SetStatus(codes.Ok, "")
	}
}

func (r *Reconciler) logf(subject Subject, format string, args ...interface{}) {
	r.logger.Info().Msg(subject.Filter.String() + ": " + fmt.Sprintf(format, args...))
}
