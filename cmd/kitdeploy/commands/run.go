package commands

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/stores"
	"github.com/saaskit/kitdeploy/pkg/telemetry"
)

// step is one engine call on one component.
type step struct {
	component string
	kind      string
	call      func(ctx context.Context, r *engine.Reconciler) (*engine.Result, error)
}

type planStage struct {
	name  string
	steps []step
}

// plan is the ordered work of one command.
type plan struct {
	command    string
	deployment string

	// operation labels recorded outcomes that failed before the engine
	// decided on an operation.
	operation engine.OperationType

	stages []planStage
}

// componentReport is the recorded outcome of one step.
type componentReport struct {
	Stage      string               `json:"stage"`
	Component  string               `json:"component"`
	Kind       string               `json:"kind"`
	Operation  engine.OperationType `json:"operation"`
	Outcome    string               `json:"outcome"`
	ResourceID string               `json:"resource_id,omitempty"`
	Status     engine.Status        `json:"status,omitempty"`
	Changes    []string             `json:"changes,omitempty"`
	Orphans    int                  `json:"orphans_deleted,omitempty"`
	Duration   time.Duration        `json:"duration"`
	Error      string               `json:"error,omitempty"`
}

// runReport summarises one command run.
type runReport struct {
	RunID      string            `json:"run_id"`
	Command    string            `json:"command"`
	Deployment string            `json:"deployment"`
	Status     stores.RunStatus  `json:"status"`
	Components []componentReport `json:"components"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Duration   time.Duration     `json:"duration"`
}

// execute runs p on the stage runner, records the run and every outcome in
// the store, and returns the runner's error.
func (a *app) execute(ctx context.Context, p plan) (*runReport, error) {
	runID := uuid.NewString()
	logger := a.logger.With().Str("run_id", runID).Str("deployment", p.deployment).Logger()

	ctx, span := a.tel.Tracer.StartCommandSpan(ctx, p.command, p.deployment, runID)
	defer span.End()

	stages := make([]engine.Stage, 0, len(p.stages))
	kindOf := make(map[string]string)
	for _, ps := range p.stages {
		stage := engine.Stage{Name: ps.name}
		for _, st := range ps.steps {
			r, err := a.reconciler(st.kind)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
			kindOf[st.component] = st.kind
			call := st.call
			stage.Tasks = append(stage.Tasks, engine.Task{
				Name: st.component,
				Run:  func(ctx context.Context) (*engine.Result, error) { return call(ctx, r) },
			})
		}
		stages = append(stages, stage)
	}

	run := &stores.Run{
		ID:         runID,
		Deployment: p.deployment,
		Command:    p.command,
		Status:     stores.RunStatusRunning,
		StartedAt:  a.clock.Now().UTC(),
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	logger.Info().Str("command", p.command).Int("stages", len(stages)).Msg("Run started")

	runner := engine.NewRunner(a.settings.MaxParallel, a.clock, logger)
	summary, runErr := runner.Run(ctx, stages)

	// Outcomes are recorded even when the command was interrupted.
	recordCtx := context.WithoutCancel(ctx)

	report := &runReport{
		RunID:      runID,
		Command:    p.command,
		Deployment: p.deployment,
		Duration:   summary.Duration,
	}
	for _, o := range summary.Outcomes {
		cr := a.componentReport(p, o, kindOf[o.Task])
		report.Components = append(report.Components, cr)
		switch o.Status {
		case engine.TaskSucceeded:
			report.Succeeded++
		case engine.TaskSkipped:
			report.Skipped++
		default:
			report.Failed++
		}

		if err := a.store.RecordReconciliation(recordCtx, reconciliationRecord(runID, p, o, cr, a.clock.Now())); err != nil {
			logger.Warn().Err(err).Str("component", o.Task).Msg("Failed to record reconciliation")
		}
	}

	report.Status = runStatus(runErr)
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	if err := a.store.FinishRun(recordCtx, runID, report.Status, errMsg); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run status")
	}
	a.tel.Metrics.RecordRun(p.command, string(report.Status))

	logger.Info().
		Str("status", string(report.Status)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("duration", report.Duration).
		Msg("Run finished")

	return report, runErr
}

func (a *app) componentReport(p plan, o engine.TaskOutcome, kind string) componentReport {
	cr := componentReport{
		Stage:     o.Stage,
		Component: o.Task,
		Kind:      kind,
		Operation: p.operation,
		Outcome:   outcomeOf(o),
		Duration:  o.Duration,
	}
	if res := o.Result; res != nil {
		cr.Operation = res.Operation
		cr.Changes = res.Changes.GroupNames()
		cr.Orphans = res.Orphans
		if res.Resource != nil {
			cr.ResourceID = res.Resource.ID
			cr.Status = res.Resource.Status
		}
	}
	if o.Err != nil {
		cr.Error = o.Err.Error()
		var ee *engine.EngineError
		if errors.As(o.Err, &ee) && ee.Operation != "" {
			cr.Operation = engine.OperationType(ee.Operation)
		}
	}
	return cr
}

// outcomeOf maps a task outcome onto the recorded outcome vocabulary.
func outcomeOf(o engine.TaskOutcome) string {
	switch o.Status {
	case engine.TaskSucceeded:
		if o.Result != nil && o.Result.Operation == engine.OperationNoop {
			return "noop"
		}
		return "succeeded"
	case engine.TaskFailed:
		if engine.IsFatal(o.Err) {
			return "fatal"
		}
		return "failed"
	default:
		return string(o.Status)
	}
}

func reconciliationRecord(runID string, p plan, o engine.TaskOutcome, cr componentReport, now time.Time) *stores.Reconciliation {
	rec := &stores.Reconciliation{
		RunID:      &runID,
		Deployment: p.deployment,
		Component:  cr.Component,
		Kind:       cr.Kind,
		Operation:  cr.Operation,
		Outcome:    cr.Outcome,
		Duration:   o.Duration,
		StartedAt:  now.Add(-o.Duration).UTC(),
	}
	if o.Result != nil {
		rec.StartedAt = o.Result.StartedAt.UTC()
	}
	if cr.ResourceID != "" {
		id := cr.ResourceID
		rec.ResourceID = &id
	}
	if o.Err != nil {
		msg := o.Err.Error()
		rec.Error = &msg
		var ee *engine.EngineError
		if errors.As(o.Err, &ee) && ee.Code != "" {
			code := ee.Code
			rec.ErrorCode = &code
		}
	}
	return rec
}

func runStatus(err error) stores.RunStatus {
	switch {
	case err == nil:
		return stores.RunStatusCompleted
	case engine.IsFatal(err):
		return stores.RunStatusFatal
	default:
		return stores.RunStatusFailed
	}
}
