package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TaskFunc runs one reconciliation.
type TaskFunc func(ctx context.Context) (*Result, error)

// Task is one unit of work inside a stage, usually one component.
type Task struct {
	Name string
	Run  TaskFunc
}

// Stage groups tasks that do not depend on each other. Stages run in order;
// tasks inside a stage run concurrently.
type Stage struct {
	Name  string
	Tasks []Task
}

// TaskStatus is the final state of a scheduled task.
type TaskStatus string

const (
	// TaskSucceeded indicates the task returned without error.
	TaskSucceeded TaskStatus = "succeeded"

	// TaskFailed indicates the task returned an error.
	TaskFailed TaskStatus = "failed"

	// TaskCancelled indicates the task was interrupted by a fatal sibling.
	TaskCancelled TaskStatus = "cancelled"

	// TaskSkipped indicates the task never started because an earlier stage
	// failed.
	TaskSkipped TaskStatus = "skipped"
)

// TaskOutcome records what happened to one task.
type TaskOutcome struct {
	Stage    string        `json:"stage"`
	Task     string        `json:"task"`
	Status   TaskStatus    `json:"status"`
	Result   *Result       `json:"result,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// RunSummary aggregates the outcomes of a run.
type RunSummary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	Outcomes  []TaskOutcome `json:"outcomes"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes stages of independent reconciliations.
type Runner struct {
	// maxParallel is the maximum number of concurrent tasks per stage
	maxParallel int

	clock  clock.Clock
	logger zerolog.Logger
}

// NewRunner creates a stage runner.
func NewRunner(maxParallel int, clk clock.Clock, logger zerolog.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Runner{
		maxParallel: maxParallel,
		clock:       clk,
		logger:      logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes stages in order. A failed task stops later stages from
// starting; a fatal error additionally cancels its running siblings. The
// returned error is the fatal error when there is one, otherwise all task
// errors joined.
func (r *Runner) Run(ctx context.Context, stages []Stage) (*RunSummary, error) {
	start := r.clock.Now()
	summary := &RunSummary{}

	var (
		fatal  error
		failed []error
	)

	for i, stage := range stages {
		if fatal != nil || len(failed) > 0 || ctx.Err() != nil {
			for _, t := range stage.Tasks {
				summary.Outcomes = append(summary.Outcomes, TaskOutcome{Stage: stage.Name, Task: t.Name, Status: TaskSkipped})
			}
			continue
		}

		r.logger.Debug().Int("stage", i).Str("name", stage.Name).Int("tasks", len(stage.Tasks)).Msg("Running stage")
		outcomes := r.runStage(ctx, stage)
		summary.Outcomes = append(summary.Outcomes, outcomes...)

		for _, o := range outcomes {
			switch {
			case o.Err == nil:
			case IsFatal(o.Err):
				if fatal == nil {
					fatal = o.Err
				}
			case o.Status == TaskFailed:
				failed = append(failed, fmt.Errorf("%s: %w", o.Task, o.Err))
			}
		}
	}

	for _, o := range summary.Outcomes {
		summary.Total++
		switch o.Status {
		case TaskSucceeded:
			summary.Succeeded++
		case TaskFailed:
			summary.Failed++
		case TaskCancelled:
			summary.Cancelled++
		case TaskSkipped:
			summary.Skipped++
		}
	}
	summary.Duration = r.clock.Since(start)

	if fatal != nil {
		return summary, fatal
	}
	if len(failed) > 0 {
		return summary, errors.Join(failed...)
	}
	return summary, ctx.Err()
}

// runStage runs every task of a stage on a bounded errgroup. Only fatal
// errors are returned to the group, so only they cancel siblings.
func (r *Runner) runStage(ctx context.Context, stage Stage) []TaskOutcome {
	outcomes := make([]TaskOutcome, len(stage.Tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for i, task := range stage.Tasks {
		g.Go(func() error {
			outcome := TaskOutcome{Stage: stage.Name, Task: task.Name}
			if gctx.Err() != nil {
				outcome.Status = TaskCancelled
				outcome.Err = gctx.Err()
				outcomes[i] = outcome
				return nil
			}

			begin := r.clock.Now()
			res, err := task.Run(gctx)
			outcome.Duration = r.clock.Since(begin)
			outcome.Result = res
			outcome.Err = err

			switch {
			case err == nil:
				outcome.Status = TaskSucceeded
			case errors.Is(err, context.Canceled) && ctx.Err() == nil:
				outcome.Status = TaskCancelled
			default:
				outcome.Status = TaskFailed
			}
			outcomes[i] = outcome

			if IsFatal(err) {
				r.logger.Error().Err(err).Str("task", task.Name).Msg("Fatal error, cancelling stage")
				return err
			}
			if err != nil {
				r.logger.Error().Err(err).Str("task", task.Name).Msg("Task failed")
			}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
