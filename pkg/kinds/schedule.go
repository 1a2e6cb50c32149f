package kinds

import (
	"context"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// Scheduled job statuses.
const (
	JobEnabled  engine.Status = "ENABLED"
	JobDisabled engine.Status = "DISABLED"
	JobUpdating engine.Status = "UPDATING"
)

// ScheduledJobKind is the kind name of scheduled jobs.
const ScheduledJobKind = "scheduled-job"

var scheduledJobSpec = spec{
	name: ScheduledJobKind,
	groups: []engine.AttributeGroup{
		group("schedule", "schedule", "timezone"),
		group("target", "target", "input", "invoke_role"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(2*time.Minute, JobUpdating, JobEnabled),
		engine.OperationUpdate: converge(2*time.Minute, JobUpdating, JobEnabled),
		engine.OperationDelete: converge(2*time.Minute, JobUpdating, engine.StatusDeleted),
		engine.OperationStop:   converge(2*time.Minute, JobUpdating, JobDisabled),
		engine.OperationStart:  converge(2*time.Minute, JobUpdating, JobEnabled),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		JobEnabled:  engine.ResourceStatusReady,
		JobDisabled: engine.ResourceStatusPaused,
		JobUpdating: engine.ResourceStatusUpdating,
	},
	defaults: engine.Attributes{
		"schedule": "rate(1 hour)",
		"timezone": "UTC",
	},
	marker: MarkerKey,
}

// ScheduledJob is a cron-style trigger that can be disabled and re-enabled.
type ScheduledJob struct {
	*resource
}

var _ engine.Pausable = (*ScheduledJob)(nil)

// NewScheduledJob creates the scheduled-job kind.
func NewScheduledJob(client provider.Client) *ScheduledJob {
	return &ScheduledJob{resource: newResource(scheduledJobSpec, client)}
}

// Pause disables the schedule.
func (k *ScheduledJob) Pause(ctx context.Context, id string) error {
	return k.client.Action(ctx, k.name, id, provider.ActionPause)
}

// Resume enables the schedule.
func (k *ScheduledJob) Resume(ctx context.Context, id string) error {
	return k.client.Action(ctx, k.name, id, provider.ActionResume)
}

func (k *ScheduledJob) RunningStatus() engine.Status { return JobEnabled }

func (k *ScheduledJob) PausedStatus() engine.Status { return JobDisabled }
