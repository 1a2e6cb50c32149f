package stores

import (
	"context"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// RunStatus represents the status of a CLI run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusFatal     RunStatus = "fatal"
)

// Run represents one CLI invocation against a deployment
type Run struct {
	ID          string     `json:"id"`
	Deployment  string     `json:"deployment"`
	Command     string     `json:"command"` // deploy, delete, start, stop
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Reconciliation is the recorded outcome of one engine call
type Reconciliation struct {
	ID         int64                `json:"id"`
	RunID      *string              `json:"run_id,omitempty"`
	Deployment string               `json:"deployment"`
	Component  string               `json:"component"`
	Kind       string               `json:"kind"`
	Operation  engine.OperationType `json:"operation"`
	Outcome    string               `json:"outcome"` // succeeded, noop, failed, fatal, cancelled, skipped
	ResourceID *string              `json:"resource_id,omitempty"`
	ErrorCode  *string              `json:"error_code,omitempty"`
	Error      *string              `json:"error,omitempty"`
	Duration   time.Duration        `json:"duration"`
	StartedAt  time.Time            `json:"started_at"`
}

// ReconciliationFilter narrows ListReconciliations. Empty fields match all.
type ReconciliationFilter struct {
	RunID      string
	Deployment string
	Component  string
	Limit      int
	Offset     int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Defaults operations
	Defaults(ctx context.Context, deployment, kind string) (engine.Attributes, error)
	SetDefault(ctx context.Context, deployment, kind, key string, value interface{}) error
	DeleteDefault(ctx context.Context, deployment, kind, key string) error
	Backfill(ctx context.Context, deployment, kind string, attrs engine.Attributes) (int, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, deployment string, limit, offset int) ([]*Run, error)

	// Reconciliation operations
	RecordReconciliation(ctx context.Context, rec *Reconciliation) error
	ListReconciliations(ctx context.Context, filter ReconciliationFilter) ([]*Reconciliation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
