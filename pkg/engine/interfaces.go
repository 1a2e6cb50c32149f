package engine

import (
	"context"
	"time"
)

// Page is one page of a paginated remote listing.
type Page struct {
	// Resources are the resources on this page.
	Resources []ObservedResource

	// NextToken is empty on the last page.
	NextToken string
}

// Lister lists remote resources of one kind, page by page.
type Lister interface {
	// List returns the page identified by pageToken ("" for the first page).
	List(ctx context.Context, filter TagFilter, pageToken string) (*Page, error)
}

// Kind is the capability set a resource kind exposes to the Reconciler.
// Implementations are thin adapters over the remote resource client.
type Kind interface {
	Lister

	// Name returns the resource kind name (e.g. "compute-service").
	Name() string

	// Get returns the current snapshot, or nil when the resource is absent.
	Get(ctx context.Context, id string) (*ObservedResource, error)

	// Create creates the resource from the full desired payload.
	Create(ctx context.Context, name string, desired DesiredConfig, tags Tags) (*ObservedResource, error)

	// Update applies the changed attribute groups in a single call.
	Update(ctx context.Context, current *ObservedResource, changes ChangeSet, desired DesiredConfig) error

	// Delete deletes the resource. Absence is reported as a not-found error.
	Delete(ctx context.Context, id string) error

	// Tag replaces the engine-managed tags on the resource.
	Tag(ctx context.Context, id string, tags Tags) error

	// AttributeGroups returns the independently updatable attribute groups.
	AttributeGroups() []AttributeGroup

	// ConvergenceSpec returns the polling parameters for an operation.
	ConvergenceSpec(op OperationType) ConvergenceSpec

	// MarkerKey names the attribute used to verify an update was not rolled
	// back. Empty disables verification.
	MarkerKey() string

	// Lifecycle maps a kind-specific status onto the generic lifecycle.
	Lifecycle(status Status) ResourceStatus
}

// Revision is a scaling/config sub-resource revision.
type Revision struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Number     int    `json:"number"`
	Active     bool   `json:"active"`
	Associated bool   `json:"associated"`
}

// RevisionManager is implemented by kinds that mint sub-resource revisions
// counted against a provider quota.
type RevisionManager interface {
	// Revisions lists every revision belonging to the component.
	Revisions(ctx context.Context, filter TagFilter) ([]Revision, error)

	// DeleteRevision deletes one revision.
	DeleteRevision(ctx context.Context, id string) error

	// InUseRevision returns the revision referenced by the live resource.
	InUseRevision(current *ObservedResource) string

	// MintsRevision reports whether applying changes creates a new revision.
	// A nil current means the resource is about to be created.
	MintsRevision(current *ObservedResource, changes ChangeSet) bool
}

// Pausable is implemented by kinds that can be paused without recreation.
type Pausable interface {
	// Pause issues the pause call.
	Pause(ctx context.Context, id string) error

	// Resume issues the resume call.
	Resume(ctx context.Context, id string) error

	// RunningStatus is the status of a running resource.
	RunningStatus() Status

	// PausedStatus is the status of a paused resource.
	PausedStatus() Status
}

// Recorder receives engine measurements. A nil Recorder is allowed.
type Recorder interface {
	// RecordReconciliation records one finished reconciliation.
	RecordReconciliation(kind string, op OperationType, outcome string, d time.Duration)

	// RecordPoll records one convergence poll tick.
	RecordPoll(kind string, status Status)

	// RecordFatal records a fatal error by code.
	RecordFatal(kind, code string)

	// RecordOrphansDeleted records deleted sub-resource revisions.
	RecordOrphansDeleted(kind string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordReconciliation(string, OperationType, string, time.Duration) {}
func (nopRecorder) RecordPoll(string, Status)                                        {}
func (nopRecorder) RecordFatal(string, string)                                       {}
func (nopRecorder) RecordOrphansDeleted(string, int)                                 {}
