package engine

import (
	"encoding/json"
	"fmt"
)

// Status is a provider-reported status. Each resource kind draws its statuses
// from its own finite vocabulary; the engine only compares them.
type Status string

// StatusAbsent is reported by a fetch when the remote resource does not exist.
const StatusAbsent Status = ""

// OperationType represents the type of operation performed on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource was created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource was updated in place.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource was deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the resource was already up to date.
	OperationNoop OperationType = "noop"

	// OperationStart indicates a paused resource was resumed.
	OperationStart OperationType = "start"

	// OperationStop indicates a running resource was paused.
	OperationStop OperationType = "stop"
)

// IsDestructive returns true if the operation destroys resources.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// IsMutating returns true if the operation changes remote state.
func (o OperationType) IsMutating() bool {
	return o != OperationNoop
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete,
		OperationNoop, OperationStart, OperationStop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// ResourceStatus is the generic lifecycle state shared by every resource kind.
// Kind-specific statuses are mapped onto it for reporting.
type ResourceStatus string

const (
	// ResourceStatusUnknown indicates the resource state is not yet known.
	ResourceStatusUnknown ResourceStatus = "unknown"

	// ResourceStatusNotFound indicates no matching remote resource exists.
	ResourceStatusNotFound ResourceStatus = "not_found"

	// ResourceStatusCreating indicates the resource is being created.
	ResourceStatusCreating ResourceStatus = "creating"

	// ResourceStatusReady indicates the resource is ready and operational.
	ResourceStatusReady ResourceStatus = "ready"

	// ResourceStatusUpdating indicates the resource is being updated.
	ResourceStatusUpdating ResourceStatus = "updating"

	// ResourceStatusDeleting indicates the resource is being deleted.
	ResourceStatusDeleting ResourceStatus = "deleting"

	// ResourceStatusPaused indicates the resource is paused.
	ResourceStatusPaused ResourceStatus = "paused"

	// ResourceStatusError indicates the resource is in a failed state.
	ResourceStatusError ResourceStatus = "error"
)

// IsTransitional returns true if the status is one of the in-progress states.
func (s ResourceStatus) IsTransitional() bool {
	return s == ResourceStatusCreating || s == ResourceStatusUpdating ||
		s == ResourceStatusDeleting
}

// Validate checks if the resource status is valid.
func (s ResourceStatus) Validate() error {
	switch s {
	case ResourceStatusUnknown, ResourceStatusNotFound, ResourceStatusCreating,
		ResourceStatusReady, ResourceStatusUpdating, ResourceStatusDeleting,
		ResourceStatusPaused, ResourceStatusError:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// ConvergenceOutcome describes how a polling session ended.
type ConvergenceOutcome string

const (
	// OutcomeReady means the terminal status was observed.
	OutcomeReady ConvergenceOutcome = "ready"

	// OutcomeNotFound means the resource disappeared while deletion was awaited.
	OutcomeNotFound ConvergenceOutcome = "not_found"

	// OutcomeTimedOut means the wait budget ran out while still in progress.
	OutcomeTimedOut ConvergenceOutcome = "timed_out"
)

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o OperationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *OperationType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = OperationType(str)
	return o.Validate()
}
