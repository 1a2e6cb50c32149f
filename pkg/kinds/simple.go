package kinds

import (
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// Function statuses.
const (
	FunctionPending engine.Status = "Pending"
	FunctionActive  engine.Status = "Active"
	FunctionFailed  engine.Status = "Failed"
)

// Queue statuses.
const (
	QueueCreating engine.Status = "CREATING"
	QueueReady    engine.Status = "READY"
	QueueDeleting engine.Status = "DELETING"
)

// Table statuses.
const (
	TableCreating engine.Status = "CREATING"
	TableUpdating engine.Status = "UPDATING"
	TableActive   engine.Status = "ACTIVE"
	TableDeleting engine.Status = "DELETING"
)

// Role statuses.
const (
	RoleCreating engine.Status = "CREATING"
	RoleReady    engine.Status = "READY"
)

// Kind names.
const (
	FunctionKind = "function"
	QueueKind    = "queue"
	TableKind    = "table"
	RoleKind     = "role"
)

var functionSpec = spec{
	name: FunctionKind,
	groups: []engine.AttributeGroup{
		group("code", "image_uri", "handler"),
		group("runtime", "runtime", "memory_mb", "timeout_seconds", "architecture"),
		group("environment", "environment"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(5*time.Minute, FunctionPending, FunctionActive, FunctionFailed),
		engine.OperationUpdate: converge(5*time.Minute, FunctionPending, FunctionActive, FunctionFailed),
		engine.OperationDelete: converge(time.Minute, FunctionActive, engine.StatusDeleted),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		FunctionPending: engine.ResourceStatusUpdating,
		FunctionActive:  engine.ResourceStatusReady,
		FunctionFailed:  engine.ResourceStatusError,
	},
	defaults: engine.Attributes{
		"runtime":         "provided.al2023",
		"architecture":    "arm64",
		"memory_mb":       128,
		"timeout_seconds": 30,
	},
	marker: MarkerKey,
}

var queueSpec = spec{
	name: QueueKind,
	groups: []engine.AttributeGroup{
		group("delivery", "visibility_timeout", "delay_seconds", "max_message_size"),
		group("retention", "message_retention"),
		group("redrive", "dead_letter_target", "max_receive_count"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(2*time.Minute, QueueCreating, QueueReady),
		engine.OperationUpdate: converge(2*time.Minute, QueueReady, QueueReady),
		engine.OperationDelete: converge(2*time.Minute, QueueDeleting, engine.StatusDeleted),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		QueueCreating: engine.ResourceStatusCreating,
		QueueReady:    engine.ResourceStatusReady,
		QueueDeleting: engine.ResourceStatusDeleting,
	},
	defaults: engine.Attributes{
		"visibility_timeout": 30,
		"delay_seconds":      0,
		"max_message_size":   262144,
		"message_retention":  345600,
		"max_receive_count":  5,
	},
	marker: MarkerKey,
}

var tableSpec = spec{
	name: TableKind,
	groups: []engine.AttributeGroup{
		group("throughput", "billing_mode", "read_capacity", "write_capacity"),
		group("ttl", "ttl_enabled", "ttl_attribute"),
		group("streams", "stream_enabled", "stream_view_type"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(10*time.Minute, TableCreating, TableActive),
		engine.OperationUpdate: converge(10*time.Minute, TableUpdating, TableActive),
		engine.OperationDelete: converge(10*time.Minute, TableDeleting, engine.StatusDeleted),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		TableCreating: engine.ResourceStatusCreating,
		TableUpdating: engine.ResourceStatusUpdating,
		TableActive:   engine.ResourceStatusReady,
		TableDeleting: engine.ResourceStatusDeleting,
	},
	defaults: engine.Attributes{
		"billing_mode":   "PAY_PER_REQUEST",
		"ttl_enabled":    false,
		"stream_enabled": false,
	},
	marker: MarkerKey,
}

var roleSpec = spec{
	name: RoleKind,
	groups: []engine.AttributeGroup{
		group("trust", "trust_policy"),
		group("permissions", "policy_statements"),
		group("session", "max_session_duration"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(time.Minute, RoleCreating, RoleReady),
		engine.OperationUpdate: converge(time.Minute, RoleReady, RoleReady),
		engine.OperationDelete: converge(time.Minute, RoleReady, engine.StatusDeleted),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		RoleCreating: engine.ResourceStatusCreating,
		RoleReady:    engine.ResourceStatusReady,
	},
	defaults: engine.Attributes{
		"max_session_duration": 3600,
	},
	marker: MarkerKey,
}
