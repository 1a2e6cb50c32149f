package policy

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		roleWildcardPolicy(),
		computeScalingPolicy(),
		functionLimitsPolicy(),
		queueRedrivePolicy(),
	}
}

// roleWildcardPolicy rejects role statements that grant every action.
func roleWildcardPolicy() Policy {
	return Policy{
		Name:        "role-wildcard",
		Description: "Role permission statements must not grant wildcard actions",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package kitdeploy.policies.roles

import rego.v1

wildcard_action(a) if a == "*"

wildcard_action(a) if {
	is_string(a)
	endswith(a, ":*")
}

wildcard(x) if wildcard_action(x)

wildcard(x) if {
	is_array(x)
	some a in x
	wildcard_action(a)
}

deny contains violation if {
	input.kind == "role"
	some stmt in input.attributes.policy_statements
	wildcard(stmt.action)
	violation := {
		"message": sprintf("role %s grants wildcard action %v", [input.component, stmt.action]),
		"remediation": "list the individual actions the role needs",
	}
}

deny contains violation if {
	input.kind == "role"
	some stmt in input.attributes.policy_statements
	not wildcard(stmt.action)
	stmt.resource == "*"
	violation := {
		"message": sprintf("role %s applies %v to every resource", [input.component, stmt.action]),
		"severity": "warning",
	}
}
`,
	}
}

// computeScalingPolicy requires a bounded scaling range for compute services.
func computeScalingPolicy() Policy {
	return Policy{
		Name:        "compute-scaling",
		Description: "Compute services must declare a bounded scaling range",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package kitdeploy.policies.scaling

import rego.v1

max_instances := 25

deny contains violation if {
	input.kind == "compute-service"
	not input.attributes.max_size
	violation := {
		"message": sprintf("compute service %s has no max_size", [input.component]),
		"remediation": "set max_size in the manifest or the stored defaults",
	}
}

deny contains violation if {
	input.kind == "compute-service"
	input.attributes.max_size > max_instances
	violation := {
		"message": sprintf("compute service %s max_size %v exceeds %v", [input.component, input.attributes.max_size, max_instances]),
		"remediation": sprintf("lower max_size to at most %v", [max_instances]),
	}
}

deny contains violation if {
	input.kind == "compute-service"
	input.attributes.min_size > input.attributes.max_size
	violation := {
		"message": sprintf("compute service %s min_size %v is above max_size %v", [input.component, input.attributes.min_size, input.attributes.max_size]),
	}
}
`,
	}
}

// functionLimitsPolicy enforces the provider's function limits.
func functionLimitsPolicy() Policy {
	return Policy{
		Name:        "function-limits",
		Description: "Function timeouts must not exceed the provider maximum",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package kitdeploy.policies.functions

import rego.v1

max_timeout := 900

deny contains violation if {
	input.kind == "function"
	input.attributes.timeout_seconds > max_timeout
	violation := {
		"message": sprintf("function %s timeout_seconds %v exceeds %v", [input.component, input.attributes.timeout_seconds, max_timeout]),
		"remediation": "split the work or move it to a compute service",
	}
}

deny contains violation if {
	input.kind == "function"
	input.attributes.timeout_seconds <= 0
	violation := {
		"message": sprintf("function %s timeout_seconds must be positive", [input.component]),
	}
}
`,
	}
}

// queueRedrivePolicy warns about queues without a dead-letter target.
func queueRedrivePolicy() Policy {
	return Policy{
		Name:        "queue-redrive",
		Description: "Queues should redrive failed messages to a dead-letter target",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package kitdeploy.policies.queues

import rego.v1

deny contains violation if {
	input.kind == "queue"
	not input.attributes.dead_letter_target
	violation := sprintf("queue %s has no dead_letter_target", [input.component])
}
`,
	}
}
