// Package policy gates deploys with Open Policy Agent (OPA) Rego policies.
//
// Before any component is reconciled, the CLI evaluates every enabled
// policy against each component's resolved desired configuration. A
// policy sees one component at a time as input:
//
//	{
//	    "deployment": "prod",
//	    "region": "eu-west-1",
//	    "version": "1.4.2",
//	    "stage": "app",
//	    "component": "api",
//	    "kind": "compute-service",
//	    "attributes": {"min_size": 1, "max_size": 3, ...}
//	}
//
// and reports violations through its deny set. A deny value is either a
// message string or an object with message, severity and remediation:
//
//	package custom.policies.tables
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.kind == "table"
//	    input.deployment == "prod"
//	    input.attributes.billing_mode != "PROVISIONED"
//	    violation := {
//	        "message": sprintf("table %s must use provisioned capacity", [input.component]),
//	        "severity": "error",
//	    }
//	}
//
// Violations of severity error or critical block the deploy; Result.Err
// turns them into a permanent POLICY_DENIED error.
//
// # Built-in Policies
//
//  1. role-wildcard - role statements must not grant wildcard actions
//  2. compute-scaling - compute services need max_size, at most 25
//  3. function-limits - function timeouts must be within 1..900 seconds
//  4. queue-redrive - queues should have a dead-letter target (warning)
//
// # Custom Policies
//
// Custom policies are .rego or .json files loaded from the policy
// directory. A .rego file is named after the file; a leading
// "# severity: error" comment sets its default severity, which is
// otherwise warning. Loader.Watch reloads them on change.
package policy
