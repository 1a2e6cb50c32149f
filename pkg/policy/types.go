package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block a deploy.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that block a deploy.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity blocks a deploy.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module. Violations are read from the
	// module's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with kitdeploy.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Input is the document a policy sees as input for one component.
type Input struct {
	Deployment string                 `json:"deployment"`
	Region     string                 `json:"region,omitempty"`
	Version    string                 `json:"version,omitempty"`
	Stage      string                 `json:"stage,omitempty"`
	Component  string                 `json:"component"`
	Kind       string                 `json:"kind"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Violation is a single deny result.
type Violation struct {
	Policy      string   `json:"policy"`
	Component   string   `json:"component"`
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Remediation string   `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s (%s/%s): %s", v.Severity, v.Policy, v.Kind, v.Component, v.Message)
}

// Result is the outcome of evaluating every enabled policy against a set
// of components.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists every deny result, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that block a deploy.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns a permanent POLICY_DENIED error listing the blocking
// violations, or nil when the result is allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	blocking := r.Blocking()
	lines := make([]string, 0, len(blocking))
	var remediation []string
	for _, v := range blocking {
		lines = append(lines, v.String())
		if v.Remediation != "" {
			remediation = append(remediation, v.Component+": "+v.Remediation)
		}
	}
	err := engine.NewPermanentError(
		fmt.Sprintf("deploy blocked by %d policy violation(s):\n  %s", len(blocking), strings.Join(lines, "\n  ")),
		nil,
	).WithCode(engine.ErrCodePolicyDenied)
	if len(remediation) > 0 {
		err = err.WithRemediation(strings.Join(remediation, "; "))
	}
	return err
}
