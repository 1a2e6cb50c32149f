package engine

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
)

// Attributes is a key/value view of a resource's configuration.
type Attributes map[string]interface{}

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Keys returns the attribute keys in unspecified order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	return keys
}

// DesiredConfig is the immutable set of attributes a caller wants a resource
// to have. It is built fresh for every reconciliation call.
type DesiredConfig struct {
	attrs Attributes
}

// NewDesiredConfig snapshots attrs into a DesiredConfig.
func NewDesiredConfig(attrs Attributes) DesiredConfig {
	return DesiredConfig{attrs: attrs.Clone()}
}

// Get returns the desired value for key.
func (d DesiredConfig) Get(key string) (interface{}, bool) {
	v, ok := d.attrs[key]
	return v, ok
}

// Attributes returns a copy of the desired attributes.
func (d DesiredConfig) Attributes() Attributes {
	return d.attrs.Clone()
}

// With returns a new DesiredConfig with key set to value.
func (d DesiredConfig) With(key string, value interface{}) DesiredConfig {
	attrs := d.attrs.Clone()
	attrs[key] = value
	return DesiredConfig{attrs: attrs}
}

// MarshalJSON renders the desired attributes.
func (d DesiredConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.attrs)
}

// Tag keys attached to every resource the engine creates.
const (
	TagComponent   = "component"
	TagDeployment  = "deployment"
	TagRegion      = "region"
	TagVersion     = "version"
	TagLastUpdated = "lastUpdated"
)

// Tags identifies the logical deployment a remote resource belongs to.
type Tags struct {
	Component   string    `json:"component" validate:"required"`
	Deployment  string    `json:"deployment" validate:"required"`
	Region      string    `json:"region,omitempty"`
	Version     string    `json:"version,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Map renders the tags as the provider's flat string map.
func (t Tags) Map() map[string]string {
	m := map[string]string{
		TagComponent:  t.Component,
		TagDeployment: t.Deployment,
	}
	if t.Region != "" {
		m[TagRegion] = t.Region
	}
	if t.Version != "" {
		m[TagVersion] = t.Version
	}
	if !t.LastUpdated.IsZero() {
		m[TagLastUpdated] = t.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// Filter returns the (deployment, component) pair used for discovery.
func (t Tags) Filter() TagFilter {
	return TagFilter{Deployment: t.Deployment, Component: t.Component}
}

// TagFilter selects resources belonging to one component of one deployment.
type TagFilter struct {
	Deployment string `json:"deployment"`
	Component  string `json:"component"`
}

// Matches reports whether tags carry the filter's pair.
func (f TagFilter) Matches(tags map[string]string) bool {
	return tags[TagDeployment] == f.Deployment && tags[TagComponent] == f.Component
}

// String renders the filter in the log prefix format.
func (f TagFilter) String() string {
	return f.Component + "/" + f.Deployment
}

// ObservedResource is a read-only snapshot of a remote resource.
type ObservedResource struct {
	// ID is the provider-assigned identifier.
	ID string `json:"id"`

	// Name is the provider-visible name. It may carry a random suffix.
	Name string `json:"name"`

	// Kind is the resource kind the snapshot belongs to.
	Kind string `json:"kind"`

	// Status is the kind-specific status at observation time.
	Status Status `json:"status"`

	// Attributes are the resource's current attributes.
	Attributes Attributes `json:"attributes"`

	// Tags are the provider tags attached to the resource.
	Tags map[string]string `json:"tags,omitempty"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// Change represents a single attribute difference.
type Change struct {
	// Path is the attribute key being changed.
	Path string `json:"path"`

	// Before is the observed value.
	Before interface{} `json:"before,omitempty"`

	// After is the desired value.
	After interface{} `json:"after,omitempty"`

	// Action describes the change action (add, modify).
	Action ChangeAction `json:"action"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates the attribute is missing remotely.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionModify indicates the attribute value differs.
	ChangeActionModify ChangeAction = "modify"
)

// AttributeGroup is a set of attributes the provider updates as one unit.
type AttributeGroup struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// GroupChange lists the differing keys of one attribute group.
type GroupChange struct {
	Group   string   `json:"group"`
	Keys    []string `json:"keys"`
	Changes []Change `json:"changes"`
}

// ChangeSet is the ordered set of attribute groups that differ.
type ChangeSet struct {
	Groups []GroupChange `json:"groups,omitempty"`
}

// IsEmpty reports whether nothing needs to change.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Groups) == 0
}

// Has reports whether the named group changed.
func (c ChangeSet) Has(group string) bool {
	for _, g := range c.Groups {
		if g.Group == group {
			return true
		}
	}
	return false
}

// GroupNames returns the changed group names in order.
func (c ChangeSet) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		names = append(names, g.Group)
	}
	return names
}

// BackoffTier applies Delay while the elapsed time is at most UpTo.
type BackoffTier struct {
	UpTo  time.Duration `json:"up_to" validate:"gt=0"`
	Delay time.Duration `json:"delay" validate:"gt=0"`
}

// BackoffSchedule drives the wait between convergence polls.
type BackoffSchedule struct {
	// Initial is the wait after the first poll.
	Initial time.Duration `json:"initial" validate:"gt=0"`

	// Tiers are consulted in order with the elapsed wait time.
	Tiers []BackoffTier `json:"tiers" validate:"dive"`

	// Final is used once elapsed exceeds every tier.
	Final time.Duration `json:"final" validate:"gt=0"`
}

// Next returns the delay to use once elapsed time has been spent waiting.
func (b BackoffSchedule) Next(elapsed time.Duration) time.Duration {
	for _, t := range b.Tiers {
		if elapsed <= t.UpTo {
			return t.Delay
		}
	}
	return b.Final
}

// DefaultBackoff waits 1s after the first poll, then 2s while elapsed is at
// most 20s, 5s while at most 60s and 10s beyond.
func DefaultBackoff() BackoffSchedule {
	return BackoffSchedule{
		Initial: time.Second,
		Tiers: []BackoffTier{
			{UpTo: 20 * time.Second, Delay: 2 * time.Second},
			{UpTo: 60 * time.Second, Delay: 5 * time.Second},
		},
		Final: 10 * time.Second,
	}
}

// ConvergenceSpec parameterises one polling session.
type ConvergenceSpec struct {
	// MaxWait bounds the total time spent sleeping between polls.
	MaxWait time.Duration `json:"max_wait" validate:"gte=0"`

	// InProgressStatus is the only status allowed before the terminal one.
	InProgressStatus Status `json:"in_progress_status"`

	// TerminalStatus ends the session successfully. StatusDeleted means the
	// resource is expected to disappear.
	TerminalStatus Status `json:"terminal_status" validate:"required"`

	// FailureStatuses end the session with a terminal failure.
	FailureStatuses []Status `json:"failure_statuses,omitempty"`

	// Backoff is the wait schedule between polls.
	Backoff BackoffSchedule `json:"backoff"`
}

var validate = validator.New()

// Validate checks the ConvergenceSpec's struct constraints.
func (s ConvergenceSpec) Validate() error {
	return validate.Struct(s)
}

// StatusDeleted is the terminal status awaited after a delete call.
const StatusDeleted Status = "deleted"

// Convergence is the outcome of a polling session.
type Convergence struct {
	Outcome  ConvergenceOutcome `json:"outcome"`
	Resource *ObservedResource  `json:"resource,omitempty"`
	Elapsed  time.Duration      `json:"elapsed"`
	Polls    int                `json:"polls"`
}

// Converged reports whether the awaited terminal state was reached.
func (c *Convergence) Converged() bool {
	return c.Outcome == OutcomeReady || c.Outcome == OutcomeNotFound
}

// Result summarises one reconciliation call.
type Result struct {
	Kind        string            `json:"kind"`
	Filter      TagFilter         `json:"filter"`
	Operation   OperationType     `json:"operation"`
	Resource    *ObservedResource `json:"resource,omitempty"`
	Changes     ChangeSet         `json:"changes"`
	Orphans     int               `json:"orphans_deleted,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
	Convergence *Convergence      `json:"convergence,omitempty"`
}
