package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// MarkerKey is the attribute written with every create and update. Reading
// it back after an update tells whether the provider rolled the change back.
const MarkerKey = "deploy_marker"

// spec describes one resource kind declaratively.
type spec struct {
	name      string
	groups    []engine.AttributeGroup
	converge  map[engine.OperationType]engine.ConvergenceSpec
	lifecycle map[engine.Status]engine.ResourceStatus
	defaults  engine.Attributes
	marker    string

	// gone lists statuses that mean the resource no longer exists.
	gone []engine.Status
}

// check reports a spec missing a usable convergence spec for one of the
// operations its kind performs.
func (s spec) check(pausable bool) error {
	ops := []engine.OperationType{engine.OperationCreate, engine.OperationUpdate, engine.OperationDelete}
	if pausable {
		ops = append(ops, engine.OperationStart, engine.OperationStop)
	}
	for _, op := range ops {
		c, ok := s.converge[op]
		if !ok {
			return fmt.Errorf("kind %s has no convergence spec for %s", s.name, op)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("kind %s has an invalid convergence spec for %s: %w", s.name, op, err)
		}
	}
	return nil
}

// resource implements engine.Kind over a provider.Client for any spec.
type resource struct {
	spec
	client provider.Client
}

var _ engine.Kind = (*resource)(nil)

func newResource(s spec, client provider.Client) *resource {
	return &resource{spec: s, client: client}
}

func (k *resource) Name() string {
	return k.name
}

func (k *resource) List(ctx context.Context, filter engine.TagFilter, pageToken string) (*engine.Page, error) {
	resp, err := k.client.List(ctx, k.name, provider.ListOptions{
		Tags: map[string]string{
			engine.TagDeployment: filter.Deployment,
			engine.TagComponent:  filter.Component,
		},
		PageToken: pageToken,
	})
	if err != nil {
		return nil, err
	}

	page := &engine.Page{
		Resources: make([]engine.ObservedResource, 0, len(resp.Resources)),
		NextToken: resp.NextToken,
	}
	for i := range resp.Resources {
		r := resp.Resources[i]
		if k.isGone(engine.Status(r.Status)) {
			continue
		}
		page.Resources = append(page.Resources, k.observe(&r))
	}
	return page, nil
}

func (k *resource) Get(ctx context.Context, id string) (*engine.ObservedResource, error) {
	r, err := k.client.Get(ctx, k.name, id)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if k.isGone(engine.Status(r.Status)) {
		return nil, nil
	}
	obs := k.observe(r)
	return &obs, nil
}

func (k *resource) Create(ctx context.Context, name string, desired engine.DesiredConfig, tags engine.Tags) (*engine.ObservedResource, error) {
	r, err := k.client.Create(ctx, k.name, provider.CreateRequest{
		Name:       name,
		Attributes: desired.Attributes(),
		Tags:       tags.Map(),
	})
	if err != nil {
		return nil, err
	}
	obs := k.observe(r)
	return &obs, nil
}

func (k *resource) Update(ctx context.Context, current *engine.ObservedResource, changes engine.ChangeSet, desired engine.DesiredConfig) error {
	return k.client.Update(ctx, k.name, current.ID, k.payload(changes, desired))
}

// payload is the update body: every member of the changed groups plus the
// marker.
func (k *resource) payload(changes engine.ChangeSet, desired engine.DesiredConfig) engine.Attributes {
	payload := engine.GroupPayload(desired.Attributes(), k.groups, changes)
	if k.marker != "" {
		if v, ok := desired.Get(k.marker); ok {
			payload[k.marker] = v
		}
	}
	return payload
}

func (k *resource) Delete(ctx context.Context, id string) error {
	return k.client.Delete(ctx, k.name, id)
}

func (k *resource) Tag(ctx context.Context, id string, tags engine.Tags) error {
	return k.client.Tag(ctx, k.name, id, tags.Map())
}

func (k *resource) AttributeGroups() []engine.AttributeGroup {
	return k.groups
}

func (k *resource) ConvergenceSpec(op engine.OperationType) engine.ConvergenceSpec {
	return k.converge[op]
}

func (k *resource) MarkerKey() string {
	return k.marker
}

func (k *resource) Lifecycle(status engine.Status) engine.ResourceStatus {
	if s, ok := k.lifecycle[status]; ok {
		return s
	}
	return engine.ResourceStatusUnknown
}

// Defaults returns the kind's default attributes.
func (k *resource) Defaults() engine.Attributes {
	return k.defaults.Clone()
}

func (k *resource) isGone(s engine.Status) bool {
	for _, g := range k.gone {
		if s == g {
			return true
		}
	}
	return false
}

func (k *resource) observe(r *provider.Resource) engine.ObservedResource {
	observedAt := r.UpdatedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	return engine.ObservedResource{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       k.name,
		Status:     engine.Status(r.Status),
		Attributes: engine.Attributes(r.Attributes).Clone(),
		Tags:       r.Tags,
		ObservedAt: observedAt,
	}
}

// converge builds a ConvergenceSpec with the default backoff.
func converge(maxWait time.Duration, inProgress, terminal engine.Status, failures ...engine.Status) engine.ConvergenceSpec {
	return engine.ConvergenceSpec{
		MaxWait:          maxWait,
		InProgressStatus: inProgress,
		TerminalStatus:   terminal,
		FailureStatuses:  failures,
		Backoff:          engine.DefaultBackoff(),
	}
}

func group(name string, keys ...string) engine.AttributeGroup {
	return engine.AttributeGroup{Name: name, Keys: keys}
}
