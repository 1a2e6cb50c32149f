package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// Compute service statuses.
const (
	ComputeInProgress   engine.Status = "OPERATION_IN_PROGRESS"
	ComputeRunning      engine.Status = "RUNNING"
	ComputePaused       engine.Status = "PAUSED"
	ComputeCreateFailed engine.Status = "CREATE_FAILED"
	ComputeDeleted      engine.Status = "DELETED"
)

const (
	// ComputeServiceKind is the kind name of container services.
	ComputeServiceKind = "compute-service"

	// ScalingRevisionKind is the provider kind of auto-scaling
	// configuration revisions.
	ScalingRevisionKind = "autoscaling-config"

	// ScalingRevisionKey references the scaling revision used by a service.
	ScalingRevisionKey = "autoscaling_config_id"

	scalingGroup = "scaling"
)

var computeSpec = spec{
	name: ComputeServiceKind,
	groups: []engine.AttributeGroup{
		group(scalingGroup, "min_size", "max_size", "max_concurrency"),
		group("health-check", "health_protocol", "health_path", "health_interval", "health_timeout", "healthy_threshold", "unhealthy_threshold"),
		group("instance", "cpu", "memory", "instance_role"),
		group("image", "image", "port", "start_command"),
		group("environment", "environment", "secrets"),
	},
	converge: map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: converge(15*time.Minute, ComputeInProgress, ComputeRunning, ComputeCreateFailed),
		engine.OperationUpdate: converge(15*time.Minute, ComputeInProgress, ComputeRunning),
		engine.OperationDelete: converge(10*time.Minute, ComputeInProgress, engine.StatusDeleted),
		engine.OperationStop:   converge(10*time.Minute, ComputeInProgress, ComputePaused),
		engine.OperationStart:  converge(10*time.Minute, ComputeInProgress, ComputeRunning),
	},
	lifecycle: map[engine.Status]engine.ResourceStatus{
		ComputeInProgress:   engine.ResourceStatusUpdating,
		ComputeRunning:      engine.ResourceStatusReady,
		ComputePaused:       engine.ResourceStatusPaused,
		ComputeCreateFailed: engine.ResourceStatusError,
	},
	defaults: engine.Attributes{
		"min_size":            1,
		"max_size":            3,
		"max_concurrency":     100,
		"health_protocol":     "TCP",
		"health_interval":     10,
		"health_timeout":      5,
		"healthy_threshold":   1,
		"unhealthy_threshold": 5,
		"cpu":                 "1 vCPU",
		"memory":              "2 GB",
		"port":                8080,
	},
	marker: MarkerKey,
	gone:   []engine.Status{ComputeDeleted},
}

// ComputeService is a pausable container service whose scaling settings
// live in separately versioned revisions.
type ComputeService struct {
	*resource
}

var (
	_ engine.RevisionManager = (*ComputeService)(nil)
	_ engine.Pausable        = (*ComputeService)(nil)
)

// NewComputeService creates the compute-service kind.
func NewComputeService(client provider.Client) *ComputeService {
	return &ComputeService{resource: newResource(computeSpec, client)}
}

// Create mints the first scaling revision and creates the service with it.
func (k *ComputeService) Create(ctx context.Context, name string, desired engine.DesiredConfig, tags engine.Tags) (*engine.ObservedResource, error) {
	revID, err := k.mintRevision(ctx, desired, tags)
	if err != nil {
		return nil, err
	}
	return k.resource.Create(ctx, name, desired.With(ScalingRevisionKey, revID), tags)
}

// Update mints a new scaling revision when the scaling group changed.
func (k *ComputeService) Update(ctx context.Context, current *engine.ObservedResource, changes engine.ChangeSet, desired engine.DesiredConfig) error {
	payload := k.payload(changes, desired)
	if changes.Has(scalingGroup) {
		tags := engine.Tags{
			Component:  current.Tags[engine.TagComponent],
			Deployment: current.Tags[engine.TagDeployment],
		}
		revID, err := k.mintRevision(ctx, desired, tags)
		if err != nil {
			return err
		}
		payload[ScalingRevisionKey] = revID
	}
	return k.client.Update(ctx, k.name, current.ID, payload)
}

func (k *ComputeService) mintRevision(ctx context.Context, desired engine.DesiredConfig, tags engine.Tags) (string, error) {
	existing, err := k.Revisions(ctx, tags.Filter())
	if err != nil {
		return "", err
	}
	next := 1
	for _, r := range existing {
		if r.Number >= next {
			next = r.Number + 1
		}
	}

	attrs := map[string]interface{}{"revision": next}
	for _, key := range k.groups[0].Keys {
		if v, ok := desired.Get(key); ok {
			attrs[key] = v
		}
	}

	rev, err := k.client.Create(ctx, ScalingRevisionKind, provider.CreateRequest{
		Name:       fmt.Sprintf("%s-%s-scaling-%d", tags.Deployment, tags.Component, next),
		Attributes: attrs,
		Tags: map[string]string{
			engine.TagDeployment: tags.Deployment,
			engine.TagComponent:  tags.Component,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create scaling revision: %w", err)
	}
	return rev.ID, nil
}

// Revisions lists the component's scaling revisions.
func (k *ComputeService) Revisions(ctx context.Context, filter engine.TagFilter) ([]engine.Revision, error) {
	var (
		out   []engine.Revision
		token string
	)
	for {
		resp, err := k.client.List(ctx, ScalingRevisionKind, provider.ListOptions{
			Tags: map[string]string{
				engine.TagDeployment: filter.Deployment,
				engine.TagComponent:  filter.Component,
			},
			PageToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Resources {
			if !filter.Matches(r.Tags) {
				continue
			}
			out = append(out, engine.Revision{
				ID:         r.ID,
				Name:       r.Name,
				Number:     intAttr(r.Attributes["revision"]),
				Active:     boolAttr(r.Attributes["active"]),
				Associated: boolAttr(r.Attributes["associated"]),
			})
		}
		if resp.NextToken == "" {
			return out, nil
		}
		token = resp.NextToken
	}
}

// DeleteRevision deletes one scaling revision.
func (k *ComputeService) DeleteRevision(ctx context.Context, id string) error {
	return k.client.Delete(ctx, ScalingRevisionKind, id)
}

// InUseRevision returns the scaling revision the service references.
func (k *ComputeService) InUseRevision(current *engine.ObservedResource) string {
	id, _ := current.Attributes[ScalingRevisionKey].(string)
	return id
}

// MintsRevision reports whether creating or updating mints a revision.
func (k *ComputeService) MintsRevision(current *engine.ObservedResource, changes engine.ChangeSet) bool {
	return current == nil || changes.Has(scalingGroup)
}

// Pause pauses the service.
func (k *ComputeService) Pause(ctx context.Context, id string) error {
	return k.client.Action(ctx, k.name, id, provider.ActionPause)
}

// Resume resumes the service.
func (k *ComputeService) Resume(ctx context.Context, id string) error {
	return k.client.Action(ctx, k.name, id, provider.ActionResume)
}

func (k *ComputeService) RunningStatus() engine.Status { return ComputeRunning }

func (k *ComputeService) PausedStatus() engine.Status { return ComputePaused }

func intAttr(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func boolAttr(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
