// Package provider defines the boundary to the remote SaaS resource API and
// the decorators shared by every implementation of it.
package provider

import (
	"context"
	"time"
)

// Resource is the provider's representation of one remote resource.
type Resource struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Kind       string                 `json:"kind"`
	Status     string                 `json:"status"`
	Attributes map[string]interface{} `json:"attributes"`
	Tags       map[string]string      `json:"tags,omitempty"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// ListOptions narrows a listing. Tags are matched server side when the
// provider supports it; callers must still filter the result.
type ListOptions struct {
	Tags      map[string]string
	PageToken string
	PageSize  int
}

// ListResponse is one page of a listing.
type ListResponse struct {
	Resources []Resource `json:"resources"`
	NextToken string     `json:"nextToken,omitempty"`
}

// CreateRequest carries the full payload of a new resource.
type CreateRequest struct {
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes"`
	Tags       map[string]string      `json:"tags,omitempty"`
}

// Actions accepted by Client.Action.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
)

// Client is the remote resource client. Implementations report failures as
// classified engine errors: absence as NOT_FOUND, rate limiting as
// throttled, server faults as transient.
type Client interface {
	List(ctx context.Context, kind string, opts ListOptions) (*ListResponse, error)
	Get(ctx context.Context, kind, id string) (*Resource, error)
	Create(ctx context.Context, kind string, req CreateRequest) (*Resource, error)
	Update(ctx context.Context, kind, id string, attrs map[string]interface{}) error
	Delete(ctx context.Context, kind, id string) error
	Tag(ctx context.Context, kind, id string, tags map[string]string) error
	Action(ctx context.Context, kind, id, action string) error
}
