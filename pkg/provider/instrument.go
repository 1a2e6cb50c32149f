package provider

import (
	"context"
	"time"
)

// CallObserver receives one observation per remote call.
type CallObserver interface {
	ObserveCall(kind, method string, d time.Duration, err error)
}

type instrumentedClient struct {
	next Client
	obs  CallObserver
	now  func() time.Time
}

// Instrument reports every call made through c to obs.
func Instrument(c Client, obs CallObserver) Client {
	return &instrumentedClient{next: c, obs: obs, now: time.Now}
}

func (c *instrumentedClient) observe(kind, method string, start time.Time, err error) {
	c.obs.ObserveCall(kind, method, c.now().Sub(start), err)
}

func (c *instrumentedClient) List(ctx context.Context, kind string, opts ListOptions) (res *ListResponse, err error) {
	defer func(start time.Time) { c.observe(kind, "list", start, err) }(c.now())
	return c.next.List(ctx, kind, opts)
}

func (c *instrumentedClient) Get(ctx context.Context, kind, id string) (res *Resource, err error) {
	defer func(start time.Time) { c.observe(kind, "get", start, err) }(c.now())
	return c.next.Get(ctx, kind, id)
}

func (c *instrumentedClient) Create(ctx context.Context, kind string, req CreateRequest) (res *Resource, err error) {
	defer func(start time.Time) { c.observe(kind, "create", start, err) }(c.now())
	return c.next.Create(ctx, kind, req)
}

func (c *instrumentedClient) Update(ctx context.Context, kind, id string, attrs map[string]interface{}) (err error) {
	defer func(start time.Time) { c.observe(kind, "update", start, err) }(c.now())
	return c.next.Update(ctx, kind, id, attrs)
}

func (c *instrumentedClient) Delete(ctx context.Context, kind, id string) (err error) {
	defer func(start time.Time) { c.observe(kind, "delete", start, err) }(c.now())
	return c.next.Delete(ctx, kind, id)
}

func (c *instrumentedClient) Tag(ctx context.Context, kind, id string, tags map[string]string) (err error) {
	defer func(start time.Time) { c.observe(kind, "tag", start, err) }(c.now())
	return c.next.Tag(ctx, kind, id, tags)
}

func (c *instrumentedClient) Action(ctx context.Context, kind, id, action string) (err error) {
	defer func(start time.Time) { c.observe(kind, action, start, err) }(c.now())
	return c.next.Action(ctx, kind, id, action)
}
