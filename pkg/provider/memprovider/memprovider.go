// Package memprovider is an in-memory provider that simulates asynchronous
// convergence. Every mutating call installs a status sequence on the
// resource; each Get advances it by one step.
package memprovider

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// Gone in a status sequence removes the resource.
const Gone = ""

// Profile is the status sequence each operation produces for one kind. The
// last status of a sequence sticks.
type Profile struct {
	Create  []string
	Update  []string
	Delete  []string
	Actions map[string][]string
}

// Provider is an in-memory provider.Client.
type Provider struct {
	mu sync.Mutex

	clock    clock.Clock
	pageSize int
	profiles map[string]Profile

	resources map[string]map[string]*provider.Resource
	pending   map[string][]string
	rollback  map[string]bool
	failures  map[string][]error
	calls     map[string]int
}

// Option configures a Provider.
type Option func(*Provider)

// WithProfile sets the status sequences for kind.
func WithProfile(kind string, p Profile) Option {
	return func(m *Provider) { m.profiles[kind] = p }
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(m *Provider) { m.pageSize = n }
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(clk clock.Clock) Option {
	return func(m *Provider) { m.clock = clk }
}

// New creates an empty provider.
func New(opts ...Option) *Provider {
	m := &Provider{
		clock:     clock.NewClock(),
		pageSize:  50,
		profiles:  make(map[string]Profile),
		resources: make(map[string]map[string]*provider.Resource),
		pending:   make(map[string][]string),
		rollback:  make(map[string]bool),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed stores a resource as-is, generating an ID when empty.
func (m *Provider) Seed(r provider.Resource) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = newID(r.Kind)
	}
	r.Attributes = cloneAttrs(r.Attributes)
	r.Tags = maps.Clone(r.Tags)
	if r.Tags == nil {
		r.Tags = map[string]string{}
	}
	r.UpdatedAt = m.clock.Now()
	m.kindMap(r.Kind)[r.ID] = &r
	return r.ID
}

// SetRollback makes updates of kind report success without changing
// anything, like a provider that silently rolls a failed deployment back.
func (m *Provider) SetRollback(kind string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollback[kind] = on
}

// FailNext makes the next calls of method on kind return errs in order.
func (m *Provider) FailNext(kind, method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := kind + "/" + method
	m.failures[key] = append(m.failures[key], errs...)
}

// Calls returns how many times method was called on kind.
func (m *Provider) Calls(kind, method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind+"/"+method]
}

// Snapshot returns a copy of a stored resource without advancing it.
func (m *Provider) Snapshot(kind, id string) (provider.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.kindMap(kind)[id]
	if !ok {
		return provider.Resource{}, false
	}
	return copyResource(r), true
}

func (m *Provider) List(ctx context.Context, kind string, opts provider.ListOptions) (*provider.ListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "list"); err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	for id, r := range m.kindMap(kind) {
		if matchTags(r.Tags, opts.Tags) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if opts.PageToken != "" {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 || n > len(ids) {
			return nil, engine.NewPermanentError("invalid page token", err).WithCode(engine.ErrCodeValidation)
		}
		start = n
	}
	size := m.pageSize
	if opts.PageSize > 0 && opts.PageSize < size {
		size = opts.PageSize
	}
	end := min(start+size, len(ids))

	resp := &provider.ListResponse{Resources: make([]provider.Resource, 0, end-start)}
	for _, id := range ids[start:end] {
		resp.Resources = append(resp.Resources, copyResource(m.resources[kind][id]))
	}
	if end < len(ids) {
		resp.NextToken = strconv.Itoa(end)
	}
	return resp, nil
}

func (m *Provider) Get(ctx context.Context, kind, id string) (*provider.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "get"); err != nil {
		return nil, err
	}

	r, ok := m.kindMap(kind)[id]
	if !ok {
		return nil, engine.NewNotFoundError(kind, id)
	}

	if seq := m.pending[id]; len(seq) > 0 {
		next := seq[0]
		if len(seq) > 1 {
			m.pending[id] = seq[1:]
		} else {
			delete(m.pending, id)
		}
		if next == Gone {
			delete(m.resources[kind], id)
			return nil, engine.NewNotFoundError(kind, id)
		}
		r.Status = next
	}

	out := copyResource(r)
	return &out, nil
}

func (m *Provider) Create(ctx context.Context, kind string, req provider.CreateRequest) (*provider.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "create"); err != nil {
		return nil, err
	}

	for _, r := range m.kindMap(kind) {
		if r.Name == req.Name {
			return nil, engine.NewConflictError(fmt.Sprintf("%s %q already exists", kind, req.Name), nil).
				WithCode(engine.ErrCodeAlreadyExists)
		}
	}

	r := &provider.Resource{
		ID:         newID(kind),
		Name:       req.Name,
		Kind:       kind,
		Attributes: cloneAttrs(req.Attributes),
		Tags:       maps.Clone(req.Tags),
		UpdatedAt:  m.clock.Now(),
	}
	if r.Tags == nil {
		r.Tags = map[string]string{}
	}
	m.install(r, m.profiles[kind].Create)
	m.resources[kind][r.ID] = r

	out := copyResource(r)
	return &out, nil
}

func (m *Provider) Update(ctx context.Context, kind, id string, attrs map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "update"); err != nil {
		return err
	}

	r, ok := m.kindMap(kind)[id]
	if !ok {
		return engine.NewNotFoundError(kind, id)
	}
	if !m.rollback[kind] {
		for k, v := range attrs {
			r.Attributes[k] = v
		}
	}
	r.UpdatedAt = m.clock.Now()
	m.install(r, m.profiles[kind].Update)
	return nil
}

func (m *Provider) Delete(ctx context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "delete"); err != nil {
		return err
	}

	r, ok := m.kindMap(kind)[id]
	if !ok {
		return engine.NewNotFoundError(kind, id)
	}
	seq := m.profiles[kind].Delete
	if len(seq) == 0 {
		delete(m.resources[kind], id)
		delete(m.pending, id)
		return nil
	}
	m.install(r, seq)
	return nil
}

func (m *Provider) Tag(ctx context.Context, kind, id string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, "tag"); err != nil {
		return err
	}

	r, ok := m.kindMap(kind)[id]
	if !ok {
		return engine.NewNotFoundError(kind, id)
	}
	maps.Copy(r.Tags, tags)
	return nil
}

func (m *Provider) Action(ctx context.Context, kind, id, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(kind, action); err != nil {
		return err
	}

	r, ok := m.kindMap(kind)[id]
	if !ok {
		return engine.NewNotFoundError(kind, id)
	}
	seq, ok := m.profiles[kind].Actions[action]
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("%s does not support %s", kind, action), nil).
			WithCode(engine.ErrCodeValidation)
	}
	m.install(r, seq)
	return nil
}

// enter counts the call and pops a scripted failure. Callers hold mu.
func (m *Provider) enter(kind, method string) error {
	key := kind + "/" + method
	m.calls[key]++
	if errs := m.failures[key]; len(errs) > 0 {
		m.failures[key] = errs[1:]
		return errs[0]
	}
	return nil
}

// install sets the resource's immediate status and queues the rest of seq
// for subsequent reads.
func (m *Provider) install(r *provider.Resource, seq []string) {
	if len(seq) == 0 {
		return
	}
	if seq[0] != Gone {
		r.Status = seq[0]
	}
	if len(seq) > 1 {
		m.pending[r.ID] = append([]string(nil), seq[1:]...)
	} else {
		delete(m.pending, r.ID)
	}
}

func (m *Provider) kindMap(kind string) map[string]*provider.Resource {
	km, ok := m.resources[kind]
	if !ok {
		km = make(map[string]*provider.Resource)
		m.resources[kind] = km
	}
	return km
}

func matchTags(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func newID(kind string) string {
	return kind + "-" + uuid.New().String()[:12]
}

func cloneAttrs(a map[string]interface{}) map[string]interface{} {
	if a == nil {
		return map[string]interface{}{}
	}
	return maps.Clone(a)
}

func copyResource(r *provider.Resource) provider.Resource {
	out := *r
	out.Attributes = cloneAttrs(r.Attributes)
	out.Tags = maps.Clone(r.Tags)
	return out
}
