package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"
)

const (
	statusInProgress Status = "OPERATION_IN_PROGRESS"
	statusRunning    Status = "RUNNING"
	statusPaused     Status = "PAUSED"
	statusFailed     Status = "CREATE_FAILED"
	statusDeleted    Status = "DELETED"
)

// stepClock is a fake clock whose After fires immediately after advancing
// time, so polling loops run without real sleeps. Every requested delay is
// recorded.
type stepClock struct {
	*fakeclock.FakeClock

	mu     sync.Mutex
	sleeps []time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{FakeClock: fakeclock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()

	c.Increment(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *stepClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Mock recorder for testing
type mockRecorder struct {
	mu              sync.Mutex
	fatal           []string
	polls           int
	orphans         int
	reconciliations []string
}

func (m *mockRecorder) RecordReconciliation(kind string, op OperationType, outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliations = append(m.reconciliations, kind+":"+string(op)+":"+outcome)
}

func (m *mockRecorder) RecordPoll(kind string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
}

func (m *mockRecorder) RecordFatal(kind, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatal = append(m.fatal, code)
}

func (m *mockRecorder) RecordOrphansDeleted(kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans += n
}

// mockKind is an in-memory resource kind. Each Get pops the next status from
// the resource's script; the last status sticks. StatusAbsent in a script
// removes the resource.
type mockKind struct {
	mu sync.Mutex

	name   string
	groups []AttributeGroup
	specs  map[OperationType]ConvergenceSpec
	marker string

	resources map[string]*ObservedResource
	scripts   map[string][]Status
	pageSize  int

	createScript []Status
	updateScript []Status
	deleteScript []Status
	dropMarker   bool
	deleteErr    error
	listErr      error

	nextID       int
	creates      int
	updates      int
	deletes      int
	tagCalls     int
	gets         int
	createdNames []string
	lastPayload  Attributes
}

func newMockKind() *mockKind {
	converge := func(terminal Status) ConvergenceSpec {
		return ConvergenceSpec{
			MaxWait:          300 * time.Second,
			InProgressStatus: statusInProgress,
			TerminalStatus:   terminal,
			FailureStatuses:  []Status{statusFailed},
		}
	}
	return &mockKind{
		name: "compute-service",
		groups: []AttributeGroup{
			{Name: "scaling", Keys: []string{"min_size", "max_size", "max_concurrency"}},
			{Name: "health-check", Keys: []string{"health_path", "health_interval"}},
			{Name: "image", Keys: []string{"image"}},
		},
		specs: map[OperationType]ConvergenceSpec{
			OperationCreate: converge(statusRunning),
			OperationUpdate: converge(statusRunning),
			OperationDelete: converge(StatusDeleted),
			OperationStop:   converge(statusPaused),
			OperationStart:  converge(statusRunning),
		},
		marker:       "deploy_marker",
		resources:    make(map[string]*ObservedResource),
		scripts:      make(map[string][]Status),
		createScript: []Status{statusInProgress, statusInProgress, statusInProgress, statusRunning},
		updateScript: []Status{statusInProgress, statusRunning},
		deleteScript: []Status{statusInProgress, StatusAbsent},
	}
}

// seed adds an existing resource tagged for filter.
func (m *mockKind) seed(id string, status Status, attrs Attributes, filter TagFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[id] = &ObservedResource{
		ID:         id,
		Name:       id,
		Kind:       m.name,
		Status:     status,
		Attributes: attrs.Clone(),
		Tags:       map[string]string{TagDeployment: filter.Deployment, TagComponent: filter.Component},
	}
}

func (m *mockKind) Name() string { return m.name }

func (m *mockKind) List(ctx context.Context, filter TagFilter, pageToken string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	ids := make([]string, 0, len(m.resources))
	for id := range m.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	end := len(ids)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	page := &Page{}
	for _, id := range ids[start:end] {
		page.Resources = append(page.Resources, m.snapshot(m.resources[id]))
	}
	if end < len(ids) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *mockKind) Get(ctx context.Context, id string) (*ObservedResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++

	r, ok := m.resources[id]
	if !ok {
		return nil, nil
	}
	if script := m.scripts[id]; len(script) > 0 {
		next := script[0]
		if len(script) > 1 {
			m.scripts[id] = script[1:]
		}
		if next == StatusAbsent {
			delete(m.resources, id)
			delete(m.scripts, id)
			return nil, nil
		}
		r.Status = next
	}
	snap := m.snapshot(r)
	return &snap, nil
}

func (m *mockKind) Create(ctx context.Context, name string, desired DesiredConfig, tags Tags) (*ObservedResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.nextID++
	m.createdNames = append(m.createdNames, name)

	id := fmt.Sprintf("res-%d", m.nextID)
	r := &ObservedResource{
		ID:         id,
		Name:       name,
		Kind:       m.name,
		Status:     statusInProgress,
		Attributes: desired.Attributes(),
		Tags:       tags.Map(),
	}
	m.resources[id] = r
	m.scripts[id] = append([]Status(nil), m.createScript...)
	m.lastPayload = desired.Attributes()

	snap := m.snapshot(r)
	return &snap, nil
}

func (m *mockKind) Update(ctx context.Context, current *ObservedResource, changes ChangeSet, desired DesiredConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++

	r, ok := m.resources[current.ID]
	if !ok {
		return NewNotFoundError(m.name, current.ID)
	}

	payload := GroupPayload(desired.Attributes(), m.groups, changes)
	if v, ok := desired.Get(m.marker); ok {
		payload[m.marker] = v
	}
	m.lastPayload = payload.Clone()

	if m.dropMarker {
		delete(payload, m.marker)
	}
	for k, v := range payload {
		r.Attributes[k] = v
	}
	r.Status = statusInProgress
	m.scripts[current.ID] = append([]Status(nil), m.updateScript...)
	return nil
}

func (m *mockKind) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.resources[id]; !ok {
		return NewNotFoundError(m.name, id)
	}
	m.scripts[id] = append([]Status(nil), m.deleteScript...)
	return nil
}

func (m *mockKind) Tag(ctx context.Context, id string, tags Tags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagCalls++

	r, ok := m.resources[id]
	if !ok {
		return NewNotFoundError(m.name, id)
	}
	for k, v := range tags.Map() {
		r.Tags[k] = v
	}
	return nil
}

func (m *mockKind) AttributeGroups() []AttributeGroup { return m.groups }

func (m *mockKind) ConvergenceSpec(op OperationType) ConvergenceSpec { return m.specs[op] }

func (m *mockKind) MarkerKey() string { return m.marker }

func (m *mockKind) Lifecycle(status Status) ResourceStatus {
	switch status {
	case statusRunning:
		return ResourceStatusReady
	case statusPaused:
		return ResourceStatusPaused
	case statusInProgress:
		return ResourceStatusUpdating
	}
	return ResourceStatusUnknown
}

func (m *mockKind) snapshot(r *ObservedResource) ObservedResource {
	snap := *r
	snap.Attributes = r.Attributes.Clone()
	snap.Tags = make(map[string]string, len(r.Tags))
	for k, v := range r.Tags {
		snap.Tags[k] = v
	}
	return snap
}

// revisionKind adds scaling revisions to mockKind.
type revisionKind struct {
	*mockKind

	revMu     sync.Mutex
	revisions []Revision
	deleted   []string
	failIDs   map[string]bool
}

func (k *revisionKind) Revisions(ctx context.Context, filter TagFilter) ([]Revision, error) {
	k.revMu.Lock()
	defer k.revMu.Unlock()
	return append([]Revision(nil), k.revisions...), nil
}

func (k *revisionKind) DeleteRevision(ctx context.Context, id string) error {
	k.revMu.Lock()
	defer k.revMu.Unlock()
	if k.failIDs[id] {
		return NewTransientError("revision delete failed", nil)
	}
	k.deleted = append(k.deleted, id)
	return nil
}

func (k *revisionKind) InUseRevision(current *ObservedResource) string {
	id, _ := current.Attributes["revision"].(string)
	return id
}

func (k *revisionKind) MintsRevision(current *ObservedResource, changes ChangeSet) bool {
	return current == nil || changes.Has("scaling")
}

// pausableKind adds pause/resume to mockKind.
type pausableKind struct {
	*mockKind

	pauses  int
	resumes int
}

func (k *pausableKind) Pause(ctx context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pauses++
	k.scripts[id] = []Status{statusInProgress, statusPaused}
	return nil
}

func (k *pausableKind) Resume(ctx context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.resumes++
	k.scripts[id] = []Status{statusInProgress, statusRunning}
	return nil
}

func (k *pausableKind) RunningStatus() Status { return statusRunning }

func (k *pausableKind) PausedStatus() Status { return statusPaused }

func newTestReconciler(kind Kind, clk *stepClock, rec *mockRecorder) *Reconciler {
	return NewReconciler(kind, Options{
		Clock:      clk,
		Logger:     zerolog.Nop(),
		Recorder:   rec,
		NameSuffix: func() string { return "abcd1234" },
	})
}

func engineError(err error) *EngineError {
	var e *EngineError
	errors.As(err, &e)
	return e
}
