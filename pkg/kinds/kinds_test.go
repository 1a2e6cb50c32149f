package kinds

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
	"github.com/saaskit/kitdeploy/pkg/provider/memprovider"
)

// instantClock advances fake time on every After so polling never blocks.
type instantClock struct {
	*fakeclock.FakeClock
}

func (c instantClock) After(d time.Duration) <-chan time.Time {
	c.Increment(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func newHarness(t *testing.T, name string) (*engine.Reconciler, *memprovider.Provider) {
	t.Helper()
	clk := instantClock{fakeclock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	sim := NewSimulator(memprovider.WithClock(clk))
	kind, err := New(name, sim)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", name, err)
	}
	r := engine.NewReconciler(kind, engine.Options{
		Clock:      clk,
		Logger:     zerolog.Nop(),
		NameSuffix: func() string { return "abcd1234" },
	})
	return r, sim
}

func request(component string, attrs engine.Attributes) engine.Request {
	return engine.Request{
		Tags:    engine.Tags{Component: component, Deployment: "prod", Region: "eu-west-1"},
		Desired: engine.NewDesiredConfig(attrs),
	}
}

func TestNames(t *testing.T) {
	want := []string{"compute-service", "function", "queue", "role", "scheduled-job", "table"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("bucket", memprovider.New())
	if !engine.IsPermanent(err) || !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestDefaultsAreCopies(t *testing.T) {
	d, ok := Defaults(QueueKind)
	if !ok {
		t.Fatal("Expected queue defaults")
	}
	d["visibility_timeout"] = 999

	again, _ := Defaults(QueueKind)
	if again["visibility_timeout"] != 30 {
		t.Errorf("Expected defaults unaffected by caller mutation, got %v", again["visibility_timeout"])
	}
	if _, ok := Defaults("bucket"); ok {
		t.Error("Expected no defaults for unknown kind")
	}
}

func TestEveryKindHasCreateUpdateDeleteConvergence(t *testing.T) {
	sim := memprovider.New()
	for _, name := range Names() {
		kind, err := New(name, sim)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		for _, op := range []engine.OperationType{engine.OperationCreate, engine.OperationUpdate, engine.OperationDelete} {
			spec := kind.ConvergenceSpec(op)
			if err := spec.Validate(); err != nil {
				t.Errorf("%s %s: invalid convergence spec: %v", name, op, err)
			}
		}
		if _, ok := kind.(engine.Pausable); ok {
			for _, op := range []engine.OperationType{engine.OperationStart, engine.OperationStop} {
				if err := kind.ConvergenceSpec(op).Validate(); err != nil {
					t.Errorf("%s %s: invalid convergence spec: %v", name, op, err)
				}
			}
		}
	}
}

func TestSpecCheckRejectsMissingOperation(t *testing.T) {
	s := queueSpec
	s.converge = map[engine.OperationType]engine.ConvergenceSpec{
		engine.OperationCreate: queueSpec.converge[engine.OperationCreate],
		engine.OperationDelete: queueSpec.converge[engine.OperationDelete],
	}
	err := s.check(false)
	if err == nil {
		t.Fatal("Expected an error for a spec without an update convergence spec")
	}
	if !strings.Contains(err.Error(), string(engine.OperationUpdate)) {
		t.Errorf("Expected error to name the update operation, got %q", err.Error())
	}

	// Pausable kinds also need start and stop.
	if err := queueSpec.check(true); err == nil {
		t.Error("Expected an error for a pausable kind without start and stop specs")
	}
	if err := scheduledJobSpec.check(true); err != nil {
		t.Errorf("Expected scheduled-job spec to pass, got %v", err)
	}
}

func TestComputeServiceLifecycle(t *testing.T) {
	r, sim := newHarness(t, ComputeServiceKind)
	ctx := context.Background()
	attrs := engine.Attributes{"image": "app:1", "min_size": 1, "max_size": 3, "max_concurrency": 100}

	res, err := r.Reconcile(ctx, request("api", attrs))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Operation != engine.OperationCreate {
		t.Errorf("Expected create, got %s", res.Operation)
	}
	if res.Resource.Status != ComputeRunning {
		t.Errorf("Expected RUNNING, got %s", res.Resource.Status)
	}
	if res.Resource.Name != "prod-api-abcd1234" {
		t.Errorf("Expected suffixed name, got %s", res.Resource.Name)
	}
	first, _ := res.Resource.Attributes[ScalingRevisionKey].(string)
	if first == "" {
		t.Fatal("Expected service to reference a scaling revision")
	}

	// Two scaling changes: the second one cleans up the revision orphaned by
	// the first.
	for _, maxSize := range []int{5, 8} {
		attrs = attrs.Clone()
		attrs["max_size"] = maxSize
		res, err = r.Reconcile(ctx, request("api", attrs))
		if err != nil {
			t.Fatalf("Update to max_size=%d failed: %v", maxSize, err)
		}
		if res.Operation != engine.OperationUpdate {
			t.Errorf("Expected update, got %s", res.Operation)
		}
	}
	if got := sim.Calls(ScalingRevisionKind, "create"); got != 3 {
		t.Errorf("Expected 3 minted revisions, got %d", got)
	}
	if got := sim.Calls(ScalingRevisionKind, "delete"); got != 1 {
		t.Errorf("Expected 1 orphan deleted, got %d", got)
	}
	if _, ok := sim.Snapshot(ScalingRevisionKind, first); ok {
		t.Error("Expected first revision to be deleted")
	}

	// Image-only change does not mint.
	attrs = attrs.Clone()
	attrs["image"] = "app:2"
	if _, err := r.Reconcile(ctx, request("api", attrs)); err != nil {
		t.Fatalf("Image update failed: %v", err)
	}
	if got := sim.Calls(ScalingRevisionKind, "create"); got != 3 {
		t.Errorf("Expected no new revision for image change, got %d creates", got)
	}

	filter := engine.TagFilter{Deployment: "prod", Component: "api"}
	if res, err = r.Stop(ctx, filter); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if res.Resource.Status != ComputePaused {
		t.Errorf("Expected PAUSED, got %s", res.Resource.Status)
	}
	if res, err = r.Start(ctx, filter); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Resource.Status != ComputeRunning {
		t.Errorf("Expected RUNNING, got %s", res.Resource.Status)
	}

	if res, err = r.Delete(ctx, filter); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if res.Operation != engine.OperationDelete {
		t.Errorf("Expected delete, got %s", res.Operation)
	}
	current, err := r.Status(ctx, filter)
	if err != nil || current != nil {
		t.Errorf("Expected service gone, got %+v, %v", current, err)
	}
}

func TestComputeServiceTagsAtCreate(t *testing.T) {
	r, sim := newHarness(t, ComputeServiceKind)
	res, err := r.Reconcile(context.Background(), request("api", engine.Attributes{"image": "app:1"}))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	snap, ok := sim.Snapshot(ComputeServiceKind, res.Resource.ID)
	if !ok {
		t.Fatal("Expected service in provider")
	}
	for _, key := range []string{engine.TagComponent, engine.TagDeployment, engine.TagRegion, engine.TagLastUpdated} {
		if snap.Tags[key] == "" {
			t.Errorf("Expected tag %s on created service", key)
		}
	}
	if got := sim.Calls(ComputeServiceKind, "tag"); got != 0 {
		t.Errorf("Expected tags applied through create, got %d tag calls", got)
	}
}

func TestFunctionRollbackIsFatal(t *testing.T) {
	r, sim := newHarness(t, FunctionKind)
	ctx := context.Background()
	attrs := engine.Attributes{"image_uri": "fn:1", "memory_mb": 128}

	if _, err := r.Reconcile(ctx, request("worker", attrs)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sim.SetRollback(FunctionKind, true)

	attrs = attrs.Clone()
	attrs["memory_mb"] = 256
	_, err := r.Reconcile(ctx, request("worker", attrs))
	if !engine.IsFatal(err) || !engine.HasCode(err, engine.ErrCodeRolledBack) {
		t.Fatalf("Expected fatal ROLLED_BACK, got %v", err)
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Remediation == "" {
		t.Error("Expected remediation on rollback error")
	}
}

func TestQueueRollbackIsFatal(t *testing.T) {
	r, sim := newHarness(t, QueueKind)
	ctx := context.Background()
	attrs := engine.Attributes{"visibility_timeout": 30, "message_retention": 345600}

	if _, err := r.Reconcile(ctx, request("jobs", attrs)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sim.SetRollback(QueueKind, true)

	attrs = attrs.Clone()
	attrs["visibility_timeout"] = 90
	_, err := r.Reconcile(ctx, request("jobs", attrs))
	if !engine.IsFatal(err) || !engine.HasCode(err, engine.ErrCodeRolledBack) {
		t.Fatalf("Expected fatal ROLLED_BACK, got %v", err)
	}
	if got := sim.Calls(QueueKind, "update"); got != 1 {
		t.Errorf("Expected 1 update call, got %d", got)
	}
}

func TestEveryKindWritesMarker(t *testing.T) {
	for _, name := range Names() {
		k, err := New(name, NewSimulator())
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		if got := k.MarkerKey(); got != MarkerKey {
			t.Errorf("Expected %s marker key %q, got %q", name, MarkerKey, got)
		}
	}
}

func TestQueueSecondReconcileIsNoop(t *testing.T) {
	r, sim := newHarness(t, QueueKind)
	ctx := context.Background()
	attrs := engine.Attributes{"visibility_timeout": 30, "message_retention": 345600}

	if _, err := r.Reconcile(ctx, request("jobs", attrs)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	res, err := r.Reconcile(ctx, request("jobs", attrs))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Operation != engine.OperationNoop {
		t.Errorf("Expected noop, got %s", res.Operation)
	}
	if got := sim.Calls(QueueKind, "update"); got != 0 {
		t.Errorf("Expected no update call, got %d", got)
	}
}

func TestTableUpdateSendsChangedGroupOnly(t *testing.T) {
	r, sim := newHarness(t, TableKind)
	ctx := context.Background()
	attrs := engine.Attributes{"billing_mode": "PROVISIONED", "read_capacity": 5, "write_capacity": 5, "ttl_enabled": false}

	res, err := r.Reconcile(ctx, request("orders", attrs))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	attrs = attrs.Clone()
	attrs["read_capacity"] = 10
	up, err := r.Reconcile(ctx, request("orders", attrs))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if diff := cmp.Diff([]string{"throughput"}, up.Changes.GroupNames()); diff != "" {
		t.Errorf("Changed groups mismatch (-want +got):\n%s", diff)
	}
	snap, _ := sim.Snapshot(TableKind, res.Resource.ID)
	if snap.Status != string(TableActive) || snap.Attributes["read_capacity"] != 10 {
		t.Errorf("Expected ACTIVE with read_capacity=10, got %s %v", snap.Status, snap.Attributes["read_capacity"])
	}
}

func TestScheduledJobPauseResume(t *testing.T) {
	r, _ := newHarness(t, ScheduledJobKind)
	ctx := context.Background()
	filter := engine.TagFilter{Deployment: "prod", Component: "nightly"}

	if _, err := r.Reconcile(ctx, request("nightly", engine.Attributes{"schedule": "cron(0 3 * * ? *)"})); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := r.Start(ctx, filter)
	if !engine.IsFatal(err) || !engine.HasCode(err, engine.ErrCodeUnexpectedStatus) {
		t.Fatalf("Expected UNEXPECTED_STATUS starting an enabled job, got %v", err)
	}

	res, err := r.Stop(ctx, filter)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if res.Resource.Status != JobDisabled {
		t.Errorf("Expected DISABLED, got %s", res.Resource.Status)
	}
}

func TestRoleDeleteAndThrottledCreate(t *testing.T) {
	r, sim := newHarness(t, RoleKind)
	ctx := context.Background()
	filter := engine.TagFilter{Deployment: "prod", Component: "app"}

	sim.FailNext(RoleKind, "create", engine.NewThrottledError("slow down", nil))
	_, err := r.Reconcile(ctx, request("app", engine.Attributes{"trust_policy": "{}"}))
	if !engine.IsThrottled(err) {
		t.Fatalf("Expected throttled error to surface without retry, got %v", err)
	}

	retrying := provider.WithRetry(sim, provider.RetryOptions{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsed: time.Second}, zerolog.Nop())
	kind, _ := New(RoleKind, retrying)
	r = engine.NewReconciler(kind, engine.Options{Logger: zerolog.Nop()})

	sim.FailNext(RoleKind, "create", engine.NewThrottledError("slow down", nil))
	if _, err := r.Reconcile(ctx, request("app", engine.Attributes{"trust_policy": "{}"})); err != nil {
		t.Fatalf("Expected retried create to succeed, got %v", err)
	}
	if _, err := r.Delete(ctx, filter); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if current, _ := r.Status(ctx, filter); current != nil {
		t.Errorf("Expected role gone, got %+v", current)
	}
}

func TestComputeDeletedStatusIsAbsent(t *testing.T) {
	sim := memprovider.New()
	kind := NewComputeService(sim)
	id := sim.Seed(provider.Resource{
		Kind:   ComputeServiceKind,
		Status: string(ComputeDeleted),
		Tags:   map[string]string{engine.TagDeployment: "prod", engine.TagComponent: "api"},
	})

	got, err := kind.Get(context.Background(), id)
	if err != nil || got != nil {
		t.Errorf("Expected DELETED service to read as absent, got %+v, %v", got, err)
	}
	page, err := kind.List(context.Background(), engine.TagFilter{Deployment: "prod", Component: "api"}, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Resources) != 0 {
		t.Errorf("Expected DELETED service skipped by discovery, got %d", len(page.Resources))
	}
}
