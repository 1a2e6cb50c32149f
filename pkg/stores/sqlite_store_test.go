package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("Expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("Expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"defaults", "runs", "reconciliations"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestFileStoreUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kitdeploy.db")
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected wal journal mode, got %s", mode)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file at %s: %v", path, err)
	}
}

func TestDefaultsCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetDefault(ctx, "prod", "queue", "visibility_timeout", 30); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if err := store.SetDefault(ctx, "prod", "queue", "dead_letter_target", "dlq"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	// Replaces the previous value.
	if err := store.SetDefault(ctx, "prod", "queue", "visibility_timeout", 60); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if err := store.SetDefault(ctx, "prod", "table", "billing_mode", "PROVISIONED"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	got, err := store.Defaults(ctx, "prod", "queue")
	if err != nil {
		t.Fatalf("Defaults failed: %v", err)
	}
	want := engine.Attributes{"visibility_timeout": float64(60), "dead_letter_target": "dlq"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Defaults mismatch (-want +got):\n%s", diff)
	}

	if err := store.DeleteDefault(ctx, "prod", "queue", "dead_letter_target"); err != nil {
		t.Fatalf("DeleteDefault failed: %v", err)
	}
	if err := store.DeleteDefault(ctx, "prod", "queue", "dead_letter_target"); !engine.IsNotFound(err) {
		t.Errorf("Expected not found deleting twice, got %v", err)
	}

	got, _ = store.Defaults(ctx, "prod", "queue")
	if len(got) != 1 {
		t.Errorf("Expected 1 default left, got %v", got)
	}
}

func TestDefaultsScopedToDeployment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetDefault(ctx, "prod", "compute-service", "max_size", 20); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	staging, err := store.Defaults(ctx, "staging", "compute-service")
	if err != nil {
		t.Fatalf("Defaults failed: %v", err)
	}
	if len(staging) != 0 {
		t.Errorf("Expected no staging defaults, got %v", staging)
	}
}

func TestDefaultsStructuredValues(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	env := map[string]interface{}{"LOG_LEVEL": "info"}
	if err := store.SetDefault(ctx, "prod", "function", "environment", env); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	got, err := store.Defaults(ctx, "prod", "function")
	if err != nil {
		t.Fatalf("Defaults failed: %v", err)
	}
	if diff := cmp.Diff(env, got["environment"]); diff != "" {
		t.Errorf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestBackfillNeverOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetDefault(ctx, "prod", "compute-service", "max_size", 10); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	n, err := store.Backfill(ctx, "prod", "compute-service", engine.Attributes{"min_size": 1, "max_size": 3})
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 inserted default, got %d", n)
	}

	got, _ := store.Defaults(ctx, "prod", "compute-service")
	want := engine.Attributes{"min_size": float64(1), "max_size": float64(10)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Defaults mismatch (-want +got):\n%s", diff)
	}

	n, err = store.Backfill(ctx, "prod", "compute-service", engine.Attributes{"min_size": 2})
	if err != nil || n != 0 {
		t.Errorf("Expected second backfill to insert nothing, got %d, %v", n, err)
	}
	if n, err := store.Backfill(ctx, "prod", "compute-service", nil); err != nil || n != 0 {
		t.Errorf("Expected empty backfill to be a no-op, got %d, %v", n, err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, deployment := range []string{"prod", "prod", "staging"} {
		err := store.CreateRun(ctx, &Run{
			ID:         fmt.Sprintf("run-%d", i),
			Deployment: deployment,
			Command:    "deploy",
			Status:     RunStatusRunning,
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	if err := store.FinishRun(ctx, "run-1", RunStatusFatal, strPtr("rolled back")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := store.FinishRun(ctx, "missing", RunStatusCompleted, nil); err == nil {
		t.Error("Expected error finishing unknown run")
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusFatal || run.Error == nil || *run.Error != "rolled back" {
		t.Errorf("Expected fatal run with error, got %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
	if _, err := store.GetRun(ctx, "missing"); err == nil {
		t.Error("Expected error for unknown run")
	}

	runs, err := store.ListRuns(ctx, "prod", 0, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-1" {
		t.Errorf("Expected 2 prod runs newest first, got %d", len(runs))
	}
	all, _ := store.ListRuns(ctx, "", 2, 0)
	if len(all) != 2 {
		t.Errorf("Expected limit to apply, got %d", len(all))
	}
}

func TestReconciliationHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.CreateRun(ctx, &Run{ID: "run-1", Deployment: "prod", Command: "deploy", Status: RunStatusRunning, StartedAt: start}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	recs := []*Reconciliation{
		{RunID: strPtr("run-1"), Deployment: "prod", Component: "api", Kind: "compute-service", Operation: engine.OperationCreate, Outcome: "succeeded", ResourceID: strPtr("svc-1"), Duration: 1500 * time.Millisecond, StartedAt: start},
		{RunID: strPtr("run-1"), Deployment: "prod", Component: "jobs", Kind: "queue", Operation: engine.OperationUpdate, Outcome: "fatal", ErrorCode: strPtr(engine.ErrCodeInvalidTransition), Error: strPtr("unexpected status"), StartedAt: start.Add(time.Second)},
		{Deployment: "prod", Component: "api", Kind: "compute-service", Operation: engine.OperationNoop, Outcome: "noop", StartedAt: start.Add(time.Hour)},
	}
	for _, rec := range recs {
		if err := store.RecordReconciliation(ctx, rec); err != nil {
			t.Fatalf("RecordReconciliation failed: %v", err)
		}
		if rec.ID == 0 {
			t.Error("Expected ID to be assigned")
		}
	}

	byRun, err := store.ListReconciliations(ctx, ReconciliationFilter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("ListReconciliations failed: %v", err)
	}
	if len(byRun) != 2 {
		t.Fatalf("Expected 2 reconciliations in run, got %d", len(byRun))
	}
	if byRun[0].Component != "jobs" || byRun[0].ErrorCode == nil || *byRun[0].ErrorCode != engine.ErrCodeInvalidTransition {
		t.Errorf("Expected newest fatal reconciliation first, got %+v", byRun[0])
	}

	api, err := store.ListReconciliations(ctx, ReconciliationFilter{Deployment: "prod", Component: "api"})
	if err != nil {
		t.Fatalf("ListReconciliations failed: %v", err)
	}
	got := make([]engine.OperationType, len(api))
	for i, r := range api {
		got[i] = r.Operation
	}
	if diff := cmp.Diff([]engine.OperationType{engine.OperationNoop, engine.OperationCreate}, got); diff != "" {
		t.Errorf("Operations mismatch (-want +got):\n%s", diff)
	}
	if api[1].Duration != 1500*time.Millisecond {
		t.Errorf("Expected duration 1.5s, got %s", api[1].Duration)
	}
}
