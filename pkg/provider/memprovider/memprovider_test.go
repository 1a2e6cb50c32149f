package memprovider

import (
	"context"
	"testing"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

func queueProfile() Profile {
	return Profile{
		Create: []string{"CREATING", "CREATING", "READY"},
		Update: []string{"CREATING", "READY"},
		Delete: []string{"DELETING", Gone},
	}
}

func TestCreateConvergesOverReads(t *testing.T) {
	m := New(WithProfile("queue", queueProfile()))
	ctx := context.Background()

	r, err := m.Create(ctx, "queue", provider.CreateRequest{Name: "prod-jobs", Tags: map[string]string{"component": "jobs"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r.Status != "CREATING" {
		t.Errorf("Expected CREATING, got %s", r.Status)
	}

	var statuses []string
	for i := 0; i < 4; i++ {
		got, err := m.Get(ctx, "queue", r.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		statuses = append(statuses, got.Status)
	}
	want := []string{"CREATING", "READY", "READY", "READY"}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, statuses)
		}
	}
}

func TestDeleteRemovesAfterSequence(t *testing.T) {
	m := New(WithProfile("queue", queueProfile()))
	ctx := context.Background()
	id := m.Seed(provider.Resource{Kind: "queue", Status: "READY"})

	if err := m.Delete(ctx, "queue", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "queue", id); !engine.IsNotFound(err) {
		t.Fatalf("Expected resource gone, got %v", err)
	}
	if err := m.Delete(ctx, "queue", id); !engine.IsNotFound(err) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
}

func TestListPaginatesAndFilters(t *testing.T) {
	m := New(WithPageSize(2))
	for i := 0; i < 5; i++ {
		m.Seed(provider.Resource{Kind: "table", Tags: map[string]string{"deployment": "prod"}})
	}
	m.Seed(provider.Resource{Kind: "table", Tags: map[string]string{"deployment": "staging"}})

	var (
		token string
		total int
		pages int
	)
	for {
		resp, err := m.List(context.Background(), "table", provider.ListOptions{
			Tags:      map[string]string{"deployment": "prod"},
			PageToken: token,
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		total += len(resp.Resources)
		pages++
		if resp.NextToken == "" {
			break
		}
		token = resp.NextToken
	}

	if total != 5 || pages != 3 {
		t.Errorf("Expected 5 resources over 3 pages, got %d over %d", total, pages)
	}
}

func TestRollbackKeepsAttributes(t *testing.T) {
	m := New()
	ctx := context.Background()
	id := m.Seed(provider.Resource{Kind: "compute-service", Attributes: map[string]interface{}{"image": "app:1"}})
	m.SetRollback("compute-service", true)

	if err := m.Update(ctx, "compute-service", id, map[string]interface{}{"image": "app:2"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	r, _ := m.Snapshot("compute-service", id)
	if r.Attributes["image"] != "app:1" {
		t.Errorf("Expected rolled back image app:1, got %v", r.Attributes["image"])
	}
}

func TestCreateDuplicateName(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, err := m.Create(ctx, "role", provider.CreateRequest{Name: "prod-app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := m.Create(ctx, "role", provider.CreateRequest{Name: "prod-app"})
	if !engine.IsConflict(err) || !engine.HasCode(err, engine.ErrCodeAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS conflict, got %v", err)
	}
}
