package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// memStore is an in-memory DefaultsStore.
type memStore struct {
	data      map[string]engine.Attributes
	backfills int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]engine.Attributes)}
}

func (s *memStore) Defaults(_ context.Context, deployment, kind string) (engine.Attributes, error) {
	return s.data[deployment+"/"+kind].Clone(), nil
}

func (s *memStore) Backfill(_ context.Context, deployment, kind string, attrs engine.Attributes) (int, error) {
	s.backfills++
	key := deployment + "/" + kind
	if s.data[key] == nil {
		s.data[key] = engine.Attributes{}
	}
	n := 0
	for k, v := range attrs {
		if _, ok := s.data[key][k]; !ok {
			s.data[key][k] = v
			n++
		}
	}
	return n, nil
}

func parseManifest(t *testing.T, content string) *Manifest {
	t.Helper()
	l := NewLoader()
	m, err := l.Parse([]byte(content), "deploy.yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := l.Validate(context.Background(), m); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return m
}

func TestResolver_Precedence(t *testing.T) {
	store := newMemStore()
	store.data["prod/compute-service"] = engine.Attributes{"max_size": 20, "cpu": "2 vCPU"}

	m := parseManifest(t, `
deployment: prod
region: eu-west-1
stages:
  - name: app
    components:
      - name: api
        kind: compute-service
        attributes:
          image: app:1
          cpu: 4 vCPU
        script: |
          attributes = {"min_size": 3 if deployment == "prod" else 1, "image_tag": base["image"]}
`)

	stages, err := NewResolver(store, nil, zerolog.Nop()).Resolve(context.Background(), m)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(stages) != 1 || len(stages[0].Components) != 1 {
		t.Fatalf("unexpected stages: %+v", stages)
	}
	c := stages[0].Components[0]
	if c.Kind != "compute-service" || c.Stage != "app" {
		t.Errorf("unexpected component: %+v", c)
	}

	tests := []struct {
		key  string
		want interface{}
	}{
		{"max_size", 20},           // stored default beats built-in
		{"cpu", "4 vCPU"},          // manifest beats stored default
		{"min_size", 3},            // script beats built-in
		{"image_tag", "app:1"},     // script sees manifest attributes
		{"health_protocol", "TCP"}, // built-in default backfilled
	}
	for _, tt := range tests {
		got, ok := c.Desired.Get(tt.key)
		if !ok || got != tt.want {
			t.Errorf("%s: expected %v, got %v (present=%v)", tt.key, tt.want, got, ok)
		}
	}

	if c.Tags.Region != "eu-west-1" || c.Tags.Deployment != "prod" || c.Tags.Component != "api" {
		t.Errorf("unexpected tags: %+v", c.Tags)
	}
	if store.data["prod/compute-service"]["max_size"] != 20 {
		t.Error("expected backfill not to overwrite stored max_size")
	}
}

func TestResolver_BackfillsOncePerKind(t *testing.T) {
	store := newMemStore()
	m := parseManifest(t, `
deployment: prod
stages:
  - name: one
    components:
      - {name: a, kind: queue}
      - {name: b, kind: queue}
  - name: two
    components:
      - {name: c, kind: role}
`)

	if _, err := NewResolver(store, nil, zerolog.Nop()).Resolve(context.Background(), m); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if store.backfills != 2 {
		t.Errorf("expected one backfill per kind, got %d", store.backfills)
	}
}

func TestResolver_ResolveComponent(t *testing.T) {
	m := parseManifest(t, validManifest)
	r := NewResolver(newMemStore(), nil, zerolog.Nop())

	c, err := r.ResolveComponent(context.Background(), m, "orders")
	if err != nil {
		t.Fatalf("ResolveComponent failed: %v", err)
	}
	if v, _ := c.Desired.Get("billing_mode"); v != "PROVISIONED" {
		t.Errorf("expected manifest billing_mode, got %v", v)
	}

	if _, err := r.ResolveComponent(context.Background(), m, "missing"); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestResolver_ScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"syntax", "attributes = {", "failed"},
		{"missing attributes", "x = 1", "does not define attributes"},
		{"not a dict", "attributes = [1, 2]", "must be a dict"},
		{"runtime error", "attributes = {'a': 1 // 0}", "failed"},
		{"non-string key", "attributes = {'env': {1: 'x'}}", "attributes.env: key 1"},
		{"function value", "attributes = {'f': len}", "attributes.f: a script cannot return"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{
				Deployment: "prod",
				Stages: []StageConfig{{
					Name:       "s",
					Components: []ComponentConfig{{Name: "fn", Kind: "function", Script: tt.script}},
				}},
			}
			_, err := NewResolver(newMemStore(), nil, zerolog.Nop()).Resolve(context.Background(), m)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestScriptEvaluator_Timeout(t *testing.T) {
	se := NewScriptEvaluator(50 * time.Millisecond)
	se.maxSteps = 0

	_, err := se.Evaluate(context.Background(), `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n
attributes = {"n": spin()}
`, ScriptInput{Component: "spin"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestScriptEvaluator_StepLimit(t *testing.T) {
	se := NewScriptEvaluator(time.Minute)
	se.maxSteps = 1000

	_, err := se.Evaluate(context.Background(), `
def spin():
    n = 0
    for i in range(1000000):
        n += i
    return n
attributes = {"n": spin()}
`, ScriptInput{Component: "spin"})
	if err == nil {
		t.Fatal("expected step limit error")
	}
}

func TestScriptEvaluator_StructBuiltin(t *testing.T) {
	out, err := NewScriptEvaluator(0).Evaluate(context.Background(), `
limits = struct(cpu = 2, memory = 512)
attributes = {"cpu": limits.cpu, "limits": limits}
`, ScriptInput{Component: "api"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := map[string]interface{}{
		"cpu":    2,
		"limits": map[string]interface{}{"cpu": 2, "memory": 512},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Unexpected attributes (-want +got):\n%s", diff)
	}
}

func TestScriptEvaluator_Values(t *testing.T) {
	out, err := NewScriptEvaluator(0).Evaluate(context.Background(), `
attributes = {
    "name": component + "-" + region,
    "sizes": [1, 2.5, True, None],
    "pair": ("a", 1),
    "nested": {"k": struct(x = 1)},
}
`, ScriptInput{Component: "api", Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out["name"] != "api-eu-west-1" {
		t.Errorf("unexpected name: %v", out["name"])
	}
	sizes := out["sizes"].([]interface{})
	if sizes[0] != 1 || sizes[1] != 2.5 || sizes[2] != true || sizes[3] != nil {
		t.Errorf("unexpected sizes: %#v", sizes)
	}
	nested := out["nested"].(map[string]interface{})["k"].(map[string]interface{})
	if nested["x"] != 1 {
		t.Errorf("unexpected nested struct: %#v", nested)
	}
}
