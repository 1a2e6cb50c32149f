package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestDiff(t *testing.T) {
	keys := []string{"min_size", "max_size", "image", "env"}

	tests := []struct {
		name     string
		observed Attributes
		desired  Attributes
		want     []string
	}{
		{
			name:     "identical",
			observed: Attributes{"min_size": 1, "max_size": 5, "image": "app:1"},
			desired:  Attributes{"min_size": 1, "max_size": 5, "image": "app:1"},
			want:     []string{},
		},
		{
			name:     "changed value keeps key order",
			observed: Attributes{"min_size": 1, "max_size": 5, "image": "app:1"},
			desired:  Attributes{"image": "app:2", "min_size": 2, "max_size": 5},
			want:     []string{"min_size", "image"},
		},
		{
			name:     "missing remotely",
			observed: Attributes{"min_size": 1},
			desired:  Attributes{"min_size": 1, "image": "app:1"},
			want:     []string{"image"},
		},
		{
			name:     "keys absent from desired are ignored",
			observed: Attributes{"min_size": 1, "max_size": 5, "image": "app:1"},
			desired:  Attributes{"min_size": 1},
			want:     []string{},
		},
		{
			name:     "numeric representations agree",
			observed: Attributes{"min_size": float64(2)},
			desired:  Attributes{"min_size": 2},
			want:     []string{},
		},
		{
			name:     "nested values compare structurally",
			observed: Attributes{"env": map[string]interface{}{"A": "1", "B": []interface{}{"x", float64(1)}}},
			desired:  Attributes{"env": map[string]interface{}{"B": []interface{}{"x", 1}, "A": "1"}},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.observed, tt.desired, keys)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Diff mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	observed := Attributes{"a": 1, "b": "x"}
	desired := Attributes{"a": 2, "c": true}
	observedCopy := observed.Clone()
	desiredCopy := desired.Clone()

	_ = Diff(observed, desired, []string{"a", "b", "c"})

	if diff := cmp.Diff(observedCopy, observed); diff != "" {
		t.Errorf("observed was mutated:\n%s", diff)
	}
	if diff := cmp.Diff(desiredCopy, desired); diff != "" {
		t.Errorf("desired was mutated:\n%s", diff)
	}
}

func TestDiffIdempotentAfterApply(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	rapid.Check(t, func(t *rapid.T) {
		observed := Attributes{}
		desired := Attributes{}
		for _, k := range keys {
			if rapid.Bool().Draw(t, "observed_has_"+k) {
				observed[k] = rapid.IntRange(0, 3).Draw(t, "observed_"+k)
			}
			if rapid.Bool().Draw(t, "desired_has_"+k) {
				desired[k] = rapid.SampledFrom([]interface{}{0, 1, 2, "x", true}).Draw(t, "desired_"+k)
			}
		}

		applied := ApplyKeys(observed, desired, Diff(observed, desired, keys))
		if got := Diff(applied, desired, keys); len(got) != 0 {
			t.Fatalf("Expected empty diff after apply, got %v", got)
		}
	})
}

func TestDiffGroups(t *testing.T) {
	groups := []AttributeGroup{
		{Name: "scaling", Keys: []string{"min_size", "max_size"}},
		{Name: "image", Keys: []string{"image"}},
		{Name: "health-check", Keys: []string{"health_path"}},
	}
	observed := Attributes{"min_size": 1, "max_size": 5, "image": "app:1"}
	desired := Attributes{"min_size": 1, "max_size": 10, "image": "app:1", "health_path": "/healthz"}

	cs := DiffGroups(observed, desired, groups)

	want := ChangeSet{Groups: []GroupChange{
		{
			Group:   "scaling",
			Keys:    []string{"max_size"},
			Changes: []Change{{Path: "max_size", Before: 5, After: 10, Action: ChangeActionModify}},
		},
		{
			Group:   "health-check",
			Keys:    []string{"health_path"},
			Changes: []Change{{Path: "health_path", Before: nil, After: "/healthz", Action: ChangeActionAdd}},
		},
	}}
	if diff := cmp.Diff(want, cs); diff != "" {
		t.Errorf("ChangeSet mismatch (-want +got):\n%s", diff)
	}

	if cs.Has("image") {
		t.Error("Unchanged group reported as changed")
	}
	if diff := cmp.Diff([]string{"scaling", "health-check"}, cs.GroupNames()); diff != "" {
		t.Errorf("GroupNames mismatch:\n%s", diff)
	}
}

func TestDiffGroupsEmpty(t *testing.T) {
	groups := []AttributeGroup{{Name: "scaling", Keys: []string{"min_size"}}}
	cs := DiffGroups(Attributes{"min_size": 1}, Attributes{"min_size": 1}, groups)
	if !cs.IsEmpty() {
		t.Errorf("Expected empty ChangeSet, got %+v", cs)
	}
}

func TestGroupPayloadSendsWholeGroup(t *testing.T) {
	groups := []AttributeGroup{
		{Name: "scaling", Keys: []string{"min_size", "max_size"}},
		{Name: "image", Keys: []string{"image"}},
	}
	desired := Attributes{"min_size": 1, "max_size": 10, "image": "app:1"}
	changes := ChangeSet{Groups: []GroupChange{{Group: "scaling", Keys: []string{"max_size"}}}}

	got := GroupPayload(desired, groups, changes)
	want := Attributes{"min_size": 1, "max_size": 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}
