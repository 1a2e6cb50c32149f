package engine

import (
	"encoding/json"
	"reflect"
)

// Diff returns the keys whose desired value differs from the observed one.
// Only keys present in desired are considered; the result keeps the order
// of keys. Diff is pure.
func Diff(observed, desired Attributes, keys []string) []string {
	changed := make([]string, 0)
	for _, k := range keys {
		want, ok := desired[k]
		if !ok {
			continue
		}
		have, present := observed[k]
		if !present || !valuesEqual(have, want) {
			changed = append(changed, k)
		}
	}
	return changed
}

// DiffGroups computes a ChangeSet over every attribute group. A group is
// included when any of its members differs.
func DiffGroups(observed, desired Attributes, groups []AttributeGroup) ChangeSet {
	var cs ChangeSet
	for _, g := range groups {
		keys := Diff(observed, desired, g.Keys)
		if len(keys) == 0 {
			continue
		}

		gc := GroupChange{
			Group:   g.Name,
			Keys:    keys,
			Changes: make([]Change, 0, len(keys)),
		}
		for _, k := range keys {
			before, present := observed[k]
			action := ChangeActionModify
			if !present {
				action = ChangeActionAdd
			}
			gc.Changes = append(gc.Changes, Change{
				Path:   k,
				Before: before,
				After:  desired[k],
				Action: action,
			})
		}
		cs.Groups = append(cs.Groups, gc)
	}
	return cs
}

// ApplyKeys returns a copy of observed with the given keys taken from desired.
func ApplyKeys(observed, desired Attributes, keys []string) Attributes {
	out := observed.Clone()
	for _, k := range keys {
		if v, ok := desired[k]; ok {
			out[k] = v
		}
	}
	return out
}

// GroupPayload collects the desired values of every member of the changed
// groups. Groups are updated as a unit, so unchanged members are sent too.
func GroupPayload(desired Attributes, groups []AttributeGroup, changes ChangeSet) Attributes {
	payload := Attributes{}
	for _, g := range groups {
		if !changes.Has(g.Name) {
			continue
		}
		for _, k := range g.Keys {
			if v, ok := desired[k]; ok {
				payload[k] = v
			}
		}
	}
	return payload
}

// valuesEqual compares two values after a JSON round trip so numeric types
// and map/slice representations coming from different decoders agree.
func valuesEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	var aVal, bVal interface{}
	if !normalize(a, &aVal) || !normalize(b, &bVal) {
		return false
	}
	return reflect.DeepEqual(aVal, bVal)
}

func normalize(v interface{}, out *interface{}) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
