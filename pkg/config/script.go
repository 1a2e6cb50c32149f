package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ScriptInput is what a component script can see.
type ScriptInput struct {
	Deployment string
	Region     string
	Version    string
	Component  string

	// Base holds the attributes set explicitly in the manifest.
	Base map[string]interface{}
}

// ScriptEvaluator runs component attribute scripts. A script receives the
// predeclared names deployment, region, version, component and base, and
// must bind a global dict named attributes.
type ScriptEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewScriptEvaluator creates a new evaluator.
func NewScriptEvaluator(timeout time.Duration) *ScriptEvaluator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &ScriptEvaluator{
		timeout:  timeout,
		maxSteps: 10_000_000,
	}
}

// Evaluate executes script and returns the attributes it computed.
func (se *ScriptEvaluator) Evaluate(ctx context.Context, script string, in ScriptInput) (map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: in.Component,
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)

	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	base, err := toStarlarkValue("base", in.Base)
	if err != nil {
		return nil, err
	}

	predeclared := starlark.StringDict{
		"struct":     starlark.NewBuiltin("struct", starlarkstruct.Make),
		"deployment": starlark.String(in.Deployment),
		"region":     starlark.String(in.Region),
		"version":    starlark.String(in.Version),
		"component":  starlark.String(in.Component),
		"base":       base,
	}

	globals, err := starlark.ExecFile(thread, in.Component+".star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script for %s failed: %w", in.Component, err)
	}

	attrs, ok := globals["attributes"]
	if !ok {
		return nil, fmt.Errorf("script for %s does not define attributes", in.Component)
	}
	out, err := fromStarlarkValue("attributes", attrs)
	if err != nil {
		return nil, fmt.Errorf("script for %s: %w", in.Component, err)
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("script for %s: attributes must be a dict, got %s", in.Component, attrs.Type())
	}
	return m, nil
}

// toStarlarkValue converts a decoded manifest value. path names the value
// in errors.
func toStarlarkValue(path string, v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		items := make([]starlark.Value, 0, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			items = append(items, sv)
		}
		return starlark.NewList(items), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			_ = dict.SetKey(starlark.String(k), starlark.String(val[k]))
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := toStarlarkValue(path+"."+k, val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("%s: %T cannot be passed to a script", path, v)
}

// fromStarlarkValue converts a script result back to manifest values.
// Integers become int, tuples become lists and structs become maps.
func fromStarlarkValue(path string, v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("%s: integer %s out of range", path, val)
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Indexable:
		// *starlark.List and starlark.Tuple
		out := make([]interface{}, val.Len())
		for i := range out {
			item, err := fromStarlarkValue(fmt.Sprintf("%s[%d]", path, i), val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, kv := range val.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("%s: key %s is a %s, not a string", path, kv[0], kv[0].Type())
			}
			item, err := fromStarlarkValue(path+"."+key, kv[1])
			if err != nil {
				return nil, err
			}
			out[key] = item
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", path, name, err)
			}
			item, err := fromStarlarkValue(path+"."+name, attr)
			if err != nil {
				return nil, err
			}
			out[name] = item
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: a script cannot return a %s", path, v.Type())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
