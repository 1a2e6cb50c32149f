// Package kinds implements the resource kinds the engine reconciles. Every
// kind is a declarative description (attribute groups, convergence specs,
// status vocabulary, defaults) over a shared provider-backed adapter; kinds
// with extra capabilities add Pausable or RevisionManager on top.
package kinds

import (
	"fmt"
	"sort"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

type factory func(provider.Client) engine.Kind

var registry = map[string]factory{
	ComputeServiceKind: func(c provider.Client) engine.Kind { return NewComputeService(c) },
	FunctionKind:       func(c provider.Client) engine.Kind { return newResource(functionSpec, c) },
	QueueKind:          func(c provider.Client) engine.Kind { return newResource(queueSpec, c) },
	TableKind:          func(c provider.Client) engine.Kind { return newResource(tableSpec, c) },
	ScheduledJobKind:   func(c provider.Client) engine.Kind { return NewScheduledJob(c) },
	RoleKind:           func(c provider.Client) engine.Kind { return newResource(roleSpec, c) },
}

var specs = map[string]spec{
	ComputeServiceKind: computeSpec,
	FunctionKind:       functionSpec,
	QueueKind:          queueSpec,
	TableKind:          tableSpec,
	ScheduledJobKind:   scheduledJobSpec,
	RoleKind:           roleSpec,
}

// New returns the kind named name bound to client.
func New(name string, client provider.Client) (engine.Kind, error) {
	f, ok := registry[name]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unknown resource kind %q", name), nil).
			WithCode(engine.ErrCodeValidation).
			WithKind(name)
	}
	kind := f(client)
	_, pausable := kind.(engine.Pausable)
	if err := specs[name].check(pausable); err != nil {
		return nil, engine.NewPermanentError("invalid resource kind", err).
			WithCode(engine.ErrCodeValidation).
			WithKind(name)
	}
	return kind, nil
}

// Names returns every registered kind name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns a copy of the default attributes of kind.
func Defaults(name string) (engine.Attributes, bool) {
	s, ok := specs[name]
	if !ok {
		return nil, false
	}
	return s.defaults.Clone(), true
}

// Groups returns the attribute groups of kind.
func Groups(name string) ([]engine.AttributeGroup, bool) {
	s, ok := specs[name]
	if !ok {
		return nil, false
	}
	return s.groups, true
}
