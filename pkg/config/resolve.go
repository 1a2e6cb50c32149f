package config

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/kinds"
)

// DefaultsStore is the configuration store consulted for attributes a
// manifest does not set.
type DefaultsStore interface {
	Defaults(ctx context.Context, deployment, kind string) (engine.Attributes, error)
	Backfill(ctx context.Context, deployment, kind string, attrs engine.Attributes) (int, error)
}

// ResolvedComponent is a component ready to be reconciled.
type ResolvedComponent struct {
	Stage   string
	Name    string
	Kind    string
	Tags    engine.Tags
	Desired engine.DesiredConfig
}

// ResolvedStage is a stage of resolved components.
type ResolvedStage struct {
	Name       string
	Components []ResolvedComponent
}

// Resolver builds each component's desired configuration.
type Resolver struct {
	store   DefaultsStore
	scripts *ScriptEvaluator
	logger  zerolog.Logger
}

// NewResolver creates a resolver backed by store.
func NewResolver(store DefaultsStore, scripts *ScriptEvaluator, logger zerolog.Logger) *Resolver {
	if scripts == nil {
		scripts = NewScriptEvaluator(0)
	}
	return &Resolver{
		store:   store,
		scripts: scripts,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the manifest's stages with a DesiredConfig for every
// component. Precedence, lowest first: the deployment's stored defaults,
// the manifest attributes, the component script's attributes. Built-in
// kind defaults are backfilled into the store on first use and never
// overwrite stored values.
func (r *Resolver) Resolve(ctx context.Context, m *Manifest) ([]ResolvedStage, error) {
	defaults := make(map[string]engine.Attributes)

	stages := make([]ResolvedStage, 0, len(m.Stages))
	for _, s := range m.Stages {
		stage := ResolvedStage{Name: s.Name, Components: make([]ResolvedComponent, 0, len(s.Components))}
		for _, c := range s.Components {
			base, ok := defaults[c.Kind]
			if !ok {
				var err error
				base, err = r.kindDefaults(ctx, m.Deployment, c.Kind)
				if err != nil {
					return nil, err
				}
				defaults[c.Kind] = base
			}

			desired, err := r.component(ctx, m, c, base)
			if err != nil {
				return nil, err
			}
			stage.Components = append(stage.Components, ResolvedComponent{
				Stage:   s.Name,
				Name:    c.Name,
				Kind:    c.Kind,
				Tags:    m.Tags(c.Name),
				Desired: desired,
			})
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// ResolveComponent resolves a single component of the manifest.
func (r *Resolver) ResolveComponent(ctx context.Context, m *Manifest, name string) (*ResolvedComponent, error) {
	for _, s := range m.Stages {
		for _, c := range s.Components {
			if c.Name != name {
				continue
			}
			base, err := r.kindDefaults(ctx, m.Deployment, c.Kind)
			if err != nil {
				return nil, err
			}
			desired, err := r.component(ctx, m, c, base)
			if err != nil {
				return nil, err
			}
			return &ResolvedComponent{Stage: s.Name, Name: c.Name, Kind: c.Kind, Tags: m.Tags(c.Name), Desired: desired}, nil
		}
	}
	return nil, fmt.Errorf("component %q not found in %s", name, m.Source)
}

func (r *Resolver) kindDefaults(ctx context.Context, deployment, kind string) (engine.Attributes, error) {
	if builtin, ok := kinds.Defaults(kind); ok {
		n, err := r.store.Backfill(ctx, deployment, kind, builtin)
		if err != nil {
			return nil, fmt.Errorf("failed to backfill %s defaults: %w", kind, err)
		}
		if n > 0 {
			r.logger.Info().
				Str("deployment", deployment).
				Str("kind", kind).
				Int("count", n).
				Msg("Backfilled kind defaults")
		}
	}

	stored, err := r.store.Defaults(ctx, deployment, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s defaults: %w", kind, err)
	}
	return stored, nil
}

func (r *Resolver) component(ctx context.Context, m *Manifest, c ComponentConfig, base engine.Attributes) (engine.DesiredConfig, error) {
	attrs := base.Clone()
	if attrs == nil {
		attrs = engine.Attributes{}
	}
	for k, v := range c.Attributes {
		attrs[k] = v
	}

	if c.Script != "" {
		computed, err := r.scripts.Evaluate(ctx, c.Script, ScriptInput{
			Deployment: m.Deployment,
			Region:     m.Region,
			Version:    m.Version,
			Component:  c.Name,
			Base:       c.Attributes,
		})
		if err != nil {
			return engine.DesiredConfig{}, err
		}
		for k, v := range computed {
			attrs[k] = v
		}
	}

	return engine.NewDesiredConfig(attrs), nil
}
