package config

import (
	"fmt"
	"strings"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// Manifest is a deployment manifest: every component of one deployment,
// grouped into stages that are reconciled in order.
type Manifest struct {
	// Deployment names the deployment (e.g. "prod"). It is the deployment
	// tag on every resource.
	Deployment string `json:"deployment" yaml:"deployment" validate:"required,hostname_rfc1123,max=32"`

	// Region is recorded as a tag on created resources.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Version is the release version recorded as a tag.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Stages run one after another; components inside a stage run
	// concurrently.
	Stages []StageConfig `json:"stages" yaml:"stages" validate:"required,min=1,dive"`

	// Source is the file the manifest was loaded from.
	Source string `json:"-" yaml:"-"`
}

// StageConfig is one ordered group of components.
type StageConfig struct {
	Name       string            `json:"name" yaml:"name" validate:"required"`
	Components []ComponentConfig `json:"components" yaml:"components" validate:"required,min=1,dive"`
}

// ComponentConfig describes one remote resource.
type ComponentConfig struct {
	// Name is the component tag. It must be unique within the manifest.
	Name string `json:"name" yaml:"name" validate:"required,hostname_rfc1123,max=40"`

	// Kind is the resource kind (e.g. "compute-service").
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	// Attributes are the desired attributes set explicitly by the manifest.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// Script is an optional Starlark program computing further attributes.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`
}

// Components returns every component of the manifest in stage order.
func (m *Manifest) Components() []ComponentConfig {
	var out []ComponentConfig
	for _, s := range m.Stages {
		out = append(out, s.Components...)
	}
	return out
}

// Component returns the named component.
func (m *Manifest) Component(name string) (ComponentConfig, bool) {
	for _, c := range m.Components() {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentConfig{}, false
}

// Tags returns the engine tags of a component of the manifest.
func (m *Manifest) Tags(component string) engine.Tags {
	return engine.Tags{
		Component:  component,
		Deployment: m.Deployment,
		Region:     m.Region,
		Version:    m.Version,
	}
}

// ValidationError represents a manifest validation error.
type ValidationError struct {
	// File is the manifest file.
	File string `json:"file,omitempty"`

	// Path is the field path (e.g. "stages[1].components[0].kind").
	Path string `json:"path"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every problem found in a manifest.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}
