package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saaskit/kitdeploy/pkg/kinds"
)

// Loader reads and validates deployment manifests. YAML and JSON manifests
// are decoded with yaml.v3; .cue manifests are evaluated with CUE first.
type Loader struct {
	cue      *cue.Context
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a new manifest loader.
func NewLoader() *Loader {
	return &Loader{
		cue:      cuecontext.New(),
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
	}
}

// LoadFile reads, decodes and validates the manifest at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := l.Parse(data, path)
	if err != nil {
		return nil, err
	}

	if err := l.Validate(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes a manifest. The format is chosen from the extension of
// source; anything but .cue is decoded as YAML.
func (l *Loader) Parse(data []byte, source string) (*Manifest, error) {
	m := &Manifest{}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".cue":
		val := l.cue.CompileBytes(data, cue.Filename(source))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile %s: %s", source, cueerrors.Details(err, nil))
		}
		if err := val.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("%s is not concrete: %s", source, cueerrors.Details(err, nil))
		}
		if err := val.Decode(m); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", source, err)
		}
	default:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
	}

	m.Source = source
	for i := range m.Stages {
		for j := range m.Stages[i].Components {
			c := &m.Stages[i].Components[j]
			c.Attributes = normalize(c.Attributes).(map[string]interface{})
		}
	}
	return m, nil
}

// Validate checks struct constraints, the CUE manifest schema, known kinds
// and unique component names. Every problem found is reported.
func (l *Loader) Validate(ctx context.Context, m *Manifest) error {
	var errs ValidationErrors

	if err := l.validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate manifest: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				File:    m.Source,
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on '%s' constraint", fe.Tag()),
			})
		}
	}

	if err := l.schemas.ValidateManifest(ctx, m); err != nil {
		for _, ce := range cueerrors.Errors(err) {
			format, args := ce.Msg()
			errs = append(errs, ValidationError{
				File:    m.Source,
				Path:    strings.Join(ce.Path(), "."),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}

	known := make(map[string]bool)
	for _, n := range kinds.Names() {
		known[n] = true
	}
	seen := make(map[string]string)
	for i, s := range m.Stages {
		for j, c := range s.Components {
			path := fmt.Sprintf("stages[%d].components[%d]", i, j)
			if c.Kind != "" && !known[c.Kind] {
				errs = append(errs, ValidationError{File: m.Source, Path: path + ".kind", Message: fmt.Sprintf("unknown kind %q", c.Kind)})
			}
			if prev, dup := seen[c.Name]; dup {
				errs = append(errs, ValidationError{File: m.Source, Path: path + ".name", Message: fmt.Sprintf("component %q already declared at %s", c.Name, prev)})
			}
			seen[c.Name] = path
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// normalize converts decoded YAML values to the JSON-compatible shapes the
// engine compares: map[string]interface{} and []interface{}.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalize(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}
