package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/saaskit/kitdeploy/pkg/kinds"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("manifest", manifestSchema()); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers it under name. The schema
// must declare a definition named after the schema (e.g. #Manifest).
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definitionName(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definitionName(name))
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateManifest validates a manifest against the manifest schema.
func (sr *SchemaRegistry) ValidateManifest(ctx context.Context, m *Manifest) error {
	return sr.ValidateAgainstSchema(ctx, "manifest", m)
}

func definitionName(name string) string {
	return "#" + strings.ToUpper(name[:1]) + name[1:]
}

// manifestSchema renders the built-in manifest schema with the registered
// kind names.
func manifestSchema() string {
	names := kinds.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return fmt.Sprintf(builtinManifestSchema, strings.Join(quoted, " | "))
}

const builtinManifestSchema = `
#Manifest: {
	// Deployment names the deployment
	deployment: string & =~"^[a-z][a-z0-9-]*$"

	// Region and version become resource tags
	region?:  string
	version?: string

	// Stages run in order
	stages: [#Stage, ...#Stage]
}

#Stage: {
	name: string & !=""
	components: [#Component, ...#Component]
}

#Component: {
	// Name is the component tag
	name: string & =~"^[a-z][a-z0-9-]*$"

	// Kind is one of the registered resource kinds
	kind: %s

	// Attributes are free-form; each kind checks its own keys
	attributes?: {[string]: _}

	// Script is a Starlark program computing attributes
	script?: string
}
`
