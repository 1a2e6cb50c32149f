// Package config loads deployment manifests and CLI settings for kitdeploy.
//
// # Overview
//
// A manifest names a deployment and lists its components in ordered
// stages. Each component has a name (its component tag), a resource kind
// and the attributes the caller wants the remote resource to have:
//
//	deployment: prod
//	region: eu-west-1
//	version: "1.4.2"
//	stages:
//	  - name: data
//	    components:
//	      - name: orders
//	        kind: table
//	        attributes:
//	          billing_mode: PROVISIONED
//	          read_capacity: 5
//	  - name: app
//	    components:
//	      - name: api
//	        kind: compute-service
//	        attributes:
//	          image: registry.example.com/api:1.4.2
//	        script: |
//	          attributes = {"max_size": 10 if deployment == "prod" else 2}
//
// Manifests are YAML (gopkg.in/yaml.v3) or CUE (.cue files are evaluated
// and decoded). Both are validated with struct tags (go-playground
// validator) and against the built-in #Manifest CUE schema.
//
// # Resolution
//
// Resolver turns a manifest into engine.DesiredConfig values. Attributes
// are layered, lowest precedence first:
//
//   - stored defaults of the deployment and kind (the configuration store)
//   - attributes set in the manifest
//   - attributes computed by the component's Starlark script
//
// Built-in kind defaults are backfilled into the store the first time a
// kind is used in a deployment; backfilling never overwrites a stored value.
//
// # Scripts
//
// A script sees deployment, region, version, component and base (the
// manifest attributes) and must bind a global dict named attributes.
// Execution is sandboxed: no I/O, print is discarded, and both a step
// limit and a timeout apply.
//
// # Settings
//
// Settings are read from KITDEPLOY_* environment variables and overridden
// by command-line flags.
package config
