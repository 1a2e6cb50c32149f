// Package stores provides the persistence layer for kitdeploy.
// It includes a SQLite-based configuration store holding per-kind default
// attributes, plus a local history of deploy runs and the outcome of every
// reconciliation they performed.
package stores
