// Package storage provides the durable key/value capability dosebox persists to.
//
// Values are opaque strings (callers store JSON). Drivers:
//   - "file": one JSON snapshot, replaced atomically via rename
//   - "sqlite": a single kv table (WAL journal)
//   - "redis": plain string keys under an optional prefix
//   - "memory": process-local, for tests and dry runs
package storage
