// Package storage persists the sync-attempt history.
//
// Two drivers are available: a dependency-free "file" backend (append-only
// JSON Lines with a bounded in-memory tail) and an optional "sqlite" backend
// behind the sqlite build tag. Storage is optional; when disabled the daemon
// simply keeps no history.
package storage
