// Package storage persists accounts, message templates and send history.
//
// Two drivers are available: a dependency-free file backend (JSON snapshots
// plus an append-only history journal) and SQLite. Both enforce the same
// retention cap on history.
package storage
