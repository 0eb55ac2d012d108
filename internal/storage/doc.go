// Package storage persists submitted events.
//
// Two drivers exist: a SQLite database (default) and a dependency-light
// JSON Lines file backend for constrained deployments. Both are selected
// by config; callers only see the Store interface.
package storage
