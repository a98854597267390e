// Package store provides SQLite-backed persistence for synchronized artefacts.
//
// The store holds:
//   - Artefacts: one row per synchronized artefact, keyed by its content
//     independent identity key, with lifecycle, error and canonical payload
//   - Migration status: one row per project, the convergence checkpoint
//     used to gate versioned migrations
//   - Synchronizer state: the latest pass result per synchronizer plus an
//     append-only state log
//   - Publish log: publish/unpublish operations
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Rows are the authoritative state across passes and restarts. Nothing in
// this package knows about declarations or passes; the synchronizer
// package drives it through narrow interfaces.
package store
