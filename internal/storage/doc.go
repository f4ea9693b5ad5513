// Package storage persists customer records on the local machine.
//
// Two drivers are available:
//   - "sqlite": single-file SQLite database (default)
//   - "file":   JSON snapshot + append-only JSON Lines journal
//
// Both keep a schema version and upgrade older on-disk data before any other
// operation runs. See Config.Upgrade for the lossy "recreate" policy.
package storage
