package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
)

// SchemaVersion is the on-disk layout this build reads and writes.
//
//	1: customers collection keyed by id, indexes on registration number and customer name
//	2: created_at index
//	3: serviceStatus (first/second/third)
const SchemaVersion = 3

var (
	// ErrUnavailable means the engine could not be opened; fatal for the session.
	ErrUnavailable = errors.New("storage unavailable")
	ErrRead        = errors.New("storage read failed")
	ErrWrite       = errors.New("storage write failed")
	ErrClosed      = fmt.Errorf("%w: store closed", ErrUnavailable)
)

// Upgrade policies for on-disk data older than SchemaVersion.
const (
	// UpgradeBackfill keeps existing records and fills serviceStatus with false.
	UpgradeBackfill = "backfill"
	// UpgradeRecreate drops the collection and DISCARDS every stored record.
	// Only for parity with installs that expect the old wipe-on-upgrade behavior.
	UpgradeRecreate = "recreate"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   JSON snapshot + journal next to Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Upgrade     string        // UpgradeBackfill (default) or UpgradeRecreate
}

// backend is the engine-specific part of the store. Implementations must be
// safe for concurrent use and make each call atomic for a single record.
type backend interface {
	// put upserts r and returns the createdAt actually stored.
	put(ctx context.Context, r customer.Record) (time.Time, error)
	get(ctx context.Context, id string) (customer.Record, bool, error)
	all(ctx context.Context) ([]customer.Record, error)
	delete(ctx context.Context, id string) error
	version(ctx context.Context) (int, error)
	close() error
}
