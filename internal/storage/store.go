package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// Store is the customer record store. Create one per process with New and
// share it; it is safe for concurrent use.
type Store struct {
	cfg Config
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	be      backend
	initErr error
	closed  bool
}

// createdAt is stored as Unix nanoseconds by the sqlite driver; both drivers
// accept only that range.
var (
	minCreatedAt = time.Unix(0, math.MinInt64).UTC()
	maxCreatedAt = time.Unix(0, math.MaxInt64).UTC()
)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an unopened store. No I/O happens until Init (or the first operation).
func New(cfg Config, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{cfg: cfg, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init opens the engine and upgrades the schema. It is idempotent: later calls
// reuse the open handle, and a failed open stays failed for this Store. A
// canceled or expired ctx is returned as is and does not poison later calls.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.backend(ctx)
	return err
}

func (s *Store) backend(ctx context.Context) (backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.be != nil {
		return s.be, nil
	}
	if s.initErr != nil {
		return nil, s.initErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	be, err := openBackend(ctx, s.cfg, s.log)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("open storage: %w", cerr)
		}
		s.initErr = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return nil, s.initErr
	}
	s.be = be
	s.log.Debug("storage opened",
		logx.String("driver", NormalizeDriver(s.cfg.Driver)),
		logx.String("path", s.cfg.Path),
		logx.Duration("took", time.Since(start)),
	)
	return be, nil
}

// Save upserts r by ID.
//
// Create path (empty ID): a new UUID is assigned. A zero CreatedAt is stamped
// with the current time. The zero ServiceStatus is all-false already.
// Update path: the stored record is fully replaced, except createdAt which
// keeps its first value. The assigned ID and effective CreatedAt are written
// back into r.
func (s *Store) Save(ctx context.Context, r *customer.Record) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrWrite)
	}
	be, err := s.backend(ctx)
	if err != nil {
		return err
	}

	rec := *r
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.CreatedAt.Before(minCreatedAt) || rec.CreatedAt.After(maxCreatedAt) {
		return fmt.Errorf("%w: createdAt %s outside %s..%s", ErrWrite,
			rec.CreatedAt.Format(time.RFC3339), minCreatedAt.Format(time.RFC3339), maxCreatedAt.Format(time.RFC3339))
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	created, err := be.put(ctx, rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	rec.CreatedAt = created
	*r = rec
	return nil
}

// GetAll returns every record, most recently created first. An empty store
// yields an empty slice.
func (s *Store) GetAll(ctx context.Context) ([]customer.Record, error) {
	be, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := be.all(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if recs == nil {
		recs = []customer.Record{}
	}
	SortNewestFirst(recs)
	return recs, nil
}

// Get looks up one record by ID.
func (s *Store) Get(ctx context.Context, id string) (customer.Record, bool, error) {
	be, err := s.backend(ctx)
	if err != nil {
		return customer.Record{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return customer.Record{}, false, nil
	}
	r, ok, err := be.get(ctx, id)
	if err != nil {
		return customer.Record{}, false, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return r, ok, nil
}

// DeleteByID removes the record if present. Deleting a missing ID succeeds.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	be, err := s.backend(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if err := be.delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Version reports the schema version recorded on disk.
func (s *Store) Version(ctx context.Context) (int, error) {
	be, err := s.backend(ctx)
	if err != nil {
		return 0, err
	}
	v, err := be.version(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return v, nil
}

// Close releases the engine. Further operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	be := s.be
	s.be = nil
	s.closed = true
	s.mu.Unlock()
	if be == nil {
		return nil
	}
	return be.close()
}

// SortNewestFirst orders by createdAt descending, ties by ID.
func SortNewestFirst(recs []customer.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].CreatedAt, recs[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return recs[i].ID < recs[j].ID
	})
}
