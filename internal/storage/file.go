package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// fileBackend is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (versioned envelope, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only put/delete ops since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and on close.
type fileBackend struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	records      map[string]customer.Record

	writes       int
	compactEvery int

	// torn is set when a failed append could not be rolled back; the next
	// append first terminates the partial line.
	torn bool
}

// snapshotEnvelope is the on-disk snapshot. Records written before v3 have no
// serviceStatus key and decode with all three flags false.
type snapshotEnvelope struct {
	Version   int               `json:"version"`
	Customers []customer.Record `json:"customers"`
}

type journalOp struct {
	Op     string           `json:"op"` // "put" or "del"
	ID     string           `json:"id,omitempty"`
	Record *customer.Record `json:"record,omitempty"`
}

func openFile(ctx context.Context, cfg Config, log logx.Logger) (backend, error) {
	_ = ctx
	path := strings.TrimSpace(cfg.Path)

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	env, err := loadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}
	if env.Version > SchemaVersion {
		return nil, fmt.Errorf("on-disk schema version %d is newer than supported %d", env.Version, SchemaVersion)
	}

	records := make(map[string]customer.Record, len(env.Customers))
	for _, r := range env.Customers {
		if r.ID != "" {
			records[r.ID] = r
		}
	}
	if err := replayJournal(journalPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}

	fb := &fileBackend{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		records:      records,
		compactEvery: 500,
	}

	if env.Version < SchemaVersion {
		lossy := normalizeUpgrade(cfg.Upgrade) == UpgradeRecreate && env.Version > 0
		if lossy {
			if n := len(fb.records); n > 0 {
				log.Warn("destructive schema upgrade: discarding stored customer records",
					logx.Int("records", n), logx.Int("to", SchemaVersion))
			}
			fb.records = map[string]customer.Record{}
		}
		// Writing the snapshot at the current version is the upgrade.
		if err := fb.compactLocked(); err != nil {
			_ = jf.Close()
			return nil, fmt.Errorf("migrate to v%d: %w", SchemaVersion, err)
		}
		log.Info("schema upgraded", logx.Int("from", env.Version), logx.Int("to", SchemaVersion), logx.Bool("lossy", lossy))
	}
	return fb, nil
}

func (s *fileBackend) put(ctx context.Context, r customer.Record) (time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return time.Time{}, errors.New("journal closed")
	}
	if prev, ok := s.records[r.ID]; ok && !prev.CreatedAt.IsZero() {
		r.CreatedAt = prev.CreatedAt
	}

	// The journal line is the commit point; memory changes only after it is written.
	if err := s.appendLocked(journalOp{Op: "put", Record: &r}); err != nil {
		return time.Time{}, err
	}
	s.records[r.ID] = r
	s.afterWriteLocked()
	return r.CreatedAt, nil
}

func (s *fileBackend) get(ctx context.Context, id string) (customer.Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *fileBackend) all(ctx context.Context) ([]customer.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]customer.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *fileBackend) delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if _, ok := s.records[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.records, id)
	s.afterWriteLocked()
	return nil
}

func (s *fileBackend) version(ctx context.Context) (int, error) {
	_ = ctx
	env, err := loadSnapshot(s.snapshotPath)
	if err != nil {
		return 0, err
	}
	return env.Version, nil
}

func (s *fileBackend) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journalFile.Close()
	s.journalFile = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileBackend) appendLocked(op journalOp) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if s.torn {
		if err := terminateTornLine(s.journalFile); err != nil {
			return err
		}
		s.torn = false
	}
	st, err := s.journalFile.Stat()
	if err != nil {
		return err
	}
	if _, err := s.journalFile.Write(b); err != nil {
		s.rollbackLocked(st.Size())
		return err
	}
	return nil
}

// rollbackLocked drops a partially written journal line past size.
func (s *fileBackend) rollbackLocked(size int64) {
	if err := s.journalFile.Truncate(size); err != nil {
		s.log.Warn("journal rollback failed", logx.Int64("size", size), logx.Err(err))
		s.torn = true
	}
}

func (s *fileBackend) afterWriteLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort; the journal still holds every op if this fails.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
}

func (s *fileBackend) compactLocked() error {
	env := snapshotEnvelope{Version: SchemaVersion, Customers: make([]customer.Record, 0, len(s.records))}
	for _, r := range s.records {
		env.Customers = append(env.Customers, r)
	}
	SortNewestFirst(env.Customers)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(env); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if s.journalFile == nil {
		return nil
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

// terminateTornLine makes sure the next append starts on a fresh line.
func terminateTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// loadSnapshot returns a zero envelope (version 0) when the file does not exist.
func loadSnapshot(path string) (snapshotEnvelope, error) {
	var env snapshotEnvelope
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return env, nil
	}
	if err != nil {
		return env, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&env); err != nil {
		return env, fmt.Errorf("decode snapshot: %w", err)
	}
	return env, nil
}

// replayJournal applies journal ops in order. A torn trailing line (crash
// mid-write) fails to decode and is skipped.
func replayJournal(path string, out map[string]customer.Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		switch op.Op {
		case "put":
			if op.Record != nil && op.Record.ID != "" {
				out[op.Record.ID] = *op.Record
			}
		case "del":
			delete(out, op.ID)
		}
	}
	return sc.Err()
}
