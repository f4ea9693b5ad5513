package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

var drivers = []string{"sqlite", "file"}

func testPath(t *testing.T, driver string) string {
	t.Helper()
	if driver == "file" {
		return filepath.Join(t.TempDir(), "autodate.json")
	}
	return filepath.Join(t.TempDir(), "autodate.db")
}

// stepClock returns base, base+1s, base+2s, ...
func stepClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := base.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func openStore(t *testing.T, cfg Config, opts ...Option) *Store {
	t.Helper()
	st := New(cfg, logx.Nop(), opts...)
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newRecord(t *testing.T, name string) customer.Record {
	t.Helper()
	r, err := customer.NewRecord(name, "Tata Nexon", "DL-01-AB-"+name, "2024-01-31")
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return r
}

func forEachDriver(t *testing.T, fn func(t *testing.T, driver string)) {
	for _, d := range drivers {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			fn(t, d)
		})
	}
}

func TestEmptyStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		recs, err := st.GetAll(context.Background())
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if recs == nil || len(recs) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", recs)
		}
		v, err := st.Version(context.Background())
		if err != nil {
			t.Fatalf("Version: %v", err)
		}
		if v != SchemaVersion {
			t.Fatalf("Version = %d, want %d", v, SchemaVersion)
		}
	})
}

func TestInitIsIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		first, err := st.backend(context.Background())
		if err != nil {
			t.Fatalf("backend: %v", err)
		}
		if err := st.Init(context.Background()); err != nil {
			t.Fatalf("second Init: %v", err)
		}
		second, _ := st.backend(context.Background())
		if first != second {
			t.Fatal("Init reopened the engine instead of reusing the handle")
		}
	})
}

func TestSaveCreateRoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		now := time.Date(2025, time.March, 1, 10, 0, 0, 123456789, time.UTC)
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)}, WithClock(func() time.Time { return now }))
		ctx := context.Background()

		r := newRecord(t, "Asha")
		if err := st.Save(ctx, &r); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if r.ID == "" {
			t.Fatal("Save did not assign an id")
		}
		if !r.CreatedAt.Equal(now) {
			t.Fatalf("CreatedAt = %v, want %v", r.CreatedAt, now)
		}

		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		got := recs[0]
		if got.ID != r.ID || got.CustomerName != "Asha" || got.VehicleModel != r.VehicleModel ||
			got.RegistrationNumber != r.RegistrationNumber || !got.PurchaseDate.Equal(r.PurchaseDate) ||
			!got.CreatedAt.Equal(now) || got.ServiceStatus != (customer.ServiceStatus{}) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, r)
		}

		one, ok, err := st.Get(ctx, r.ID)
		if err != nil || !ok || one.ID != r.ID {
			t.Fatalf("Get = %+v, %v, %v", one, ok, err)
		}
		if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
			t.Fatalf("Get(missing) = %v, %v", ok, err)
		}
	})
}

func TestSaveAssignsDistinctIDs(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			r := newRecord(t, fmt.Sprintf("c%d", i))
			if err := st.Save(ctx, &r); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if seen[r.ID] {
				t.Fatalf("duplicate id %s", r.ID)
			}
			seen[r.ID] = true
		}
	})
}

func TestGetAllNewestFirst(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)}, WithClock(stepClock(base)))
		ctx := context.Background()

		var ids []string
		for _, name := range []string{"R1", "R2", "R3"} {
			r := newRecord(t, name)
			if err := st.Save(ctx, &r); err != nil {
				t.Fatalf("Save %s: %v", name, err)
			}
			ids = append(ids, r.ID)
		}

		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		want := []string{ids[2], ids[1], ids[0]}
		for i := range want {
			if recs[i].ID != want[i] {
				t.Fatalf("GetAll[%d] = %s (%s), want %s", i, recs[i].ID, recs[i].CustomerName, want[i])
			}
		}
	})
}

func TestLastWriteWins(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()

		r := newRecord(t, "A")
		r.ID = "A"
		r.ServiceStatus = customer.ServiceStatus{First: true}
		if err := st.Save(ctx, &r); err != nil {
			t.Fatalf("Save 1: %v", err)
		}
		r2 := r
		r2.ServiceStatus = customer.ServiceStatus{First: false}
		if err := st.Save(ctx, &r2); err != nil {
			t.Fatalf("Save 2: %v", err)
		}

		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected one record for id A, got %d", len(recs))
		}
		if recs[0].ID != "A" || recs[0].ServiceStatus.First {
			t.Fatalf("unexpected record %+v", recs[0])
		}
	})
}

func TestUpdateKeepsCreatedAt(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)}, WithClock(stepClock(base)))
		ctx := context.Background()

		r := newRecord(t, "A")
		if err := st.Save(ctx, &r); err != nil {
			t.Fatalf("Save: %v", err)
		}
		created := r.CreatedAt

		edit := r
		edit.CustomerName = "A. Corrected"
		edit.CreatedAt = time.Time{} // caller lost it; the store must keep the original
		if err := st.Save(ctx, &edit); err != nil {
			t.Fatalf("Save edit: %v", err)
		}
		if !edit.CreatedAt.Equal(created) {
			t.Fatalf("Save reported createdAt %v, want %v", edit.CreatedAt, created)
		}

		forged := edit
		forged.CreatedAt = base.Add(100 * time.Hour)
		if err := st.Save(ctx, &forged); err != nil {
			t.Fatalf("Save forged: %v", err)
		}

		got, ok, err := st.Get(ctx, r.ID)
		if err != nil || !ok {
			t.Fatalf("Get: %v %v", ok, err)
		}
		if !got.CreatedAt.Equal(created) {
			t.Fatalf("createdAt changed: %v, want %v", got.CreatedAt, created)
		}
		if got.CustomerName != "A. Corrected" {
			t.Fatalf("CustomerName = %q", got.CustomerName)
		}
	})
}

func TestDeleteByIDIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()

		keep := newRecord(t, "keep")
		drop := newRecord(t, "drop")
		for _, r := range []*customer.Record{&keep, &drop} {
			if err := st.Save(ctx, r); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		if err := st.DeleteByID(ctx, drop.ID); err != nil {
			t.Fatalf("first delete: %v", err)
		}
		after1, _ := st.GetAll(ctx)
		if err := st.DeleteByID(ctx, drop.ID); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		after2, _ := st.GetAll(ctx)
		if len(after1) != 1 || len(after2) != 1 || after1[0].ID != keep.ID || after2[0].ID != keep.ID {
			t.Fatalf("unexpected state: %+v / %+v", after1, after2)
		}
		if err := st.DeleteByID(ctx, "never-existed"); err != nil {
			t.Fatalf("delete of missing id: %v", err)
		}
	})
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()
		bad := customer.Record{CustomerName: "no vehicle"}
		err := st.Save(ctx, &bad)
		if !errors.Is(err, ErrWrite) || !errors.Is(err, customer.ErrMissingField) {
			t.Fatalf("Save err = %v", err)
		}
		recs, _ := st.GetAll(ctx)
		if len(recs) != 0 {
			t.Fatalf("invalid record became visible: %+v", recs)
		}
	})
}

func TestReopenPersists(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		cfg := Config{Driver: driver, Path: testPath(t, driver)}
		ctx := context.Background()

		st := New(cfg, logx.Nop())
		a := newRecord(t, "A")
		b := newRecord(t, "B")
		for _, r := range []*customer.Record{&a, &b} {
			if err := st.Save(ctx, r); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		b.ServiceStatus.Third = true
		if err := st.Save(ctx, &b); err != nil {
			t.Fatalf("Save update: %v", err)
		}
		if err := st.DeleteByID(ctx, a.ID); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		st2 := openStore(t, cfg)
		recs, err := st2.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 1 || recs[0].ID != b.ID || !recs[0].ServiceStatus.Third {
			t.Fatalf("unexpected records after reopen: %+v", recs)
		}
	})
}

func TestFileJournalReplayWithoutCompaction(t *testing.T) {
	t.Parallel()
	path := testPath(t, "file")
	ctx := context.Background()

	st := New(Config{Driver: "file", Path: path}, logx.Nop())
	r := newRecord(t, "A")
	if err := st.Save(ctx, &r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Simulate a crash: drop the handle without Close (no compaction) and
	// leave a torn line at the end of the journal.
	be, _ := st.backend(ctx)
	fb := be.(*fileBackend)
	if _, err := fb.journalFile.Write([]byte(`{"op":"put","rec`)); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	_ = fb.journalFile.Close()

	st2 := openStore(t, Config{Driver: "file", Path: path})
	b := newRecord(t, "B")
	if err := st2.Save(ctx, &b); err != nil {
		t.Fatalf("Save after reopen: %v", err)
	}
	recs, err := st2.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records after journal replay, got %d", len(recs))
	}
}

func TestConcurrentSaves(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()

		const n = 16
		recs := make([]customer.Record, n)
		for i := range recs {
			recs[i] = newRecord(t, fmt.Sprintf("c%02d", i))
			recs[i].ID = fmt.Sprintf("id-%02d", i)
		}
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range recs {
			wg.Add(1)
			go func(r customer.Record) {
				defer wg.Done()
				errs <- st.Save(ctx, &r)
			}(recs[i])
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent Save: %v", err)
			}
		}
		got, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(got) != n {
			t.Fatalf("expected %d records, got %d", n, len(got))
		}
		for _, r := range got {
			if r.CustomerName[1:] != r.ID[3:] {
				t.Fatalf("record fields crossed between writers: %+v", r)
			}
		}
	})
}

func TestUnavailable(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "blocker")
		if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		st := New(Config{Driver: driver, Path: filepath.Join(blocker, "sub", "store.db")}, logx.Nop())
		ctx := context.Background()
		if err := st.Init(ctx); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Init err = %v, want ErrUnavailable", err)
		}
		if _, err := st.GetAll(ctx); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("GetAll err = %v, want ErrUnavailable", err)
		}
	})
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()
	st := New(Config{Driver: "postgres", Path: filepath.Join(t.TempDir(), "x")}, logx.Nop())
	if err := st.Init(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Init err = %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := New(Config{Driver: driver, Path: testPath(t, driver)}, logx.Nop())
		ctx := context.Background()
		if err := st.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		r := newRecord(t, "late")
		err := st.Save(ctx, &r)
		if !errors.Is(err, ErrClosed) || !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Save after Close err = %v", err)
		}
	})
}

// seedSQLiteV2 builds a database as an older build (schema v2) would have left it.
func seedSQLiteV2(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	old := &sqliteBackend{db: db, log: logx.Nop(), upgrade: UpgradeBackfill}
	if err := old.migrate(ctx, 2); err != nil {
		t.Fatalf("migrate v2: %v", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO customers(id, customer_name, vehicle_model, registration_number, purchase_date, created_at)
		 VALUES('legacy', 'Old Customer', 'Tata Indica', 'MH-01-XY-0001', '2023-05-10', ?)`,
		time.Date(2023, time.May, 10, 12, 0, 0, 0, time.UTC).UnixNano())
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// seedFileV1 writes a snapshot as an older build (schema v1) would have left it.
func seedFileV1(t *testing.T, path string) {
	t.Helper()
	snap := map[string]any{
		"version": 1,
		"customers": []map[string]any{{
			"id":                 "legacy",
			"customerName":       "Old Customer",
			"vehicleModel":       "Tata Indica",
			"registrationNumber": "MH-01-XY-0001",
			"purchaseDate":       "2023-05-10",
			"createdAt":          "2023-05-10T12:00:00Z",
		}},
	}
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "autodate.snapshot.json"), b, 0o600); err != nil {
		t.Fatal(err)
	}
}

func seedLegacy(t *testing.T, driver, path string) {
	t.Helper()
	if driver == "file" {
		seedFileV1(t, path)
		return
	}
	seedSQLiteV2(t, path)
}

func TestUpgradeBackfillKeepsRecords(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		path := testPath(t, driver)
		seedLegacy(t, driver, path)

		st := openStore(t, Config{Driver: driver, Path: path})
		ctx := context.Background()
		v, err := st.Version(ctx)
		if err != nil || v != SchemaVersion {
			t.Fatalf("Version = %d, %v", v, err)
		}
		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 1 || recs[0].ID != "legacy" {
			t.Fatalf("legacy record lost: %+v", recs)
		}
		if recs[0].ServiceStatus != (customer.ServiceStatus{}) {
			t.Fatalf("expected backfilled all-false status, got %+v", recs[0].ServiceStatus)
		}
	})
}

func TestUpgradeRecreateDiscardsRecords(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		path := testPath(t, driver)
		seedLegacy(t, driver, path)

		st := openStore(t, Config{Driver: driver, Path: path, Upgrade: UpgradeRecreate})
		ctx := context.Background()
		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 0 {
			t.Fatalf("recreate upgrade should discard legacy records, got %+v", recs)
		}
		r := newRecord(t, "fresh")
		if err := st.Save(ctx, &r); err != nil {
			t.Fatalf("Save after recreate: %v", err)
		}
	})
}

func TestNewerSchemaRefused(t *testing.T) {
	t.Parallel()
	path := testPath(t, "sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1)); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	st := New(Config{Path: path}, logx.Nop())
	if err := st.Init(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Init err = %v, want ErrUnavailable", err)
	}
}

func TestCanceledInitDoesNotStick(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := New(Config{Driver: driver, Path: testPath(t, driver)}, logx.Nop())
		t.Cleanup(func() { _ = st.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := st.Init(ctx)
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
			t.Fatalf("Init on canceled ctx err = %v", err)
		}

		if err := st.Init(context.Background()); err != nil {
			t.Fatalf("Init after cancel: %v", err)
		}
		if _, err := st.GetAll(context.Background()); err != nil {
			t.Fatalf("GetAll after cancel: %v", err)
		}
	})
}

func TestSaveRejectsUnrepresentableCreatedAt(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		st := openStore(t, Config{Driver: driver, Path: testPath(t, driver)})
		ctx := context.Background()

		for _, at := range []time.Time{
			time.Date(1500, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2300, time.January, 1, 0, 0, 0, 0, time.UTC),
		} {
			r := newRecord(t, "old")
			r.CreatedAt = at
			if err := st.Save(ctx, &r); !errors.Is(err, ErrWrite) {
				t.Fatalf("Save createdAt=%v err = %v, want ErrWrite", at, err)
			}
		}

		edge := time.Date(1700, time.March, 1, 0, 0, 0, 0, time.UTC)
		r := newRecord(t, "edge")
		r.CreatedAt = edge
		if err := st.Save(ctx, &r); err != nil {
			t.Fatalf("Save createdAt=%v: %v", edge, err)
		}
		recs, err := st.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 1 || !recs[0].CreatedAt.Equal(edge) {
			t.Fatalf("round trip lost createdAt: %+v", recs)
		}
	})
}

func TestFileJournalRecoversFromFailedAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, rolledBack := range []bool{true, false} {
		path := testPath(t, "file")
		st := New(Config{Driver: "file", Path: path}, logx.Nop())
		a := newRecord(t, "A")
		if err := st.Save(ctx, &a); err != nil {
			t.Fatalf("Save: %v", err)
		}
		be, _ := st.backend(ctx)
		fb := be.(*fileBackend)

		// A write that failed halfway leaves a partial line behind.
		info, err := fb.journalFile.Stat()
		if err != nil {
			t.Fatalf("stat journal: %v", err)
		}
		if _, err := fb.journalFile.Write([]byte(`{"op":"put","rec`)); err != nil {
			t.Fatalf("write partial line: %v", err)
		}
		fb.mu.Lock()
		if rolledBack {
			fb.rollbackLocked(info.Size())
		} else {
			fb.torn = true
		}
		fb.mu.Unlock()

		b := newRecord(t, "B")
		if err := st.Save(ctx, &b); err != nil {
			t.Fatalf("Save after failed append: %v", err)
		}
		// Drop the handle without compaction so reopening replays the journal.
		_ = fb.journalFile.Close()

		st2 := openStore(t, Config{Driver: "file", Path: path})
		recs, err := st2.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("rolledBack=%v: expected 2 records after replay, got %d", rolledBack, len(recs))
		}
	}
}
