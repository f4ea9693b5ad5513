package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteMigrations maps a target version to its script. Version 3 has a
// second, lossy script selected by UpgradeRecreate.
var sqliteMigrations = []struct {
	version  int
	file     string
	recreate string
}{
	{version: 1, file: "migrations/0001_customers.sql"},
	{version: 2, file: "migrations/0002_created_at.sql"},
	{version: 3, file: "migrations/0003_service_status.sql", recreate: "migrations/0003_service_status_recreate.sql"},
}

const customerColumns = `id, customer_name, vehicle_model, registration_number, purchase_date, created_at,
	service_first, service_second, service_third`

type sqliteBackend struct {
	db      *sql.DB
	log     logx.Logger
	upgrade string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (backend, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: every statement is serialized and each call is its own transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &sqliteBackend{db: db, log: log, upgrade: normalizeUpgrade(cfg.Upgrade)}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx, SchemaVersion); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// migrate upgrades the schema to target, one transaction per step.
func (s *sqliteBackend) migrate(ctx context.Context, target int) error {
	cur, err := s.version(ctx)
	if err != nil {
		return err
	}
	if cur > SchemaVersion {
		return fmt.Errorf("on-disk schema version %d is newer than supported %d", cur, SchemaVersion)
	}

	for _, m := range sqliteMigrations {
		if m.version <= cur || m.version > target {
			continue
		}
		file := m.file
		lossy := m.recreate != "" && s.upgrade == UpgradeRecreate && cur > 0
		if lossy {
			file = m.recreate
		}
		if err := s.applyMigration(ctx, m.version, file, lossy); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		s.log.Info("schema upgraded", logx.Int("from", cur), logx.Int("to", m.version), logx.String("script", filepath.Base(file)))
		cur = m.version
	}
	return nil
}

func (s *sqliteBackend) applyMigration(ctx context.Context, version int, file string, lossy bool) error {
	b, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if lossy {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			s.log.Warn("destructive schema upgrade: discarding stored customer records",
				logx.Int("records", n), logx.Int("to", version))
		}
	}

	if _, err := tx.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteBackend) version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *sqliteBackend) put(ctx context.Context, r customer.Record) (time.Time, error) {
	var created int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO customers(`+customerColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			customer_name=excluded.customer_name,
			vehicle_model=excluded.vehicle_model,
			registration_number=excluded.registration_number,
			purchase_date=excluded.purchase_date,
			service_first=excluded.service_first,
			service_second=excluded.service_second,
			service_third=excluded.service_third
		 RETURNING created_at`,
		r.ID, r.CustomerName, r.VehicleModel, r.RegistrationNumber, r.PurchaseDateString(), r.CreatedAt.UnixNano(),
		b2i(r.ServiceStatus.First), b2i(r.ServiceStatus.Second), b2i(r.ServiceStatus.Third),
	).Scan(&created)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, created).UTC(), nil
}

func (s *sqliteBackend) get(ctx context.Context, id string) (customer.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	r, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return customer.Record{}, false, nil
	}
	if err != nil {
		return customer.Record{}, false, err
	}
	return r, true, nil
}

func (s *sqliteBackend) all(ctx context.Context) ([]customer.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []customer.Record{}
	for rows.Next() {
		r, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	return err
}

func (s *sqliteBackend) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(sc rowScanner) (customer.Record, error) {
	var (
		r                    customer.Record
		purchase             string
		created              int64
		first, second, third int64
	)
	if err := sc.Scan(&r.ID, &r.CustomerName, &r.VehicleModel, &r.RegistrationNumber, &purchase, &created,
		&first, &second, &third); err != nil {
		return customer.Record{}, err
	}
	pd, err := schedule.ParseDate(purchase)
	if err != nil {
		return customer.Record{}, fmt.Errorf("customer %s: %w", r.ID, err)
	}
	r.PurchaseDate = pd
	r.CreatedAt = time.Unix(0, created).UTC()
	r.ServiceStatus = customer.ServiceStatus{First: first != 0, Second: second != 0, Third: third != 0}
	return r, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
