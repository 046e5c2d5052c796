/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sqlstore implements runregistry.Store on PostgreSQL (lib/pq) or
// SQLite (modernc.org/sqlite). StartIfAbsent is a single conditional
// upsert, so mutual exclusion holds across replicas sharing a database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chainguard.dev/issueagent/runregistry"
	"github.com/chainguard-dev/clog"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Driver names accepted by Open.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Option configures a Store.
type Option func(*Store) error

// WithStaleAfter sets how long an in-progress run may go without updates
// before StartIfAbsent takes it over. Zero disables takeover.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return errors.New("stale-after cannot be negative")
		}
		s.staleAfter = d
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// Store is a runregistry.Store backed by database/sql.
type Store struct {
	db         *sql.DB
	driver     string
	staleAfter time.Duration
	now        func() time.Time
}

var _ runregistry.Store = (*Store)(nil)

// Open connects to dsn with driver, verifies connectivity and applies the
// schema migrations.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if driver != Postgres && driver != SQLite {
		return nil, fmt.Errorf("unsupported driver %q, want %q or %q", driver, Postgres, SQLite)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if driver == SQLite {
		// SQLite allows one writer; a single connection serializes them.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{
		db:         db,
		driver:     driver,
		staleAfter: runregistry.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	clog.FromContext(ctx).With("driver", driver).Info("Run registry ready")
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) stamp() int64 {
	return s.now().UTC().UnixNano()
}

// StartIfAbsent implements runregistry.Store.
func (s *Store) StartIfAbsent(ctx context.Context, runID string, installationID int64) (bool, error) {
	now := s.stamp()
	// A stale-after of zero disables takeover; no updated_at is below zero.
	staleBefore := int64(-1)
	if s.staleAfter > 0 {
		staleBefore = now - s.staleAfter.Nanoseconds()
	}
	res, err := s.exec(ctx, `
		INSERT INTO runs (id, installation_id, status, progress, reason, merged, started_at, updated_at)
		VALUES (?, ?, 'in_progress', 0, '', FALSE, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			installation_id = excluded.installation_id,
			status = 'in_progress',
			progress = 0,
			reason = '',
			merged = FALSE,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at
		WHERE runs.status <> 'in_progress' OR runs.updated_at <= ?`,
		runID, installationID, now, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("starting run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("starting run %s: %w", runID, err)
	}
	return n > 0, nil
}

// expectRow turns a zero-row update into ErrNotFound.
func expectRow(runID string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, runregistry.ErrNotFound)
	}
	return nil
}

// SetProgress implements runregistry.Store.
func (s *Store) SetProgress(ctx context.Context, runID string, percent int) error {
	if err := runregistry.ValidateProgress(percent); err != nil {
		return err
	}
	r, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != runregistry.StatusInProgress {
		return fmt.Errorf("run %s is %s", runID, r.Status)
	}
	res, err := s.exec(ctx, `UPDATE runs SET progress = ?, updated_at = ? WHERE id = ? AND status = 'in_progress'`, percent, s.stamp(), runID)
	return expectRow(runID, res, err)
}

// Finish implements runregistry.Store.
func (s *Store) Finish(ctx context.Context, runID string, status runregistry.Status, reason string) error {
	if err := runregistry.ValidateFinish(status); err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE runs SET status = ?, reason = ?, updated_at = ?,
			progress = CASE WHEN ? THEN 100 ELSE progress END
		WHERE id = ?`,
		string(status), reason, s.stamp(), status == runregistry.StatusCompleted, runID)
	return expectRow(runID, res, err)
}

// MarkMerged implements runregistry.Store.
func (s *Store) MarkMerged(ctx context.Context, runID string) error {
	res, err := s.exec(ctx, `UPDATE runs SET merged = TRUE, updated_at = ? WHERE id = ?`, s.stamp(), runID)
	return expectRow(runID, res, err)
}

const runColumns = `id, installation_id, status, progress, reason, merged, started_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (runregistry.Run, error) {
	var (
		r                runregistry.Run
		status           string
		started, updated int64
	)
	if err := sc.Scan(&r.ID, &r.InstallationID, &status, &r.Progress, &r.Reason, &r.Merged, &started, &updated); err != nil {
		return runregistry.Run{}, err
	}
	r.Status = runregistry.Status(status)
	r.StartedAt = time.Unix(0, started).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

// Get implements runregistry.Store.
func (s *Store) Get(ctx context.Context, runID string) (*runregistry.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, runregistry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// List implements runregistry.Store.
func (s *Store) List(ctx context.Context, limit int) ([]runregistry.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []runregistry.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// IncrementRequests implements runregistry.Store.
func (s *Store) IncrementRequests(ctx context.Context, installationID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO installation_usage (installation_id, requests, completed) VALUES (?, 1, 0)
		ON CONFLICT (installation_id) DO UPDATE SET requests = installation_usage.requests + 1`,
		installationID)
	if err != nil {
		return fmt.Errorf("increment requests: %w", err)
	}
	return nil
}

// IncrementCompleted implements runregistry.Store.
func (s *Store) IncrementCompleted(ctx context.Context, installationID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO installation_usage (installation_id, requests, completed) VALUES (?, 0, 1)
		ON CONFLICT (installation_id) DO UPDATE SET completed = installation_usage.completed + 1`,
		installationID)
	if err != nil {
		return fmt.Errorf("increment completed: %w", err)
	}
	return nil
}

// Usage implements runregistry.Store.
func (s *Store) Usage(ctx context.Context, installationID int64) (runregistry.Usage, error) {
	var u runregistry.Usage
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT requests, completed FROM installation_usage WHERE installation_id = ?`), installationID,
	).Scan(&u.Requests, &u.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return runregistry.Usage{}, nil
	}
	if err != nil {
		return runregistry.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// SaveInstallation implements runregistry.Store.
func (s *Store) SaveInstallation(ctx context.Context, inst runregistry.Installation) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO installations (id, account, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET account = excluded.account`,
		inst.ID, inst.Account, inst.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	return nil
}

// DeleteInstallation implements runregistry.Store. Usage counters are kept.
func (s *Store) DeleteInstallation(ctx context.Context, installationID int64) error {
	if _, err := s.exec(ctx, `DELETE FROM installations WHERE id = ?`, installationID); err != nil {
		return fmt.Errorf("delete installation: %w", err)
	}
	return nil
}

// Installation implements runregistry.Store.
func (s *Store) Installation(ctx context.Context, installationID int64) (*runregistry.Installation, error) {
	var (
		inst    runregistry.Installation
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, account, created_at FROM installations WHERE id = ?`), installationID,
	).Scan(&inst.ID, &inst.Account, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}
	inst.CreatedAt = time.Unix(0, created).UTC()
	return &inst, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}
