/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package badgerstore implements runregistry.Store on an embedded Badger
// database. Every mutation is a read-modify-write transaction retried on
// conflict, which makes StartIfAbsent atomic within one process.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"chainguard.dev/issueagent/runregistry"
	"github.com/chainguard-dev/clog"
	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds the retries of a conflicting transaction.
const maxConflictRetries = 16

const (
	runPrefix          = "run/"
	installationPrefix = "installation/"
	usagePrefix        = "usage/"
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

// Store is a runregistry.Store backed by Badger.
type Store struct {
	db         *badger.DB
	staleAfter time.Duration
	now        func() time.Time
}

var _ runregistry.Store = (*Store)(nil)

// Open opens or creates a database in dir. An empty dir opens an in-memory
// database.
func Open(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	var bo badger.Options
	if dir == "" {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		bo = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	bo = bo.WithNumVersionsToKeep(1).WithLogger(&logger{ctx: ctx})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	s := &Store{
		db:         db,
		staleAfter: runregistry.DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt == maxConflictRetries {
			return fmt.Errorf("transaction failed after %d conflict retries: %w", attempt, err)
		}
		clog.FromContext(ctx).With("attempt", attempt).Debug("Retrying conflicting transaction")
	}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func int64Key(prefix string, id int64) []byte {
	return []byte(prefix + strconv.FormatInt(id, 10))
}

// get decodes the value at key into v and reports whether it existed.
func get(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func set(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// StartIfAbsent implements runregistry.Store.
func (s *Store) StartIfAbsent(ctx context.Context, runID string, installationID int64) (bool, error) {
	var started bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		started = false
		var cur runregistry.Run
		ok, err := get(txn, runKey(runID), &cur)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if ok && cur.Status == runregistry.StatusInProgress && !cur.Stale(now, s.staleAfter) {
			return nil
		}
		if ok && cur.Status == runregistry.StatusInProgress {
			clog.FromContext(ctx).With("run_id", runID).With("updated_at", cur.UpdatedAt).Warn("Taking over stale run")
		}
		started = true
		return set(txn, runKey(runID), runregistry.Run{
			ID:             runID,
			InstallationID: installationID,
			Status:         runregistry.StatusInProgress,
			StartedAt:      now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		return false, fmt.Errorf("starting run %s: %w", runID, err)
	}
	return started, nil
}

// modify applies fn to an existing run.
func (s *Store) modify(ctx context.Context, runID string, fn func(*runregistry.Run) error) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var r runregistry.Run
		ok, err := get(txn, runKey(runID), &r)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", runID, runregistry.ErrNotFound)
		}
		if err := fn(&r); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		return set(txn, runKey(runID), r)
	})
}

// SetProgress implements runregistry.Store.
func (s *Store) SetProgress(ctx context.Context, runID string, percent int) error {
	if err := runregistry.ValidateProgress(percent); err != nil {
		return err
	}
	return s.modify(ctx, runID, func(r *runregistry.Run) error {
		if r.Status != runregistry.StatusInProgress {
			return fmt.Errorf("run %s is %s", runID, r.Status)
		}
		r.Progress = percent
		return nil
	})
}

// Finish implements runregistry.Store.
func (s *Store) Finish(ctx context.Context, runID string, status runregistry.Status, reason string) error {
	if err := runregistry.ValidateFinish(status); err != nil {
		return err
	}
	return s.modify(ctx, runID, func(r *runregistry.Run) error {
		r.Status = status
		r.Reason = reason
		if status == runregistry.StatusCompleted {
			r.Progress = 100
		}
		return nil
	})
}

// MarkMerged implements runregistry.Store.
func (s *Store) MarkMerged(ctx context.Context, runID string) error {
	return s.modify(ctx, runID, func(r *runregistry.Run) error {
		r.Merged = true
		return nil
	})
}

// Get implements runregistry.Store.
func (s *Store) Get(_ context.Context, runID string) (*runregistry.Run, error) {
	var r runregistry.Run
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := get(txn, runKey(runID), &r)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", runID, runregistry.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List implements runregistry.Store.
func (s *Store) List(_ context.Context, limit int) ([]runregistry.Run, error) {
	var runs []runregistry.Run
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(runPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r runregistry.Run
			if err := it.Item().Value(func(b []byte) error {
				return json.Unmarshal(b, &r)
			}); err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) bumpUsage(ctx context.Context, installationID int64, fn func(*runregistry.Usage)) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var u runregistry.Usage
		if _, err := get(txn, int64Key(usagePrefix, installationID), &u); err != nil {
			return err
		}
		fn(&u)
		return set(txn, int64Key(usagePrefix, installationID), u)
	})
}

// IncrementRequests implements runregistry.Store.
func (s *Store) IncrementRequests(ctx context.Context, installationID int64) error {
	return s.bumpUsage(ctx, installationID, func(u *runregistry.Usage) { u.Requests++ })
}

// IncrementCompleted implements runregistry.Store.
func (s *Store) IncrementCompleted(ctx context.Context, installationID int64) error {
	return s.bumpUsage(ctx, installationID, func(u *runregistry.Usage) { u.Completed++ })
}

// Usage implements runregistry.Store.
func (s *Store) Usage(_ context.Context, installationID int64) (runregistry.Usage, error) {
	var u runregistry.Usage
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := get(txn, int64Key(usagePrefix, installationID), &u)
		return err
	})
	return u, err
}

// SaveInstallation implements runregistry.Store.
func (s *Store) SaveInstallation(ctx context.Context, inst runregistry.Installation) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.now().UTC()
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return set(txn, int64Key(installationPrefix, inst.ID), inst)
	})
}

// DeleteInstallation implements runregistry.Store. Usage counters are kept.
func (s *Store) DeleteInstallation(ctx context.Context, installationID int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(int64Key(installationPrefix, installationID))
	})
}

// Installation implements runregistry.Store.
func (s *Store) Installation(_ context.Context, installationID int64) (*runregistry.Installation, error) {
	var inst runregistry.Installation
	var ok bool
	err := s.db.View(func(txn *badger.Txn) (err error) {
		ok, err = get(txn, int64Key(installationPrefix, installationID), &inst)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

// logger routes Badger's logs to clog at debug level, warnings and errors
// at their own level.
type logger struct {
	ctx context.Context
}

func (l *logger) Errorf(format string, args ...any) {
	clog.FromContext(l.ctx).Errorf("badger: "+format, args...)
}

func (l *logger) Warningf(format string, args ...any) {
	clog.FromContext(l.ctx).Warnf("badger: "+format, args...)
}

func (l *logger) Infof(format string, args ...any) {
	clog.FromContext(l.ctx).Debugf("badger: "+format, args...)
}

func (l *logger) Debugf(format string, args ...any) {
	clog.FromContext(l.ctx).Debugf("badger: "+format, args...)
}
