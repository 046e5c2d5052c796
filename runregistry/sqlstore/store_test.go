/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/issueagent/runregistry"
	"chainguard.dev/issueagent/runregistry/sqlstore"
	"chainguard.dev/issueagent/runregistry/storetest"
)

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, staleAfter time.Duration, now func() time.Time) runregistry.Store {
		dsn := filepath.Join(t.TempDir(), "runs.db")
		s, err := sqlstore.Open(context.Background(), sqlstore.SQLite, dsn, sqlstore.WithStaleAfter(staleAfter), sqlstore.WithClock(now))
		if err != nil {
			t.Fatalf("Open() = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestPostgres runs against the database in REGISTRY_TEST_POSTGRES_DSN.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("REGISTRY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REGISTRY_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T, staleAfter time.Duration, now func() time.Time) runregistry.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.Postgres, dsn, sqlstore.WithStaleAfter(staleAfter), sqlstore.WithClock(now))
		if err != nil {
			t.Fatalf("Open() = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		// Tests share the database; start each from empty tables.
		for _, table := range []string{"runs", "installations", "installation_usage"} {
			if _, err := s.DB().Exec("DELETE FROM " + table); err != nil {
				t.Fatalf("truncating %s: %v", table, err)
			}
		}
		return s
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := sqlstore.Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Error("Open(mysql) = nil error")
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "runs.db")
	for range 2 {
		s, err := sqlstore.Open(ctx, sqlstore.SQLite, dsn)
		if err != nil {
			t.Fatalf("Open() = %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close() = %v", err)
		}
	}
}
