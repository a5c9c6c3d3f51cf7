// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/metagram-net/metagram.net-sub000/internal/store"
	"github.com/metagram-net/metagram.net-sub000/migrations"
)

// NewTestDB starts a Postgres testcontainer, runs all migrations, and returns
// a Store backed by it. The container and pool are cleaned up via t.Cleanup.
// Tests calling it are skipped under -short.
func NewTestDB(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in -short mode")
	}
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("metagram_test"),
		tcpostgres.WithUsername("metagram_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	// Same pattern as the migrate command in cmd/metagram.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse db url: %v", err)
	}
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		t.Fatalf("migration driver: %v", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	return store.New(pool)
}

// CreateUser inserts a user with a unique address and fails the test on error.
func CreateUser(t *testing.T, s *store.Store) *store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), uuid.NewString()+"@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// CreateHydrant inserts an active hydrant for u pointing at url.
func CreateHydrant(t *testing.T, s *store.Store, u *store.User, url string, tags ...store.TagSelector) *store.Hydrant {
	t.Helper()
	h, err := s.CreateHydrant(context.Background(), u.ID, store.CreateHydrantParams{
		Name:   "Feed " + uuid.NewString()[:8],
		URL:    url,
		Active: true,
		Tags:   tags,
	})
	if err != nil {
		t.Fatalf("CreateHydrant: %v", err)
	}
	return h
}

// FixedClock returns a func always reporting t, truncated to the microsecond
// precision Postgres stores.
func FixedClock(t time.Time) func() time.Time {
	t = t.UTC().Truncate(time.Microsecond)
	return func() time.Time { return t }
}
