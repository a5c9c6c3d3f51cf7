package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metagram-net/metagram.net-sub000/internal/config"
	"github.com/metagram-net/metagram.net-sub000/internal/feed"
	"github.com/metagram-net/metagram.net-sub000/internal/jobs"
	"github.com/metagram-net/metagram.net-sub000/internal/queue"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// runtime is everything a database-backed subcommand needs.
type runtime struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *store.Store
	queue *queue.Queue
}

func (rt *runtime) Close() { rt.pool.Close() }

// setup loads config, installs the default logger, connects to Postgres and
// builds the task registry.
func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	reg := jobs.NewRegistry(jobs.Deps{
		Fetcher:   newFetcher(cfg),
		Retention: cfg.JobRetention,
	})
	slog.Debug("task registry built", "kinds", reg.Kinds())
	return &runtime{
		cfg:   cfg,
		pool:  pool,
		store: store.New(pool),
		queue: queue.New(reg),
	}, nil
}

// newFetcher builds the feed fetcher. Private addresses are refused unless
// development mode explicitly allows them (a local test feed, for example).
func newFetcher(cfg *config.Config) *feed.HTTPFetcher {
	client := feed.BuildSafeClient(cfg.FeedFetchTimeout)
	if cfg.AllowPrivateFeedHosts() {
		slog.Warn("feed SSRF protection disabled (development only)")
		client = &http.Client{Timeout: cfg.FeedFetchTimeout}
	}
	return feed.NewHTTPFetcher(client, feed.Config{
		UserAgent: cfg.FeedUserAgent,
		MaxBytes:  cfg.FeedMaxBytes,
	})
}

// newPool creates and validates a pgxpool with PgBouncer compatibility,
// a statement timeout and pool sizing from config.
//
// Retries up to 10 times with linear backoff to handle the Docker Compose
// startup race where Postgres is not immediately ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PgBouncer transaction-pooling compatibility.
	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) so the timer is released if ctx
		// is cancelled first.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}

	// Catch deployments where migrations haven't been applied yet.
	var schemaVersion int
	err = db.QueryRow(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&schemaVersion)
	if err == nil && schemaVersion != expectedSchemaVersion {
		slog.Warn("schema version mismatch, run `metagram migrate`",
			"applied_version", schemaVersion,
			"expected_version", expectedSchemaVersion,
		)
	}

	return db, nil
}

// expectedSchemaVersion is the database migration version this binary requires.
// Update this constant when new migrations are added.
const expectedSchemaVersion = 1

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
