package recorder

import (
	"context"
	"fmt"
	"regexp"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Execer is the part of the pgx pool the sink uses
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresSink inserts one row per record
type PostgresSink struct {
	db     Execer
	table  string
	insert string
	logger *zap.Logger
}

// NewPostgresSink connects a pool, creates the table if needed and returns the sink
func NewPostgresSink(ctx context.Context, dsn, table string, logger *zap.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sink, err := NewPostgresSinkWithDB(pool, table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := sink.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkWithDB creates a sink on an existing connection
func NewPostgresSinkWithDB(db Execer, table string, logger *zap.Logger) (*PostgresSink, error) {
	if !tableName.MatchString(table) {
		return nil, apperrors.Configuration(fmt.Sprintf("invalid postgres table name %q", table), nil)
	}
	return &PostgresSink{
		db:     db,
		table:  table,
		insert: insertStatement(table),
		logger: logger,
	}, nil
}

func insertStatement(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			query_id, device_id, cpu_load, ram_usage, bandwidth, query_size,
			route, reason, outcome, cache_hit, latency_seconds, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, table)
}

// Migrate creates the records table when it does not exist
func (s *PostgresSink) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			query_id        TEXT NOT NULL,
			device_id       TEXT NOT NULL,
			cpu_load        DOUBLE PRECISION NOT NULL,
			ram_usage       DOUBLE PRECISION NOT NULL,
			bandwidth       DOUBLE PRECISION NOT NULL,
			query_size      SMALLINT NOT NULL,
			route           TEXT NOT NULL,
			reason          TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			cache_hit       BOOLEAN NOT NULL,
			latency_seconds DOUBLE PRECISION NOT NULL,
			recorded_at     TIMESTAMPTZ NOT NULL
		)
	`, s.table)

	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Name implements Sink
func (s *PostgresSink) Name() string { return "postgres" }

// Write implements Sink
func (s *PostgresSink) Write(ctx context.Context, rec model.QueryRecord) error {
	_, err := s.db.Exec(ctx, s.insert,
		rec.QueryID,
		rec.DeviceID,
		rec.Metrics.CPULoad,
		rec.Metrics.RAMUsage,
		rec.Metrics.Bandwidth,
		int(rec.Metrics.QuerySize),
		rec.Route.String(),
		string(rec.Reason),
		string(rec.Outcome),
		rec.CacheHit,
		rec.LatencySeconds,
		rec.RecordedAt,
	)
	if err != nil {
		return apperrors.SinkFailed(s.Name(), err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements Sink
func (s *PostgresSink) Close() error {
	s.db.Close()
	return nil
}
