package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/config"
)

const DatabasePingTimeout = 10

// schema holds the latest grading record per (user, problem).
const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	user_id     TEXT        NOT NULL,
	problem_key TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	passed      INTEGER     NOT NULL,
	total       INTEGER     NOT NULL,
	report      JSONB       NOT NULL,
	source_zstd BYTEA       NOT NULL,
	graded_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, problem_key)
);
CREATE INDEX IF NOT EXISTS submissions_problem_key_idx ON submissions (problem_key);
`

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

// queryLogger logs every statement at debug level.
type queryLogger struct {
	log *zerolog.Logger
}

type queryStartKey struct{}

func (q *queryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: time.Now()})
}

func (q *queryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	ev := q.log.Debug()
	if data.Err != nil {
		ev = q.log.Warn().Err(data.Err)
	}
	ev.Str("sql", start.sql).
		Int64("elapsed_ms", time.Since(start.at).Milliseconds()).
		Str("command", data.CommandTag.String()).
		Msg("query finished")
}

type queryStart struct {
	sql string
	at  time.Time
}

type multiTracer struct {
	tracers []any
}

func (mt *multiTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryStart(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryStartData,
			) context.Context
		}); ok {
			ctx = t.TraceQueryStart(ctx, conn, data)
		}
	}

	return ctx
}

func (mt *multiTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryEnd(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryEndData,
			)
		}); ok {
			t.TraceQueryEnd(ctx, conn, data)
		}
	}
}

// DSN builds a postgres URL from conf, escaping the credentials.
func DSN(conf config.DbConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conf.User, conf.Password),
		Host:     net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Path:     "/" + conf.Name,
		RawQuery: url.Values{"sslmode": {conf.SSLMode}}.Encode(),
	}
	return u.String()
}

func New(ctx context.Context, conf *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(DSN(conf.Db))

	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "grader"
	pgxPoolConfig.ConnConfig.Tracer = &multiTracer{tracers: []any{&queryLogger{log: log}}}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxPoolConfig)

	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection established")

	return &Database{Pool: pool, log: log}, nil
}

// EnsureSchema creates the tables the result store writes to.
func (db *Database) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	db.log.Info().Msg("database schema ready")
	return nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("Closing database connection pool")
	db.Pool.Close()
	return nil
}
