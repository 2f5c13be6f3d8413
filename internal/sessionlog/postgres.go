package sessionlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS voice_sessions (
    id          BIGSERIAL    PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL
);

CREATE TABLE IF NOT EXISTS voice_session_turns (
    session_id  BIGINT  NOT NULL REFERENCES voice_sessions (id) ON DELETE CASCADE,
    seq         INT     NOT NULL,
    role        TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_voice_sessions_started_at
    ON voice_sessions (started_at);`

// PostgresLogger mirrors session records into PostgreSQL. Each record becomes
// one voice_sessions row plus one voice_session_turns row per turn, written in
// a single transaction.
//
// All methods are safe for concurrent use.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresLogger connects to dsn, verifies the connection and creates the
// tables if they do not exist. Call [PostgresLogger.Close] when done.
func NewPostgresLogger(ctx context.Context, dsn string) (*PostgresLogger, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionlog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionlog: migrate: %w", err)
	}
	return &PostgresLogger{pool: pool}, nil
}

// Log implements [Logger].
func (p *PostgresLogger) Log(ctx context.Context, rec Record) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO voice_sessions (started_at, ended_at) VALUES ($1, $2) RETURNING id`,
			rec.StartedAt, rec.EndedAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"voice_session_turns"},
			[]string{"session_id", "seq", "role", "content"},
			pgx.CopyFromSlice(len(rec.Turns), func(i int) ([]any, error) {
				t := rec.Turns[i]
				return []any{id, int32(i), string(t.Role), t.Content}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy turns: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessionlog: postgres: %w", err)
	}
	return nil
}

// Check pings the database. It is used by the readiness endpoint.
func (p *PostgresLogger) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (p *PostgresLogger) Close() {
	p.pool.Close()
}
