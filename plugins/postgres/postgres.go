// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package postgres stores the cluster tables and the actor state in a
// PostgreSQL database shared by every silo.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/atomic"

	gerrors "github.com/jt7sku/koonti/errors"
)

const (
	membershipTable = "koonti_membership"
	reminderTable   = "koonti_reminders"
	stateTable      = "koonti_actor_state"
	activationTable = "koonti_activations"
	topicTable      = "koonti_stream_topics"
	eventTable      = "koonti_stream_events"
	offsetTable     = "koonti_stream_offsets"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS koonti_membership (
		cluster_id      TEXT        NOT NULL,
		silo_id         TEXT        NOT NULL,
		name            TEXT        NOT NULL,
		address         TEXT        NOT NULL,
		gateway_address TEXT        NOT NULL,
		generation      BIGINT      NOT NULL,
		status          INTEGER     NOT NULL,
		started_at      TIMESTAMPTZ NOT NULL,
		last_heartbeat  TIMESTAMPTZ NOT NULL,
		suspicions      JSONB       NOT NULL DEFAULT '[]',
		version         BIGINT      NOT NULL,
		PRIMARY KEY (cluster_id, silo_id)
	)`,
	`CREATE TABLE IF NOT EXISTS koonti_reminders (
		actor_type TEXT        NOT NULL,
		actor_key  TEXT        NOT NULL,
		name       TEXT        NOT NULL,
		due_time   TIMESTAMPTZ NOT NULL,
		period_ms  BIGINT      NOT NULL,
		PRIMARY KEY (actor_type, actor_key, name)
	)`,
	`CREATE INDEX IF NOT EXISTS koonti_reminders_due_time ON koonti_reminders (due_time)`,
	`CREATE TABLE IF NOT EXISTS koonti_actor_state (
		actor_type TEXT        NOT NULL,
		actor_key  TEXT        NOT NULL,
		payload    BYTEA       NOT NULL,
		version    BIGINT      NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (actor_type, actor_key)
	)`,
	`CREATE TABLE IF NOT EXISTS koonti_activations (
		actor_type    TEXT        NOT NULL,
		actor_key     TEXT        NOT NULL,
		silo_id       TEXT        NOT NULL,
		generation    BIGINT      NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (actor_type, actor_key)
	)`,
	`CREATE INDEX IF NOT EXISTS koonti_activations_silo_id ON koonti_activations (silo_id)`,
	`CREATE TABLE IF NOT EXISTS koonti_stream_topics (
		topic         TEXT   PRIMARY KEY,
		last_sequence BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS koonti_stream_events (
		topic        TEXT        NOT NULL,
		sequence     BIGINT      NOT NULL,
		payload      BYTEA       NOT NULL,
		published_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (topic, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS koonti_stream_offsets (
		topic      TEXT   NOT NULL,
		actor_type TEXT   NOT NULL,
		actor_key  TEXT   NOT NULL,
		sequence   BIGINT NOT NULL,
		PRIMARY KEY (topic, actor_type, actor_key)
	)`,
}

// DB is a connection pool to the database holding the koonti tables.
type DB struct {
	pool      *pgxpool.Pool
	sb        sq.StatementBuilderType
	connected *atomic.Bool
}

// Connect opens a pool on the given connection string and pings it.
func Connect(ctx context.Context, connectionString string) (*DB, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database connection: %w", err)
	}

	return &DB{
		pool:      pool,
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		connected: atomic.NewBool(true),
	}, nil
}

// Migrate creates the koonti tables when they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if !d.connected.Load() {
		return gerrors.ErrClosed
	}
	for _, statement := range schema {
		if _, err := d.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("postgres: failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (d *DB) Close() {
	if d.connected.Swap(false) {
		d.pool.Close()
	}
}

// exec runs a statement and returns the number of affected rows.
func (d *DB) exec(ctx context.Context, statement sq.Sqlizer) (int64, error) {
	if !d.connected.Load() {
		return 0, gerrors.ErrClosed
	}
	query, args, err := statement.ToSql()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to build the sql statement: %w", err)
	}
	tag, err := d.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// selectAll scans every row into dst.
func (d *DB) selectAll(ctx context.Context, dst any, statement sq.Sqlizer) error {
	if !d.connected.Load() {
		return gerrors.ErrClosed
	}
	query, args, err := statement.ToSql()
	if err != nil {
		return fmt.Errorf("postgres: failed to build the sql statement: %w", err)
	}
	return pgxscan.Select(ctx, d.pool, dst, query, args...)
}

// selectOne scans one row into dst and reports whether it existed.
func (d *DB) selectOne(ctx context.Context, dst any, statement sq.Sqlizer) (bool, error) {
	if !d.connected.Load() {
		return false, gerrors.ErrClosed
	}
	query, args, err := statement.ToSql()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to build the sql statement: %w", err)
	}
	if err := pgxscan.Get(ctx, d.pool, dst, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
