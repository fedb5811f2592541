// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS decision_log_archive (
//   id         TEXT PRIMARY KEY,
//   payload    JSONB NOT NULL,
//   archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );

// PostgresSink is the long-term archival sink for decision log entries
// that have aged out of the bounded Redis list, opt-in via the gateway's
// decision_log_sink flag. It exercises a connection pool the
// hot path never touches.
type PostgresSink struct {
	pool           *pgxpool.Pool
	defaultTimeout time.Duration
}

// NewPostgresSink opens a pooled connection to dsn.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres pool: %w", err)
	}
	return &PostgresSink{pool: pool, defaultTimeout: 10 * time.Second}, nil
}

// Write archives each entry in a single transaction. A retried entry
// (same id, e.g. after a crash mid-flush) is a no-op on conflict.
func (p *PostgresSink) Write(ctx context.Context, entries []Envelope) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO decision_log_archive(id, payload) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Payload); err != nil {
			return fmt.Errorf("archive decision %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Close releases the pool.
func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}
