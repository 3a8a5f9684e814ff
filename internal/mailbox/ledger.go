// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mailbox

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Ledger is a small sqlite-backed run record: the error each core raised
// (spec.md §7's "Error from core <id>: <message>") and the elapsed wall
// time per core (device-support.c's gettimeofday-snapshot-at-activation
// feature, supplemented per SPEC_FULL.md, surfaced when displayTiming is
// set). Grounded on the teacher's internal/repository sqlx-over-sqlite3
// connection pattern, simplified to the single open connection sqlite
// itself requires and without the teacher's sqlhooks tracing layer (see
// DESIGN.md's dropped-dependency ledger — two fixed tables need no
// query-hook middleware).
type Ledger struct {
	db *sqlx.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS core_errors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	core_id    INTEGER NOT NULL,
	message    TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS core_timing (
	core_id    INTEGER PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	stopped_at TIMESTAMP,
	elapsed_ms INTEGER
);
`

// OpenLedger opens (creating if necessary) the sqlite database at path
// and ensures the ledger's two tables exist.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("mailbox: open ledger: %w", err)
	}
	// sqlite does not multithread; more than one connection just waits on
	// locks, matching the teacher's repository.Connect discipline.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mailbox: create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (l *Ledger) Close() error { return l.db.Close() }

// RecordError appends one "Error from core N" entry (spec.md §7).
func (l *Ledger) RecordError(coreID int, message string) error {
	_, err := l.db.Exec(
		`INSERT INTO core_errors (core_id, message, occurred_at) VALUES (?, ?, ?)`,
		coreID, message, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("mailbox: record error for core %d: %w", coreID, err)
	}
	return nil
}

// RecordStart stamps a core's activation time, mirroring
// device-support.c's gettimeofday snapshot taken at startApplicableCores.
func (l *Ledger) RecordStart(coreID int, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO core_timing (core_id, started_at) VALUES (?, ?)
		 ON CONFLICT(core_id) DO UPDATE SET started_at = excluded.started_at, stopped_at = NULL, elapsed_ms = NULL`,
		coreID, at,
	)
	if err != nil {
		return fmt.Errorf("mailbox: record start for core %d: %w", coreID, err)
	}
	return nil
}

// RecordStop stamps a core's deactivation time and elapsed duration,
// printed when displayTiming is configured (spec.md §4.4 "Active
// tracking").
func (l *Ledger) RecordStop(coreID int, at time.Time, elapsed time.Duration) error {
	_, err := l.db.Exec(
		`UPDATE core_timing SET stopped_at = ?, elapsed_ms = ? WHERE core_id = ?`,
		at, elapsed.Milliseconds(), coreID,
	)
	if err != nil {
		return fmt.Errorf("mailbox: record stop for core %d: %w", coreID, err)
	}
	return nil
}

// CoreError is one recorded error row, returned by Errors for reporting.
type CoreError struct {
	CoreID     int       `db:"core_id"`
	Message    string    `db:"message"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Errors returns every recorded error, oldest first.
func (l *Ledger) Errors() ([]CoreError, error) {
	var out []CoreError
	if err := l.db.Select(&out, `SELECT core_id, message, occurred_at FROM core_errors ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("mailbox: query ledger errors: %w", err)
	}
	return out, nil
}
