/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package trace stores exchanged steps in a SQLite database so runs can be
// inspected and plotted after the simulator has gone away.
package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qiliang336/ns3-platform/internal/record"
)

var (
	// ErrStepNotFound is returned by Load for an unrecorded step.
	ErrStepNotFound = errors.New("step not recorded")
	// ErrOutOfRange is returned for an entity, field or action index
	// outside the record dimensions.
	ErrOutOfRange = errors.New("index out of range")
)

// Step is one recorded exchange.
type Step struct {
	Number      uint64
	RecordedAt  time.Time
	Observation record.ObservationRecord
	Action      record.ActionRecord
}

// Store is a step trace database. Record may be called from one goroutine
// while others read.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
}

// Open opens or creates the trace database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	if err := configureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace schema: %w", err)
	}

	insert, err := db.Prepare(`
		INSERT OR REPLACE INTO steps (step, recorded_at, observation, action)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &Store{db: db, insert: insert, path: path}, nil
}

func configureDatabase(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func initializeSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS steps (
		step        INTEGER PRIMARY KEY,
		recorded_at INTEGER NOT NULL,
		observation BLOB NOT NULL,
		action      BLOB NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Record stores one step, replacing an earlier row with the same number.
func (s *Store) Record(ctx context.Context, step uint64, at time.Time, obs *record.ObservationRecord, act *record.ActionRecord) error {
	obsBlob, err := obs.MarshalBinary()
	if err != nil {
		return err
	}
	actBlob, err := act.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.insert.ExecContext(ctx, int64(step), at.UnixNano(), obsBlob, actBlob); err != nil {
		return fmt.Errorf("record step %d: %w", step, err)
	}
	return nil
}

// Load returns a recorded step.
func (s *Store) Load(ctx context.Context, step uint64) (*Step, error) {
	var (
		at      int64
		obsBlob []byte
		actBlob []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT recorded_at, observation, action FROM steps WHERE step = ?`, int64(step),
	).Scan(&at, &obsBlob, &actBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("step %d: %w", step, ErrStepNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load step %d: %w", step, err)
	}

	out := &Step{Number: step, RecordedAt: time.Unix(0, at)}
	if err := out.Observation.UnmarshalBinary(obsBlob); err != nil {
		return nil, fmt.Errorf("step %d observation: %w", step, err)
	}
	if err := out.Action.UnmarshalBinary(actBlob); err != nil {
		return nil, fmt.Errorf("step %d action: %w", step, err)
	}
	return out, nil
}

// Steps returns the recorded step numbers in ascending order.
func (s *Store) Steps(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step FROM steps ORDER BY step`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []uint64
	for rows.Next() {
		var step int64
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, uint64(step))
	}
	return steps, rows.Err()
}

// Series returns one observation statistic of one entity across all
// recorded steps, in step order.
func (s *Store) Series(ctx context.Context, entity, field int) ([]float64, error) {
	if entity < 0 || entity >= record.Entities || field < 0 || field >= record.ObservationFields {
		return nil, fmt.Errorf("entity %d field %d: %w", entity, field, ErrOutOfRange)
	}
	var obs record.ObservationRecord
	return s.series(ctx, "observation", func(blob []byte) (float64, error) {
		if err := obs.UnmarshalBinary(blob); err != nil {
			return 0, err
		}
		return obs.IMSIStats[entity][field], nil
	})
}

// ActionSeries returns one action code of one entity across all recorded
// steps, in step order.
func (s *Store) ActionSeries(ctx context.Context, entity, code int) ([]float64, error) {
	if entity < 0 || entity >= record.Entities || code < 0 || code >= record.ActionCodes {
		return nil, fmt.Errorf("entity %d code %d: %w", entity, code, ErrOutOfRange)
	}
	var act record.ActionRecord
	return s.series(ctx, "action", func(blob []byte) (float64, error) {
		if err := act.UnmarshalBinary(blob); err != nil {
			return 0, err
		}
		return float64(act.Actions[entity][code]), nil
	})
}

func (s *Store) series(ctx context.Context, column string, value func([]byte) (float64, error)) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step, `+column+` FROM steps ORDER BY step`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var (
			step int64
			blob []byte
		)
		if err := rows.Scan(&step, &blob); err != nil {
			return nil, err
		}
		v, err := value(blob)
		if err != nil {
			return nil, fmt.Errorf("step %d %s: %w", step, column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	s.insert.Close()
	return s.db.Close()
}
