package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// State values recorded for a synchronizer pass.
const (
	StateInitial    = "INITIAL"
	StateInProgress = "IN_PROGRESS"
	StateSuccessful = "SUCCESSFUL"
	StateFailed     = "FAILED"
	StateSkipped    = "SKIPPED"
)

// SynchronizerState is the latest pass result of one synchronizer.
type SynchronizerState struct {
	Name           string    `json:"name" yaml:"name"`
	State          string    `json:"state" yaml:"state"`
	Message        string    `json:"message,omitempty" yaml:"message,omitempty"`
	RunID          string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	FirstTriggered time.Time `json:"first_triggered" yaml:"first_triggered"`
	LastTriggered  time.Time `json:"last_triggered" yaml:"last_triggered"`
	LastFinished   time.Time `json:"last_finished,omitempty" yaml:"last_finished,omitempty"`
}

// StateLogEntry is one row of the synchronizer state history.
type StateLogEntry struct {
	ID       int64     `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	State    string    `json:"state" yaml:"state"`
	Message  string    `json:"message,omitempty" yaml:"message,omitempty"`
	RunID    string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	LoggedAt time.Time `json:"logged_at" yaml:"logged_at"`
}

// RecordSynchronizerState upserts the state row of name and appends an
// entry to the state log. Both writes happen in one transaction.
//
// last_finished is only stamped for states that end a pass.
func (s *Store) RecordSynchronizerState(ctx context.Context, name, state, message, runID string) error {
	now := s.timestamp()
	finished := ""
	if state != StateInProgress && state != StateInitial {
		finished = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO synchronizer_state (name, state, message, run_id, first_triggered, last_triggered, last_finished)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			message = excluded.message,
			run_id = excluded.run_id,
			last_triggered = CASE WHEN excluded.state = 'IN_PROGRESS' THEN excluded.last_triggered ELSE synchronizer_state.last_triggered END,
			last_finished = CASE WHEN excluded.last_finished != '' THEN excluded.last_finished ELSE synchronizer_state.last_finished END
	`, name, state, message, runID, now, now, finished)
	if err != nil {
		return fmt.Errorf("record state %s: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO synchronizer_state_log (name, state, message, run_id, logged_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, state, message, runID, now)
	if err != nil {
		return fmt.Errorf("append state log %s: %w", name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state %s: %w", name, err)
	}
	return nil
}

// SynchronizerState returns the latest state of name.
// Returns nil (and no error) if the synchronizer never ran.
func (s *Store) SynchronizerState(ctx context.Context, name string) (*SynchronizerState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, state, message, run_id, first_triggered, last_triggered, last_finished
		FROM synchronizer_state
		WHERE name = ?
	`, name)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", name, err)
	}
	return st, nil
}

// ListSynchronizerStates returns every state row ordered by name.
func (s *Store) ListSynchronizerStates(ctx context.Context) ([]SynchronizerState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, state, message, run_id, first_triggered, last_triggered, last_finished
		FROM synchronizer_state
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	states := []SynchronizerState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return states, nil
}

// SynchronizerStateLog returns the most recent log entries of name, newest
// first. A limit of zero or less returns the whole history.
func (s *Store) SynchronizerStateLog(ctx context.Context, name string, limit int) ([]StateLogEntry, error) {
	query := `
		SELECT id, name, state, message, run_id, logged_at
		FROM synchronizer_state_log
		WHERE name = ?
		ORDER BY id DESC`
	args := []any{name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query state log: %w", err)
	}
	defer rows.Close()

	entries := []StateLogEntry{}
	for rows.Next() {
		var (
			e      StateLogEntry
			logged string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.State, &e.Message, &e.RunID, &logged); err != nil {
			return nil, fmt.Errorf("scan state log: %w", err)
		}
		if e.LoggedAt, err = parseTime(logged); err != nil {
			return nil, fmt.Errorf("state log %d logged_at: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state log: %w", err)
	}
	return entries, nil
}

func scanState(row scanner) (*SynchronizerState, error) {
	var (
		st                        SynchronizerState
		first, last, lastFinished string
	)
	if err := row.Scan(&st.Name, &st.State, &st.Message, &st.RunID, &first, &last, &lastFinished); err != nil {
		return nil, err
	}
	var err error
	if st.FirstTriggered, err = parseTime(first); err != nil {
		return nil, err
	}
	if st.LastTriggered, err = parseTime(last); err != nil {
		return nil, err
	}
	if st.LastFinished, err = parseTime(lastFinished); err != nil {
		return nil, err
	}
	return &st, nil
}
