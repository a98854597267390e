package store

import (
	"context"
	"fmt"
	"time"
)

// PublishLogEntry records one publish or unpublish operation.
type PublishLogEntry struct {
	ID       int64     `json:"id" yaml:"id"`
	Command  string    `json:"command" yaml:"command"`
	Source   string    `json:"source" yaml:"source"`
	Target   string    `json:"target" yaml:"target"`
	LoggedAt time.Time `json:"logged_at" yaml:"logged_at"`
}

// WritePublishLog appends a publish log entry.
func (s *Store) WritePublishLog(ctx context.Context, command, source, target string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_log (command, source, target, logged_at)
		VALUES (?, ?, ?, ?)
	`, command, source, target, s.timestamp())
	if err != nil {
		return fmt.Errorf("write publish log: %w", err)
	}
	return nil
}

// PublishLog returns every publish log entry in insertion order.
func (s *Store) PublishLog(ctx context.Context) ([]PublishLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, source, target, logged_at
		FROM publish_log
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query publish log: %w", err)
	}
	defer rows.Close()

	entries := []PublishLogEntry{}
	for rows.Next() {
		var (
			e      PublishLogEntry
			logged string
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Source, &e.Target, &logged); err != nil {
			return nil, fmt.Errorf("scan publish log: %w", err)
		}
		if e.LoggedAt, err = parseTime(logged); err != nil {
			return nil, fmt.Errorf("publish log %d logged_at: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publish log: %w", err)
	}
	return entries, nil
}
