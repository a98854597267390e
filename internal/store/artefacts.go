package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/converge/internal/artefact"
)

// Record is a persisted artefact row: metadata plus the canonical payload.
type Record struct {
	artefact.Artefact
	Payload []byte
}

const artefactColumns = `id, type, location, key, checksum, lifecycle, error, payload, created_at, updated_at`

// FindByKey returns the artefact stored under key.
// Returns nil (and no error) if no row exists.
func (s *Store) FindByKey(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+artefactColumns+`
		FROM artefacts
		WHERE key = ?
	`, key)

	rec, err := scanArtefact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find artefact %s: %w", key, err)
	}
	return rec, nil
}

// ListByType returns every artefact of the given type ordered by location.
// Returns an empty slice (not nil) when the type has no rows.
func (s *Store) ListByType(ctx context.Context, typ string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artefactColumns+`
		FROM artefacts
		WHERE type = ?
		ORDER BY location COLLATE BINARY ASC, key COLLATE BINARY ASC
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("query artefacts: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanArtefact(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artefacts: %w", err)
	}
	return records, nil
}

// Save inserts or updates the artefact identified by rec.Key.
// On return rec.ID and the timestamps reflect the stored row.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.Key == "" {
		return fmt.Errorf("save artefact %s: empty key", rec.Location)
	}
	if rec.Lifecycle == "" {
		rec.Lifecycle = artefact.LifecycleNew
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artefacts (type, location, key, checksum, lifecycle, error, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			location = excluded.location,
			checksum = excluded.checksum,
			lifecycle = excluded.lifecycle,
			error = excluded.error,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, rec.Type, rec.Location, rec.Key, rec.Checksum, string(rec.Lifecycle), rec.Error, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("save artefact %s: %w", rec.Location, err)
	}

	stored, err := s.FindByKey(ctx, rec.Key)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("save artefact %s: row vanished after upsert", rec.Location)
	}
	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// SetLifecycle moves the artefact stored under key to lifecycle l and
// records msg as its error text. An empty msg clears the error.
func (s *Store) SetLifecycle(ctx context.Context, key string, l artefact.Lifecycle, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE artefacts
		SET lifecycle = ?, error = ?, updated_at = ?
		WHERE key = ?
	`, string(l), msg, s.timestamp(), key)
	if err != nil {
		return fmt.Errorf("set lifecycle %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set lifecycle %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("set lifecycle %s: %w", key, ErrNotFound)
	}
	return nil
}

// Delete removes the artefact stored under key.
// Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artefacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete artefact %s: %w", key, err)
	}
	return nil
}

// CountByLifecycle returns the number of artefacts of typ in each lifecycle.
func (s *Store) CountByLifecycle(ctx context.Context, typ string) (map[artefact.Lifecycle]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lifecycle, COUNT(*)
		FROM artefacts
		WHERE type = ?
		GROUP BY lifecycle
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("count artefacts: %w", err)
	}
	defer rows.Close()

	counts := make(map[artefact.Lifecycle]int)
	for rows.Next() {
		var (
			l string
			n int
		)
		if err := rows.Scan(&l, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[artefact.Lifecycle(l)] = n
	}
	return counts, rows.Err()
}

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

func scanArtefact(row scanner) (*Record, error) {
	var (
		rec       Record
		lifecycle string
		payload   string
		created   string
		updated   string
	)
	err := row.Scan(&rec.ID, &rec.Type, &rec.Location, &rec.Key, &rec.Checksum,
		&lifecycle, &rec.Error, &payload, &created, &updated)
	if err != nil {
		return nil, err
	}

	l, err := artefact.ParseLifecycle(lifecycle)
	if err != nil {
		return nil, fmt.Errorf("artefact %s: %w", rec.Location, err)
	}
	rec.Lifecycle = l
	rec.Payload = []byte(payload)

	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("artefact %s created_at: %w", rec.Location, err)
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("artefact %s updated_at: %w", rec.Location, err)
	}
	return &rec, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
