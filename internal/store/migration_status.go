package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MigrationStatus is the convergence checkpoint of one project: the version
// of the last migration applied to it.
type MigrationStatus struct {
	Project   string    `json:"project" yaml:"project"`
	Major     int       `json:"major" yaml:"major"`
	Minor     int       `json:"minor" yaml:"minor"`
	Micro     int       `json:"micro" yaml:"micro"`
	Location  string    `json:"location" yaml:"location"`
	CreatedBy string    `json:"created_by" yaml:"created_by"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Version renders the status as major.minor.micro.
func (m MigrationStatus) Version() string {
	return fmt.Sprintf("%d.%d.%d", m.Major, m.Minor, m.Micro)
}

// MigrationStatus returns the status row of project.
// Returns nil (and no error) if the project has never been migrated.
func (s *Store) MigrationStatus(ctx context.Context, project string) (*MigrationStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project, major, minor, micro, location, created_by, created_at
		FROM migration_status
		WHERE project = ?
	`, project)

	ms, err := scanMigrationStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migration status %s: %w", project, err)
	}
	return ms, nil
}

// CreateMigrationStatus inserts the first status row of a project.
func (s *Store) CreateMigrationStatus(ctx context.Context, ms *MigrationStatus) error {
	ms.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migration_status (project, major, minor, micro, location, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ms.Project, ms.Major, ms.Minor, ms.Micro, ms.Location, ms.CreatedBy, ms.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create migration status %s: %w", ms.Project, err)
	}
	return nil
}

// UpdateMigrationStatus advances the status row of an existing project.
func (s *Store) UpdateMigrationStatus(ctx context.Context, ms *MigrationStatus) error {
	ms.CreatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE migration_status
		SET major = ?, minor = ?, micro = ?, location = ?, created_by = ?, created_at = ?
		WHERE project = ?
	`, ms.Major, ms.Minor, ms.Micro, ms.Location, ms.CreatedBy, ms.CreatedAt.Format(timeLayout), ms.Project)
	if err != nil {
		return fmt.Errorf("update migration status %s: %w", ms.Project, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update migration status %s: %w", ms.Project, err)
	}
	if n == 0 {
		return fmt.Errorf("update migration status %s: %w", ms.Project, ErrNotFound)
	}
	return nil
}

// ListMigrationStatuses returns every status row ordered by project.
func (s *Store) ListMigrationStatuses(ctx context.Context) ([]MigrationStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, major, minor, micro, location, created_by, created_at
		FROM migration_status
		ORDER BY project COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query migration status: %w", err)
	}
	defer rows.Close()

	statuses := []MigrationStatus{}
	for rows.Next() {
		ms, err := scanMigrationStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration status: %w", err)
	}
	return statuses, nil
}

func scanMigrationStatus(row scanner) (*MigrationStatus, error) {
	var (
		ms      MigrationStatus
		created string
	)
	if err := row.Scan(&ms.Project, &ms.Major, &ms.Minor, &ms.Micro, &ms.Location, &ms.CreatedBy, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, fmt.Errorf("migration status %s created_at: %w", ms.Project, err)
	}
	ms.CreatedAt = t
	return &ms, nil
}
