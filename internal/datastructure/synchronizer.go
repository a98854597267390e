package datastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/schema"
	"github.com/roach88/converge/internal/synchronizer"
	"github.com/roach88/converge/internal/topology"
)

const (
	// Name of the data-structures synchronizer. Migrations depend on it.
	Name = "datastructures"

	// Type is the artefact discriminator of table rows.
	Type = "table"

	Priority = 200

	// Extension of table declaration files.
	Extension = ".table"
)

// Synchronizer deploys .table declarations into a target database.
type Synchronizer struct {
	*synchronizer.Base[*Table]
	target *sql.DB
}

// NewSynchronizer creates the data-structures synchronizer. Artefact rows
// go to db, tables are created in target.
func NewSynchronizer(db synchronizer.Persistence, target *sql.DB) *Synchronizer {
	s := &Synchronizer{target: target}
	s.Base = synchronizer.NewBase(synchronizer.Config[*Table]{
		Name:       Name,
		Type:       Type,
		Priority:   Priority,
		Extensions: []string{Extension},
		New:        func() *Table { return &Table{} },
		Validate:   schema.Must().For(schema.Table),
	}, db)
	return s
}

// Order sorts pending tables so referenced tables come first. References
// to tables outside pending are resolved at deploy time instead.
func (s *Synchronizer) Order(pending []*Table) ([]*Table, error) {
	return Order(pending)
}

// Order returns tables in foreign-key order. Returns a
// *topology.CycleDetectedError if the references form a cycle.
func Order(tables []*Table) ([]*Table, error) {
	g := topology.New()
	byName := make(map[string][]*Table, len(tables))
	for _, t := range tables {
		g.AddNode(t.Name)
		byName[t.Name] = append(byName[t.Name], t)
	}
	for _, t := range tables {
		for _, ref := range t.References() {
			if g.Has(ref) {
				g.AddEdge(t.Name, ref)
			}
		}
	}

	names, err := topology.Sort(g)
	if err != nil {
		return nil, err
	}
	out := make([]*Table, 0, len(tables))
	for _, n := range names {
		out = append(out, byName[n]...)
	}
	return out, nil
}

// Complete creates or extends the declared table. The table stays pending
// while a referenced table does not exist yet.
func (s *Synchronizer) Complete(ctx context.Context, t *Table, phase artefact.Phase) (bool, error) {
	return s.Transition(ctx, t, phase, s.deploy)
}

func (s *Synchronizer) deploy(ctx context.Context, t *Table, phase artefact.Phase) (bool, error) {
	if phase != artefact.PhaseCreate && phase != artefact.PhaseUpdate {
		return true, nil
	}

	for _, ref := range t.References() {
		ok, err := tableExists(ctx, s.target, ref)
		if err != nil {
			return false, err
		}
		if !ok {
			slog.Debug("table waiting for reference", "table", t.Name, "references", ref)
			return false, nil
		}
	}

	exists, err := tableExists(ctx, s.target, t.Name)
	if err != nil {
		return false, err
	}
	if !exists {
		if _, err := s.target.ExecContext(ctx, t.CreateStatement()); err != nil {
			return false, fmt.Errorf("create table %s: %w", t.Name, err)
		}
		slog.Info("table created", "table", t.Name, "location", t.Location)
		return true, nil
	}

	if err := s.addColumns(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// addColumns adds declared columns missing from an existing table.
// Columns are never dropped or altered.
func (s *Synchronizer) addColumns(ctx context.Context, t *Table) error {
	existing, err := tableColumns(ctx, s.target, t.Name)
	if err != nil {
		return err
	}

	for _, c := range t.Columns {
		if existing[c.Name] {
			continue
		}
		if c.PrimaryKey || c.Unique || c.NotNull() {
			return fmt.Errorf("add column %s.%s: primary key, unique and not null columns cannot be added to an existing table",
				t.Name, c.Name)
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(t.Name), c.definition(false))
		if _, err := s.target.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
		}
		slog.Info("column added", "table", t.Name, "column", c.Name)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up table %s: %w", name, err)
	}
	return true, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("read columns of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
