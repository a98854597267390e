// Package transfer copies table data between SQLite databases in
// foreign-key order.
//
// Tables are reverse engineered from the source database, ordered so that
// referenced tables are filled before the tables referencing them, and
// copied row by row. Tables that already hold data in the target are
// skipped. A Handler observes every step and can stop the transfer between
// batches.
package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/roach88/converge/internal/topology"
)

// Table is a source table and the tables its foreign keys reference.
type Table struct {
	Name       string   `json:"name" yaml:"name"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`

	// DDL is the CREATE statement used when the target lacks the table.
	DDL string `json:"-" yaml:"-"`
}

// Plan is the order in which tables are filled and emptied.
type Plan struct {
	// InsertOrder lists referenced tables before the tables referencing them.
	InsertOrder []string `json:"insert_order" yaml:"insert_order"`

	// DeleteOrder is InsertOrder reversed.
	DeleteOrder []string `json:"delete_order" yaml:"delete_order"`
}

// NewPlan orders tables by their references. References to tables outside
// the set and self references are ignored. Returns a
// *topology.CycleDetectedError if the references form a cycle.
func NewPlan(tables []Table) (*Plan, error) {
	g := topology.New()
	for _, t := range tables {
		g.AddNode(t.Name)
	}
	for _, t := range tables {
		for _, ref := range t.References {
			if g.Has(ref) {
				g.AddEdge(t.Name, ref)
			}
		}
	}

	order, err := topology.Sort(g)
	if err != nil {
		return nil, err
	}
	return &Plan{InsertOrder: order, DeleteOrder: topology.Reverse(order)}, nil
}

// ReverseTables reads the user tables of db with their foreign keys,
// sorted by name.
func ReverseTables(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, sql FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.DDL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for i := range tables {
		refs, err := foreignKeys(ctx, db, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].References = refs
	}
	return tables, nil
}

func foreignKeys(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT "table" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("read foreign keys of %s: %w", table, err)
		}
		if ref != table && !slices.Contains(refs, ref) {
			refs = append(refs, ref)
		}
	}
	slices.Sort(refs)
	return refs, rows.Err()
}
