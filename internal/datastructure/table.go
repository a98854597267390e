// Package datastructure deploys declared tables into the target database.
//
// Tables are declared in .table files and created in foreign-key order:
// a table is deployed only after every table it references exists. A
// declaration whose references never appear stays pending until the pass
// gives up on it. Removing a declaration never drops the table or its data.
package datastructure

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/converge/internal/artefact"
)

// Table is a declared database table.
type Table struct {
	artefact.Artefact
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column is one column of a declared table.
type Column struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	PrimaryKey bool       `json:"primaryKey,omitempty"`
	Nullable   *bool      `json:"nullable,omitempty"`
	Unique     bool       `json:"unique,omitempty"`
	References *Reference `json:"references,omitempty"`
}

// Reference is a foreign key to a column of another table.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Identity keys entries of a multi-table file by table name.
func (t *Table) Identity() string { return t.Name }

// References returns the tables t refers to, sorted and without t itself.
func (t *Table) References() []string {
	var refs []string
	for _, c := range t.Columns {
		if c.References == nil || c.References.Table == t.Name {
			continue
		}
		if !slices.Contains(refs, c.References.Table) {
			refs = append(refs, c.References.Table)
		}
	}
	slices.Sort(refs)
	return refs
}

// NotNull reports whether the column rejects NULL. Columns are nullable
// unless declared otherwise.
func (c Column) NotNull() bool {
	return c.Nullable != nil && !*c.Nullable
}

// CreateStatement renders the CREATE TABLE statement of t.
func (t *Table) CreateStatement() string {
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, quote(c.Name))
		}
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, c.definition(len(pk) == 1))
	}
	if len(pk) > 1 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(t.Name), strings.Join(defs, ",\n  "))
}

// definition renders c as a column definition. inlinePK places PRIMARY KEY
// on the column itself, which is only valid for single-column keys.
func (c Column) definition(inlinePK bool) string {
	var b strings.Builder
	b.WriteString(quote(c.Name))
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if c.PrimaryKey && inlinePK {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull() {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.References != nil {
		fmt.Fprintf(&b, " REFERENCES %s(%s)", quote(c.References.Table), quote(c.References.Column))
	}
	return b.String()
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
