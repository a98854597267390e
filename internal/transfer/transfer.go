package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DefaultBatchSize is the number of rows inserted per target transaction.
const DefaultBatchSize = 1000

// Option configures a Transfer.
type Option func(*config)

type config struct {
	batchSize int
	tables    []string
}

// WithBatchSize sets how many rows are committed together.
//
// Default: 1000 (DefaultBatchSize)
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithTables limits the transfer to the named tables.
func WithTables(names ...string) Option {
	return func(c *config) { c.tables = names }
}

// Result summarises a transfer.
type Result struct {
	Plan    *Plan             `json:"plan" yaml:"plan"`
	Rows    map[string]int    `json:"rows" yaml:"rows"`
	Skipped map[string]string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Stopped bool              `json:"stopped" yaml:"stopped"`
}

// Transfer copies every table of source into target in foreign-key order.
// Missing target tables are created from the source definition; target
// tables that already hold rows are skipped.
func Transfer(ctx context.Context, source, target *sql.DB, h Handler, opts ...Option) (*Result, error) {
	if h == nil {
		h = &LogHandler{}
	}
	cfg := config{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := run(ctx, source, target, h, cfg)
	if err != nil {
		h.TransferFailed(err)
		return res, err
	}
	if !res.Stopped {
		h.TransferFinished(len(res.Plan.InsertOrder))
	}
	return res, nil
}

func run(ctx context.Context, source, target *sql.DB, h Handler, cfg config) (*Result, error) {
	res := &Result{Rows: make(map[string]int), Skipped: make(map[string]string)}

	tables, err := ReverseTables(ctx, source)
	if err != nil {
		return res, fmt.Errorf("reverse source tables: %w", err)
	}
	if len(cfg.tables) > 0 {
		tables = selectTables(tables, cfg.tables)
	}
	if h.Stopped() {
		res.Stopped = true
		return res, nil
	}

	h.SortingStarted(tables)
	plan, err := NewPlan(tables)
	if err != nil {
		return res, err
	}
	res.Plan = plan
	h.SortingFinished(plan.InsertOrder)

	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	for _, name := range plan.InsertOrder {
		if h.Stopped() {
			res.Stopped = true
			return res, nil
		}
		h.TableStarted(name)

		reason, err := prepareTarget(ctx, target, byName[name])
		if err != nil {
			return res, err
		}
		if reason != "" {
			res.Skipped[name] = reason
			h.TableSkipped(name, reason)
			continue
		}

		n, stopped, err := copyTable(ctx, source, target, name, cfg.batchSize, h)
		res.Rows[name] = n
		if err != nil {
			return res, err
		}
		if stopped {
			res.Stopped = true
			return res, nil
		}
		h.TableFinished(name, n)
	}
	return res, nil
}

func selectTables(tables []Table, names []string) []Table {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Table
	for _, t := range tables {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// prepareTarget creates t in target when missing. Returns a skip reason
// when the target table already holds rows.
func prepareTarget(ctx context.Context, target *sql.DB, t Table) (string, error) {
	var exists int
	err := target.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", t.Name,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := target.ExecContext(ctx, t.DDL); err != nil {
			return "", fmt.Errorf("create table %s in target: %w", t.Name, err)
		}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up table %s in target: %w", t.Name, err)
	}

	var count int
	if err := target.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.Name)).Scan(&count); err != nil {
		return "", fmt.Errorf("count rows of %s in target: %w", t.Name, err)
	}
	if count > 0 {
		return "table exists and it is not empty", nil
	}
	return "", nil
}

// copyTable streams the rows of table from source into target, committing
// every batchSize rows.
func copyTable(ctx context.Context, source, target *sql.DB, table string, batchSize int, h Handler) (int, bool, error) {
	rows, err := source.QueryContext(ctx, "SELECT * FROM "+quote(table))
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", table, err)
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var (
		tx    *sql.Tx
		stmt  *sql.Stmt
		total int
		batch int
	)
	rollback := func() {
		if tx != nil {
			tx.Rollback()
		}
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		stmt.Close()
		err := tx.Commit()
		tx, stmt, batch = nil, nil, 0
		return err
	}

	for rows.Next() {
		if tx == nil {
			if h.Stopped() {
				return total, true, nil
			}
			if tx, err = target.BeginTx(ctx, nil); err != nil {
				return total, false, fmt.Errorf("write %s: %w", table, err)
			}
			if stmt, err = tx.PrepareContext(ctx, insert); err != nil {
				rollback()
				return total, false, fmt.Errorf("write %s: %w", table, err)
			}
		}

		if err := rows.Scan(ptrs...); err != nil {
			rollback()
			return total, false, fmt.Errorf("read %s: %w", table, err)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			rollback()
			return total, false, fmt.Errorf("write %s: %w", table, err)
		}
		batch++
		if batch == batchSize {
			if err := commit(); err != nil {
				return total, false, fmt.Errorf("commit %s: %w", table, err)
			}
			total += batchSize
		}
	}
	if err := rows.Err(); err != nil {
		rollback()
		return total, false, fmt.Errorf("read %s: %w", table, err)
	}

	pending := batch
	if err := commit(); err != nil {
		return total, false, fmt.Errorf("commit %s: %w", table, err)
	}
	return total + pending, false, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
