package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Reader loads handler files by location. Implemented by *registry.Tree.
type Reader interface {
	Read(location string) ([]byte, error)
}

// SQLEngine runs SQL script handlers against a database, one transaction
// per script.
type SQLEngine struct {
	db      *sql.DB
	scripts Reader
}

// NewSQLEngine creates an engine that reads scripts from scripts and runs
// them on db.
func NewSQLEngine(db *sql.DB, scripts Reader) *SQLEngine {
	return &SQLEngine{db: db, scripts: scripts}
}

// Execute runs the script at handler. The script may hold several
// statements; either all of them apply or none does.
func (e *SQLEngine) Execute(ctx context.Context, handler string) error {
	script, err := e.scripts.Read(handler)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if strings.TrimSpace(string(script)) == "" {
		return fmt.Errorf("script %s is empty", handler)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		tx.Rollback()
		return fmt.Errorf("run script: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit script: %w", err)
	}

	slog.Debug("script executed", "handler", handler)
	return nil
}
