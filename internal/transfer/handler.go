package transfer

import (
	"log/slog"
	"sync/atomic"
)

// Handler observes a transfer. Stopped is polled between tables and
// batches; returning true ends the transfer early without error.
type Handler interface {
	SortingStarted(tables []Table)
	SortingFinished(order []string)
	TableStarted(table string)
	TableSkipped(table, reason string)
	TableFinished(table string, rows int)
	TransferFinished(tables int)
	TransferFailed(err error)
	Stopped() bool
}

// LogHandler logs every step with slog. Stop may be called from any
// goroutine.
type LogHandler struct {
	stopped atomic.Bool
}

// Stop asks the transfer to end after the current batch.
func (h *LogHandler) Stop() { h.stopped.Store(true) }

func (h *LogHandler) Stopped() bool { return h.stopped.Load() }

func (h *LogHandler) SortingStarted(tables []Table) {
	slog.Debug("sorting tables", "tables", len(tables))
}

func (h *LogHandler) SortingFinished(order []string) {
	slog.Debug("tables sorted", "order", order)
}

func (h *LogHandler) TableStarted(table string) {
	slog.Info("table transfer started", "table", table)
}

func (h *LogHandler) TableSkipped(table, reason string) {
	slog.Warn("table skipped", "table", table, "reason", reason)
}

func (h *LogHandler) TableFinished(table string, rows int) {
	slog.Info("table transfer finished", "table", table, "rows", rows)
}

func (h *LogHandler) TransferFinished(tables int) {
	slog.Info("transfer finished", "tables", tables)
}

func (h *LogHandler) TransferFailed(err error) {
	slog.Error("transfer failed", "error", err)
}
