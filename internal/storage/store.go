// Package storage persists finished runs. A Writer accepts the audit trail
// record of a run keyed by (ticker, as_of, run_id).
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyike/cortexdesk/internal/storage/sqlite"
	"github.com/dyike/cortexdesk/models"
)

type Writer interface {
	Write(ctx context.Context, rec models.RunRecord) error
}

type WriterFunc func(ctx context.Context, rec models.RunRecord) error

func (f WriterFunc) Write(ctx context.Context, rec models.RunRecord) error { return f(ctx, rec) }

// SQLiteWriter stores runs in the sqlite runs and turns tables.
type SQLiteWriter struct {
	store *sqlite.Store
}

func NewSQLiteWriter(store *sqlite.Store) *SQLiteWriter {
	return &SQLiteWriter{store: store}
}

func (w *SQLiteWriter) Write(ctx context.Context, rec models.RunRecord) error {
	if err := w.store.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("sqlite writer: %w", err)
	}
	return nil
}

// WriteAll hands rec to every writer and joins their errors.
func WriteAll(ctx context.Context, writers []Writer, rec models.RunRecord) error {
	var errs []error
	for _, w := range writers {
		if w == nil {
			continue
		}
		if err := w.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
