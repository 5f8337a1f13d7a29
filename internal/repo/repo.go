package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("lease conflict")
)

// ConflictError reports that a lease row for the item already exists, or that
// an expired lease was taken over by another reviewer first.
type ConflictError struct {
	ItemID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lease conflict on item %s", e.ItemID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TimeLayout is the storage format for timestamps. Fixed width so string
// comparison in SQL orders the same as time comparison.
const TimeLayout = "2006-01-02T15:04:05Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q picks the transaction when one is given, the pool otherwise.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (r Repo) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
