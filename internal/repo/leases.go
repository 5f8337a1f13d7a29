package repo

import (
	"context"
	"database/sql"
	"time"

	"reviewline/internal/domain"
)

const leaseColumns = `item_id,reviewer_id,category,acquired_at,expires_at`

func scanLeases(rows *sql.Rows) ([]domain.Lease, error) {
	defer rows.Close()
	var res []domain.Lease
	for rows.Next() {
		var l domain.Lease
		var category string
		if err := rows.Scan(&l.ItemID, &l.ReviewerID, &category, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		l.Category = domain.Category(category)
		res = append(res, l)
	}
	return res, rows.Err()
}

// CreateLease inserts a lease unless any lease row, expired or not, exists
// for the item; in that case it returns *ConflictError.
func (r Repo) CreateLease(ctx context.Context, tx *sql.Tx, l domain.Lease) error {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO leases(`+leaseColumns+`) VALUES (?,?,?,?,?) ON CONFLICT(item_id) DO NOTHING`,
		l.ItemID, l.ReviewerID, string(l.Category), l.AcquiredAt, l.ExpiresAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConflictError{ItemID: l.ItemID}
	}
	return nil
}

// DeleteLease removes the lease when reviewerID holds it. It reports whether a
// row was removed; a lease held by someone else is left alone.
func (r Repo) DeleteLease(ctx context.Context, tx *sql.Tx, itemID, reviewerID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM leases WHERE item_id=? AND reviewer_id=?`, itemID, reviewerID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExtendLease moves the expiry of a lease held by reviewerID.
func (r Repo) ExtendLease(ctx context.Context, tx *sql.Tx, itemID, reviewerID string, expires time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE leases SET expires_at=? WHERE item_id=? AND reviewer_id=?`,
		FormatTime(expires), itemID, reviewerID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReclaimLease hands an expired lease to a new holder. The old row is removed
// only if it is still expired at `before`; otherwise *ConflictError.
func (r Repo) ReclaimLease(ctx context.Context, tx *sql.Tx, l domain.Lease, before time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM leases WHERE item_id=? AND expires_at < ?`, l.ItemID, FormatTime(before))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConflictError{ItemID: l.ItemID}
	}
	return r.CreateLease(ctx, tx, l)
}

// ListActiveLeases returns every lease held by the reviewer regardless of
// expiry. An empty category lists all categories.
func (r Repo) ListActiveLeases(ctx context.Context, tx *sql.Tx, reviewerID string, category domain.Category) ([]domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE reviewer_id=?`
	args := []any{reviewerID}
	if category != "" {
		query += " AND category=?"
		args = append(args, string(category))
	}
	query += " ORDER BY acquired_at ASC, item_id ASC"
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanLeases(rows)
}

// ListExpiredLeases returns leases whose expiry is before the given instant,
// oldest expiry first with item id as tie-break.
func (r Repo) ListExpiredLeases(ctx context.Context, tx *sql.Tx, before time.Time, category domain.Category) ([]domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE expires_at < ?`
	args := []any{FormatTime(before)}
	if category != "" {
		query += " AND category=?"
		args = append(args, string(category))
	}
	query += " ORDER BY expires_at ASC, item_id ASC"
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanLeases(rows)
}

// ReleaseLeases deletes all leases of a reviewer, optionally per category,
// returning the released item ids.
func (r Repo) ReleaseLeases(ctx context.Context, tx *sql.Tx, reviewerID string, category domain.Category) ([]string, error) {
	held, err := r.ListActiveLeases(ctx, tx, reviewerID, category)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(held))
	for _, l := range held {
		ok, err := r.DeleteLease(ctx, tx, l.ItemID, reviewerID)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, l.ItemID)
		}
	}
	return ids, nil
}

func (r Repo) GetLease(ctx context.Context, tx *sql.Tx, itemID string) (domain.Lease, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE item_id=?`, itemID)
	if err != nil {
		return domain.Lease{}, err
	}
	leases, err := scanLeases(rows)
	if err != nil {
		return domain.Lease{}, err
	}
	if len(leases) == 0 {
		return domain.Lease{}, ErrNotFound
	}
	return leases[0], nil
}

// ListLeases returns every lease row, for operators.
func (r Repo) ListLeases(ctx context.Context) ([]domain.Lease, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+leaseColumns+` FROM leases ORDER BY reviewer_id ASC, acquired_at ASC, item_id ASC`)
	if err != nil {
		return nil, err
	}
	return scanLeases(rows)
}
