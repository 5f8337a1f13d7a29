package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reviewline/internal/domain"
)

const itemColumns = `id,name,owner_id,owner_email,status,header,footer,pending_header,pending_footer,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.WorkItem, error) {
	var it domain.WorkItem
	var ownerEmail, pendingHeader, pendingFooter sql.NullString
	err := row.Scan(&it.ID, &it.Name, &it.OwnerID, &ownerEmail, &it.Status, &it.Header, &it.Footer,
		&pendingHeader, &pendingFooter, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if ownerEmail.Valid {
		it.OwnerEmail = ownerEmail.String
	}
	if pendingHeader.Valid {
		it.PendingHeader = &pendingHeader.String
	}
	if pendingFooter.Valid {
		it.PendingFooter = &pendingFooter.String
	}
	return it, nil
}

func scanItems(rows *sql.Rows) ([]domain.WorkItem, error) {
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// categoryClause is the eligibility rule for a review queue.
func categoryClause(c domain.Category) (string, []any, error) {
	switch c {
	case domain.CategoryStandard:
		return "status=?", []any{domain.StatusPending}, nil
	case domain.CategoryFlagged:
		return "status=?", []any{domain.StatusReviewPending}, nil
	case domain.CategoryRereview:
		return "status=? AND (pending_header IS NOT NULL OR pending_footer IS NOT NULL)", []any{domain.StatusPublic}, nil
	}
	return "", nil, fmt.Errorf("invalid category %q", c)
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Name, it.OwnerID, nullable(it.OwnerEmail), it.Status, it.Header, it.Footer,
		nullableStringPtr(it.PendingHeader), nullableStringPtr(it.PendingFooter), it.CreatedAt, it.UpdatedAt)
	return err
}

// UpdateItem writes the mutable fields: status, content slots and updated_at.
func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE items SET status=?, header=?, footer=?, pending_header=?, pending_footer=?, updated_at=? WHERE id=?`,
		it.Status, it.Header, it.Footer, nullableStringPtr(it.PendingHeader), nullableStringPtr(it.PendingFooter), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	return scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

// GetItems resolves ids to items, keeping the order of ids. Missing ids are an error.
func (r Repo) GetItems(ctx context.Context, tx *sql.Tx, ids []string) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	found, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.WorkItem, len(found))
	for _, it := range found {
		byID[it.ID] = it
	}
	res := make([]domain.WorkItem, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		res = append(res, it)
	}
	return res, nil
}

// CandidateFilters drives the work pool selection.
type CandidateFilters struct {
	Category     domain.Category
	ExcludeOwner string
	Limit        int
}

// SelectCandidates returns unleased items eligible for the category in
// submission order. Expired leases still hide an item here; those are
// handed out through reclaim.
func (r Repo) SelectCandidates(ctx context.Context, tx *sql.Tx, f CandidateFilters) ([]domain.WorkItem, error) {
	clause, args, err := categoryClause(f.Category)
	if err != nil {
		return nil, err
	}
	clauses := []string{clause, `NOT EXISTS (SELECT 1 FROM leases l WHERE l.item_id=items.id)`}
	if f.ExcludeOwner != "" {
		clauses = append(clauses, "owner_id != ?")
		args = append(args, f.ExcludeOwner)
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

type ItemFilters struct {
	Category domain.Category
	Status   string
	Limit    int
}

// ListItems lists items by category rule or raw status, in submission order.
func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Category != "" {
		clause, cargs, err := categoryClause(f.Category)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM items ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

// CountItemsByStatus returns a status histogram.
func (r Repo) CountItemsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
