package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reviewline/internal/domain"
)

type AuditFilters struct {
	Action  string
	ActorID string
	ItemID  string
	Limit   int
	// Cursor returns records with id below it, for paging newest first.
	Cursor int64
}

// ListAudit returns audit records newest first.
func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.ItemID != "" {
		clauses = append(clauses, "item_id=?")
		args = append(args, f.ItemID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,action,actor_id,item_id,details_json FROM audit_log WHERE %s ORDER BY id DESC`, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAudit(rows)
}

func scanAudit(rows *sql.Rows) ([]domain.AuditRecord, error) {
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var itemID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.Action, &rec.ActorID, &itemID, &rec.Details); err != nil {
			return nil, err
		}
		if itemID.Valid {
			rec.ItemID = itemID.String
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountAudit counts records of one action, optionally for one item.
func (r Repo) CountAudit(ctx context.Context, action, itemID string) (int, error) {
	query := `SELECT count(*) FROM audit_log WHERE action=?`
	args := []any{action}
	if itemID != "" {
		query += " AND item_id=?"
		args = append(args, itemID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// AuditAfter returns up to limit records with id above afterID, oldest first.
func (r Repo) AuditAfter(ctx context.Context, limit int, afterID int64) ([]domain.AuditRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,action,actor_id,item_id,details_json FROM audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanAudit(rows)
}

// LatestAuditID returns the newest record id, or 0 for an empty log.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT max(id) FROM audit_log`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
