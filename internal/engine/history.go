package engine

import (
	"context"

	"reviewline/internal/domain"
	"reviewline/internal/events"
	"reviewline/internal/repo"
)

const defaultHistoryLimit = 50

// History returns the reviewer's committed decisions, newest first. Pass the
// id of the last record seen as cursor to page back. An empty reviewer id
// reads the global review log.
func (e Engine) History(ctx context.Context, reviewerID string, limit int, cursor int64) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return e.Repo.ListAudit(ctx, repo.AuditFilters{
		Action:  events.ThemeReview,
		ActorID: reviewerID,
		Limit:   limit,
		Cursor:  cursor,
	})
}

// Logs is the global review log.
func (e Engine) Logs(ctx context.Context, limit int, cursor int64) ([]domain.AuditRecord, error) {
	return e.History(ctx, "", limit, cursor)
}

// ItemHistory returns every audit record of one item, newest first.
func (e Engine) ItemHistory(ctx context.Context, itemID string) ([]domain.AuditRecord, error) {
	return e.Repo.ListAudit(ctx, repo.AuditFilters{ItemID: itemID})
}
