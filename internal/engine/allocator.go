package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"reviewline/internal/domain"
	"reviewline/internal/events"
	"reviewline/internal/metrics"
	"reviewline/internal/repo"
)

type allocStats struct {
	refreshed int
	reclaimed int
	fresh     int
	conflicts int
}

// AcquireBatch tops the reviewer's queue for category up to target items and
// returns everything the reviewer now holds there: refreshed leases first,
// then reclaimed, then fresh ones. A target of zero or less means the
// configured initial lock count. Falling short of target is not an error.
func (e Engine) AcquireBatch(ctx context.Context, reviewerID string, category domain.Category, target int) ([]domain.WorkItem, error) {
	if e.Config == nil {
		return nil, errNoConfig
	}
	if reviewerID == "" {
		return nil, errors.New("reviewer id required")
	}
	category, err := domain.ParseCategory(string(category))
	if err != nil {
		return nil, err
	}
	if target <= 0 {
		target = e.Config.Review.InitialLocks
	}
	now := e.now()
	newLease := func(itemID string) domain.Lease {
		return domain.Lease{
			ItemID:     itemID,
			ReviewerID: reviewerID,
			Category:   category,
			AcquiredAt: repo.FormatTime(now),
			ExpiresAt:  repo.FormatTime(now.Add(e.Config.Review.LockDuration)),
		}
	}
	excludeOwner := ""
	if !e.Config.Review.AllowSelfReviews && category.ExcludesOwner() {
		excludeOwner = reviewerID
	}

	var items []domain.WorkItem
	var stats allocStats
	err = e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		items, stats = nil, allocStats{}
		held, err := e.Repo.ListActiveLeases(ctx, tx, reviewerID, category)
		if err != nil {
			return fmt.Errorf("list leases: %w", err)
		}
		heldIDs := make([]string, 0, len(held))
		for _, l := range held {
			ok, err := e.Repo.ExtendLease(ctx, tx, l.ItemID, reviewerID, now.Add(e.Config.Review.LockDuration))
			if err != nil {
				return fmt.Errorf("extend lease %s: %w", l.ItemID, err)
			}
			if ok {
				stats.refreshed++
			}
			heldIDs = append(heldIDs, l.ItemID)
		}
		if items, err = e.Repo.GetItems(ctx, tx, heldIDs); err != nil {
			return err
		}
		deficit := target - len(held)
		if deficit <= 0 {
			return nil
		}

		expired, err := e.Repo.ListExpiredLeases(ctx, tx, now, category)
		if err != nil {
			return fmt.Errorf("list expired leases: %w", err)
		}
		for _, old := range expired {
			if deficit == 0 {
				break
			}
			if old.ReviewerID == reviewerID {
				continue
			}
			it, err := e.Repo.GetItem(ctx, tx, old.ItemID)
			if err != nil {
				return fmt.Errorf("item %s: %w", old.ItemID, err)
			}
			if !it.InQueue(category) || (excludeOwner != "" && it.OwnerID == excludeOwner) {
				continue
			}
			l := newLease(it.ID)
			if err := e.Repo.ReclaimLease(ctx, tx, l, now); err != nil {
				if errors.Is(err, repo.ErrConflict) {
					stats.conflicts++
					continue
				}
				return fmt.Errorf("reclaim %s: %w", it.ID, err)
			}
			if err := e.audit().Append(ctx, tx, events.LeaseReclaim, reviewerID, it.ID, events.Payload{
				"category":          category,
				"previous_reviewer": old.ReviewerID,
				"previous_expiry":   old.ExpiresAt,
				"expires_at":        l.ExpiresAt,
			}); err != nil {
				return err
			}
			items = append(items, it)
			stats.reclaimed++
			deficit--
		}

		// A conflicting candidate now has a lease row, so the next page
		// skips it; the loop ends once the pool is exhausted.
		for deficit > 0 {
			candidates, err := e.Repo.SelectCandidates(ctx, tx, repo.CandidateFilters{
				Category:     category,
				ExcludeOwner: excludeOwner,
				Limit:        deficit,
			})
			if err != nil {
				return fmt.Errorf("select candidates: %w", err)
			}
			if len(candidates) == 0 {
				break
			}
			for _, it := range candidates {
				l := newLease(it.ID)
				if err := e.Repo.CreateLease(ctx, tx, l); err != nil {
					if errors.Is(err, repo.ErrConflict) {
						stats.conflicts++
						continue
					}
					return fmt.Errorf("lease %s: %w", it.ID, err)
				}
				if err := e.audit().Append(ctx, tx, events.LeaseAcquired, reviewerID, it.ID, events.Payload{
					"category":   category,
					"expires_at": l.ExpiresAt,
				}); err != nil {
					return err
				}
				items = append(items, it)
				stats.fresh++
				deficit--
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cat := string(category)
	metrics.LeasesRefreshed.WithLabelValues(cat).Add(float64(stats.refreshed))
	metrics.LeasesAcquired.WithLabelValues(cat, "reclaim").Add(float64(stats.reclaimed))
	metrics.LeasesAcquired.WithLabelValues(cat, "fresh").Add(float64(stats.fresh))
	metrics.LeaseConflicts.WithLabelValues(cat).Add(float64(stats.conflicts))
	e.log().Debug("acquire batch",
		zap.String("reviewer", reviewerID),
		zap.String("category", cat),
		zap.Int("target", target),
		zap.Int("held", len(items)),
		zap.Int("refreshed", stats.refreshed),
		zap.Int("reclaimed", stats.reclaimed),
		zap.Int("fresh", stats.fresh),
	)
	if stats.reclaimed > 0 {
		e.log().Info("reclaimed expired leases", zap.String("reviewer", reviewerID), zap.Int("count", stats.reclaimed))
	}
	return items, nil
}

// Release drops the reviewer's leases, in one category or, when category is
// empty, in all of them. Releasing nothing is not an error.
func (e Engine) Release(ctx context.Context, reviewerID string, category domain.Category) (int, error) {
	if reviewerID == "" {
		return 0, errors.New("reviewer id required")
	}
	if category != "" {
		if _, err := domain.ParseCategory(string(category)); err != nil {
			return 0, err
		}
	}
	var released []string
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ids, err := e.Repo.ReleaseLeases(ctx, tx, reviewerID, category)
		if err != nil {
			return fmt.Errorf("release leases: %w", err)
		}
		for _, id := range ids {
			if err := e.audit().Append(ctx, tx, events.LeaseReleased, reviewerID, id, events.Payload{"category": category}); err != nil {
				return err
			}
		}
		released = ids
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.LeasesReleased.Add(float64(len(released)))
	return len(released), nil
}

// Leases lists every lease row, for operators.
func (e Engine) Leases(ctx context.Context) ([]domain.Lease, error) {
	return e.Repo.ListLeases(ctx)
}

// HeldItems returns the items the reviewer currently holds in category
// without touching their leases.
func (e Engine) HeldItems(ctx context.Context, reviewerID string, category domain.Category) ([]domain.WorkItem, error) {
	held, err := e.Repo.ListActiveLeases(ctx, nil, reviewerID, category)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(held))
	for i, l := range held {
		ids[i] = l.ItemID
	}
	return e.Repo.GetItems(ctx, nil, ids)
}
