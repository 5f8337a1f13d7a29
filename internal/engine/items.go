package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reviewline/internal/domain"
	"reviewline/internal/events"
	"reviewline/internal/repo"
)

// SubmitOptions describes an upload entering the review pool.
type SubmitOptions struct {
	ID         string
	Name       string
	OwnerID    string
	OwnerEmail string
	Header     string
	Footer     string
	ActorID    string
}

// Submit adds a pending item to the standard queue.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.WorkItem, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.WorkItem{}, errors.New("name is required")
	}
	if opts.OwnerID == "" {
		return domain.WorkItem{}, errors.New("owner is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.ActorID == "" {
		opts.ActorID = opts.OwnerID
	}
	now := repo.FormatTime(e.now())
	it := domain.WorkItem{
		ID:         opts.ID,
		Name:       opts.Name,
		OwnerID:    opts.OwnerID,
		OwnerEmail: opts.OwnerEmail,
		Status:     domain.StatusPending,
		Header:     opts.Header,
		Footer:     opts.Footer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return e.audit().Append(ctx, tx, events.ItemSubmitted, opts.ActorID, it.ID, events.Payload{
			"name":   it.Name,
			"status": it.Status,
		})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// Restage stages replacement content on a public item, which puts it in the
// rereview queue. Empty arguments leave that slot unstaged.
func (e Engine) Restage(ctx context.Context, itemID, header, footer, actorID string) (domain.WorkItem, error) {
	if header == "" && footer == "" {
		return domain.WorkItem{}, errors.New("header or footer required")
	}
	var it domain.WorkItem
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		it, err = e.Repo.GetItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status != domain.StatusPublic {
			return fmt.Errorf("item %s is %s; only public items can be restaged", itemID, it.Status)
		}
		if _, err := e.Repo.GetLease(ctx, tx, itemID); err == nil {
			return fmt.Errorf("item %s is under review", itemID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		it.PendingHeader, it.PendingFooter = nil, nil
		if header != "" {
			it.PendingHeader = &header
		}
		if footer != "" {
			it.PendingFooter = &footer
		}
		it.UpdatedAt = repo.FormatTime(e.now())
		if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
			return err
		}
		if actorID == "" {
			actorID = it.OwnerID
		}
		return e.audit().Append(ctx, tx, events.ItemRestaged, actorID, it.ID, events.Payload{
			"pending_header": header,
			"pending_footer": footer,
		})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// Delete marks an item deleted and drops any lease on it. Deleted items leave
// every queue.
func (e Engine) Delete(ctx context.Context, itemID, actorID string) (domain.WorkItem, error) {
	var it domain.WorkItem
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		it, err = e.Repo.GetItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status == domain.StatusDeleted {
			return nil
		}
		if l, err := e.Repo.GetLease(ctx, tx, itemID); err == nil {
			if _, err := e.Repo.DeleteLease(ctx, tx, itemID, l.ReviewerID); err != nil {
				return err
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		from := it.Status
		it.Status = domain.StatusDeleted
		it.UpdatedAt = repo.FormatTime(e.now())
		if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
			return err
		}
		if actorID == "" {
			actorID = it.OwnerID
		}
		return e.audit().Append(ctx, tx, events.ItemDeleted, actorID, it.ID, events.Payload{"from_status": from})
	})
	if err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// ItemView is one item as a given reviewer sees it.
type ItemView struct {
	Item       domain.WorkItem `json:"item"`
	Category   domain.Category `json:"category"`
	Lease      *domain.Lease   `json:"lease,omitempty"`
	Reviewable bool            `json:"reviewable"`
}

// Single returns an item and whether reviewerID may review it from the
// standard or rereview queue. Flagged items are never reviewable here.
func (e Engine) Single(ctx context.Context, reviewerID, itemID string) (ItemView, error) {
	it, err := e.Repo.GetItem(ctx, nil, itemID)
	if err != nil {
		return ItemView{}, err
	}
	v := ItemView{Item: it, Category: it.Category()}
	l, err := e.Repo.GetLease(ctx, nil, itemID)
	switch {
	case err == nil:
		v.Lease = &l
	case !errors.Is(err, repo.ErrNotFound):
		return ItemView{}, err
	}
	selfOwned := reviewerID != "" && it.OwnerID == reviewerID
	allowSelf := e.Config != nil && e.Config.Review.AllowSelfReviews
	v.Reviewable = it.InQueue(v.Category) &&
		v.Category != domain.CategoryFlagged &&
		!(selfOwned && !allowSelf)
	return v, nil
}

// ListQueue returns every item eligible for a category, leased or not, in
// submission order.
func (e Engine) ListQueue(ctx context.Context, category domain.Category) ([]domain.WorkItem, error) {
	category, err := domain.ParseCategory(string(category))
	if err != nil {
		return nil, err
	}
	return e.Repo.ListItems(ctx, repo.ItemFilters{Category: category})
}

// ListDeleted returns items removed by their owners.
func (e Engine) ListDeleted(ctx context.Context) ([]domain.WorkItem, error) {
	return e.Repo.ListItems(ctx, repo.ItemFilters{Status: domain.StatusDeleted})
}

// Stats returns item counts per status.
func (e Engine) Stats(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountItemsByStatus(ctx)
}
