package domain

import "fmt"

// Item statuses.
const (
	StatusPending       = "pending"
	StatusReviewPending = "review-pending"
	StatusRejected      = "rejected"
	StatusPublic        = "public"
	StatusDeleted       = "deleted"
)

// Category selects which review queue an item belongs to.
type Category string

const (
	CategoryStandard Category = "standard"
	CategoryFlagged  Category = "flagged"
	CategoryRereview Category = "rereview"
)

// ParseCategory accepts the wire name of a category; empty means standard.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case "", CategoryStandard:
		return CategoryStandard, nil
	case CategoryFlagged:
		return CategoryFlagged, nil
	case CategoryRereview:
		return CategoryRereview, nil
	}
	return "", fmt.Errorf("invalid category %q", s)
}

// ExcludesOwner reports whether self-owned items are hidden from the queue.
// Flagged items are reviewed by senior reviewers and never filtered by owner.
func (c Category) ExcludesOwner() bool {
	return c != CategoryFlagged
}

type WorkItem struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	OwnerID       string  `json:"owner_id"`
	OwnerEmail    string  `json:"owner_email,omitempty"`
	Status        string  `json:"status" enum:"pending,review-pending,rejected,public,deleted"`
	Header        string  `json:"header,omitempty"`
	Footer        string  `json:"footer,omitempty"`
	PendingHeader *string `json:"pending_header,omitempty"`
	PendingFooter *string `json:"pending_footer,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// Staged reports whether the item carries a replacement awaiting re-review.
func (w WorkItem) Staged() bool {
	return w.PendingHeader != nil || w.PendingFooter != nil
}

// Category derives the review queue from status and staged content.
func (w WorkItem) Category() Category {
	switch {
	case w.Status == StatusReviewPending:
		return CategoryFlagged
	case w.Status == StatusPublic && w.Staged():
		return CategoryRereview
	default:
		return CategoryStandard
	}
}

// InQueue reports whether the item is currently eligible for category c.
func (w WorkItem) InQueue(c Category) bool {
	switch c {
	case CategoryStandard:
		return w.Status == StatusPending
	case CategoryFlagged:
		return w.Status == StatusReviewPending
	case CategoryRereview:
		return w.Status == StatusPublic && w.Staged()
	}
	return false
}

type Lease struct {
	ItemID     string   `json:"item_id"`
	ReviewerID string   `json:"reviewer_id"`
	Category   Category `json:"category"`
	AcquiredAt string   `json:"acquired_at" format:"date-time"`
	ExpiresAt  string   `json:"expires_at" format:"date-time"`
}

type AuditRecord struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Action  string `json:"action"`
	ActorID string `json:"actor_id"`
	ItemID  string `json:"item_id,omitempty"`
	Details string `json:"details_json"`
}

type Reviewer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// APIKey lets a non-interactive client act as a reviewer. Only the hash of
// the secret is stored.
type APIKey struct {
	ID          string   `json:"id"`
	ReviewerID  string   `json:"reviewer_id"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	KeyHash     string   `json:"-"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}
