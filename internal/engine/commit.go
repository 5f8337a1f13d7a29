package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"reviewline/internal/content"
	"reviewline/internal/domain"
	"reviewline/internal/events"
	"reviewline/internal/metrics"
	"reviewline/internal/notify"
	"reviewline/internal/repo"
)

// ErrInvalidDecision marks a malformed batch. Nothing is written.
var ErrInvalidDecision = errors.New("invalid decision")

// UnauthorizedItemError lists items in a batch the reviewer holds no lease on.
// The whole batch is refused.
type UnauthorizedItemError struct {
	ReviewerID string
	ItemIDs    []string
}

func (e *UnauthorizedItemError) Error() string {
	return fmt.Sprintf("reviewer %s holds no lease on %s", e.ReviewerID, strings.Join(e.ItemIDs, ", "))
}

// Applied describes one committed decision.
type Applied struct {
	ItemID     string          `json:"item_id"`
	Action     domain.Action   `json:"action"`
	Category   domain.Category `json:"category"`
	FromStatus string          `json:"from_status"`
	ToStatus   string          `json:"to_status"`
}

// Effect is a side effect run after the transaction committed.
type Effect struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind" enum:"notify,copy,preview"`
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type CommitResult struct {
	Applied  []Applied `json:"applied"`
	Effects  []Effect  `json:"effects"`
	Warnings []string  `json:"warnings,omitempty"`
}

type copyJob struct {
	itemID   string
	from, to string
}

type pendingEffects struct {
	copies   []copyJob
	previews map[string]string
	messages []itemMessage
}

type itemMessage struct {
	itemID string
	msg    notify.Message
}

// Commit applies a batch of decisions atomically. Every item must be leased by
// the reviewer; an expired lease still counts until someone reclaims it.
// Content promotion and notifications run after the commit and only produce
// warnings when they fail.
func (e Engine) Commit(ctx context.Context, reviewer domain.Reviewer, decisions []domain.Decision) (CommitResult, error) {
	if e.Config == nil {
		return CommitResult{}, errNoConfig
	}
	if err := validateBatch(reviewer, decisions); err != nil {
		metrics.CommitRejected.WithLabelValues("invalid").Inc()
		return CommitResult{}, err
	}

	now := e.now()
	var res CommitResult
	var fx pendingEffects
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, fx = CommitResult{}, pendingEffects{previews: map[string]string{}}
		var missing []string
		for _, d := range decisions {
			l, err := e.Repo.GetLease(ctx, tx, d.ItemID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && l.ReviewerID != reviewer.ID) {
				missing = append(missing, d.ItemID)
				continue
			}
			if err != nil {
				return fmt.Errorf("lease %s: %w", d.ItemID, err)
			}
		}
		if len(missing) > 0 {
			return &UnauthorizedItemError{ReviewerID: reviewer.ID, ItemIDs: missing}
		}

		for _, d := range decisions {
			it, err := e.Repo.GetItem(ctx, tx, d.ItemID)
			if err != nil {
				return fmt.Errorf("item %s: %w", d.ItemID, err)
			}
			applied, err := e.applyDecision(ctx, tx, reviewer, d, &it, &fx)
			if err != nil {
				return err
			}
			it.UpdatedAt = repo.FormatTime(now)
			if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
				return fmt.Errorf("update item %s: %w", it.ID, err)
			}
			if _, err := e.Repo.DeleteLease(ctx, tx, it.ID, reviewer.ID); err != nil {
				return fmt.Errorf("release lease %s: %w", it.ID, err)
			}
			res.Applied = append(res.Applied, applied)
		}
		return nil
	})
	if err != nil {
		var unauthorized *UnauthorizedItemError
		if errors.As(err, &unauthorized) {
			metrics.CommitRejected.WithLabelValues("unauthorized").Inc()
		}
		return CommitResult{}, err
	}
	for _, a := range res.Applied {
		metrics.DecisionsApplied.WithLabelValues(string(a.Category), a.Action.String()).Inc()
	}

	e.runContentEffects(ctx, &res, fx)
	e.runNotifications(ctx, &res, fx)
	return res, nil
}

func validateBatch(reviewer domain.Reviewer, decisions []domain.Decision) error {
	if strings.TrimSpace(reviewer.ID) == "" {
		return fmt.Errorf("%w: reviewer id required", ErrInvalidDecision)
	}
	if len(decisions) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidDecision)
	}
	seen := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDecision, err)
		}
		if seen[d.ItemID] {
			return fmt.Errorf("%w: item %s appears twice", ErrInvalidDecision, d.ItemID)
		}
		seen[d.ItemID] = true
	}
	return nil
}

// applyDecision mutates it in place, writes the audit record and queues the
// side effects of d.
func (e Engine) applyDecision(ctx context.Context, tx *sql.Tx, reviewer domain.Reviewer, d domain.Decision, it *domain.WorkItem, fx *pendingEffects) (Applied, error) {
	outcome, _ := domain.OutcomeOf(d.Action)
	category := it.Category()
	from := it.Status

	if category == domain.CategoryRereview {
		if outcome.Promote {
			if it.PendingHeader != nil {
				if it.Header == "" {
					it.Header = liveKey(it.ID, *it.PendingHeader)
				}
				fx.copies = append(fx.copies, copyJob{itemID: it.ID, from: *it.PendingHeader, to: it.Header})
				fx.previews[it.ID] = it.Header
			}
			if it.PendingFooter != nil {
				if it.Footer == "" {
					it.Footer = liveKey(it.ID, *it.PendingFooter)
				}
				fx.copies = append(fx.copies, copyJob{itemID: it.ID, from: *it.PendingFooter, to: it.Footer})
			}
		}
		it.PendingHeader, it.PendingFooter = nil, nil
	} else if outcome.Status != "" {
		it.Status = outcome.Status
	}

	payload := events.Payload{
		"action":      d.Action.String(),
		"category":    category,
		"from_status": from,
		"to_status":   it.Status,
	}
	if d.Comment != "" {
		payload["comment"] = d.Comment
	}
	reason := ""
	switch d.Action {
	case domain.ActionDuplicate:
		reason, _ = domain.RejectReasonText(domain.ReasonDuplicate)
		payload["reason_code"] = domain.ReasonDuplicate
	case domain.ActionReject:
		reason, _ = domain.RejectReasonText(d.RejectReason)
		payload["reason_code"] = d.RejectReason
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if category == domain.CategoryRereview {
		payload["promoted"] = outcome.Promote
	}
	if err := e.audit().Append(ctx, tx, events.ThemeReview, reviewer.ID, it.ID, payload); err != nil {
		return Applied{}, fmt.Errorf("audit %s: %w", it.ID, err)
	}

	fx.messages = append(fx.messages, itemMessage{itemID: it.ID, msg: e.message(reviewer, d, *it, outcome, reason)})
	return Applied{ItemID: it.ID, Action: d.Action, Category: category, FromStatus: from, ToStatus: it.Status}, nil
}

// liveKey is the live slot for promoted content when the item had none.
func liveKey(itemID, staged string) string {
	return path.Join("themes", itemID, path.Base(staged))
}

func (e Engine) message(reviewer domain.Reviewer, d domain.Decision, it domain.WorkItem, o domain.Outcome, reason string) notify.Message {
	data := map[string]any{
		"theme_id":   it.ID,
		"theme_name": it.Name,
		"comment":    d.Comment,
		"reason":     reason,
		"base_url":   e.Config.Notify.BaseURL,
	}
	if d.Action == domain.ActionRequestInfo {
		data["reviewer_email"] = reviewer.Email
	}
	var recipients []string
	if o.Senior {
		recipients = append(recipients, e.Config.Review.SeniorRecipients...)
	} else if it.OwnerEmail != "" {
		recipients = []string{it.OwnerEmail}
	}
	return notify.Message{
		Template:   o.Template,
		Subject:    o.Subject,
		Recipients: recipients,
		ReplyTo:    e.Config.Notify.ReplyTo,
		Context:    data,
	}
}

func (e Engine) runContentEffects(ctx context.Context, res *CommitResult, fx pendingEffects) {
	store := e.content()
	failed := map[string]bool{}
	for _, c := range fx.copies {
		err := store.CopyContent(ctx, c.from, c.to)
		res.Effects = append(res.Effects, e.effect(res, c.itemID, "copy", c.from+" -> "+c.to, err))
		if err != nil {
			failed[c.itemID] = true
		}
	}
	ids := make([]string, 0, len(fx.previews))
	for id := range fx.previews {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if failed[id] {
			continue
		}
		header := fx.previews[id]
		err := store.GeneratePreview(ctx, header, content.PreviewTargets(header))
		res.Effects = append(res.Effects, e.effect(res, id, "preview", header, err))
	}
}

func (e Engine) runNotifications(ctx context.Context, res *CommitResult, fx pendingEffects) {
	n := e.notifier()
	for _, m := range fx.messages {
		if len(m.msg.Recipients) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("item %s: no recipient for %s notification", m.itemID, m.msg.Template))
			continue
		}
		err := n.Notify(ctx, m.msg)
		if err != nil {
			var de *notify.DeliveryError
			if !errors.As(err, &de) {
				err = &notify.DeliveryError{Template: m.msg.Template, Err: err}
			}
		}
		res.Effects = append(res.Effects, e.effect(res, m.itemID, "notify", m.msg.Template, err))
	}
}

// effect records the outcome of one side effect, turning failures into
// warnings.
func (e Engine) effect(res *CommitResult, itemID, kind, target string, err error) Effect {
	ef := Effect{ItemID: itemID, Kind: kind, Target: target, OK: err == nil}
	if err != nil {
		ef.Error = err.Error()
		res.Warnings = append(res.Warnings, fmt.Sprintf("item %s: %s %s failed: %v", itemID, kind, target, err))
		metrics.SideEffectFailures.WithLabelValues(kind).Inc()
		e.log().Warn("post-commit side effect failed",
			zap.String("item", itemID),
			zap.String("kind", kind),
			zap.String("target", target),
			zap.Error(err),
		)
	}
	return ef
}
