package server

import (
	"strings"

	"reviewline/internal/domain"
	"reviewline/internal/engine"
)

// Request payloads

type DecisionRequest struct {
	ItemID       string `json:"item_id"`
	Action       string `json:"action" enum:"moreinfo,flag,duplicate,reject,approve"`
	RejectReason int    `json:"reject_reason,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

type CommitRequest struct {
	Decisions []DecisionRequest `json:"decisions"`
}

type SubmitRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	OwnerEmail string `json:"owner_email,omitempty"`
	Header     string `json:"header,omitempty"`
	Footer     string `json:"footer,omitempty"`
}

type RestageRequest struct {
	Header string `json:"header,omitempty"`
	Footer string `json:"footer,omitempty"`
}

type DevLoginRequest struct {
	ReviewerID  string   `json:"reviewer_id"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type QueueResponse struct {
	Category domain.Category   `json:"category"`
	Items    []domain.WorkItem `json:"items"`
}

type ReleaseResponse struct {
	Released int `json:"released"`
}

type AppliedResponse struct {
	ItemID     string `json:"item_id"`
	Action     string `json:"action"`
	Category   string `json:"category"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

type CommitResponse struct {
	Applied  []AppliedResponse `json:"applied"`
	Effects  []engine.Effect   `json:"effects"`
	Warnings []string          `json:"warnings"`
}

type AuditResponse struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Action  string `json:"action"`
	ActorID string `json:"actor_id"`
	ItemID  string `json:"item_id,omitempty"`
	Details string `json:"details_json"`
}

type paginatedAudit struct {
	Items      []AuditResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ItemViewResponse struct {
	Item       domain.WorkItem `json:"item"`
	Category   string          `json:"category"`
	Lease      *domain.Lease   `json:"lease,omitempty"`
	Reviewable bool            `json:"reviewable"`
}

type WhoAmIResponse struct {
	ReviewerID  string   `json:"reviewer_id"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type CreateAPIKeyRequest struct {
	ReviewerID  string   `json:"reviewer_id" minLength:"1"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions" minItems:"1"`
}

type CreateAPIKeyResponse struct {
	Key domain.APIKey `json:"key"`
	// Secret is only ever returned here.
	Secret string `json:"secret"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func (r DecisionRequest) decision() (domain.Decision, error) {
	a, err := domain.ParseAction(r.Action)
	if err != nil {
		return domain.Decision{}, err
	}
	return domain.Decision{
		ItemID:       strings.TrimSpace(r.ItemID),
		Action:       a,
		RejectReason: r.RejectReason,
		Comment:      r.Comment,
	}, nil
}

func commitResponse(res engine.CommitResult) CommitResponse {
	out := CommitResponse{
		Applied:  make([]AppliedResponse, 0, len(res.Applied)),
		Effects:  nonNilSlice(res.Effects),
		Warnings: nonNilSlice(res.Warnings),
	}
	for _, a := range res.Applied {
		out.Applied = append(out.Applied, AppliedResponse{
			ItemID:     a.ItemID,
			Action:     a.Action.String(),
			Category:   string(a.Category),
			FromStatus: a.FromStatus,
			ToStatus:   a.ToStatus,
		})
	}
	return out
}

func auditResponse(rec domain.AuditRecord) AuditResponse {
	return AuditResponse(rec)
}

func itemViewResponse(v engine.ItemView) ItemViewResponse {
	return ItemViewResponse{
		Item:       v.Item,
		Category:   string(v.Category),
		Lease:      v.Lease,
		Reviewable: v.Reviewable,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
