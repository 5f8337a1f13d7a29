package reviewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Reviewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item represents the API theme model.
type Item struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	OwnerID       string  `json:"owner_id"`
	OwnerEmail    string  `json:"owner_email,omitempty"`
	Status        string  `json:"status"`
	Header        string  `json:"header,omitempty"`
	Footer        string  `json:"footer,omitempty"`
	PendingHeader *string `json:"pending_header,omitempty"`
	PendingFooter *string `json:"pending_footer,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type Lease struct {
	ItemID     string `json:"item_id"`
	ReviewerID string `json:"reviewer_id"`
	Category   string `json:"category"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
}

// ItemView is an item with its lease and whether the caller may review it.
type ItemView struct {
	Item       Item   `json:"item"`
	Category   string `json:"category"`
	Lease      *Lease `json:"lease,omitempty"`
	Reviewable bool   `json:"reviewable"`
}

// Decision is one verdict in a commit batch. Action is one of moreinfo,
// flag, duplicate, reject, approve.
type Decision struct {
	ItemID       string `json:"item_id"`
	Action       string `json:"action"`
	RejectReason int    `json:"reject_reason,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

type Applied struct {
	ItemID     string `json:"item_id"`
	Action     string `json:"action"`
	Category   string `json:"category"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

type Effect struct {
	ItemID string `json:"item_id"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type CommitResult struct {
	Applied  []Applied `json:"applied"`
	Effects  []Effect  `json:"effects"`
	Warnings []string  `json:"warnings"`
}

// AuditRecord represents a history entry.
type AuditRecord struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Action  string `json:"action"`
	ActorID string `json:"actor_id"`
	ItemID  string `json:"item_id,omitempty"`
	Details string `json:"details_json"`
}

// PaginatedAudit wraps list responses with cursors.
type PaginatedAudit struct {
	Items      []AuditRecord `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

type RejectReason struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Acquire tops up the caller's queue in category and returns every item
// the caller now holds there. target 0 uses the server default.
func (c *Client) Acquire(ctx context.Context, category string, target int) ([]Item, error) {
	endpoint := fmt.Sprintf("queues/%s/acquire", url.PathEscape(category))
	if target > 0 {
		endpoint = fmt.Sprintf("%s?target=%d", endpoint, target)
	}
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Items, err
}

// Held lists the caller's items without refreshing their leases.
func (c *Client) Held(ctx context.Context, category string) ([]Item, error) {
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "queues/"+url.PathEscape(category), nil, &resp)
	return resp.Items, err
}

// Release gives back the caller's leases; category "all" releases every queue.
func (c *Client) Release(ctx context.Context, category string) (int, error) {
	var resp struct {
		Released int `json:"released"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("queues/%s/release", url.PathEscape(category)), nil, &resp)
	return resp.Released, err
}

// Commit applies a batch of decisions on items the caller holds.
func (c *Client) Commit(ctx context.Context, decisions []Decision) (CommitResult, error) {
	var resp CommitResult
	err := c.do(ctx, http.MethodPost, "commit", map[string]any{"decisions": decisions}, &resp)
	return resp, err
}

// Item fetches one theme as the caller sees it.
func (c *Client) Item(ctx context.Context, id string) (ItemView, error) {
	var resp ItemView
	err := c.do(ctx, http.MethodGet, "items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// HistoryPage returns a page of the caller's review decisions.
func (c *Client) HistoryPage(ctx context.Context, limit int, cursor string) (PaginatedAudit, error) {
	return c.auditPage(ctx, "history", limit, cursor)
}

// LogsPage returns a page of every review decision.
func (c *Client) LogsPage(ctx context.Context, limit int, cursor string) (PaginatedAudit, error) {
	return c.auditPage(ctx, "logs", limit, cursor)
}

func (c *Client) auditPage(ctx context.Context, endpoint string, limit int, cursor string) (PaginatedAudit, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RejectReasons returns the rejection catalog.
func (c *Client) RejectReasons(ctx context.Context) ([]RejectReason, error) {
	var resp []RejectReason
	err := c.do(ctx, http.MethodGet, "reject-reasons", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
