package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit actions.
const (
	ThemeReview   = "theme.review"
	LeaseAcquired = "lease.acquired"
	LeaseReclaim  = "lease.reclaimed"
	LeaseReleased = "lease.released"
	ItemSubmitted = "item.submitted"
	ItemRestaged  = "item.restaged"
	ItemDeleted   = "item.deleted"
	APIKeyCreated = "apikey.created"
	APIKeyRevoked = "apikey.revoked"
)

// Writer appends audit records inside the caller's transaction so a record
// exists exactly when the change it describes is committed.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, actorID, itemID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format("2006-01-02T15:04:05Z")
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,action,actor_id,item_id,details_json) VALUES (?,?,?,?,?)`,
		ts, action, actorID, nullable(itemID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
