package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"reviewline/internal/config"
	"reviewline/internal/domain"
	"reviewline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the audit log and posts new records to each
// configured hook. Cursors live in memory; a restart resumes at the newest
// record.
type webhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *zap.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

func newWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *zap.Logger) *webhookDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webhookDispatcher{
		repo:     r,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.Named("webhooks"),
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// StartWebhooks runs the dispatcher until ctx is done. It returns at once when
// no hooks are configured.
func StartWebhooks(ctx context.Context, r repo.Repo, cfg *config.Config, logger *zap.Logger) {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return
	}
	go newWebhookDispatcher(r, cfg.Webhooks, logger).run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	records, err := d.repo.AuditAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.logger.Warn("fetch audit records failed", zap.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, rec := range records {
		if !filter.match(rec.Action) {
			d.setCursor(idx, rec.ID)
			continue
		}
		if err := d.postRecord(ctx, hook, rec); err != nil {
			d.logger.Warn("deliver webhook failed", zap.String("url", hook.URL), zap.Int64("record", rec.ID), zap.Error(err))
			return
		}
		d.setCursor(idx, rec.ID)
	}
}

// cursorFor returns the hook's cursor, starting it at the newest record on
// first use. Nothing is cached when that lookup fails; the next tick retries.
func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.repo.LatestAuditID(ctx)
	if err != nil {
		d.logger.Warn("init webhook cursor failed", zap.Error(err))
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookRecord struct {
	ID      int64           `json:"id"`
	Action  string          `json:"action"`
	ActorID string          `json:"actor_id"`
	ItemID  string          `json:"item_id,omitempty"`
	TS      string          `json:"ts"`
	Details json.RawMessage `json:"details"`
}

func (d *webhookDispatcher) postRecord(ctx context.Context, hook config.WebhookConfig, rec domain.AuditRecord) error {
	details := json.RawMessage("{}")
	if rec.Details != "" && json.Valid([]byte(rec.Details)) {
		details = json.RawMessage(rec.Details)
	}
	data, err := json.Marshal(webhookRecord{
		ID:      rec.ID,
		Action:  rec.Action,
		ActorID: rec.ActorID,
		ItemID:  rec.ItemID,
		TS:      rec.TS,
		Details: details,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewline-Event", rec.Action)
	req.Header.Set("X-Reviewline-Delivery", fmt.Sprintf("%d", rec.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Reviewline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
