package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"reviewline/internal/config"
	"reviewline/internal/db"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/migrate"
)

func TestWebhookDispatcherPostsNewRecords(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	if _, err := e.Submit(ctx, engine.SubmitOptions{ID: "old", Name: "Old", OwnerID: "o"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var mu sync.Mutex
	var got []webhookRecord
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec webhookRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		mu.Lock()
		got = append(got, rec)
		secrets = append(secrets, r.Header.Get("X-Reviewline-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	d := newWebhookDispatcher(e.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"theme.review"}, Secret: "s3"}}, nil)
	// Starting the cursor skips records written before the dispatcher.
	d.dispatchAll(ctx)

	if _, err := e.Submit(ctx, engine.SubmitOptions{ID: "t1", Name: "New", OwnerID: "o"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.AcquireBatch(ctx, "alice", domain.CategoryStandard, 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := e.Commit(ctx, domain.Reviewer{ID: "alice"}, []domain.Decision{{ItemID: "old", Action: domain.ActionApprove}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d: %+v", len(got), got)
	}
	if got[0].Action != "theme.review" || got[0].ItemID != "old" || secrets[0] != "s3" {
		t.Fatalf("unexpected delivery: %+v secret=%q", got[0], secrets[0])
	}
}

func TestWebhookCursorRetriesAfterLookupFailure(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	review := func(id string) {
		t.Helper()
		if _, err := e.Submit(ctx, engine.SubmitOptions{ID: id, Name: id, OwnerID: "o"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := e.AcquireBatch(ctx, "alice", domain.CategoryStandard, 1); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if _, err := e.Commit(ctx, domain.Reviewer{ID: "alice"}, []domain.Decision{{ItemID: id, Action: domain.ActionApprove}}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	review("old")

	var mu sync.Mutex
	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec webhookRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		mu.Lock()
		got = append(got, rec.ItemID)
		mu.Unlock()
	}))
	defer hook.Close()

	d := newWebhookDispatcher(e.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"theme.review"}}}, nil)
	if _, err := conn.Exec(`ALTER TABLE audit_log RENAME TO audit_log_hidden`); err != nil {
		t.Fatalf("hide audit log: %v", err)
	}
	d.dispatchAll(ctx)
	if _, ok := d.cursors[0]; ok {
		t.Fatalf("cursor cached after failed lookup: %v", d.cursors)
	}
	if _, err := conn.Exec(`ALTER TABLE audit_log_hidden RENAME TO audit_log`); err != nil {
		t.Fatalf("restore audit log: %v", err)
	}

	d.dispatchAll(ctx)
	review("new")
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected only the new record, got %v", got)
	}
}
