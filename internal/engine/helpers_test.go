package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewline/internal/config"
	"reviewline/internal/content"
	"reviewline/internal/db"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/migrate"
	"reviewline/internal/notify"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) byTemplate(name string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, m := range n.msgs {
		if m.Template == name {
			out = append(out, m)
		}
	}
	return out
}

type recordingStore struct {
	mu       sync.Mutex
	copies   [][2]string
	previews []string
	copyErr  error
}

func (s *recordingStore) CopyContent(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies = append(s.copies, [2]string{from, to})
	return s.copyErr
}

func (s *recordingStore) GeneratePreview(_ context.Context, src string, dsts []content.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews = append(s.previews, src)
	return nil
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *clock
	Notifier *recordingNotifier
	Content  *recordingStore
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	n := &recordingNotifier{}
	st := &recordingStore{}
	eng := engine.New(conn, cfg)
	eng.Now = clk.Now
	eng.Notifier = n
	eng.Content = st
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clk, Notifier: n, Content: st}
}

// seed submits n pending items owned by owner, named t01..tNN in submission
// order.
func (env testEnv) seed(t *testing.T, n int, owner string) []domain.WorkItem {
	t.Helper()
	var out []domain.WorkItem
	for i := 1; i <= n; i++ {
		it, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
			ID:         fmt.Sprintf("t%02d", i),
			Name:       fmt.Sprintf("Theme %d", i),
			OwnerID:    owner,
			OwnerEmail: owner + "@example.org",
			Header:     fmt.Sprintf("themes/t%02d/header.png", i),
		})
		require.NoError(t, err)
		out = append(out, it)
		env.Clock.Advance(time.Second)
	}
	return out
}

func (env testEnv) leaseCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT count(*) FROM leases`).Scan(&n))
	return n
}

func (env testEnv) status(t *testing.T, id string) string {
	t.Helper()
	it, err := env.Engine.Repo.GetItem(env.Ctx, nil, id)
	require.NoError(t, err)
	return it.Status
}

func ids(items []domain.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func reviewer(id string) domain.Reviewer {
	return domain.Reviewer{ID: id, Email: id + "@reviewers.example.org"}
}

var errBoom = errors.New("boom")

// failAudit makes the audit insert for action on itemID abort, simulating a
// storage failure partway through a transaction. It returns a func that
// removes the trigger.
func (env testEnv) failAudit(t *testing.T, action, itemID string) func() {
	t.Helper()
	_, err := env.Engine.DB.Exec(fmt.Sprintf(`CREATE TRIGGER fail_audit BEFORE INSERT ON audit_log
WHEN NEW.action = '%s' AND NEW.item_id = '%s'
BEGIN SELECT RAISE(ABORT, 'disk gone'); END`, action, itemID))
	require.NoError(t, err)
	return func() {
		_, err := env.Engine.DB.Exec(`DROP TRIGGER IF EXISTS fail_audit`)
		require.NoError(t, err)
	}
}
