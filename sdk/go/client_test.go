package reviewlinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewline/internal/config"
	"reviewline/internal/db"
	"reviewline/internal/engine"
	"reviewline/internal/migrate"
	"reviewline/internal/server"
	reviewlinesdk "reviewline/sdk/go"
)

const secret = "sdk-secret"

func newServer(t *testing.T) (*httptest.Server, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default())
	h, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, e
}

func clientFor(t *testing.T, base, reviewer string) *reviewlinesdk.Client {
	t.Helper()
	tok, err := server.SignToken(secret, reviewer, reviewer+"@example.org", []string{server.PermReview}, time.Hour)
	require.NoError(t, err)
	c := reviewlinesdk.New(base + "/v0")
	c.BearerToken = tok
	return c
}

func TestClientReviewRound(t *testing.T) {
	ts, e := newServer(t)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		_, err := e.Submit(ctx, engine.SubmitOptions{ID: id, Name: "Theme " + id, OwnerID: "owner"})
		require.NoError(t, err)
	}

	alice := clientFor(t, ts.URL, "alice")
	items, err := alice.Acquire(ctx, "standard", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "s1", items[0].ID)

	res, err := alice.Commit(ctx, []reviewlinesdk.Decision{
		{ItemID: "s1", Action: "approve"},
		{ItemID: "s2", Action: "reject", RejectReason: 7},
	})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	require.Equal(t, "public", res.Applied[0].ToStatus)
	require.Equal(t, "rejected", res.Applied[1].ToStatus)

	page, err := alice.HistoryPage(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.NextCursor)
	page, err = alice.HistoryPage(ctx, 1, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	view, err := alice.Item(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "public", view.Item.Status)
	require.False(t, view.Reviewable)

	reasons, err := alice.RejectReasons(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
}

func TestClientErrors(t *testing.T) {
	ts, e := newServer(t)
	ctx := context.Background()
	_, err := e.Submit(ctx, engine.SubmitOptions{ID: "s1", Name: "Theme", OwnerID: "owner"})
	require.NoError(t, err)

	bob := clientFor(t, ts.URL, "bob")
	_, err = bob.Commit(ctx, []reviewlinesdk.Decision{{ItemID: "s1", Action: "approve"}})
	var apiErr *reviewlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Equal(t, "lease_required", apiErr.Code)

	anon := reviewlinesdk.New(ts.URL + "/v0")
	_, err = anon.Acquire(ctx, "standard", 1)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	n, err := bob.Release(ctx, "all")
	require.NoError(t, err)
	require.Zero(t, n)
}
