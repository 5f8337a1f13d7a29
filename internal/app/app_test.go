package app

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"reviewline/internal/config"
	"reviewline/internal/content"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/notify"
)

func TestOpenWithDefaults(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), ws, Options{})
	require.NoError(t, err)
	defer rt.Close()

	require.Equal(t, 20, rt.Config.Review.InitialLocks)
	require.IsType(t, notify.Log{}, rt.Engine.Notifier)
	require.IsType(t, content.FS{}, rt.Engine.Content)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	mr := miniredis.RunT(t)
	yml := "review:\n  initial_locks: 3\nnotify:\n  driver: redis\n  redis:\n    addr: " + mr.Addr() + "\ncontent:\n  driver: none\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(yml), 0o644))

	ctx := context.Background()
	rt, err := Open(ctx, ws, Options{LogLevel: "debug"})
	require.NoError(t, err)
	defer rt.Close()
	require.Equal(t, 3, rt.Config.Review.InitialLocks)

	_, err = rt.Engine.Submit(ctx, engine.SubmitOptions{ID: "t1", Name: "Sunset", OwnerID: "o", OwnerEmail: "o@example.org"})
	require.NoError(t, err)
	_, err = rt.Engine.AcquireBatch(ctx, "alice", domain.CategoryStandard, 0)
	require.NoError(t, err)
	res, err := rt.Engine.Commit(ctx, domain.Reviewer{ID: "alice"}, []domain.Decision{{ItemID: "t1", Action: domain.ActionApprove}})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	queued, err := mr.List(notify.DefaultRedisKey)
	require.NoError(t, err)
	require.Len(t, queued, 1)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("review:\n  initial_locks: -1\n"), 0o644))
	_, err := Open(context.Background(), ws, Options{})
	require.Error(t, err)
}
