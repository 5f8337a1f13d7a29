package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewline/internal/db"
	"reviewline/internal/domain"
	"reviewline/internal/migrate"
	"reviewline/internal/repo"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T, items ...string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	for i, id := range items {
		ts := repo.FormatTime(t0.Add(time.Duration(i) * time.Second))
		require.NoError(t, r.InsertItem(context.Background(), nil, domain.WorkItem{
			ID: id, Name: id, OwnerID: "owner", Status: domain.StatusPending, CreatedAt: ts, UpdatedAt: ts,
		}))
	}
	return r
}

func lease(item, reviewer string, expires time.Time) domain.Lease {
	return domain.Lease{
		ItemID:     item,
		ReviewerID: reviewer,
		Category:   domain.CategoryStandard,
		AcquiredAt: repo.FormatTime(t0),
		ExpiresAt:  repo.FormatTime(expires),
	}
}

func TestCreateLeaseConflicts(t *testing.T) {
	r := newRepo(t, "a")
	ctx := context.Background()
	require.NoError(t, r.CreateLease(ctx, nil, lease("a", "r1", t0.Add(time.Minute))))

	err := r.CreateLease(ctx, nil, lease("a", "r2", t0.Add(time.Minute)))
	require.ErrorIs(t, err, repo.ErrConflict)
	var ce *repo.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "a", ce.ItemID)

	// An expired row still blocks a plain create.
	_, err = r.ExtendLease(ctx, nil, "a", "r1", t0.Add(-time.Minute))
	require.NoError(t, err)
	require.ErrorIs(t, r.CreateLease(ctx, nil, lease("a", "r2", t0.Add(time.Minute))), repo.ErrConflict)
}

func TestReclaimLeaseCompareAndSwap(t *testing.T) {
	r := newRepo(t, "a")
	ctx := context.Background()
	require.NoError(t, r.CreateLease(ctx, nil, lease("a", "r1", t0.Add(time.Minute))))

	// Not expired yet at t0.
	err := r.ReclaimLease(ctx, nil, lease("a", "r2", t0.Add(time.Hour)), t0)
	require.ErrorIs(t, err, repo.ErrConflict)

	later := t0.Add(2 * time.Minute)
	require.NoError(t, r.ReclaimLease(ctx, nil, lease("a", "r2", later.Add(time.Hour)), later))
	got, err := r.GetLease(ctx, nil, "a")
	require.NoError(t, err)
	require.Equal(t, "r2", got.ReviewerID)

	// The first reclaimer won; a second one sees a fresh row.
	err = r.ReclaimLease(ctx, nil, lease("a", "r3", later.Add(time.Hour)), later)
	require.ErrorIs(t, err, repo.ErrConflict)
}

func TestLeaseOwnershipAndListing(t *testing.T) {
	r := newRepo(t, "a", "b", "c")
	ctx := context.Background()
	require.NoError(t, r.CreateLease(ctx, nil, lease("a", "r1", t0.Add(3*time.Minute))))
	require.NoError(t, r.CreateLease(ctx, nil, lease("b", "r1", t0.Add(1*time.Minute))))
	require.NoError(t, r.CreateLease(ctx, nil, lease("c", "r2", t0.Add(1*time.Minute))))

	ok, err := r.DeleteLease(ctx, nil, "c", "r1")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.ExtendLease(ctx, nil, "c", "r1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	expired, err := r.ListExpiredLeases(ctx, nil, t0.Add(5*time.Minute), domain.CategoryStandard)
	require.NoError(t, err)
	require.Len(t, expired, 3)
	require.Equal(t, []string{"b", "c", "a"}, []string{expired[0].ItemID, expired[1].ItemID, expired[2].ItemID})

	held, err := r.ListActiveLeases(ctx, nil, "r1", "")
	require.NoError(t, err)
	require.Len(t, held, 2)

	released, err := r.ReleaseLeases(ctx, nil, "r1", domain.CategoryStandard)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, released)
	released, err = r.ReleaseLeases(ctx, nil, "r1", "")
	require.NoError(t, err)
	require.Empty(t, released)

	_, err = r.GetLease(ctx, nil, "a")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSelectCandidatesSkipsLeasedAndOwner(t *testing.T) {
	r := newRepo(t, "a", "b", "c")
	ctx := context.Background()
	_, err := r.DB.Exec(`UPDATE items SET owner_id='r1' WHERE id='c'`)
	require.NoError(t, err)
	require.NoError(t, r.CreateLease(ctx, nil, lease("a", "r2", t0.Add(-time.Minute))))

	got, err := r.SelectCandidates(ctx, nil, repo.CandidateFilters{Category: domain.CategoryStandard, ExcludeOwner: "r1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)

	got, err = r.SelectCandidates(ctx, nil, repo.CandidateFilters{Category: domain.CategoryStandard, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)
}
