package engine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewline/internal/config"
	"reviewline/internal/domain"
	"reviewline/internal/events"
)

func TestAcquireBoundedAndOrdered(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, "owner")

	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02", "t03"}, ids(got))
	require.Equal(t, 3, env.leaseCount(t))

	n, err := env.Engine.Repo.CountAudit(env.Ctx, events.LeaseAcquired, "")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestAcquireDefaultsToInitialLocks(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Review.InitialLocks = 2 })
	env.seed(t, 5, "owner")
	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestTopOffIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, "owner")

	first, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)
	second, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)
	require.Equal(t, ids(first), ids(second))
	require.Equal(t, 3, env.leaseCount(t))

	more, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02", "t03", "t04"}, ids(more))
}

func TestAcquireRefreshesHeldLeases(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)

	env.Clock.Advance(30 * time.Minute)
	_, err = env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)

	l, err := env.Engine.Repo.GetLease(env.Ctx, nil, "t01")
	require.NoError(t, err)
	require.Equal(t, "2024-01-01T01:10:01Z", l.ExpiresAt)
}

func TestMutualExclusionUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 30, "owner")

	reviewers := []string{"r1", "r2", "r3", "r4", "r5", "r6"}
	results := make([][]domain.WorkItem, len(reviewers))
	errs := make([]error, len(reviewers))
	var wg sync.WaitGroup
	for i, r := range reviewers {
		wg.Add(1)
		go func(i int, r string) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.AcquireBatch(env.Ctx, r, domain.CategoryStandard, 10)
		}(i, r)
	}
	wg.Wait()

	seen := map[string]string{}
	total := 0
	for i, r := range reviewers {
		require.NoError(t, errs[i])
		require.LessOrEqual(t, len(results[i]), 10)
		for _, it := range results[i] {
			owner, dup := seen[it.ID]
			require.False(t, dup, "item %s leased by %s and %s", it.ID, owner, r)
			seen[it.ID] = r
		}
		total += len(results[i])
	}
	require.Equal(t, 30, total)
	require.Equal(t, 30, env.leaseCount(t))
}

func TestSelfOwnedItemsExcluded(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 2, "alice")
	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 5)
	require.NoError(t, err)
	require.Empty(t, got)

	allowed := newTestEnv(t, func(c *config.Config) { c.Review.AllowSelfReviews = true })
	allowed.seed(t, 2, "alice")
	got, err = allowed.Engine.AcquireBatch(allowed.Ctx, "alice", domain.CategoryStandard, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestFlaggedQueueIgnoresOwner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "alice")
	_, err := env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 1)
	require.NoError(t, err)
	_, err = env.Engine.Commit(env.Ctx, reviewer("bob"), []domain.Decision{{ItemID: "t01", Action: domain.ActionFlag}})
	require.NoError(t, err)

	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryFlagged, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"t01"}, ids(got))
}

func TestExpiredLeasesAreReclaimedOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3, "owner")

	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)
	env.Clock.Advance(time.Minute)
	_, err = env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 2)
	require.NoError(t, err)

	got, err := env.Engine.AcquireBatch(env.Ctx, "carol", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Empty(t, got)

	env.Clock.Advance(45 * time.Minute)
	got, err = env.Engine.AcquireBatch(env.Ctx, "carol", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02"}, ids(got))

	l, err := env.Engine.Repo.GetLease(env.Ctx, nil, "t01")
	require.NoError(t, err)
	require.Equal(t, "carol", l.ReviewerID)

	n, err := env.Engine.Repo.CountAudit(env.Ctx, events.LeaseReclaim, "")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestReleaseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)

	n, err := env.Engine.Release(env.Ctx, "alice", domain.CategoryStandard)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = env.Engine.Release(env.Ctx, "alice", domain.CategoryStandard)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, env.leaseCount(t))

	got, err := env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestReleaseLeavesOtherReviewers(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 4, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 2)
	require.NoError(t, err)
	_, err = env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 2)
	require.NoError(t, err)

	_, err = env.Engine.Release(env.Ctx, "alice", "")
	require.NoError(t, err)
	held, err := env.Engine.HeldItems(env.Ctx, "bob", domain.CategoryStandard)
	require.NoError(t, err)
	require.Equal(t, []string{"t03", "t04"}, ids(held))
}

// Three eligible items, target two: A gets two, B the last, C nothing until
// A's lease on the first item lapses.
func TestThreeItemsTargetTwo(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3, "owner")

	a, err := env.Engine.AcquireBatch(env.Ctx, "A", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02"}, ids(a))

	b, err := env.Engine.AcquireBatch(env.Ctx, "B", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"t03"}, ids(b))

	c, err := env.Engine.AcquireBatch(env.Ctx, "C", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Empty(t, c)

	_, err = env.Engine.DB.Exec(`UPDATE leases SET expires_at=? WHERE item_id=?`, "2023-12-31T00:00:00Z", "t01")
	require.NoError(t, err)

	c, err = env.Engine.AcquireBatch(env.Ctx, "C", domain.CategoryStandard, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"t01"}, ids(c))

	held, err := env.Engine.HeldItems(env.Ctx, "A", domain.CategoryStandard)
	require.NoError(t, err)
	require.Equal(t, []string{"t02"}, ids(held))
}

func TestAcquireStorageFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 4, "owner")
	first, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"t01"}, ids(first))
	before, err := env.Engine.Repo.GetLease(env.Ctx, nil, "t01")
	require.NoError(t, err)

	env.Clock.Advance(10 * time.Minute)
	restore := env.failAudit(t, events.LeaseAcquired, "t03")
	_, err = env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 4)
	require.ErrorContains(t, err, "disk gone")

	require.Equal(t, 1, env.leaseCount(t))
	after, err := env.Engine.Repo.GetLease(env.Ctx, nil, "t01")
	require.NoError(t, err)
	require.Equal(t, before.ExpiresAt, after.ExpiresAt)
	n, err := env.Engine.Repo.CountAudit(env.Ctx, events.LeaseAcquired, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	restore()
	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02", "t03", "t04"}, ids(got))
	require.Equal(t, 4, env.leaseCount(t))
}

func TestAcquireKeepsLeasesAboveTarget(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)

	env.Clock.Advance(time.Minute)
	got, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02", "t03"}, ids(got))
	require.Equal(t, 3, env.leaseCount(t))
}
