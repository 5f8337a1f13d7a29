package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"reviewline/internal/config"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/repo"
)

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{OwnerID: "o"})
	require.Error(t, err)
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{Name: "x"})
	require.Error(t, err)

	it, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{Name: "x", OwnerID: "o"})
	require.NoError(t, err)
	require.NotEmpty(t, it.ID)
	require.Equal(t, domain.StatusPending, it.Status)
}

func TestRestageRequiresPublicItem(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "owner")
	_, err := env.Engine.Restage(env.Ctx, "t01", "themes/t01/pending/header.png", "", "")
	require.Error(t, err)
	_, err = env.Engine.Restage(env.Ctx, "missing", "h", "", "")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSingleReviewable(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "alice")

	v, err := env.Engine.Single(env.Ctx, "bob", "t01")
	require.NoError(t, err)
	require.True(t, v.Reviewable)
	require.Equal(t, domain.CategoryStandard, v.Category)
	require.Nil(t, v.Lease)

	v, err = env.Engine.Single(env.Ctx, "alice", "t01")
	require.NoError(t, err)
	require.False(t, v.Reviewable)

	_, err = env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 1)
	require.NoError(t, err)
	v, err = env.Engine.Single(env.Ctx, "bob", "t01")
	require.NoError(t, err)
	require.NotNil(t, v.Lease)
	require.Equal(t, "bob", v.Lease.ReviewerID)

	_, err = env.Engine.Commit(env.Ctx, reviewer("bob"), []domain.Decision{{ItemID: "t01", Action: domain.ActionFlag}})
	require.NoError(t, err)
	v, err = env.Engine.Single(env.Ctx, "bob", "t01")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryFlagged, v.Category)
	require.False(t, v.Reviewable)

	_, err = env.Engine.Single(env.Ctx, "bob", "nope")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSingleAllowsSelfReviewWhenConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Review.AllowSelfReviews = true })
	env.seed(t, 1, "alice")
	v, err := env.Engine.Single(env.Ctx, "alice", "t01")
	require.NoError(t, err)
	require.True(t, v.Reviewable)
}

func TestListQueueAndDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 1)
	require.NoError(t, err)

	q, err := env.Engine.ListQueue(env.Ctx, domain.CategoryStandard)
	require.NoError(t, err)
	require.Equal(t, []string{"t01", "t02", "t03"}, ids(q))

	deleted, err := env.Engine.Delete(env.Ctx, "t01", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeleted, deleted.Status)
	_, err = env.Engine.Repo.GetLease(env.Ctx, nil, "t01")
	require.ErrorIs(t, err, repo.ErrNotFound)

	q, err = env.Engine.ListQueue(env.Ctx, domain.CategoryStandard)
	require.NoError(t, err)
	require.Equal(t, []string{"t02", "t03"}, ids(q))
	gone, err := env.Engine.ListDeleted(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t01"}, ids(gone))

	stats, err := env.Engine.Stats(env.Ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{domain.StatusPending: 2, domain.StatusDeleted: 1}, stats)

	_, err = env.Engine.ListQueue(env.Ctx, "bogus")
	require.Error(t, err)
}

func TestHistoryNewestFirstWithCursor(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 4, "owner")
	_, err := env.Engine.AcquireBatch(env.Ctx, "alice", domain.CategoryStandard, 3)
	require.NoError(t, err)
	_, err = env.Engine.AcquireBatch(env.Ctx, "bob", domain.CategoryStandard, 1)
	require.NoError(t, err)
	_, err = env.Engine.Commit(env.Ctx, reviewer("alice"), []domain.Decision{
		{ItemID: "t01", Action: domain.ActionApprove},
		{ItemID: "t02", Action: domain.ActionApprove},
		{ItemID: "t03", Action: domain.ActionApprove},
	})
	require.NoError(t, err)
	_, err = env.Engine.Commit(env.Ctx, reviewer("bob"), []domain.Decision{{ItemID: "t04", Action: domain.ActionFlag}})
	require.NoError(t, err)

	page, err := env.Engine.History(env.Ctx, "alice", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "t03", page[0].ItemID)
	require.Equal(t, "t02", page[1].ItemID)

	rest, err := env.Engine.History(env.Ctx, "alice", 2, page[1].ID)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "t01", rest[0].ItemID)

	all, err := env.Engine.Logs(env.Ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "bob", all[0].ActorID)

	trail, err := env.Engine.ItemHistory(env.Ctx, "t04")
	require.NoError(t, err)
	// submitted, acquired, reviewed
	require.Len(t, trail, 3)
}
