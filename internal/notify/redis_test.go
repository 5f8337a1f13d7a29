package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisOutbox(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	r := NewRedis(client, "")
	require.NoError(t, r.Notify(ctx, Message{Template: "moreinfo", Subject: "q1", Recipients: []string{"a@example.org"}}))
	require.NoError(t, r.Notify(ctx, Message{Template: "approve", Subject: "q2"}))

	n, err := r.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	msg, ok, err := r.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "moreinfo", msg.Template)
	require.Equal(t, []string{"a@example.org"}, msg.Recipients)

	msg, ok, err = r.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "q2", msg.Subject)

	_, ok, err = r.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisOutboxUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedis(client, "k").Notify(context.Background(), Message{Template: "reject"})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
}

func TestDrainDeliversInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	r := NewRedis(client, "")
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, r.Notify(ctx, Message{Template: "approve", Subject: s}))
	}

	dst := &counting{}
	n, err := Drain(ctx, r, dst, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, dst.n)

	left, err := r.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, left)

	n, err = Drain(ctx, r, dst, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDrainRequeuesOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	r := NewRedis(client, "")
	require.NoError(t, r.Notify(ctx, Message{Template: "reject", Subject: "first"}))
	require.NoError(t, r.Notify(ctx, Message{Template: "reject", Subject: "second"}))

	n, err := Drain(ctx, r, failing{err: errors.New("smtp down")}, 0)
	require.Error(t, err)
	require.Zero(t, n)

	msg, ok, err := r.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", msg.Subject)
}
