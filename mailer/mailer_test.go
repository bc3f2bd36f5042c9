package mailer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, ""), mr
}

func TestEnqueuePushesJSONJob(t *testing.T) {
	q, mr := newQueue(t)

	err := q.Enqueue(context.Background(), Message{To: "jane@example.com", Subject: "hi", Body: "body"})
	require.NoError(t, err)

	items, err := mr.List(DefaultQueueKey)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.Equal(t, "jane@example.com", got["email"])
	assert.Equal(t, "hi", got["subject"])
	assert.Equal(t, "body", got["message"])
	assert.NotEmpty(t, got["queuedAt"])
}

func TestEnqueueRejectsEmptyRecipient(t *testing.T) {
	q, _ := newQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), Message{Subject: "x"}))
}

func TestEnqueueFailsWhenRedisIsDown(t *testing.T) {
	q, mr := newQueue(t)
	mr.Close()
	assert.Error(t, q.Enqueue(context.Background(), Message{To: "jane@example.com"}))
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := Open(context.Background(), Options{Addr: mr.Addr(), QueueKey: "custom"})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), Message{To: "a@b.co"}))
	n, err := mr.List("custom")
	require.NoError(t, err)
	assert.Len(t, n, 1)
}
