package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	body, err := json.Marshal(EventNotice{EventID: "evt-1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeEvent, Body: body}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, TypeEvent, msg.Type)
		var notice EventNotice
		require.NoError(t, json.Unmarshal(msg.Body, &notice))
		assert.Equal(t, "evt-1", notice.EventID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, Message{Type: TypeEvent}))
	cancel()

	// Queue is full and the context is done.
	err := q.Publish(ctx, Message{Type: TypeEvent})
	assert.ErrorIs(t, err, context.Canceled)
}
