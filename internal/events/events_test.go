package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	e, err := New(MessageCreated, map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)

	data, err := e.Marshal()
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, MessageCreated, decoded.Topic)

	var payload map[string]string
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "hi", payload["text"])
}

func TestTopicValid(t *testing.T) {
	for _, topic := range Topics() {
		assert.True(t, topic.Valid(), topic)
	}
	assert.False(t, Topic("chat.unknown").Valid())
}

func TestMemoryBusDeliversToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(nil)
	defer bus.Close()

	got := make(chan *Event, 4)
	require.NoError(t, bus.Subscribe(ctx, ConversationCreated, func(_ context.Context, e *Event) error {
		got <- e
		return nil
	}))
	other := make(chan *Event, 4)
	require.NoError(t, bus.Subscribe(ctx, MessageCreated, func(_ context.Context, e *Event) error {
		other <- e
		return nil
	}))

	e, err := New(ConversationCreated, struct{}{})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, e))

	select {
	case received := <-got:
		assert.Equal(t, e.ID, received.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, other)
}

func TestMemoryBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, TopicUpdated, func(context.Context, *Event) error { return nil }))
	assert.Equal(t, 1, bus.subscriberCount(TopicUpdated))

	cancel()
	assert.Eventually(t, func() bool { return bus.subscriberCount(TopicUpdated) == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	e, err := New(MemberAdded, struct{}{})
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(context.Background(), e), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), MemberAdded, nil), ErrBusClosed)
}
