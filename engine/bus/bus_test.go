package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []any
	unsub := b.Subscribe(TopicMessage, func(_ Topic, event any) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})

	b.Publish(TopicMessage, MessageEvent{MessageID: "m1", Content: "hi"})
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].(MessageEvent).MessageID)

	// Other topics do not reach this listener.
	b.Publish(TopicSSE, SSEEvent{EventType: SSEStart, MessageID: "m2"})
	assert.Len(t, got, 1)

	unsub()
	b.Publish(TopicMessage, MessageEvent{MessageID: "m3"})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, b.ListenerCount(TopicMessage))
}

func TestPublishSurvivesPanickingListener(t *testing.T) {
	b := New()

	b.Subscribe(TopicMessage, func(Topic, any) {
		panic("listener bug")
	})
	delivered := false
	b.Subscribe(TopicMessage, func(Topic, any) {
		delivered = true
	})

	require.NotPanics(t, func() {
		b.Publish(TopicMessage, MessageEvent{MessageID: "m1"})
	})
	assert.True(t, delivered)
}

func TestCloseDetachesListeners(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(TopicSSE, func(Topic, any) { calls++ })

	b.Close()
	b.Publish(TopicSSE, SSEEvent{EventType: SSEChunk})
	assert.Zero(t, calls)
	assert.Zero(t, b.TotalListeners())

	// Subscribing after close is a safe no-op.
	unsub := b.Subscribe(TopicSSE, func(Topic, any) { calls++ })
	unsub()
	b.Publish(TopicSSE, SSEEvent{EventType: SSEChunk})
	assert.Zero(t, calls)
}

func TestDropOldestListener(t *testing.T) {
	ch := make(chan Envelope, 2)
	listener := DropOldestListener(ch)

	listener(TopicSSE, SSEEvent{MessageID: "1"})
	listener(TopicSSE, SSEEvent{MessageID: "2"})
	listener(TopicSSE, SSEEvent{MessageID: "3"}) // drops "1"

	first := <-ch
	second := <-ch
	assert.Equal(t, "2", first.Event.(SSEEvent).MessageID)
	assert.Equal(t, "3", second.Event.(SSEEvent).MessageID)
}

func TestStreamingRegistryCancelChat(t *testing.T) {
	r := NewStreamingRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	r.Register("m1", "chat-a", cancel1)
	r.Register("m2", "chat-b", cancel2)
	require.Equal(t, 2, r.Active())

	cancelled := r.CancelChat("chat-a")
	assert.Equal(t, 1, cancelled)
	assert.Error(t, ctx1.Err())
	assert.NoError(t, ctx2.Err())
	assert.Equal(t, 1, r.Active())

	r.Unregister("m2")
	assert.Zero(t, r.Active())
}

func TestStreamingRegistryCancelAll(t *testing.T) {
	r := NewStreamingRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Register("m1", "chat-a", cancel)

	assert.Equal(t, 1, r.CancelAll())
	assert.Error(t, ctx.Err())
	assert.Zero(t, r.Active())
}

func TestEventChatID(t *testing.T) {
	assert.Equal(t, "c1", EventChatID(MessageEvent{ChatID: "c1"}))
	assert.Equal(t, "c2", EventChatID(SSEEvent{ChatID: "c2"}))
	assert.Equal(t, "c3", EventChatID(ToolEvent{ChatID: "c3"}))
	assert.Empty(t, EventChatID(LogEvent{}))
	assert.Empty(t, EventChatID(42))
}
