package bus

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Listener receives events published on a topic. Listeners are invoked
// synchronously by Publish and must not block: hand off to your own
// channel or mailbox immediately (see channel.go helpers).
type Listener func(topic Topic, event any)

// Bus is the per-world typed event emitter. Dispatch takes a read lock;
// subscription changes take a write lock, so a bus is read-mostly after
// setup.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Topic]map[int]Listener
	nextID    int
	closed    bool

	streams *StreamingRegistry
}

// New creates an event bus with an empty listener set.
func New() *Bus {
	return &Bus{
		listeners: make(map[Topic]map[int]Listener),
		streams:   NewStreamingRegistry(),
	}
}

// Streams returns the registry of active LLM streams owned by this bus.
// Its sole mutator is the LLM pipeline.
func (b *Bus) Streams() *StreamingRegistry {
	return b.streams
}

// Subscribe registers a listener for a topic and returns its unsubscribe
// function. Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(topic Topic, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[topic][id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[topic], id)
	}
}

// Publish dispatches the event synchronously to all listeners of the
// topic. A panicking listener is logged and skipped; it never takes the
// bus down.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	listeners := make([]Listener, 0, len(b.listeners[topic]))
	for _, l := range b.listeners[topic] {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		dispatch(l, topic, event)
	}
}

func dispatch(l Listener, topic Topic, event any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panic",
				"topic", string(topic),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	l(topic, event)
}

// ListenerCount reports how many listeners a topic currently has.
func (b *Bus) ListenerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

// TotalListeners reports listeners across all topics.
func (b *Bus) TotalListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, m := range b.listeners {
		n += len(m)
	}
	return n
}

// Close detaches every listener and cancels active streams. A closed bus
// delivers no further events.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.listeners = make(map[Topic]map[int]Listener)
	b.mu.Unlock()
	b.streams.CancelAll()
}
