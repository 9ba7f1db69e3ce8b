package bus

import (
	"context"
	"sync"
)

// StreamingRegistry tracks active LLM streams (messageId → cancel) so a
// user "stop" on a chat can cancel exactly the streams bound to it. The
// registry is owned by the bus; the LLM pipeline is its sole mutator.
type StreamingRegistry struct {
	mu      sync.Mutex
	streams map[string]streamEntry
}

type streamEntry struct {
	chatID string
	cancel context.CancelFunc
}

func NewStreamingRegistry() *StreamingRegistry {
	return &StreamingRegistry{streams: make(map[string]streamEntry)}
}

// Register records an active stream under its messageId.
func (r *StreamingRegistry) Register(messageID, chatID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[messageID] = streamEntry{chatID: chatID, cancel: cancel}
}

// Unregister removes a finished stream.
func (r *StreamingRegistry) Unregister(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, messageID)
}

// CancelChat cancels every active stream whose chatId matches and returns
// how many were cancelled.
func (r *StreamingRegistry) CancelChat(chatID string) int {
	r.mu.Lock()
	var cancels []context.CancelFunc
	for id, entry := range r.streams {
		if entry.chatID == chatID {
			cancels = append(cancels, entry.cancel)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// CancelAll cancels every active stream, e.g. on world deletion.
func (r *StreamingRegistry) CancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.streams))
	for id, entry := range r.streams {
		cancels = append(cancels, entry.cancel)
		delete(r.streams, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Active reports the number of in-flight streams.
func (r *StreamingRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
