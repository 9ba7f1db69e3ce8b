// Package logstream fans process log records out to subscribed front-ends
// in real time. It installs as an slog.Handler wrapper: every record still
// reaches the underlying handler, and is additionally delivered to all
// registered callbacks.
package logstream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is one structured log line as delivered to callbacks.
type Record struct {
	Level     string         `json:"level"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
}

// Callback receives every log record. Callbacks must be fast; slow
// consumers should hand off to their own channel.
type Callback func(Record)

// The callback set is the only process-global mutable state besides the
// provider credential registry.
var (
	callbackMu sync.RWMutex
	callbacks  = map[int]Callback{}
	nextID     int
)

// AddCallback registers cb and returns its unsubscribe function.
func AddCallback(cb Callback) func() {
	callbackMu.Lock()
	id := nextID
	nextID++
	callbacks[id] = cb
	callbackMu.Unlock()

	return func() {
		callbackMu.Lock()
		delete(callbacks, id)
		callbackMu.Unlock()
	}
}

func fanOut(record Record) {
	callbackMu.RLock()
	cbs := make([]Callback, 0, len(callbacks))
	for _, cb := range callbacks {
		cbs = append(cbs, cb)
	}
	callbackMu.RUnlock()

	for _, cb := range cbs {
		cb(record)
	}
}

// Handler wraps an slog.Handler and mirrors every record to the callback
// set.
type Handler struct {
	inner slog.Handler
	attrs []slog.Attr
}

// NewHandler wraps inner with log-stream fan-out.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	record := Record{
		Level:     r.Level.String(),
		Message:   r.Message,
		Timestamp: r.Time,
	}
	collect := func(a slog.Attr) {
		switch a.Key {
		case "category":
			record.Category = a.Value.String()
		case "message_id":
			record.MessageID = a.Value.String()
		default:
			if record.Data == nil {
				record.Data = make(map[string]any)
			}
			record.Data[a.Key] = a.Value.Any()
		}
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	fanOut(record)
	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{inner: h.inner.WithAttrs(attrs), attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), attrs: h.attrs}
}
