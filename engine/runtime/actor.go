package runtime

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/hrygo/agentworld/engine/bus"
)

// mailboxSize bounds how many undelivered messages one agent may queue.
// Enqueue blocks when full so the message topic keeps its ordering.
const mailboxSize = 64

// handlerFunc processes one delivered message on the actor's worker.
type handlerFunc func(ctx context.Context, msg bus.MessageEvent)

// actor is one agent's mailbox and its dedicated worker goroutine.
// Messages are handled strictly in enqueue order, one at a time.
type actor struct {
	agentID string
	mailbox chan bus.MessageEvent
	done    chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func newActor(ctx context.Context, agentID string, handler handlerFunc) *actor {
	a := &actor{
		agentID: agentID,
		mailbox: make(chan bus.MessageEvent, mailboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.work(ctx, handler)
	return a
}

func (a *actor) work(ctx context.Context, handler handlerFunc) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case msg := <-a.mailbox:
			a.handle(ctx, handler, msg)
		}
	}
}

func (a *actor) handle(ctx context.Context, handler handlerFunc, msg bus.MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent worker panic",
				"category", "runtime",
				"agent", a.agentID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(ctx, msg)
}

// enqueue delivers a message to the mailbox, blocking when it is full.
// Returns false once the actor has stopped.
func (a *actor) enqueue(msg bus.MessageEvent) bool {
	select {
	case <-a.stopped:
		return false
	default:
	}
	select {
	case a.mailbox <- msg:
		return true
	case <-a.stopped:
		return false
	}
}

// stop shuts the worker down. Queued messages are discarded.
func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.stopped) })
	<-a.done
}
