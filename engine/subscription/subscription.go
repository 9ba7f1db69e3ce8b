// Package subscription manages world subscriptions: client hooks bound to
// a world's event bus, refreshed against fresh world instances after
// mutations, and torn down by ref count.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/runtime"
)

// Hooks are the client callbacks bound to a world bus. Nil hooks skip
// their topic. Message delivery blocks the bus to preserve ordering; sse
// and tool delivery drop the oldest pending event when the client falls
// behind.
type Hooks struct {
	OnMessage  func(bus.MessageEvent)
	OnSSE      func(bus.SSEEvent)
	OnTool     func(bus.ToolEvent)
	OnActivity func(bus.ActivityEvent)
	OnSystem   func(bus.SystemEvent)
	OnLog      func(bus.LogEvent)
}

// RuntimeFactory builds a fresh runtime for a world: it loads the world
// and its agents from storage and wires a new bus. Called on first
// subscribe and on every refresh.
type RuntimeFactory func(ctx context.Context, worldID string) (*runtime.Runtime, error)

// streamBuffer sizes the per-subscription delivery channels.
const streamBuffer = 256

// Manager tracks live world runtimes and the subscriptions bound to
// them. A world instance is shared by its subscriptions and released when
// the last one closes.
type Manager struct {
	factory RuntimeFactory

	mu     sync.Mutex
	worlds map[string]*worldEntry
	subs   map[string]*Subscription
}

type worldEntry struct {
	rt   *runtime.Runtime
	refs int
}

func NewManager(factory RuntimeFactory) *Manager {
	return &Manager{
		factory: factory,
		worlds:  make(map[string]*worldEntry),
		subs:    make(map[string]*Subscription),
	}
}

// Subscription is one client's handle on a world. Refresh preserves the
// id while swapping the underlying world instance.
type Subscription struct {
	ID      string
	WorldID string
	ChatID  string

	mgr   *Manager
	hooks Hooks

	mu             sync.Mutex
	open           bool
	cancelled      bool
	detach         []func()
	refreshWarning string
}

// Subscribe binds hooks to the world's bus under the given subscription
// id. Re-subscribing an open id with the same world and chat is a no-op
// returning the existing handle.
func (m *Manager) Subscribe(ctx context.Context, subscriptionID, worldID, chatID string, hooks Hooks) (*Subscription, error) {
	m.mu.Lock()
	if existing, ok := m.subs[subscriptionID]; ok {
		if existing.WorldID == worldID && existing.ChatID == chatID && existing.isOpen() {
			m.mu.Unlock()
			return existing, nil
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("subscription %s already bound to world %s", subscriptionID, existing.WorldID)
	}

	entry, err := m.acquireLocked(ctx, worldID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	s := &Subscription{
		ID:      subscriptionID,
		WorldID: worldID,
		ChatID:  chatID,
		mgr:     m,
		hooks:   hooks,
		open:    true,
	}
	m.subs[subscriptionID] = s
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// The subscription may be cancelled between creation and listener
	// attachment; bail out without leaking listeners.
	if s.cancelled {
		s.open = false
		m.release(worldID)
		m.forget(subscriptionID)
		return nil, context.Canceled
	}
	s.attachLocked(entry.rt.Bus())
	return s, nil
}

// acquireLocked returns the world entry, creating the runtime on first
// use. Caller holds m.mu.
func (m *Manager) acquireLocked(ctx context.Context, worldID string) (*worldEntry, error) {
	if entry, ok := m.worlds[worldID]; ok {
		entry.refs++
		return entry, nil
	}
	rt, err := m.factory(ctx, worldID)
	if err != nil {
		return nil, err
	}
	entry := &worldEntry{rt: rt, refs: 1}
	m.worlds[worldID] = entry
	return entry, nil
}

func (m *Manager) release(worldID string) {
	m.mu.Lock()
	entry, ok := m.worlds[worldID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	var rt *runtime.Runtime
	if entry.refs <= 0 {
		rt = entry.rt
		delete(m.worlds, worldID)
	}
	m.mu.Unlock()

	if rt != nil {
		rt.Stop()
		rt.Bus().Close()
	}
}

func (m *Manager) forget(subscriptionID string) {
	m.mu.Lock()
	delete(m.subs, subscriptionID)
	m.mu.Unlock()
}

// Runtime returns the live runtime of a world, nil when no subscription
// holds it.
func (m *Manager) Runtime(worldID string) *runtime.Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.worlds[worldID]; ok {
		return entry.rt
	}
	return nil
}

// RefreshWorld rebuilds the world's runtime once and rebinds every open
// subscription of the world to the new bus, then retires the old runtime.
// One rebuild serves all subscribers; rebuilding per subscription would
// strand the earlier ones on a closed bus. Rebuild failures downgrade to
// a warning; refresh never aborts the outer mutation.
func (m *Manager) RefreshWorld(ctx context.Context, worldID string) string {
	m.mu.Lock()
	old, hadOld := m.worlds[worldID]
	var subs []*Subscription
	for _, s := range m.subs {
		if s.WorldID == worldID {
			subs = append(subs, s)
		}
	}
	if !hadOld {
		m.mu.Unlock()
		return ""
	}

	rt, err := m.factory(ctx, worldID)
	if err != nil {
		m.mu.Unlock()
		// The stale runtime stays in place so subscribers keep a live
		// bus; the caller sees a warning, not a failed mutation.
		warning := fmt.Sprintf("refresh failed: %v", err)
		slog.Warn("world refresh failed",
			"category", "subscription",
			"world_id", worldID,
			"error", err.Error())
		for _, s := range subs {
			s.noteRefreshWarning(warning)
		}
		return warning
	}
	m.worlds[worldID] = &worldEntry{rt: rt, refs: old.refs}
	m.mu.Unlock()

	for _, s := range subs {
		s.rebind(rt.Bus())
	}
	old.rt.Stop()
	old.rt.Bus().Close()
	return ""
}

// DestroyWorld closes every subscription of a world, e.g. on deletion.
func (m *Manager) DestroyWorld(worldID string) {
	m.mu.Lock()
	var subs []*Subscription
	for _, s := range m.subs {
		if s.WorldID == worldID {
			subs = append(subs, s)
		}
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Destroy()
	}
}

func (s *Subscription) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Cancel flags the subscription before listener attachment completes;
// a cancelled setup bails out and leaks nothing.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// RefreshWarning returns the warning of the last refresh, empty when it
// completed cleanly.
func (s *Subscription) RefreshWarning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshWarning
}

// rebind moves the subscription's listeners to a fresh bus under the same
// id. A clean rebind clears any earlier refresh warning.
func (s *Subscription) rebind(b *bus.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	s.refreshWarning = ""
	s.detachLocked()
	s.attachLocked(b)
}

func (s *Subscription) noteRefreshWarning(warning string) {
	s.mu.Lock()
	s.refreshWarning = warning
	s.mu.Unlock()
}

// Destroy detaches the listeners and drops this subscription's reference
// to the world.
func (s *Subscription) Destroy() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.detachLocked()
	s.mu.Unlock()

	s.mgr.release(s.WorldID)
	s.mgr.forget(s.ID)
}

// attachLocked binds the hooks to b. Caller holds s.mu.
func (s *Subscription) attachLocked(b *bus.Bus) {
	if s.hooks.OnMessage != nil {
		ch := make(chan bus.Envelope, streamBuffer)
		stop := s.pump(ch, func(e bus.Envelope) {
			if m, ok := e.Event.(bus.MessageEvent); ok && s.wantsChat(m.ChatID) {
				s.hooks.OnMessage(m)
			}
		})
		unsub := b.Subscribe(bus.TopicMessage, bus.BlockingListener(ch))
		s.detach = append(s.detach, unsub, stop)
	}
	if s.hooks.OnSSE != nil {
		s.attachDropOldest(b, bus.TopicSSE, func(e bus.Envelope) {
			if ev, ok := e.Event.(bus.SSEEvent); ok && s.wantsChat(ev.ChatID) {
				s.hooks.OnSSE(ev)
			}
		})
	}
	if s.hooks.OnTool != nil {
		s.attachDropOldest(b, bus.TopicTool, func(e bus.Envelope) {
			if ev, ok := e.Event.(bus.ToolEvent); ok && s.wantsChat(ev.ChatID) {
				s.hooks.OnTool(ev)
			}
		})
	}
	if s.hooks.OnActivity != nil {
		s.attachDropOldest(b, bus.TopicActivity, func(e bus.Envelope) {
			if ev, ok := e.Event.(bus.ActivityEvent); ok && s.wantsWorldScoped(ev.ChatID) {
				s.hooks.OnActivity(ev)
			}
		})
	}
	if s.hooks.OnSystem != nil {
		s.attachDropOldest(b, bus.TopicSystem, func(e bus.Envelope) {
			if ev, ok := e.Event.(bus.SystemEvent); ok && s.wantsWorldScoped(ev.ChatID) {
				s.hooks.OnSystem(ev)
			}
		})
	}
	if s.hooks.OnLog != nil {
		s.attachDropOldest(b, bus.TopicLog, func(e bus.Envelope) {
			if ev, ok := e.Event.(bus.LogEvent); ok {
				s.hooks.OnLog(ev)
			}
		})
	}
}

func (s *Subscription) attachDropOldest(b *bus.Bus, topic bus.Topic, deliver func(bus.Envelope)) {
	ch := make(chan bus.Envelope, streamBuffer)
	stop := s.pump(ch, deliver)
	unsub := b.Subscribe(topic, bus.DropOldestListener(ch))
	s.detach = append(s.detach, unsub, stop)
}

// pump drains ch on its own goroutine so hooks never run on the bus
// dispatch path. Late events arriving after stop are discarded.
func (s *Subscription) pump(ch chan bus.Envelope, deliver func(bus.Envelope)) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case e := <-ch:
				deliver(e)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// wantsChat filters chat-scoped payload topics (message, sse, tool): a
// chat-bound subscriber only sees events tagged with its chat, including
// dropping events that carry no chatId at all.
func (s *Subscription) wantsChat(chatID string) bool {
	return s.ChatID == "" || chatID == s.ChatID
}

// wantsWorldScoped admits world-level topics (activity, system), which
// may legitimately carry no chatId.
func (s *Subscription) wantsWorldScoped(chatID string) bool {
	return s.ChatID == "" || chatID == "" || chatID == s.ChatID
}

func (s *Subscription) detachLocked() {
	for _, f := range s.detach {
		f()
	}
	s.detach = nil
}
