package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/llm"
	"github.com/hrygo/agentworld/engine/runtime"
	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db/file"
)

type noopFactory struct{}

func (noopFactory) NewProvider(string) (llm.Provider, error) {
	return nil, errors.New("no provider in tests")
}

// testFactory builds empty runtimes and can be told to fail.
type testFactory struct {
	st *store.Store

	mu    sync.Mutex
	built int
	fail  bool
}

func newTestFactory(t *testing.T) *testFactory {
	t.Helper()
	p := &profile.Profile{Data: t.TempDir(), StorageType: "file", Mode: "dev"}
	driver, err := file.NewDriver(p)
	require.NoError(t, err)
	return &testFactory{st: store.New(driver, p)}
}

func (f *testFactory) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *testFactory) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

func (f *testFactory) build(_ context.Context, worldID string) (*runtime.Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("storage unavailable")
	}
	f.built++
	world := &store.World{ID: worldID, Name: "W", TurnLimit: 5}
	pipeline := llm.NewPipeline(noopFactory{}, nil, nil, time.Second)
	return runtime.New(context.Background(), world, nil, f.st, bus.New(), pipeline, runtime.Options{}), nil
}

func TestSubscribeIsIdempotentPerID(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	s1, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	s2, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, f.buildCount())

	// The same id cannot bind a different world.
	_, err = m.Subscribe(ctx, "sub-1", "w2", "", Hooks{})
	assert.Error(t, err)

	s1.Destroy()
}

func TestSubscriptionsShareOneRuntime(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	s1, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	s2, err := m.Subscribe(ctx, "sub-2", "w1", "", Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.buildCount())
	require.NotNil(t, m.Runtime("w1"))

	s1.Destroy()
	assert.NotNil(t, m.Runtime("w1"), "runtime survives while a subscriber remains")

	s2.Destroy()
	assert.Nil(t, m.Runtime("w1"), "last destroy releases the runtime")
}

func TestMessageDelivery(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	var mu sync.Mutex
	var got []bus.MessageEvent
	s, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{
		OnMessage: func(e bus.MessageEvent) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer s.Destroy()

	m.Runtime("w1").Bus().Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "m1", Content: "hi"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "m1", got[0].MessageID)
	mu.Unlock()
}

func TestChatScopedSubscription(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	var activity []string
	s, err := m.Subscribe(ctx, "sub-1", "w1", "chat-a", Hooks{
		OnMessage: func(e bus.MessageEvent) {
			mu.Lock()
			got = append(got, e.MessageID)
			mu.Unlock()
		},
		OnActivity: func(e bus.ActivityEvent) {
			mu.Lock()
			activity = append(activity, e.EventType)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer s.Destroy()

	b := m.Runtime("w1").Bus()
	b.Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "m1", ChatID: "chat-a"})
	b.Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "m2", ChatID: "chat-b"})
	// Messages without a chat id never reach a chat-bound subscriber.
	b.Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "m3"})
	// World-scoped topics pass even without a chat id.
	b.Publish(bus.TopicActivity, bus.ActivityEvent{EventType: bus.ActivityIdle})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(activity) == 1 && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"m1"}, got)
	assert.Equal(t, []string{bus.ActivityIdle}, activity)
	mu.Unlock()
}

func TestRefreshSwapsWorldInstance(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	s, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{
		OnMessage: func(e bus.MessageEvent) {
			mu.Lock()
			got = append(got, e.MessageID)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer s.Destroy()

	oldRT := m.Runtime("w1")
	oldBus := oldRT.Bus()

	warning := m.RefreshWorld(ctx, "w1")
	assert.Empty(t, warning)
	assert.Equal(t, 2, f.buildCount())

	newRT := m.Runtime("w1")
	require.NotNil(t, newRT)
	assert.NotSame(t, oldRT, newRT)

	// The old bus is fully detached and closed.
	assert.Zero(t, oldBus.TotalListeners())

	// Delivery continues on the new bus under the same subscription id.
	newRT.Bus().Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "after-refresh"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshWorldRebindsAllSubscriptions(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	// Two subscribers on one world, as in production: the engine's own
	// process-held subscription plus an SSE client.
	var mu sync.Mutex
	counts := map[string]int{}
	hook := func(id string) Hooks {
		return Hooks{OnMessage: func(bus.MessageEvent) {
			mu.Lock()
			counts[id]++
			mu.Unlock()
		}}
	}
	s1, err := m.Subscribe(ctx, "sub-1", "w1", "", hook("sub-1"))
	require.NoError(t, err)
	defer s1.Destroy()
	s2, err := m.Subscribe(ctx, "sub-2", "w1", "", hook("sub-2"))
	require.NoError(t, err)
	defer s2.Destroy()

	oldBus := m.Runtime("w1").Bus()

	warning := m.RefreshWorld(ctx, "w1")
	assert.Empty(t, warning)
	// One rebuild serves both subscribers.
	assert.Equal(t, 2, f.buildCount())
	assert.Zero(t, oldBus.TotalListeners())

	m.Runtime("w1").Bus().Publish(bus.TopicMessage, bus.MessageEvent{MessageID: "m1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["sub-1"] == 1 && counts["sub-2"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshFailureDowngradesToWarning(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	s, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	defer s.Destroy()

	oldRT := m.Runtime("w1")

	f.setFail(true)
	warning := m.RefreshWorld(ctx, "w1")
	assert.Contains(t, warning, "refresh failed")

	// The stale runtime stays in place so the world keeps working.
	assert.Same(t, oldRT, m.Runtime("w1"))

	// The next successful refresh clears the warning.
	f.setFail(false)
	warning = m.RefreshWorld(ctx, "w1")
	assert.Empty(t, warning)
	assert.Empty(t, s.RefreshWarning())
}

func TestDestroyWorldClosesAllSubscriptions(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager(f.build)
	ctx := context.Background()

	_, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, "sub-2", "w1", "", Hooks{})
	require.NoError(t, err)

	m.DestroyWorld("w1")
	assert.Nil(t, m.Runtime("w1"))

	// The ids are free again.
	s, err := m.Subscribe(ctx, "sub-1", "w1", "", Hooks{})
	require.NoError(t, err)
	s.Destroy()
}
