package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db/file"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	p := &profile.Profile{Data: t.TempDir(), StorageType: "file", Mode: "dev"}
	driver, err := file.NewDriver(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	return NewManager(st), st
}

func seedWorld(t *testing.T, st *store.Store, worldID string) *store.World {
	t.Helper()
	world := &store.World{ID: worldID, Name: "W", TurnLimit: 5}
	require.NoError(t, st.SaveWorld(context.Background(), world))
	return world
}

func TestNewChatBecomesCurrent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, st, "w1")

	world, c, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatName, c.Name)
	assert.Equal(t, c.ID, world.CurrentChatID)

	persisted, err := st.LoadWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, persisted.CurrentChatID)
}

func TestRestoreChat(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, st, "w1")

	_, c1, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)
	_, c2, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)

	world, err := m.RestoreChat(ctx, "w1", c1.ID)
	require.NoError(t, err)
	require.NotNil(t, world)
	assert.Equal(t, c1.ID, world.CurrentChatID)

	// Restoring a missing chat mutates nothing and reports nil.
	world, err = m.RestoreChat(ctx, "w1", "no-such-chat")
	require.NoError(t, err)
	assert.Nil(t, world)

	persisted, err := st.LoadWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, persisted.CurrentChatID)
	_ = c2
}

func TestDeleteChatPurgesMemory(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, st, "w1")

	_, c1, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)
	_, c2, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)

	agent := &store.Agent{ID: "a1", WorldID: "w1", Name: "a1", Provider: "openai", Model: "gpt-4o"}
	require.NoError(t, st.SaveAgent(ctx, agent))
	now := time.Now().UTC()
	require.NoError(t, st.SaveAgentMemory(ctx, "w1", "a1", []store.AgentMessage{
		{MessageID: "m1", ChatID: c1.ID, Role: store.RoleUser, Sender: "human", Content: "keep", CreatedAt: now},
		{MessageID: "m2", ChatID: c2.ID, Role: store.RoleUser, Sender: "human", Content: "purge", CreatedAt: now.Add(time.Second)},
	}))

	deleted, err := m.DeleteChat(ctx, "w1", c2.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	memory, err := st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	require.Len(t, memory, 1)
	assert.Equal(t, "m1", memory[0].MessageID)

	// c2 was current; deletion clears the pointer.
	world, err := st.LoadWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, world.CurrentChatID)

	// Deleting again reports not-found without error.
	deleted, err = m.DeleteChat(ctx, "w1", c2.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListChatsDerivesMessageCounts(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, st, "w1")

	_, c1, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, st.SaveAgent(ctx, &store.Agent{ID: id, WorldID: "w1", Name: id, Provider: "openai", Model: "gpt-4o"}))
	}
	now := time.Now().UTC()
	// Both agents hold a copy of m1; the count must collapse duplicates.
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, st.SaveAgentMemory(ctx, "w1", id, []store.AgentMessage{
			{MessageID: "m1", ChatID: c1.ID, Role: store.RoleUser, Sender: "human", Content: "hi", CreatedAt: now},
		}))
	}
	require.NoError(t, st.AppendAgentMemory(ctx, "w1", "a1",
		store.AgentMessage{MessageID: "m2", ChatID: c1.ID, Role: store.RoleAssistant, Sender: "a1", Content: "reply", CreatedAt: now.Add(time.Second)}))

	chats, err := m.ListChats(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 2, chats[0].MessageCount)
}

func TestMaybeSetTitle(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	seedWorld(t, st, "w1")

	_, c, err := m.NewChat(ctx, "w1")
	require.NoError(t, err)

	b := bus.New()
	var mu sync.Mutex
	var events []bus.SystemEvent
	b.Subscribe(bus.TopicSystem, func(_ bus.Topic, event any) {
		mu.Lock()
		events = append(events, event.(bus.SystemEvent))
		mu.Unlock()
	})

	require.NoError(t, m.MaybeSetTitle(ctx, b, "w1", c.ID, "Plan the launch\nwith details"))

	loaded, err := st.LoadChat(ctx, "w1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan the launch", loaded.Name)

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, SystemEventChatTitleUpdated, events[0].Type)
	mu.Unlock()

	// A titled chat keeps its name.
	require.NoError(t, m.MaybeSetTitle(ctx, b, "w1", c.ID, "something else"))
	loaded, err = st.LoadChat(ctx, "w1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan the launch", loaded.Name)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", deriveTitle("hello"))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))
	assert.Empty(t, deriveTitle("   \nrest"))

	long := strings.Repeat("x", 60)
	got := deriveTitle(long)
	assert.Equal(t, strings.Repeat("x", 50)+"...", got)

	// Truncation lands on a rune boundary.
	unicode := strings.Repeat("世", 60)
	got = deriveTitle(unicode)
	assert.Equal(t, strings.Repeat("世", 50)+"...", got)
}
