package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db/file"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	p := &profile.Profile{Data: t.TempDir(), StorageType: "file", Mode: "dev", LLMTimeout: 30}
	driver, err := file.NewDriver(p)
	require.NoError(t, err)
	m := New(p, store.New(driver, p), Options{})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func seedRemovalFixture(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.st.SaveWorld(ctx, &store.World{ID: "w1", Name: "W", TurnLimit: 5}))

	base := time.Now().UTC().Truncate(time.Millisecond)
	memory := []store.AgentMessage{
		{MessageID: "m1", ChatID: "chat-a", Role: store.RoleUser, Sender: "human", Content: "first", CreatedAt: base},
		{MessageID: "m2", ChatID: "chat-b", Role: store.RoleUser, Sender: "human", Content: "other chat", CreatedAt: base.Add(time.Second)},
		{MessageID: "m3", ChatID: "chat-a", Role: store.RoleAssistant, Sender: "a1", Content: "target", CreatedAt: base.Add(2 * time.Second)},
		{MessageID: "m4", ChatID: "chat-b", Role: store.RoleAssistant, Sender: "a1", Content: "later other chat", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, m.st.SaveAgent(ctx, &store.Agent{ID: id, WorldID: "w1", Name: id, Provider: "openai", Model: "gpt-4o"}))
		require.NoError(t, m.st.SaveAgentMemory(ctx, "w1", id, memory))
	}
}

func TestRemoveMessagesFrom(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedRemovalFixture(t, m)

	result, err := m.RemoveMessagesFrom(ctx, "w1", "m3", "chat-a")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.ElementsMatch(t, []string{"a1", "a2"}, result.ProcessedAgents)
	assert.Empty(t, result.FailedAgents)
	// One message removed per agent.
	assert.Equal(t, 2, result.MessagesRemovedTotal)

	// Survivors: everything in chat-b plus chat-a entries before the target.
	for _, id := range []string{"a1", "a2"} {
		memory, err := m.st.LoadAgentMemory(ctx, "w1", id)
		require.NoError(t, err)
		ids := make([]string, 0, len(memory))
		for _, msg := range memory {
			ids = append(ids, msg.MessageID)
		}
		assert.Equal(t, []string{"m1", "m2", "m4"}, ids)
	}
}

func TestRemoveMessagesFromIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedRemovalFixture(t, m)

	first, err := m.RemoveMessagesFrom(ctx, "w1", "m3", "chat-a")
	require.NoError(t, err)
	assert.Equal(t, 2, first.MessagesRemovedTotal)

	// The target is gone now; a second run removes nothing but still
	// reports every agent as processed.
	second, err := m.RemoveMessagesFrom(ctx, "w1", "m3", "chat-a")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Zero(t, second.MessagesRemovedTotal)
	assert.ElementsMatch(t, []string{"a1", "a2"}, second.ProcessedAgents)
}

func TestRemoveMessagesFromWrongChat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedRemovalFixture(t, m)

	// m3 lives in chat-a; scoping the removal to chat-b matches nothing.
	result, err := m.RemoveMessagesFrom(ctx, "w1", "m3", "chat-b")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.MessagesRemovedTotal)

	memory, err := m.st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Len(t, memory, 4)
}

func TestRemoveMessagesFromRemovesLaterSameChat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedRemovalFixture(t, m)

	// Removing from m1 wipes chat-a entirely, leaving chat-b intact.
	result, err := m.RemoveMessagesFrom(ctx, "w1", "m1", "chat-a")
	require.NoError(t, err)
	assert.Equal(t, 4, result.MessagesRemovedTotal)

	memory, err := m.st.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	require.Len(t, memory, 2)
	assert.Equal(t, "m2", memory[0].MessageID)
	assert.Equal(t, "m4", memory[1].MessageID)
}
