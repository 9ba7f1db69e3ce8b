package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	driver, err := NewDB(&profile.Profile{DSN: filepath.Join(t.TempDir(), "agentworld.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	return driver.(*DB)
}

func TestWorldRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	world := &store.World{
		ID:        "w1",
		Name:      "World One",
		TurnLimit: 5,
		Variables: map[string]string{"workingDirectory": "/srv"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, d.SaveWorld(ctx, world))

	loaded, err := d.LoadWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "World One", loaded.Name)
	assert.Equal(t, "/srv", loaded.Variables["workingDirectory"])

	// Upsert on the same id.
	world.Name = "Renamed"
	require.NoError(t, d.SaveWorld(ctx, world))
	loaded, err = d.LoadWorld(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Name)

	_, err = d.LoadWorld(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteWorldCascades(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SaveWorld(ctx, &store.World{ID: "w1", Name: "W", TurnLimit: 5}))
	require.NoError(t, d.SaveAgent(ctx, &store.Agent{ID: "a1", WorldID: "w1", Name: "a1", Provider: "openai", Model: "gpt-4o"}))
	require.NoError(t, d.SaveChat(ctx, &store.Chat{ID: "c1", WorldID: "w1", Name: "Chat"}))
	require.NoError(t, d.SaveAgentMemory(ctx, "w1", "a1", []store.AgentMessage{
		{MessageID: "m1", ChatID: "c1", Role: store.RoleUser, Sender: "human", Content: "hi", CreatedAt: time.Now().UTC()},
	}))

	require.NoError(t, d.DeleteWorld(ctx, "w1"))

	_, err := d.LoadWorld(ctx, "w1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.LoadAgent(ctx, "w1", "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.LoadChat(ctx, "w1", "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	memory, err := d.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Empty(t, memory)

	assert.ErrorIs(t, d.DeleteWorld(ctx, "w1"), store.ErrNotFound)
}

func TestAgentRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	temp := float32(0.4)
	now := time.Now().UTC().Truncate(time.Second)
	agent := &store.Agent{
		ID: "a1", WorldID: "w1", Name: "alice",
		Provider: "anthropic", Model: "claude-sonnet-4",
		SystemPrompt: "be brief", Temperature: &temp,
		AutoReply: true, Status: store.AgentStatusActive,
		LLMCallCount: 2, LastLLMCall: &now,
		CreatedAt: now, LastActive: now,
	}
	require.NoError(t, d.SaveAgent(ctx, agent))

	loaded, err := d.LoadAgent(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Name)
	assert.True(t, loaded.AutoReply)
	assert.Equal(t, store.AgentStatusActive, loaded.Status)
	assert.Equal(t, 2, loaded.LLMCallCount)
	require.NotNil(t, loaded.LastLLMCall)
	assert.True(t, loaded.LastLLMCall.Equal(now))
	require.NotNil(t, loaded.Temperature)
	assert.InDelta(t, 0.4, float64(*loaded.Temperature), 0.001)
	assert.Nil(t, loaded.MaxTokens)

	agents, err := d.ListAgents(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	require.NoError(t, d.DeleteAgent(ctx, "w1", "a1"))
	_, err = d.LoadAgent(ctx, "w1", "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryReplaceAndOrdering(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	first := []store.AgentMessage{
		{MessageID: "m2", ChatID: "c1", Role: store.RoleAssistant, Sender: "alice", Content: "second", CreatedAt: base.Add(time.Second), Usage: &store.TokenUsage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}},
		{MessageID: "m1", ChatID: "c1", Role: store.RoleUser, Sender: "human", Content: "first", CreatedAt: base},
	}
	require.NoError(t, d.SaveAgentMemory(ctx, "w1", "a1", first))

	loaded, err := d.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "m1", loaded[0].MessageID)
	require.NotNil(t, loaded[1].Usage)
	assert.Equal(t, 12, loaded[1].Usage.TotalTokens)
	assert.Nil(t, loaded[0].Usage)

	// Save replaces wholesale, it does not merge.
	replacement := []store.AgentMessage{
		{MessageID: "m9", ChatID: "c2", Role: store.RoleUser, Sender: "human", Content: "fresh", CreatedAt: base},
	}
	require.NoError(t, d.SaveAgentMemory(ctx, "w1", "a1", replacement))
	loaded, err = d.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "m9", loaded[0].MessageID)
}

func TestArchiveAgentMemory(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SaveAgentMemory(ctx, "w1", "a1", []store.AgentMessage{
		{MessageID: "m1", ChatID: "c1", Role: store.RoleUser, Sender: "human", Content: "hi", CreatedAt: time.Now().UTC()},
	}))
	require.NoError(t, d.ArchiveAgentMemory(ctx, "w1", "a1"))

	loaded, err := d.LoadAgentMemory(ctx, "w1", "a1")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	var archived int
	require.NoError(t, d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM agent_memory_archive WHERE world_id = ? AND agent_id = ?", "w1", "a1").Scan(&archived))
	assert.Equal(t, 1, archived)
}

func TestChatRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	chat := &store.Chat{ID: "c1", WorldID: "w1", Name: "Planning", CreatedAt: time.Now().UTC()}
	require.NoError(t, d.SaveChat(ctx, chat))

	loaded, err := d.LoadChat(ctx, "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Planning", loaded.Name)

	chats, err := d.ListChats(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	require.NoError(t, d.DeleteChat(ctx, "w1", "c1"))
	assert.ErrorIs(t, d.DeleteChat(ctx, "w1", "c1"), store.ErrNotFound)
}

func TestListWorldsEmpty(t *testing.T) {
	d := newTestDB(t)
	worlds, err := d.ListWorlds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, worlds)
}
