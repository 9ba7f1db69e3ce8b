package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/agentworld/store"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestManager(t)
	ctx := context.Background()

	world, err := src.CreateWorld(ctx, CreateWorldParams{
		Name:      "Research Lab",
		TurnLimit: 7,
		Variables: map[string]string{"workingDirectory": "/lab"},
	})
	require.NoError(t, err)

	agent, err := src.CreateAgent(ctx, CreateAgentParams{
		WorldID:  world.ID,
		Name:     "analyst",
		Provider: "openai",
		Model:    "gpt-4o",
	})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, src.st.SaveAgentMemory(ctx, world.ID, agent.ID, []store.AgentMessage{
		{MessageID: "m1", ChatID: "c1", Role: store.RoleUser, Sender: "human", Content: "hi", CreatedAt: now},
	}))
	require.NoError(t, src.st.SaveChat(ctx, &store.Chat{ID: "c1", WorldID: world.ID, Name: "Chat", CreatedAt: now}))

	export, err := src.ExportWorld(ctx, world.ID)
	require.NoError(t, err)

	// The snapshot survives a JSON round trip, the file exchange format.
	raw, err := json.Marshal(export)
	require.NoError(t, err)
	var decoded WorldExport
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := newTestManager(t)
	imported, err := dst.ImportWorld(ctx, &decoded)
	require.NoError(t, err)
	assert.Equal(t, world.ID, imported.ID)
	assert.Equal(t, 7, imported.TurnLimit)

	agents, err := dst.ListAgents(ctx, world.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "analyst", agents[0].Name)

	memory, err := dst.GetAgentMemory(ctx, world.ID, agent.ID)
	require.NoError(t, err)
	require.Len(t, memory, 1)
	assert.Equal(t, "hi", memory[0].Content)

	chats, err := dst.st.ListChats(ctx, world.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestImportWorldConflicts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	world, err := m.CreateWorld(ctx, CreateWorldParams{Name: "Existing"})
	require.NoError(t, err)

	_, err = m.ImportWorld(ctx, &WorldExport{World: world})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestImportWorldValidates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.ImportWorld(ctx, nil)
	assert.True(t, store.IsValidation(err))

	_, err = m.ImportWorld(ctx, &WorldExport{World: &store.World{ID: "x", Name: "", TurnLimit: 5}})
	assert.True(t, store.IsValidation(err))
}
