package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

// WorldExport is the portable snapshot of one world: config, agents,
// per-agent memory and chats. JSON-encodable for file exchange.
type WorldExport struct {
	World    *store.World                    `json:"world"`
	Agents   []*store.Agent                  `json:"agents"`
	Memories map[string][]store.AgentMessage `json:"memories"`
	Chats    []*store.Chat                   `json:"chats"`
}

// ExportWorld snapshots a world with everything it owns.
func (m *Manager) ExportWorld(ctx context.Context, worldID string) (*WorldExport, error) {
	world, err := m.st.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	chats, err := m.st.ListChats(ctx, worldID)
	if err != nil {
		return nil, err
	}

	export := &WorldExport{
		World:    world,
		Agents:   agents,
		Memories: make(map[string][]store.AgentMessage, len(agents)),
		Chats:    chats,
	}
	for _, a := range agents {
		memory, err := m.st.LoadAgentMemory(ctx, worldID, a.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "export memory for agent %s", a.ID)
		}
		export.Memories[a.ID] = memory
	}
	return export, nil
}

// ImportWorld restores an exported world under its original id. A world
// with the same id must not already exist.
func (m *Manager) ImportWorld(ctx context.Context, export *WorldExport) (*store.World, error) {
	if export == nil || export.World == nil {
		return nil, store.ErrValidation("export payload is empty")
	}
	if err := export.World.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.st.LoadWorld(ctx, export.World.ID); err == nil {
		return nil, errors.Wrapf(store.ErrConflict, "world %s already exists", export.World.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := m.st.SaveWorld(ctx, export.World); err != nil {
		return nil, err
	}
	for _, a := range export.Agents {
		if err := m.st.SaveAgent(ctx, a); err != nil {
			return nil, errors.Wrapf(err, "import agent %s", a.ID)
		}
		if memory, ok := export.Memories[a.ID]; ok && len(memory) > 0 {
			store.SortMessages(memory)
			if err := m.st.SaveAgentMemory(ctx, export.World.ID, a.ID, memory); err != nil {
				return nil, errors.Wrapf(err, "import memory for agent %s", a.ID)
			}
		}
	}
	for _, c := range export.Chats {
		if err := m.st.SaveChat(ctx, c); err != nil {
			return nil, errors.Wrapf(err, "import chat %s", c.ID)
		}
	}
	return export.World, nil
}
