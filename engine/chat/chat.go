// Package chat manages the chat lifecycle of a world: creation, restore,
// deletion with memory purge, and listing with derived message counts.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/store"
)

// DefaultChatName is the placeholder title until the first human message
// provides one.
const DefaultChatName = "New Chat"

// SystemEventChatTitleUpdated is published on the system topic when a
// chat is renamed.
const SystemEventChatTitleUpdated = "chat-title-updated"

// titleMaxLen bounds auto-derived chat titles.
const titleMaxLen = 50

// Manager performs chat-state mutations against storage. After every
// successful mutation the caller refreshes the world subscription.
type Manager struct {
	st *store.Store
}

func NewManager(st *store.Store) *Manager {
	return &Manager{st: st}
}

// NewChat creates a fresh chat and makes it the world's current chat.
// Returns the updated world.
func (m *Manager) NewChat(ctx context.Context, worldID string) (*store.World, *store.Chat, error) {
	world, err := m.st.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	c := &store.Chat{
		ID:        shortuuid.New(),
		WorldID:   worldID,
		Name:      DefaultChatName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.st.SaveChat(ctx, c); err != nil {
		return nil, nil, errors.Wrap(err, "save chat")
	}

	world.CurrentChatID = c.ID
	world.LastUpdated = now
	if err := m.st.SaveWorld(ctx, world); err != nil {
		return nil, nil, errors.Wrap(err, "save world")
	}
	return world, c, nil
}

// RestoreChat makes an existing chat current. Returns nil without
// mutating any state when the chat does not exist.
func (m *Manager) RestoreChat(ctx context.Context, worldID, chatID string) (*store.World, error) {
	if _, err := m.st.LoadChat(ctx, worldID, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	world, err := m.st.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if world.CurrentChatID != chatID {
		world.CurrentChatID = chatID
		world.LastUpdated = time.Now().UTC()
		if err := m.st.SaveWorld(ctx, world); err != nil {
			return nil, errors.Wrap(err, "save world")
		}
	}
	return world, nil
}

// DeleteChat removes the chat record and purges exactly the messages
// tagged with chatID from every agent's memory. When the deleted chat was
// current, currentChatId is cleared.
func (m *Manager) DeleteChat(ctx context.Context, worldID, chatID string) (bool, error) {
	if err := m.st.DeleteChat(ctx, worldID, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return true, errors.Wrap(err, "list agents")
	}
	for _, a := range agents {
		// RewriteAgentMemory holds the memory key lock, so a concurrent
		// append cannot slip between the read and the write.
		_, err := m.st.RewriteAgentMemory(ctx, worldID, a.ID, func(memory []store.AgentMessage) []store.AgentMessage {
			kept := memory[:0]
			for _, msg := range memory {
				if msg.ChatID != chatID {
					kept = append(kept, msg)
				}
			}
			return kept
		})
		if err != nil {
			slog.Warn("purge chat messages failed",
				"category", "chat", "agent", a.ID, "error", err.Error())
		}
	}

	world, err := m.st.LoadWorld(ctx, worldID)
	if err != nil {
		return true, err
	}
	if world.CurrentChatID == chatID {
		world.CurrentChatID = ""
		world.LastUpdated = time.Now().UTC()
		if err := m.st.SaveWorld(ctx, world); err != nil {
			return true, errors.Wrap(err, "save world")
		}
	}
	return true, nil
}

// ListChats returns the world's chats with messageCount derived from
// persisted memory (distinct messageIds per chat), not cached metadata.
func (m *Manager) ListChats(ctx context.Context, worldID string) ([]*store.Chat, error) {
	chats, err := m.st.ListChats(ctx, worldID)
	if err != nil {
		return nil, err
	}
	counts, err := m.chatMessageCounts(ctx, worldID)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		c.MessageCount = counts[c.ID]
	}
	return chats, nil
}

// chatMessageCounts counts distinct messageIds per chat across all agent
// memories. Every agent stores a copy of each chat message, so the union
// collapses duplicates.
func (m *Manager) chatMessageCounts(ctx context.Context, worldID string) (map[string]int, error) {
	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	seen := map[string]map[string]bool{}
	for _, a := range agents {
		memory, err := m.st.LoadAgentMemory(ctx, worldID, a.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load memory for agent %s", a.ID)
		}
		for _, msg := range memory {
			ids := seen[msg.ChatID]
			if ids == nil {
				ids = map[string]bool{}
				seen[msg.ChatID] = ids
			}
			ids[msg.MessageID] = true
		}
	}
	counts := make(map[string]int, len(seen))
	for chatID, ids := range seen {
		counts[chatID] = len(ids)
	}
	return counts, nil
}

// MaybeSetTitle derives the chat title from the first human message when
// the chat still carries the placeholder name. Publishes a
// chat-title-updated system event on success.
func (m *Manager) MaybeSetTitle(ctx context.Context, b *bus.Bus, worldID, chatID, content string) error {
	c, err := m.st.LoadChat(ctx, worldID, chatID)
	if err != nil {
		return err
	}
	if c.Name != DefaultChatName && c.Name != "" {
		return nil
	}
	title := deriveTitle(content)
	if title == "" {
		return nil
	}

	c.Name = title
	c.UpdatedAt = time.Now().UTC()
	if err := m.st.SaveChat(ctx, c); err != nil {
		return errors.Wrap(err, "save chat")
	}
	if b != nil {
		b.Publish(bus.TopicSystem, bus.SystemEvent{
			Type:   SystemEventChatTitleUpdated,
			ChatID: chatID,
			Data:   map[string]any{"chatId": chatID, "name": title},
		})
	}
	return nil
}

// deriveTitle takes the first line of content, truncated on a rune
// boundary.
func deriveTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > titleMaxLen {
		line = string(runes[:titleMaxLen]) + "..."
	}
	return line
}
