package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/engine/runtime"
	"github.com/hrygo/agentworld/store"
)

// PublishMessage injects a message into the world: it ensures an active
// chat, persists the message into every agent's memory, publishes it on
// the bus and, for the first human message of a chat, derives the chat
// title.
func (m *Manager) PublishMessage(ctx context.Context, worldID, content, sender, chatID string) (*store.AgentMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, store.ErrValidation("message content is required")
	}
	if sender == "" {
		sender = runtime.SenderHuman
	}

	rt, err := m.ensureRuntime(ctx, worldID)
	if err != nil {
		return nil, err
	}

	if chatID == "" {
		chatID = rt.World().CurrentChatID
	}
	if chatID == "" {
		_, c, err := m.chats.NewChat(ctx, worldID)
		if err != nil {
			return nil, errors.Wrap(err, "create chat")
		}
		chatID = c.ID
		if warning := m.subs.RefreshWorld(ctx, worldID); warning != "" {
			slog.Warn("world refresh after chat creation",
				"category", "engine", "world_id", worldID, "warning", warning)
		}
		rt, err = m.ensureRuntime(ctx, worldID)
		if err != nil {
			return nil, err
		}
	}

	role := store.RoleUser
	if runtime.IsWorldSender(sender) {
		role = store.RoleSystem
	}
	msg := store.AgentMessage{
		MessageID: shortuuid.New(),
		ChatID:    chatID,
		Role:      role,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := rt.Ingest(ctx, msg, ""); err != nil {
		return nil, err
	}

	if runtime.IsHumanSender(sender) {
		if err := m.chats.MaybeSetTitle(ctx, rt.Bus(), worldID, chatID, content); err != nil {
			slog.Warn("chat title update failed",
				"category", "engine", "world_id", worldID, "chat_id", chatID, "error", err.Error())
		}
	}
	return &msg, nil
}

// StopChat cancels every in-flight LLM stream bound to the chat and
// reports how many were cancelled.
func (m *Manager) StopChat(worldID, chatID string) int {
	rt := m.subs.Runtime(worldID)
	if rt == nil {
		return 0
	}
	return rt.Bus().Streams().CancelChat(chatID)
}

// NewChat creates a fresh current chat and refreshes subscriptions.
func (m *Manager) NewChat(ctx context.Context, worldID string) (*store.World, *store.Chat, string, error) {
	world, c, err := m.chats.NewChat(ctx, worldID)
	if err != nil {
		return nil, nil, "", err
	}
	warning := m.subs.RefreshWorld(ctx, worldID)
	return world, c, warning, nil
}

// RestoreChat makes an existing chat current; nil world when the chat
// does not exist (no state is mutated in that case).
func (m *Manager) RestoreChat(ctx context.Context, worldID, chatID string) (*store.World, string, error) {
	world, err := m.chats.RestoreChat(ctx, worldID, chatID)
	if err != nil || world == nil {
		return world, "", err
	}
	warning := m.subs.RefreshWorld(ctx, worldID)
	return world, warning, nil
}

// DeleteChat removes a chat and its messages from all agent memories.
func (m *Manager) DeleteChat(ctx context.Context, worldID, chatID string) (bool, string, error) {
	if rt := m.subs.Runtime(worldID); rt != nil {
		rt.Bus().Streams().CancelChat(chatID)
	}
	deleted, err := m.chats.DeleteChat(ctx, worldID, chatID)
	if err != nil || !deleted {
		return deleted, "", err
	}
	warning := m.subs.RefreshWorld(ctx, worldID)
	return true, warning, nil
}

// ListChats returns the world's chats with derived message counts.
func (m *Manager) ListChats(ctx context.Context, worldID string) ([]*store.Chat, error) {
	return m.chats.ListChats(ctx, worldID)
}
