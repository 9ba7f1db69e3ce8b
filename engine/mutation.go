package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/agentworld/store"
)

// AgentFailure records one agent that could not be processed during a
// multi-agent mutation.
type AgentFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RemovalResult aggregates a removeMessagesFrom run across all agents.
type RemovalResult struct {
	Success              bool           `json:"success"`
	ProcessedAgents      []string       `json:"processedAgents"`
	FailedAgents         []AgentFailure `json:"failedAgents,omitempty"`
	MessagesRemovedTotal int            `json:"messagesRemovedTotal"`
}

// RemoveMessagesFrom deletes the target message and everything after it
// in the same chat from every agent's memory, preserving other chats
// untouched. Per-agent failures do not stop the run; they are aggregated
// into the result.
func (m *Manager) RemoveMessagesFrom(ctx context.Context, worldID, messageID, chatID string) (*RemovalResult, error) {
	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}

	result := &RemovalResult{Success: true}
	for _, a := range agents {
		removed, err := m.removeFromAgent(ctx, worldID, a.ID, messageID, chatID)
		if err != nil {
			result.Success = false
			result.FailedAgents = append(result.FailedAgents, AgentFailure{ID: a.ID, Error: err.Error()})
			slog.Warn("remove messages failed for agent",
				"category", "engine",
				"world_id", worldID,
				"agent", a.ID,
				"message_id", messageID,
				"error", err.Error())
			continue
		}
		result.ProcessedAgents = append(result.ProcessedAgents, a.ID)
		result.MessagesRemovedTotal += removed
	}

	if result.MessagesRemovedTotal > 0 {
		if warning := m.subs.RefreshWorld(ctx, worldID); warning != "" {
			slog.Warn("world refresh after message removal",
				"category", "engine", "world_id", worldID, "warning", warning)
		}
	}
	return result, nil
}

// removeFromAgent rewrites one agent's memory under the memory key lock.
// An agent that never stored the target counts as processed with zero
// removals.
func (m *Manager) removeFromAgent(ctx context.Context, worldID, agentID, messageID, chatID string) (int, error) {
	return m.st.RewriteAgentMemory(ctx, worldID, agentID, func(memory []store.AgentMessage) []store.AgentMessage {
		var cutoff time.Time
		found := false
		for _, msg := range memory {
			if msg.MessageID == messageID && msg.ChatID == chatID {
				cutoff = msg.CreatedAt
				found = true
				break
			}
		}
		if !found {
			return memory
		}
		if cutoff.IsZero() {
			// Storage guarantees chronological order on insert; a missing
			// timestamp falls back to now so nothing earlier is lost.
			cutoff = time.Now().UTC()
		}

		kept := make([]store.AgentMessage, 0, len(memory))
		for _, msg := range memory {
			if msg.ChatID != chatID || msg.CreatedAt.Before(cutoff) {
				kept = append(kept, msg)
			}
		}
		return kept
	})
}
