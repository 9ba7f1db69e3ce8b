package store

import (
	"strings"
	"time"
)

// World is the top-level container of agents, chats, and an event bus.
// Agents and chats are persisted separately; the world record carries
// configuration only.
type World struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	TurnLimit       int               `json:"turnLimit"`
	CurrentChatID   string            `json:"currentChatId,omitempty"`
	ChatLLMProvider string            `json:"chatLLMProvider,omitempty"`
	ChatLLMModel    string            `json:"chatLLMModel,omitempty"`
	MCPConfig       string            `json:"mcpConfig,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	LastUpdated     time.Time         `json:"lastUpdated"`
}

// UpdateWorld carries a partial world update. Nil fields are left unchanged.
type UpdateWorld struct {
	ID              string
	Name            *string
	Description     *string
	TurnLimit       *int
	CurrentChatID   *string
	ChatLLMProvider *string
	ChatLLMModel    *string
	MCPConfig       *string
	Variables       map[string]string
}

// Apply copies the non-nil fields of the update onto the world.
func (w *World) Apply(upd *UpdateWorld) {
	if upd.Name != nil {
		w.Name = *upd.Name
	}
	if upd.Description != nil {
		w.Description = *upd.Description
	}
	if upd.TurnLimit != nil {
		w.TurnLimit = *upd.TurnLimit
	}
	if upd.CurrentChatID != nil {
		w.CurrentChatID = *upd.CurrentChatID
	}
	if upd.ChatLLMProvider != nil {
		w.ChatLLMProvider = *upd.ChatLLMProvider
	}
	if upd.ChatLLMModel != nil {
		w.ChatLLMModel = *upd.ChatLLMModel
	}
	if upd.MCPConfig != nil {
		w.MCPConfig = *upd.MCPConfig
	}
	if upd.Variables != nil {
		w.Variables = upd.Variables
	}
}

// Validate checks world fields that must never be persisted invalid.
func (w *World) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return ErrValidation("world name is required")
	}
	if w.TurnLimit < 1 {
		return ErrValidation("turn limit must be >= 1")
	}
	return nil
}
