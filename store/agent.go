package store

import (
	"strings"
	"time"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusError    AgentStatus = "error"
)

// Agent is an LLM-backed participant owned by a world. Its memory is
// persisted separately from the config record.
type Agent struct {
	ID           string      `json:"id"`
	WorldID      string      `json:"worldId"`
	Name         string      `json:"name"`
	Type         string      `json:"type,omitempty"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	SystemPrompt string      `json:"systemPrompt,omitempty"`
	Temperature  *float32    `json:"temperature,omitempty"`
	MaxTokens    *int        `json:"maxTokens,omitempty"`
	AutoReply    bool        `json:"autoReply"`
	Status       AgentStatus `json:"status"`
	LLMCallCount int         `json:"llmCallCount"`
	LastLLMCall  *time.Time  `json:"lastLLMCall,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActive   time.Time   `json:"lastActive"`
}

// UpdateAgent carries a partial agent update. Nil fields are left unchanged.
type UpdateAgent struct {
	WorldID      string
	ID           string
	Name         *string
	Type         *string
	Provider     *string
	Model        *string
	SystemPrompt *string
	Temperature  *float32
	MaxTokens    *int
	AutoReply    *bool
	Status       *AgentStatus
	LLMCallCount *int
	LastLLMCall  *time.Time
}

// Apply copies the non-nil fields of the update onto the agent.
func (a *Agent) Apply(upd *UpdateAgent) {
	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.Type != nil {
		a.Type = *upd.Type
	}
	if upd.Provider != nil {
		a.Provider = *upd.Provider
	}
	if upd.Model != nil {
		a.Model = *upd.Model
	}
	if upd.SystemPrompt != nil {
		a.SystemPrompt = *upd.SystemPrompt
	}
	if upd.Temperature != nil {
		a.Temperature = upd.Temperature
	}
	if upd.MaxTokens != nil {
		a.MaxTokens = upd.MaxTokens
	}
	if upd.AutoReply != nil {
		a.AutoReply = *upd.AutoReply
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.LLMCallCount != nil {
		a.LLMCallCount = *upd.LLMCallCount
	}
	if upd.LastLLMCall != nil {
		a.LastLLMCall = upd.LastLLMCall
	}
}

// Validate checks agent fields that must never be persisted invalid.
func (a *Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrValidation("agent name is required")
	}
	if a.Provider == "" {
		return ErrValidation("agent provider is required")
	}
	if a.Model == "" {
		return ErrValidation("agent model is required")
	}
	return nil
}
