package store

import (
	"sort"
	"time"
)

// Message roles. "user" covers human senders; "tool" carries tool results
// fed back into a provider follow-up turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// TokenUsage is the provider-reported token accounting for one response.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// AgentMessage is one entry of an agent's private memory. (chatId,
// createdAt) totally orders messages within a chat, tie-broken by
// messageId.
type AgentMessage struct {
	MessageID        string      `json:"messageId"`
	ChatID           string      `json:"chatId"`
	Role             string      `json:"role"`
	Sender           string      `json:"sender"`
	Content          string      `json:"content"`
	CreatedAt        time.Time   `json:"createdAt"`
	ReplyToMessageID string      `json:"replyToMessageId,omitempty"`
	ToolCallID       string      `json:"toolCallId,omitempty"`
	Usage            *TokenUsage `json:"usage,omitempty"`
}

// SortMessages orders messages chronologically, tie-broken by messageId so
// the order is total and stable across loads.
func SortMessages(messages []AgentMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].MessageID < messages[j].MessageID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// CountChatMessages returns how many of the given messages belong to chatID.
func CountChatMessages(messages []AgentMessage, chatID string) int {
	n := 0
	for i := range messages {
		if messages[i].ChatID == chatID {
			n++
		}
	}
	return n
}
