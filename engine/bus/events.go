// Package bus implements the per-world typed event emitter.
package bus

import (
	"encoding/json"
	"time"

	"github.com/hrygo/agentworld/store"
)

// Topic names one event stream of a world bus.
type Topic string

const (
	TopicMessage  Topic = "message"
	TopicSSE      Topic = "sse"
	TopicTool     Topic = "tool"
	TopicActivity Topic = "activity"
	TopicSystem   Topic = "system"
	TopicLog      Topic = "log"
)

// MessageEvent is published once per persisted message.
type MessageEvent struct {
	MessageID        string    `json:"messageId"`
	ChatID           string    `json:"chatId,omitempty"`
	Role             string    `json:"role"`
	Sender           string    `json:"sender"`
	Content          string    `json:"content"`
	ReplyToMessageID string    `json:"replyToMessageId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SSE event types. For one messageId the emission order is always
// start, chunk*, end|error.
const (
	SSEStart = "start"
	SSEChunk = "chunk"
	SSEEnd   = "end"
	SSEError = "error"
)

// SSEEvent is one streaming notification tied to a single messageId.
type SSEEvent struct {
	EventType string            `json:"eventType"`
	MessageID string            `json:"messageId"`
	AgentName string            `json:"agentName"`
	Content   string            `json:"content,omitempty"`
	Error     string            `json:"error,omitempty"`
	ChatID    string            `json:"chatId,omitempty"`
	Usage     *store.TokenUsage `json:"usage,omitempty"`
}

// Tool event types.
const (
	ToolStart    = "tool-start"
	ToolProgress = "tool-progress"
	ToolResult   = "tool-result"
	ToolError    = "tool-error"
)

// ToolEvent is a provider-triggered tool-call lifecycle notification,
// independent of SSE text chunks.
type ToolEvent struct {
	EventType string          `json:"eventType"`
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ChatID    string          `json:"chatId,omitempty"`
}

// Activity event types.
const (
	ActivityResponseStart = "response-start"
	ActivityUpdate        = "update"
	ActivityIdle          = "idle"
	ActivityResponseEnd   = "response-end"
)

// ActivityEvent reports pending-operation changes so front-ends can show
// busy state without polling.
type ActivityEvent struct {
	EventType         string   `json:"eventType"`
	PendingOperations int      `json:"pendingOperations"`
	ActivityID        int64    `json:"activityId"`
	Source            string   `json:"source"`
	ActiveSources     []string `json:"activeSources"`
	ChatID            string   `json:"chatId,omitempty"`
}

// SystemEvent carries structured notifications such as chat-title-updated.
type SystemEvent struct {
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	ChatID string         `json:"chatId,omitempty"`
}

// LogEvent mirrors one process log record onto the bus for subscribed
// front-ends.
type LogEvent struct {
	Level     string         `json:"level"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
}

// EventChatID extracts the chatId carried by a streaming payload, empty
// when the event is not chat-scoped.
func EventChatID(event any) string {
	switch e := event.(type) {
	case MessageEvent:
		return e.ChatID
	case SSEEvent:
		return e.ChatID
	case ToolEvent:
		return e.ChatID
	case ActivityEvent:
		return e.ChatID
	case SystemEvent:
		return e.ChatID
	default:
		return ""
	}
}
