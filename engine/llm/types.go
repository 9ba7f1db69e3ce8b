// Package llm contains the provider adapters and the streaming pipeline
// that turns provider deltas into world events.
package llm

import (
	"context"
	"encoding/json"

	"github.com/hrygo/agentworld/store"
)

// Message is one prompt turn handed to a provider adapter.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []ToolCall // assistant tool requests
	ToolCallID string     // set on tool-result turns
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments
}

// ToolDescriptor describes a tool available to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// ToolExecutor resolves and runs tool calls requested by the model. The
// runtime hands the world's MCP config to the executor opaquely.
type ToolExecutor interface {
	// Tools lists the tools offered to the model.
	Tools(ctx context.Context) []ToolDescriptor
	// Execute runs one tool call and returns its result payload.
	Execute(ctx context.Context, call ToolCall) (string, error)
}

// StreamEvent kinds.
const (
	EventTextDelta = "text-delta"
	EventToolCall  = "tool-call"
	EventFinish    = "finish"
	EventError     = "error"
)

// StreamEvent is one typed provider delta. The channel returned by
// Provider.Stream carries zero or more text-delta and tool-call events
// followed by exactly one finish or error event, then closes.
type StreamEvent struct {
	Type       string
	Text       string            // text-delta
	ToolCall   *ToolCall         // tool-call (arguments fully accumulated)
	StopReason string            // finish: "stop" or "tool_calls"
	Usage      *store.TokenUsage // finish, when the provider reports it
	Err        error             // error
}

// StopReasonToolCalls signals that the model paused for tool execution
// and expects a follow-up turn carrying tool results.
const StopReasonToolCalls = "tool_calls"

// Request is one provider invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDescriptor
	Temperature *float32
	MaxTokens   *int
}

// Provider adapts one LLM backend. Adapters must release their network
// handle on context cancellation.
type Provider interface {
	// Name returns the provider identifier (openai, anthropic, ...).
	Name() string
	// Stream starts a completion and returns the event channel.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// EstimateTokens approximates a token count from text length until the
// provider supplies authoritative numbers. One token per four bytes,
// rounded up.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
