package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/metrics"
	"github.com/hrygo/agentworld/store"
)

// DefaultTimeout bounds one outer pipeline attempt. Tool rounds reset it.
const DefaultTimeout = 30 * time.Second

// maxToolRounds caps provider round-trips when the model keeps requesting
// tools, so a misbehaving model cannot loop forever.
const maxToolRounds = 5

// ErrTimeout marks a pipeline attempt that hit its wall-clock bound.
var ErrTimeout = errors.New("llm pipeline timeout")

// ProviderFactory resolves provider names to adapters. Registry is the
// production implementation.
type ProviderFactory interface {
	NewProvider(provider string) (Provider, error)
}

// Pipeline drives one agent response end to end: prompt assembly,
// provider streaming, tool execution rounds and event emission.
type Pipeline struct {
	registry ProviderFactory
	limiter  *RateLimiter
	metrics  *metrics.Exporter
	timeout  time.Duration
}

// NewPipeline builds a pipeline. A zero timeout selects DefaultTimeout;
// limiter and exporter may be nil.
func NewPipeline(registry ProviderFactory, limiter *RateLimiter, exporter *metrics.Exporter, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		registry: registry,
		limiter:  limiter,
		metrics:  exporter,
		timeout:  timeout,
	}
}

// CallRequest describes one agent response to produce. Memory must
// already contain the triggering message in chronological order; entries
// belonging to other chats are excluded from the prompt.
type CallRequest struct {
	WorldID   string
	ChatID    string
	MessageID string
	AgentName string

	Provider string
	Model    string

	SystemPrompt string
	Variables    map[string]string
	Memory       []store.AgentMessage

	Temperature *float32
	MaxTokens   *int

	// Executor enables tool rounds; nil disables tools entirely.
	Executor ToolExecutor
}

// Result is the assembled agent response.
type Result struct {
	Text       string
	Usage      *store.TokenUsage
	StopReason string
}

// Run executes the pipeline and publishes sse/tool events on b as deltas
// arrive. It returns the full response text once the stream finishes.
func (p *Pipeline) Run(ctx context.Context, b *bus.Bus, req CallRequest) (*Result, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel(req.Provider)
	}

	provider, err := p.registry.NewProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	messages := p.buildMessages(req)

	var tools []ToolDescriptor
	if req.Executor != nil {
		tools = req.Executor.Tools(ctx)
	}

	// The stream registry holds the cancel for the whole pipeline so a
	// user stop on the chat kills every round, not just the current one.
	pipelineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.Streams().Register(req.MessageID, req.ChatID, cancel)
	defer b.Streams().Unregister(req.MessageID)

	if p.metrics != nil {
		p.metrics.StreamStarted()
		defer p.metrics.StreamFinished()
	}
	started := time.Now()

	b.Publish(bus.TopicSSE, bus.SSEEvent{
		EventType: bus.SSEStart,
		MessageID: req.MessageID,
		AgentName: req.AgentName,
		ChatID:    req.ChatID,
	})

	var buffer strings.Builder
	var usage *store.TokenUsage
	stopReason := "stop"

	for round := 0; ; round++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(pipelineCtx, req.Provider); err != nil {
				return nil, p.fail(b, req, started, err)
			}
		}

		roundStop, roundUsage, toolCalls, err := p.streamOnce(pipelineCtx, b, provider, Request{
			Model:       model,
			Messages:    messages,
			Tools:       tools,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}, req, &buffer)
		if err != nil {
			return nil, p.fail(b, req, started, err)
		}
		usage = mergeUsage(usage, roundUsage)
		stopReason = roundStop

		if roundStop != StopReasonToolCalls || req.Executor == nil || len(toolCalls) == 0 {
			break
		}
		if round+1 >= maxToolRounds {
			slog.Warn("tool round limit reached",
				"category", "llm",
				"message_id", req.MessageID,
				"agent", req.AgentName)
			break
		}
		messages = p.runTools(pipelineCtx, b, req, messages, toolCalls)
	}

	if usage == nil {
		usage = &store.TokenUsage{OutputTokens: EstimateTokens(buffer.String())}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	b.Publish(bus.TopicSSE, bus.SSEEvent{
		EventType: bus.SSEEnd,
		MessageID: req.MessageID,
		AgentName: req.AgentName,
		ChatID:    req.ChatID,
		Usage:     usage,
	})
	if p.metrics != nil {
		p.metrics.RecordLLMCall(req.Provider, "success", time.Since(started))
		p.metrics.RecordTokens(req.Provider, usage.InputTokens, usage.OutputTokens)
	}
	slog.Info("llm call finished",
		"category", "llm",
		"message_id", req.MessageID,
		"agent", req.AgentName,
		"provider", req.Provider,
		"model", model,
		"duration", time.Since(started).String(),
		"output_tokens", usage.OutputTokens)

	return &Result{Text: buffer.String(), Usage: usage, StopReason: stopReason}, nil
}

// streamOnce consumes one provider stream, forwarding text deltas as sse
// chunks and collecting tool calls for the caller to execute.
func (p *Pipeline) streamOnce(ctx context.Context, b *bus.Bus, provider Provider, provReq Request, req CallRequest, buffer *strings.Builder) (string, *store.TokenUsage, []ToolCall, error) {
	attemptCtx, cancelAttempt := context.WithTimeout(ctx, p.timeout)
	defer cancelAttempt()

	events, err := provider.Stream(attemptCtx, provReq)
	if err != nil {
		return "", nil, nil, translateTimeout(attemptCtx, err)
	}

	var toolCalls []ToolCall
	var usage *store.TokenUsage
	stopReason := "stop"

	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			buffer.WriteString(ev.Text)
			b.Publish(bus.TopicSSE, bus.SSEEvent{
				EventType: bus.SSEChunk,
				MessageID: req.MessageID,
				AgentName: req.AgentName,
				Content:   ev.Text,
				ChatID:    req.ChatID,
			})

		case EventToolCall:
			toolCalls = append(toolCalls, *ev.ToolCall)
			b.Publish(bus.TopicTool, bus.ToolEvent{
				EventType: bus.ToolStart,
				ToolUseID: ev.ToolCall.ID,
				ToolName:  ev.ToolCall.Name,
				ToolInput: json.RawMessage(ev.ToolCall.Arguments),
				ChatID:    req.ChatID,
			})

		case EventFinish:
			stopReason = ev.StopReason
			usage = ev.Usage

		case EventError:
			return "", nil, nil, translateTimeout(attemptCtx, ev.Err)
		}
	}

	if err := attemptCtx.Err(); err != nil {
		return "", nil, nil, translateTimeout(attemptCtx, err)
	}
	return stopReason, usage, toolCalls, nil
}

// runTools executes the collected tool calls, publishes their results and
// appends the follow-up turns the next provider round needs.
func (p *Pipeline) runTools(ctx context.Context, b *bus.Bus, req CallRequest, messages []Message, toolCalls []ToolCall) []Message {
	messages = append(messages, Message{
		Role:      store.RoleAssistant,
		ToolCalls: toolCalls,
	})
	for _, call := range toolCalls {
		result, err := req.Executor.Execute(ctx, call)
		if err != nil {
			slog.Warn("tool execution failed",
				"category", "llm",
				"message_id", req.MessageID,
				"tool", call.Name,
				"error", err.Error())
			b.Publish(bus.TopicTool, bus.ToolEvent{
				EventType: bus.ToolError,
				ToolUseID: call.ID,
				ToolName:  call.Name,
				Error:     err.Error(),
				ChatID:    req.ChatID,
			})
			result = "error: " + err.Error()
		} else {
			b.Publish(bus.TopicTool, bus.ToolEvent{
				EventType: bus.ToolResult,
				ToolUseID: call.ID,
				ToolName:  call.Name,
				Result:    result,
				ChatID:    req.ChatID,
			})
		}
		messages = append(messages, Message{
			Role:       store.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	return messages
}

func (p *Pipeline) fail(b *bus.Bus, req CallRequest, started time.Time, err error) error {
	reason := "provider"
	message := err.Error()
	if errors.Is(err, ErrTimeout) {
		reason = "timeout"
		message = "timeout"
	} else if errors.Is(err, context.Canceled) {
		reason = "cancelled"
		message = "cancelled"
	}

	b.Publish(bus.TopicSSE, bus.SSEEvent{
		EventType: bus.SSEError,
		MessageID: req.MessageID,
		AgentName: req.AgentName,
		Error:     message,
		ChatID:    req.ChatID,
	})
	if p.metrics != nil {
		p.metrics.RecordLLMCall(req.Provider, reason, time.Since(started))
		p.metrics.RecordLLMError(req.Provider, reason)
	}
	slog.Error("llm call failed",
		"category", "llm",
		"message_id", req.MessageID,
		"agent", req.AgentName,
		"provider", req.Provider,
		"reason", reason,
		"error", err.Error())
	return err
}

// translateTimeout maps a deadline expiry on the attempt context to
// ErrTimeout so callers can distinguish it from provider failures.
func translateTimeout(attemptCtx context.Context, err error) error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func mergeUsage(total, round *store.TokenUsage) *store.TokenUsage {
	if round == nil {
		return total
	}
	if total == nil {
		u := *round
		return &u
	}
	total.InputTokens += round.InputTokens
	total.OutputTokens += round.OutputTokens
	total.TotalTokens += round.TotalTokens
	return total
}

// workingDirectoryVariable names the world variable surfaced on the
// mandatory trailing line of every system prompt.
const workingDirectoryVariable = "workingDirectory"

// buildMessages assembles the prompt: substituted system turn first, then
// the memory slice mapped to provider roles.
func (p *Pipeline) buildMessages(req CallRequest) []Message {
	system := SubstituteVariables(req.SystemPrompt, req.Variables)
	workdir := req.Variables[workingDirectoryVariable]
	if workdir == "" {
		workdir = "./"
	}
	if system != "" {
		system += "\n\n"
	}
	system += "working directory: " + workdir

	messages := make([]Message, 0, len(req.Memory)+1)
	messages = append(messages, Message{Role: store.RoleSystem, Content: system})

	for _, m := range req.Memory {
		// The prompt is chat-scoped: other chats never leak into it.
		// Entries without a chat id (legacy imports) stay visible.
		if req.ChatID != "" && m.ChatID != "" && m.ChatID != req.ChatID {
			continue
		}
		msg := Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		// Keep speaker attribution visible in multi-party chats.
		if m.Role == store.RoleUser && m.Sender != "" {
			msg.Content = m.Sender + ": " + m.Content
		}
		messages = append(messages, msg)
	}
	return messages
}

// SubstituteVariables replaces {{name}} placeholders with world variable
// values. Unknown placeholders are left untouched.
func SubstituteVariables(text string, variables map[string]string) string {
	if len(variables) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	out := text
	for name, value := range variables {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
