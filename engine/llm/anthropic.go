package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropicProvider(cfg ProviderConfig) *anthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(newHTTPClient()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) Name() string {
	return ProviderAnthropic
}

// anthropicDefaultMaxTokens applies when the agent does not set a cap;
// the Messages API requires max_tokens.
const anthropicDefaultMaxTokens = 4096

func (p *anthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	system, messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, errors.Wrapf(err, "tool %s has invalid schema", t.Name)
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		// One tool_use block streams as content_block_start followed by
		// input_json_delta fragments; emit it at content_block_stop.
		type toolAccumulator struct {
			id   string
			name string
			json string
		}
		pending := map[int64]*toolAccumulator{}
		var usage store.TokenUsage
		stopReason := "stop"

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				usage.InputTokens = int(event.Message.Usage.InputTokens)

			case "content_block_start":
				if event.ContentBlock.Type == "tool_use" {
					pending[event.Index] = &toolAccumulator{
						id:   event.ContentBlock.ID,
						name: event.ContentBlock.Name,
					}
				}

			case "content_block_delta":
				switch event.Delta.Type {
				case "text_delta":
					if !send(ctx, events, StreamEvent{Type: EventTextDelta, Text: event.Delta.Text}) {
						return
					}
				case "input_json_delta":
					if acc, ok := pending[event.Index]; ok {
						acc.json += event.Delta.PartialJSON
					}
				}

			case "content_block_stop":
				if acc, ok := pending[event.Index]; ok {
					delete(pending, event.Index)
					args := acc.json
					if args == "" {
						args = "{}"
					}
					if !json.Valid([]byte(args)) {
						slog.Warn("discarding tool call with malformed arguments", "tool", acc.name)
						continue
					}
					call := &ToolCall{ID: acc.id, Name: acc.name, Arguments: args}
					if !send(ctx, events, StreamEvent{Type: EventToolCall, ToolCall: call}) {
						return
					}
				}

			case "message_delta":
				usage.OutputTokens = int(event.Usage.OutputTokens)
				if event.Delta.StopReason == "tool_use" {
					stopReason = StopReasonToolCalls
				}

			case "message_stop":
				// final event, usage is complete
			}
		}

		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			send(ctx, events, StreamEvent{Type: EventError, Err: err})
			return
		}

		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		send(ctx, events, StreamEvent{Type: EventFinish, StopReason: stopReason, Usage: &usage})
	}()
	return events, nil
}

// convertAnthropicMessages splits out the system prompt (Anthropic takes
// it as a top-level parameter) and maps the remaining turns. Tool results
// become user-role tool_result blocks.
func convertAnthropicMessages(messages []Message) (string, []anthropic.MessageParam, error) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case store.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content

		case store.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case store.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return "", nil, errors.Wrapf(err, "tool call %s has invalid arguments", tc.Name)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case store.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			return "", nil, errors.Errorf("unsupported message role %q", m.Role)
		}
	}
	return system, out, nil
}
