package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/agentworld/store"
)

// openaiProvider serves every backend speaking the OpenAI chat protocol:
// OpenAI itself, xAI, Azure OpenAI, Ollama and generic OpenAI-compatible
// endpoints. Only the client configuration differs per provider.
type openaiProvider struct {
	name   string
	client *openai.Client
}

// newHTTPClient builds an HTTP client tuned for long-lived streams: no
// overall timeout (the pipeline context bounds the call), but bounded
// dial and handshake phases.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func newOpenAIProvider(name string, cfg ProviderConfig) *openaiProvider {
	var clientConfig openai.ClientConfig

	switch name {
	case ProviderAzureOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("https://%s.openai.azure.com", cfg.ResourceName)
		}
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, baseURL)
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
		if cfg.Deployment != "" {
			deployment := cfg.Deployment
			clientConfig.AzureModelMapperFunc = func(string) string { return deployment }
		}

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		// Ollama serves the OpenAI protocol under /v1.
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	case ProviderXAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.x.ai/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL

	case ProviderOpenAICompatible:
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		} else {
			slog.Warn("openai-compatible provider has no base url configured")
		}

	default: // ProviderOpenAI
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	clientConfig.HTTPClient = newHTTPClient()

	return &openaiProvider{
		name:   name,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (p *openaiProvider) Name() string {
	return p.name
}

func (p *openaiProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages),
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("create stream failed: %w", err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		// Tool call fragments arrive as indexed deltas; accumulate them
		// until the finish chunk.
		toolCalls := map[int]*ToolCall{}
		var usage *store.TokenUsage
		stopReason := "stop"

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					emitAccumulatedToolCalls(ctx, events, toolCalls)
					send(ctx, events, StreamEvent{Type: EventFinish, StopReason: stopReason, Usage: usage})
					return
				}
				send(ctx, events, StreamEvent{Type: EventError, Err: err})
				return
			}

			if response.Usage != nil {
				usage = &store.TokenUsage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
					TotalTokens:  response.Usage.TotalTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			if choice.Delta.Content != "" {
				if !send(ctx, events, StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				acc, ok := toolCalls[index]
				if !ok {
					acc = &ToolCall{}
					toolCalls[index] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Name = tc.Function.Name
				}
				acc.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				stopReason = StopReasonToolCalls
			}
		}
	}()
	return events, nil
}

// emitAccumulatedToolCalls flushes complete tool calls in index order.
func emitAccumulatedToolCalls(ctx context.Context, events chan<- StreamEvent, toolCalls map[int]*ToolCall) {
	indexes := make([]int, 0, len(toolCalls))
	for i := range toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		tc := toolCalls[i]
		if tc.Arguments == "" {
			tc.Arguments = "{}"
		}
		if !json.Valid([]byte(tc.Arguments)) {
			slog.Warn("discarding tool call with malformed arguments", "tool", tc.Name)
			continue
		}
		send(ctx, events, StreamEvent{Type: EventToolCall, ToolCall: tc})
	}
}

// send delivers an event unless the context is already cancelled.
func send(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func convertOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
