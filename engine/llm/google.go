package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

const googleDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// googleProvider streams from the Gemini generateContent API over SSE.
// Google publishes no stable Go SDK shape we depend on elsewhere, so
// this speaks the wire protocol directly.
type googleProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newGoogleProvider(cfg ProviderConfig) *googleProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = googleDefaultBaseURL
	}
	return &googleProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (p *googleProvider) Name() string {
	return ProviderGoogle
}

// Gemini wire types.

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *googleProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse",
		p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build gemini request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "gemini request failed")
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var parsed geminiResponse
		if json.Unmarshal(payload, &parsed) == nil && parsed.Error != nil {
			return nil, errors.Errorf("gemini api error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return nil, errors.Errorf("gemini api status %d: %s", resp.StatusCode, string(payload))
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup

		var usage *store.TokenUsage
		stopReason := "stop"
		toolCallSeq := 0

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "" || data == "[DONE]" {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(ctx, events, StreamEvent{Type: EventError, Err: errors.Wrap(err, "decode gemini chunk")})
				return
			}
			if chunk.Error != nil {
				send(ctx, events, StreamEvent{Type: EventError,
					Err: errors.Errorf("gemini api error %d: %s", chunk.Error.Code, chunk.Error.Message)})
				return
			}

			if chunk.UsageMetadata != nil {
				usage = &store.TokenUsage{
					InputTokens:  chunk.UsageMetadata.PromptTokenCount,
					OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  chunk.UsageMetadata.TotalTokenCount,
				}
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			candidate := chunk.Candidates[0]
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					if !send(ctx, events, StreamEvent{Type: EventTextDelta, Text: part.Text}) {
						return
					}
				}
				if part.FunctionCall != nil {
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						send(ctx, events, StreamEvent{Type: EventError, Err: errors.Wrap(err, "encode function call args")})
						return
					}
					// Gemini does not assign call ids; synthesize stable
					// ones so tool results can be matched back.
					toolCallSeq++
					call := &ToolCall{
						ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, toolCallSeq),
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					}
					stopReason = StopReasonToolCalls
					if !send(ctx, events, StreamEvent{Type: EventToolCall, ToolCall: call}) {
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, events, StreamEvent{Type: EventError, Err: errors.Wrap(err, "read gemini stream")})
			return
		}

		send(ctx, events, StreamEvent{Type: EventFinish, StopReason: stopReason, Usage: usage})
	}()
	return events, nil
}

func (p *googleProvider) buildRequest(req Request) ([]byte, error) {
	out := geminiRequest{}

	for _, m := range req.Messages {
		switch m.Role {
		case store.RoleSystem:
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: m.Content})

		case store.RoleUser:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})

		case store.RoleAssistant:
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					return nil, errors.Wrapf(err, "tool call %s has invalid arguments", tc.Name)
				}
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
			if len(content.Parts) == 0 {
				continue
			}
			out.Contents = append(out.Contents, content)

		case store.RoleTool:
			// Gemini matches results by function name, carried in the
			// synthesized call id (call_<name>_<seq>).
			name := toolNameFromCallID(m.ToolCallID)
			out.Contents = append(out.Contents, geminiContent{
				Role: "function",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})

		default:
			return nil, errors.Errorf("unsupported message role %q", m.Role)
		}
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out.Tools = []geminiTool{tool}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encode gemini request")
	}
	return body, nil
}

// toolNameFromCallID recovers the function name from call_<name>_<seq>.
func toolNameFromCallID(id string) string {
	trimmed := strings.TrimPrefix(id, "call_")
	if i := strings.LastIndex(trimmed, "_"); i > 0 {
		return trimmed[:i]
	}
	return trimmed
}
