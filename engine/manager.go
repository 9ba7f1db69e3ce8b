// Package engine is the programmatic surface of the agent-world runtime:
// world and agent lifecycle, message publishing, memory access and
// subscription management, backed by pluggable storage.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/chat"
	"github.com/hrygo/agentworld/engine/llm"
	"github.com/hrygo/agentworld/engine/logstream"
	"github.com/hrygo/agentworld/engine/metrics"
	"github.com/hrygo/agentworld/engine/runtime"
	"github.com/hrygo/agentworld/engine/subscription"
	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
)

// DefaultTurnLimit applies when a world is created without one.
const DefaultTurnLimit = 5

// llmCallsPerMinute throttles outbound provider calls per provider.
const (
	llmCallsPerMinute = 60
	llmBurst          = 5
)

// Manager is the runtime facade the front-ends consume.
type Manager struct {
	profile  *profile.Profile
	st       *store.Store
	registry *llm.Registry
	pipeline *llm.Pipeline
	chats    *chat.Manager
	subs     *subscription.Manager
	exporter *metrics.Exporter
	executor llm.ToolExecutor
}

// Options carries optional manager collaborators.
type Options struct {
	Exporter *metrics.Exporter
	// Executor enables tool calls in agent responses.
	Executor llm.ToolExecutor
}

// New wires the manager from a profile and an opened store.
func New(p *profile.Profile, st *store.Store, opts Options) *Manager {
	registry := llm.NewRegistry(p)
	limiter := llm.NewRateLimiter(llmCallsPerMinute, llmBurst)
	pipeline := llm.NewPipeline(registry, limiter, opts.Exporter, time.Duration(p.LLMTimeout)*time.Second)

	m := &Manager{
		profile:  p,
		st:       st,
		registry: registry,
		pipeline: pipeline,
		chats:    chat.NewManager(st),
		exporter: opts.Exporter,
		executor: opts.Executor,
	}
	m.subs = subscription.NewManager(m.buildRuntime)
	return m
}

// Store exposes the persistence layer, mainly for tests and the server.
func (m *Manager) Store() *store.Store {
	return m.st
}

// Registry exposes the provider registry.
func (m *Manager) Registry() *llm.Registry {
	return m.registry
}

// Chats exposes the chat manager.
func (m *Manager) Chats() *chat.Manager {
	return m.chats
}

// buildRuntime is the subscription manager's runtime factory: it loads
// the world and agents from storage and starts actors on a fresh bus.
// The runtime's lifetime is bound to the process, not the request.
func (m *Manager) buildRuntime(ctx context.Context, worldID string) (*runtime.Runtime, error) {
	world, err := m.st.LoadWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	return runtime.New(context.Background(), world, agents, m.st, bus.New(), m.pipeline, runtime.Options{
		Exporter: m.exporter,
		Executor: m.executor,
	}), nil
}

// ensureRuntime returns the live runtime for a world, creating a
// process-held subscription on first use so the runtime persists between
// published messages.
func (m *Manager) ensureRuntime(ctx context.Context, worldID string) (*runtime.Runtime, error) {
	if rt := m.subs.Runtime(worldID); rt != nil {
		return rt, nil
	}
	if _, err := m.subs.Subscribe(ctx, "engine:"+worldID, worldID, "", subscription.Hooks{}); err != nil {
		return nil, err
	}
	rt := m.subs.Runtime(worldID)
	if rt == nil {
		return nil, errors.Errorf("world %s has no runtime", worldID)
	}
	return rt, nil
}

// CreateWorldParams are the caller-supplied fields of a new world.
type CreateWorldParams struct {
	Name            string
	Description     string
	TurnLimit       int
	ChatLLMProvider string
	ChatLLMModel    string
	MCPConfig       string
	Variables       map[string]string
}

// CreateWorld persists a new world.
func (m *Manager) CreateWorld(ctx context.Context, params CreateWorldParams) (*store.World, error) {
	if params.TurnLimit <= 0 {
		params.TurnLimit = DefaultTurnLimit
	}
	now := time.Now().UTC()
	world := &store.World{
		ID:              uuid.NewString(),
		Name:            params.Name,
		Description:     params.Description,
		TurnLimit:       params.TurnLimit,
		ChatLLMProvider: params.ChatLLMProvider,
		ChatLLMModel:    params.ChatLLMModel,
		MCPConfig:       params.MCPConfig,
		Variables:       params.Variables,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	if err := world.Validate(); err != nil {
		return nil, err
	}
	if err := m.st.SaveWorld(ctx, world); err != nil {
		return nil, err
	}
	return world, nil
}

// GetWorld loads one world; nil without error when absent.
func (m *Manager) GetWorld(ctx context.Context, worldID string) (*store.World, error) {
	world, err := m.st.LoadWorld(ctx, worldID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return world, err
}

// ListWorlds lists all persisted worlds.
func (m *Manager) ListWorlds(ctx context.Context) ([]*store.World, error) {
	return m.st.ListWorlds(ctx)
}

// UpdateWorld applies a partial update and refreshes subscriptions.
// Returns the updated world and a refresh warning (empty when clean).
func (m *Manager) UpdateWorld(ctx context.Context, upd *store.UpdateWorld) (*store.World, string, error) {
	world, err := m.st.LoadWorld(ctx, upd.ID)
	if err != nil {
		return nil, "", err
	}
	world.Apply(upd)
	world.LastUpdated = time.Now().UTC()
	if err := world.Validate(); err != nil {
		return nil, "", err
	}
	if err := m.st.SaveWorld(ctx, world); err != nil {
		return nil, "", err
	}
	warning := m.subs.RefreshWorld(ctx, world.ID)
	return world, warning, nil
}

// DeleteWorld cancels all pending work, destroys the world's
// subscriptions and removes it with all agents, chats and memory.
func (m *Manager) DeleteWorld(ctx context.Context, worldID string) error {
	if rt := m.subs.Runtime(worldID); rt != nil {
		rt.Bus().Streams().CancelAll()
	}
	m.subs.DestroyWorld(worldID)
	return m.st.DeleteWorld(ctx, worldID)
}

// CreateAgentParams are the caller-supplied fields of a new agent.
type CreateAgentParams struct {
	WorldID      string
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  *float32
	MaxTokens    *int
	AutoReply    bool
}

// CreateAgent persists a new agent and attaches it to the live runtime
// when the world is running.
func (m *Manager) CreateAgent(ctx context.Context, params CreateAgentParams) (*store.Agent, error) {
	if _, err := m.st.LoadWorld(ctx, params.WorldID); err != nil {
		return nil, err
	}
	if params.Model == "" {
		params.Model = llm.DefaultModel(params.Provider)
	}
	now := time.Now().UTC()
	agent := &store.Agent{
		ID:           shortuuid.New(),
		WorldID:      params.WorldID,
		Name:         params.Name,
		Type:         params.Type,
		Provider:     params.Provider,
		Model:        params.Model,
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		AutoReply:    params.AutoReply,
		Status:       store.AgentStatusInactive,
		CreatedAt:    now,
		LastActive:   now,
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if err := m.st.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	if rt := m.subs.Runtime(params.WorldID); rt != nil {
		rt.AddAgent(agent)
	}
	return agent, nil
}

// GetAgent loads one agent; nil without error when absent.
func (m *Manager) GetAgent(ctx context.Context, worldID, agentID string) (*store.Agent, error) {
	agent, err := m.st.LoadAgent(ctx, worldID, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return agent, err
}

// ListAgents lists the agents of a world.
func (m *Manager) ListAgents(ctx context.Context, worldID string) ([]*store.Agent, error) {
	return m.st.ListAgents(ctx, worldID)
}

// UpdateAgent applies a partial update and swaps the record in the live
// runtime.
func (m *Manager) UpdateAgent(ctx context.Context, upd *store.UpdateAgent) (*store.Agent, error) {
	agent, err := m.st.LoadAgent(ctx, upd.WorldID, upd.ID)
	if err != nil {
		return nil, err
	}
	agent.Apply(upd)
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if err := m.st.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	if rt := m.subs.Runtime(upd.WorldID); rt != nil {
		rt.UpdateAgent(agent)
	}
	return agent, nil
}

// DeleteAgent removes the agent, its memory and its actor.
func (m *Manager) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if rt := m.subs.Runtime(worldID); rt != nil {
		rt.RemoveAgent(agentID)
	}
	return m.st.DeleteAgent(ctx, worldID, agentID)
}

// ClearAgentMemory archives the agent's memory and leaves it empty.
func (m *Manager) ClearAgentMemory(ctx context.Context, worldID, agentID string) error {
	return m.st.ArchiveAgentMemory(ctx, worldID, agentID)
}

// GetMemory returns the chat-visible message log of a world: the distinct
// union of all agent memories, optionally filtered to one chat, in
// chronological order.
func (m *Manager) GetMemory(ctx context.Context, worldID, chatID string) ([]store.AgentMessage, error) {
	agents, err := m.st.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []store.AgentMessage
	for _, a := range agents {
		memory, err := m.st.LoadAgentMemory(ctx, worldID, a.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load memory for agent %s", a.ID)
		}
		for _, msg := range memory {
			if chatID != "" && msg.ChatID != chatID {
				continue
			}
			if seen[msg.MessageID] {
				continue
			}
			seen[msg.MessageID] = true
			// Roles are relative to the storing agent; the world-level
			// view keeps the author's perspective.
			if msg.Role == store.RoleUser && !runtime.IsHumanSender(msg.Sender) && !runtime.IsWorldSender(msg.Sender) {
				msg.Role = store.RoleAssistant
			}
			out = append(out, msg)
		}
	}
	store.SortMessages(out)
	return out, nil
}

// GetAgentMemory returns one agent's private memory.
func (m *Manager) GetAgentMemory(ctx context.Context, worldID, agentID string) ([]store.AgentMessage, error) {
	return m.st.LoadAgentMemory(ctx, worldID, agentID)
}

// SubscribeWorld binds client hooks to a world under the subscription id.
func (m *Manager) SubscribeWorld(ctx context.Context, subscriptionID, worldID, chatID string, hooks subscription.Hooks) (*subscription.Subscription, error) {
	return m.subs.Subscribe(ctx, subscriptionID, worldID, chatID, hooks)
}

// ConfigureLLMProvider overrides one provider's credentials at runtime.
func (m *Manager) ConfigureLLMProvider(provider string, cfg llm.ProviderConfig) error {
	return m.registry.Configure(provider, cfg)
}

// AddLogStreamCallback subscribes to the process log stream; the returned
// function unsubscribes.
func (m *Manager) AddLogStreamCallback(cb logstream.Callback) func() {
	return logstream.AddCallback(cb)
}

// Close releases all live runtimes and the store.
func (m *Manager) Close() error {
	worlds, err := m.st.ListWorlds(context.Background())
	if err == nil {
		for _, w := range worlds {
			m.subs.DestroyWorld(w.ID)
		}
	}
	return m.st.Close()
}
