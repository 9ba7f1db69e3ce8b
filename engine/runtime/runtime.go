package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/llm"
	"github.com/hrygo/agentworld/engine/metrics"
	"github.com/hrygo/agentworld/store"
)

// Runtime is one running world: its agent actors, bus wiring and message
// distribution. A Runtime works against a world snapshot; subscription
// refresh replaces the whole Runtime rather than mutating it.
type Runtime struct {
	world    *store.World
	st       *store.Store
	bus      *bus.Bus
	pipeline *llm.Pipeline
	exporter *metrics.Exporter
	executor llm.ToolExecutor

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	agents map[string]*agentState

	unsubscribe func()

	pendingOps atomic.Int64
	activitySeq atomic.Int64
}

// agentState pairs an actor with the mutable agent record its worker
// owns. Only the worker goroutine (and Stop) touches the record.
type agentState struct {
	actor *actor

	mu           sync.Mutex
	agent        *store.Agent
	turnNotified bool
}

// Options carries optional runtime collaborators.
type Options struct {
	Exporter *metrics.Exporter
	Executor llm.ToolExecutor
}

// New builds a runtime for the world and starts one actor per agent.
func New(ctx context.Context, world *store.World, agents []*store.Agent, st *store.Store, b *bus.Bus, pipeline *llm.Pipeline, opts Options) *Runtime {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runtime{
		world:    world,
		st:       st,
		bus:      b,
		pipeline: pipeline,
		exporter: opts.Exporter,
		executor: opts.Executor,
		ctx:      ctx,
		cancel:   cancel,
		agents:   make(map[string]*agentState),
	}
	for _, a := range agents {
		r.addAgentLocked(a)
	}
	r.unsubscribe = b.Subscribe(bus.TopicMessage, r.routeMessage)
	return r
}

// Bus returns the world's event bus.
func (r *Runtime) Bus() *bus.Bus {
	return r.bus
}

// World returns the world snapshot this runtime was built from.
func (r *Runtime) World() *store.World {
	return r.world
}

// routeMessage fans one published message out to every agent mailbox.
// Enqueue blocks on a full mailbox, preserving per-agent ordering.
func (r *Runtime) routeMessage(_ bus.Topic, event any) {
	msg, ok := event.(bus.MessageEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	states := make([]*agentState, 0, len(r.agents))
	for _, s := range r.agents {
		states = append(states, s)
	}
	r.mu.Unlock()

	for _, s := range states {
		s.actor.enqueue(msg)
	}
}

func (r *Runtime) addAgentLocked(agent *store.Agent) {
	state := &agentState{agent: agent}
	state.actor = newActor(r.ctx, agent.ID, func(ctx context.Context, msg bus.MessageEvent) {
		r.handleMessage(ctx, state, msg)
	})
	r.agents[agent.ID] = state
}

// AddAgent attaches a new agent actor to the running world.
func (r *Runtime) AddAgent(agent *store.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID]; exists {
		return
	}
	r.addAgentLocked(agent)
}

// RemoveAgent stops and detaches one agent actor.
func (r *Runtime) RemoveAgent(agentID string) {
	r.mu.Lock()
	state, ok := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()
	if ok {
		state.actor.stop()
	}
}

// UpdateAgent swaps the agent record used by a running actor.
func (r *Runtime) UpdateAgent(agent *store.Agent) {
	r.mu.Lock()
	state, ok := r.agents[agent.ID]
	r.mu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.agent = agent
	state.mu.Unlock()
}

// AgentIDs lists the ids of all attached agents.
func (r *Runtime) AgentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Stop detaches from the bus and shuts down every actor. Pending LLM
// streams are cancelled through the context.
func (r *Runtime) Stop() {
	r.unsubscribe()
	r.cancel()

	r.mu.Lock()
	states := make([]*agentState, 0, len(r.agents))
	for _, s := range r.agents {
		states = append(states, s)
	}
	r.agents = make(map[string]*agentState)
	r.mu.Unlock()

	for _, s := range states {
		s.actor.stop()
	}
}

// Ingest persists one message into every agent's memory and publishes it
// on the bus. Each agent stores the message with the role it sees: the
// author keeps the original role, everyone else sees user (system stays
// system for all).
func (r *Runtime) Ingest(ctx context.Context, msg store.AgentMessage, authorAgentID string) error {
	r.mu.Lock()
	states := make([]*agentState, 0, len(r.agents))
	for _, s := range r.agents {
		states = append(states, s)
	}
	r.mu.Unlock()

	// Memory appends are independent per agent; run them concurrently and
	// surface the first failure after all writes settled.
	var g errgroup.Group
	for _, s := range states {
		s.mu.Lock()
		agentID := s.agent.ID
		s.mu.Unlock()

		stored := msg
		if msg.Role != store.RoleSystem && agentID != authorAgentID {
			stored.Role = store.RoleUser
		}
		g.Go(func() error {
			if err := r.st.AppendAgentMemory(ctx, r.world.ID, agentID, stored); err != nil {
				slog.Error("persist message failed",
					"category", "runtime",
					"agent", agentID,
					"message_id", msg.MessageID,
					"error", err.Error())
				return errors.Wrapf(err, "persist message for agent %s", agentID)
			}
			return nil
		})
	}
	err := g.Wait()

	r.publishMessage(msg)
	return err
}

func (r *Runtime) publishMessage(msg store.AgentMessage) {
	r.bus.Publish(bus.TopicMessage, bus.MessageEvent{
		MessageID:        msg.MessageID,
		ChatID:           msg.ChatID,
		Role:             msg.Role,
		Sender:           msg.Sender,
		Content:          msg.Content,
		ReplyToMessageID: msg.ReplyToMessageID,
		CreatedAt:        msg.CreatedAt,
	})
	if r.exporter != nil {
		r.exporter.RecordEventPublished(string(bus.TopicMessage))
	}
}

// handleMessage runs the full respond flow for one delivered message on
// the agent's worker goroutine.
func (r *Runtime) handleMessage(ctx context.Context, state *agentState, msg bus.MessageEvent) {
	state.mu.Lock()
	agent := state.agent
	state.mu.Unlock()

	d := Decide(agent, r.world.TurnLimit, msg)

	if d.ResetCount {
		state.mu.Lock()
		state.turnNotified = false
		dirty := agent.LLMCallCount != 0
		agent.LLMCallCount = 0
		state.mu.Unlock()
		if dirty {
			if err := r.st.SaveAgent(ctx, agent); err != nil {
				slog.Warn("reset llm call count failed",
					"category", "runtime", "agent", agent.ID, "error", err.Error())
			}
		}
	}

	if d.TurnLimited {
		r.notifyTurnLimit(ctx, state, msg.ChatID)
		return
	}
	if !d.Respond {
		return
	}

	r.respond(ctx, state, msg)
}

// notifyTurnLimit publishes the single per-turn-scope notification that
// agents hit the world's turn limit, attributed to the world.
func (r *Runtime) notifyTurnLimit(ctx context.Context, state *agentState, chatID string) {
	state.mu.Lock()
	already := state.turnNotified
	state.turnNotified = true
	state.mu.Unlock()
	if already {
		return
	}

	if r.exporter != nil {
		r.exporter.RecordTurnLimited()
	}
	notice := store.AgentMessage{
		MessageID: shortuuid.New(),
		ChatID:    chatID,
		Role:      store.RoleSystem,
		Sender:    SenderWorld,
		Content:   TurnLimitNotice(r.world.TurnLimit),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Ingest(ctx, notice, ""); err != nil {
		slog.Warn("turn limit notice delivery incomplete",
			"category", "runtime", "error", err.Error())
	}
}

func (r *Runtime) respond(ctx context.Context, state *agentState, msg bus.MessageEvent) {
	state.mu.Lock()
	agent := state.agent
	now := time.Now().UTC()
	agent.LLMCallCount++
	agent.LastLLMCall = &now
	agent.LastActive = now
	agent.Status = store.AgentStatusActive
	state.mu.Unlock()

	if err := r.st.SaveAgent(ctx, agent); err != nil {
		slog.Warn("persist agent state failed",
			"category", "runtime", "agent", agent.ID, "error", err.Error())
	}

	activityID := r.activitySeq.Add(1)
	r.publishActivity(bus.ActivityResponseStart, activityID, agent.Name, msg.ChatID, r.pendingOps.Add(1))
	defer func() {
		r.publishActivity(bus.ActivityResponseEnd, activityID, agent.Name, msg.ChatID, r.pendingOps.Add(-1))
	}()

	memory, err := r.st.LoadAgentMemory(ctx, r.world.ID, agent.ID)
	if err != nil {
		r.failAgent(ctx, state, errors.Wrap(err, "load memory"))
		return
	}

	provider := agent.Provider
	if provider == "" {
		provider = r.world.ChatLLMProvider
	}
	model := agent.Model
	if model == "" {
		model = r.world.ChatLLMModel
	}

	messageID := shortuuid.New()
	result, err := r.pipeline.Run(ctx, r.bus, llm.CallRequest{
		WorldID:      r.world.ID,
		ChatID:       msg.ChatID,
		MessageID:    messageID,
		AgentName:    agent.Name,
		Provider:     provider,
		Model:        model,
		SystemPrompt: agent.SystemPrompt,
		Variables:    r.world.Variables,
		Memory:       memory,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
		Executor:     r.executor,
	})
	if err != nil {
		r.failAgent(ctx, state, err)
		return
	}

	text := StripSelfMentions(result.Text, agent.Name)
	promptedByMention := !IsHumanSender(msg.Sender) && !IsWorldSender(msg.Sender) &&
		Mentioned(msg.Content, agent.Name)
	if promptedByMention {
		text = EnsureReplyMention(text, msg.Sender)
	}

	response := store.AgentMessage{
		MessageID:        messageID,
		ChatID:           msg.ChatID,
		Role:             store.RoleAssistant,
		Sender:           agent.Name,
		Content:          text,
		CreatedAt:        time.Now().UTC(),
		ReplyToMessageID: msg.MessageID,
		Usage:            result.Usage,
	}
	if err := r.Ingest(ctx, response, agent.ID); err != nil {
		r.failAgent(ctx, state, err)
		return
	}

	state.mu.Lock()
	agent.Status = store.AgentStatusInactive
	agent.LastActive = time.Now().UTC()
	state.mu.Unlock()
	if err := r.st.SaveAgent(ctx, agent); err != nil {
		slog.Warn("persist agent state failed",
			"category", "runtime", "agent", agent.ID, "error", err.Error())
	}
}

// failAgent transitions the agent to error state. The pipeline has
// already emitted the sse error event; no automatic retry.
func (r *Runtime) failAgent(ctx context.Context, state *agentState, err error) {
	state.mu.Lock()
	agent := state.agent
	agent.Status = store.AgentStatusError
	agent.LastActive = time.Now().UTC()
	state.mu.Unlock()

	slog.Error("agent response failed",
		"category", "runtime",
		"agent", agent.ID,
		"error", err.Error())
	if saveErr := r.st.SaveAgent(ctx, agent); saveErr != nil {
		slog.Warn("persist agent error state failed",
			"category", "runtime", "agent", agent.ID, "error", saveErr.Error())
	}
}

func (r *Runtime) publishActivity(eventType string, activityID int64, source, chatID string, pending int64) {
	r.mu.Lock()
	active := make([]string, 0, len(r.agents))
	for _, s := range r.agents {
		s.mu.Lock()
		if s.agent.Status == store.AgentStatusActive {
			active = append(active, s.agent.Name)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	r.bus.Publish(bus.TopicActivity, bus.ActivityEvent{
		EventType:         eventType,
		PendingOperations: int(pending),
		ActivityID:        activityID,
		Source:            source,
		ActiveSources:     active,
		ChatID:            chatID,
	})
}
