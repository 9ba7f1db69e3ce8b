package store

import (
	"context"
	"sync"

	"github.com/hrygo/agentworld/internal/profile"
)

// Driver is the persistence backend contract. Two implementations exist
// with identical semantics: a JSON file tree and SQLite. They are selected
// by process-level config and never mixed in one process.
//
// Load operations return ErrNotFound (wrapped) when the record is absent.
// Save operations are atomic: a failure never leaves half-written state.
type Driver interface {
	SaveWorld(ctx context.Context, world *World) error
	LoadWorld(ctx context.Context, worldID string) (*World, error)
	DeleteWorld(ctx context.Context, worldID string) error
	ListWorlds(ctx context.Context) ([]*World, error)

	SaveAgent(ctx context.Context, agent *Agent) error
	LoadAgent(ctx context.Context, worldID, agentID string) (*Agent, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]*Agent, error)

	// SaveAgentMemory replaces the agent's full memory atomically.
	SaveAgentMemory(ctx context.Context, worldID, agentID string, messages []AgentMessage) error
	LoadAgentMemory(ctx context.Context, worldID, agentID string) ([]AgentMessage, error)
	// ArchiveAgentMemory moves the current memory aside (archives/ dir or
	// archive table) and leaves the live memory empty.
	ArchiveAgentMemory(ctx context.Context, worldID, agentID string) error

	SaveChat(ctx context.Context, chat *Chat) error
	LoadChat(ctx context.Context, worldID, chatID string) (*Chat, error)
	DeleteChat(ctx context.Context, worldID, chatID string) error
	ListChats(ctx context.Context, worldID string) ([]*Chat, error)

	Close() error
}

// Store provides persistence access to all runtime objects. Writes are
// serialized per key (world, agent, chat); reads run concurrently.
type Store struct {
	profile *profile.Profile
	driver  Driver

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:   driver,
		profile:  profile,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// lockKey serializes writers of one persistence key. The lock set only
// grows; keys are bounded by the number of live worlds, agents and chats.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) SaveWorld(ctx context.Context, world *World) error {
	unlock := s.lockKey("world/" + world.ID)
	defer unlock()
	return s.driver.SaveWorld(ctx, world)
}

func (s *Store) LoadWorld(ctx context.Context, worldID string) (*World, error) {
	return s.driver.LoadWorld(ctx, worldID)
}

func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	unlock := s.lockKey("world/" + worldID)
	defer unlock()
	return s.driver.DeleteWorld(ctx, worldID)
}

func (s *Store) ListWorlds(ctx context.Context) ([]*World, error) {
	return s.driver.ListWorlds(ctx)
}

func (s *Store) SaveAgent(ctx context.Context, agent *Agent) error {
	unlock := s.lockKey("agent/" + agent.WorldID + "/" + agent.ID)
	defer unlock()
	return s.driver.SaveAgent(ctx, agent)
}

func (s *Store) LoadAgent(ctx context.Context, worldID, agentID string) (*Agent, error) {
	return s.driver.LoadAgent(ctx, worldID, agentID)
}

func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	unlock := s.lockKey("agent/" + worldID + "/" + agentID)
	defer unlock()
	return s.driver.DeleteAgent(ctx, worldID, agentID)
}

func (s *Store) ListAgents(ctx context.Context, worldID string) ([]*Agent, error) {
	return s.driver.ListAgents(ctx, worldID)
}

func (s *Store) SaveAgentMemory(ctx context.Context, worldID, agentID string, messages []AgentMessage) error {
	unlock := s.lockKey("memory/" + worldID + "/" + agentID)
	defer unlock()
	return s.driver.SaveAgentMemory(ctx, worldID, agentID, messages)
}

func (s *Store) LoadAgentMemory(ctx context.Context, worldID, agentID string) ([]AgentMessage, error) {
	return s.driver.LoadAgentMemory(ctx, worldID, agentID)
}

// AppendAgentMemory appends messages to the agent's memory under one key
// lock so concurrent appenders cannot lose each other's writes.
func (s *Store) AppendAgentMemory(ctx context.Context, worldID, agentID string, messages ...AgentMessage) error {
	unlock := s.lockKey("memory/" + worldID + "/" + agentID)
	defer unlock()
	existing, err := s.driver.LoadAgentMemory(ctx, worldID, agentID)
	if err != nil {
		return err
	}
	existing = append(existing, messages...)
	SortMessages(existing)
	return s.driver.SaveAgentMemory(ctx, worldID, agentID, existing)
}

// RewriteAgentMemory loads the agent's memory, applies rewrite and saves
// the result, all under the memory key lock so a concurrent append cannot
// slip between read and write. It returns how many messages the rewrite
// removed; a rewrite that removes nothing skips the save.
func (s *Store) RewriteAgentMemory(ctx context.Context, worldID, agentID string, rewrite func([]AgentMessage) []AgentMessage) (int, error) {
	unlock := s.lockKey("memory/" + worldID + "/" + agentID)
	defer unlock()
	existing, err := s.driver.LoadAgentMemory(ctx, worldID, agentID)
	if err != nil {
		return 0, err
	}
	kept := rewrite(existing)
	removed := len(existing) - len(kept)
	if removed <= 0 {
		return 0, nil
	}
	if err := s.driver.SaveAgentMemory(ctx, worldID, agentID, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) ArchiveAgentMemory(ctx context.Context, worldID, agentID string) error {
	unlock := s.lockKey("memory/" + worldID + "/" + agentID)
	defer unlock()
	return s.driver.ArchiveAgentMemory(ctx, worldID, agentID)
}

func (s *Store) SaveChat(ctx context.Context, chat *Chat) error {
	unlock := s.lockKey("chat/" + chat.WorldID + "/" + chat.ID)
	defer unlock()
	return s.driver.SaveChat(ctx, chat)
}

func (s *Store) LoadChat(ctx context.Context, worldID, chatID string) (*Chat, error) {
	return s.driver.LoadChat(ctx, worldID, chatID)
}

func (s *Store) DeleteChat(ctx context.Context, worldID, chatID string) error {
	unlock := s.lockKey("chat/" + worldID + "/" + chatID)
	defer unlock()
	return s.driver.DeleteChat(ctx, worldID, chatID)
}

func (s *Store) ListChats(ctx context.Context, worldID string) ([]*Chat, error) {
	return s.driver.ListChats(ctx, worldID)
}
