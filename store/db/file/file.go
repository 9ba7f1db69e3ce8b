// Package file implements the storage driver on a JSON file tree.
//
// Layout:
//
//	<root>/worlds/<worldId>/world.json
//	<root>/worlds/<worldId>/agents/<agentId>/config.json
//	<root>/worlds/<worldId>/agents/<agentId>/memory.json
//	<root>/worlds/<worldId>/agents/<agentId>/archives/memory_<ISO8601>.json
//	<root>/worlds/<worldId>/chats/<chatId>.json
//
// All writes go through a temp file followed by rename, so a crash never
// leaves a half-written record behind.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
)

const (
	worldFile  = "world.json"
	configFile = "config.json"
	memoryFile = "memory.json"
	archiveDir = "archives"
)

// Driver is the file-backed storage driver.
type Driver struct {
	root string
}

// NewDriver creates a file driver rooted at the profile's data directory.
func NewDriver(p *profile.Profile) (*Driver, error) {
	if p.Data == "" {
		return nil, errors.New("data path required for file storage")
	}
	root := filepath.Join(p.Data, "worlds")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %s", root)
	}
	return &Driver{root: root}, nil
}

func (d *Driver) Close() error {
	return nil
}

func (d *Driver) worldDir(worldID string) string {
	return filepath.Join(d.root, worldID)
}

func (d *Driver) agentDir(worldID, agentID string) string {
	return filepath.Join(d.root, worldID, "agents", agentID)
}

func (d *Driver) chatPath(worldID, chatID string) string {
	return filepath.Join(d.root, worldID, "chats", chatID+".json")
}

// writeJSON marshals v and writes it atomically via temp file + rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", filepath.Dir(path))
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

// readJSON unmarshals path into v, mapping a missing file to ErrNotFound.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(store.ErrNotFound, "%s", path)
		}
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", path)
	}
	return nil
}

func (d *Driver) SaveWorld(_ context.Context, world *store.World) error {
	return writeJSON(filepath.Join(d.worldDir(world.ID), worldFile), world)
}

func (d *Driver) LoadWorld(_ context.Context, worldID string) (*store.World, error) {
	var world store.World
	if err := readJSON(filepath.Join(d.worldDir(worldID), worldFile), &world); err != nil {
		return nil, err
	}
	return &world, nil
}

func (d *Driver) DeleteWorld(_ context.Context, worldID string) error {
	dir := d.worldDir(worldID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.Wrapf(store.ErrNotFound, "world %s", worldID)
	}
	return errors.Wrapf(os.RemoveAll(dir), "failed to delete world %s", worldID)
}

func (d *Driver) ListWorlds(ctx context.Context) ([]*store.World, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list worlds")
	}
	worlds := make([]*store.World, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		world, err := d.LoadWorld(ctx, entry.Name())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // directory without world.json, skip
			}
			return nil, err
		}
		worlds = append(worlds, world)
	}
	return worlds, nil
}

func (d *Driver) SaveAgent(_ context.Context, agent *store.Agent) error {
	return writeJSON(filepath.Join(d.agentDir(agent.WorldID, agent.ID), configFile), agent)
}

func (d *Driver) LoadAgent(_ context.Context, worldID, agentID string) (*store.Agent, error) {
	var agent store.Agent
	if err := readJSON(filepath.Join(d.agentDir(worldID, agentID), configFile), &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (d *Driver) DeleteAgent(_ context.Context, worldID, agentID string) error {
	dir := d.agentDir(worldID, agentID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.Wrapf(store.ErrNotFound, "agent %s/%s", worldID, agentID)
	}
	return errors.Wrapf(os.RemoveAll(dir), "failed to delete agent %s/%s", worldID, agentID)
}

func (d *Driver) ListAgents(ctx context.Context, worldID string) ([]*store.Agent, error) {
	dir := filepath.Join(d.worldDir(worldID), "agents")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*store.Agent{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list agents of world %s", worldID)
	}
	agents := make([]*store.Agent, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		agent, err := d.LoadAgent(ctx, worldID, entry.Name())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

func (d *Driver) SaveAgentMemory(_ context.Context, worldID, agentID string, messages []store.AgentMessage) error {
	if messages == nil {
		messages = []store.AgentMessage{}
	}
	return writeJSON(filepath.Join(d.agentDir(worldID, agentID), memoryFile), messages)
}

func (d *Driver) LoadAgentMemory(_ context.Context, worldID, agentID string) ([]store.AgentMessage, error) {
	var messages []store.AgentMessage
	err := readJSON(filepath.Join(d.agentDir(worldID, agentID), memoryFile), &messages)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.AgentMessage{}, nil
		}
		return nil, err
	}
	store.SortMessages(messages)
	return messages, nil
}

func (d *Driver) ArchiveAgentMemory(ctx context.Context, worldID, agentID string) error {
	memPath := filepath.Join(d.agentDir(worldID, agentID), memoryFile)
	if _, err := os.Stat(memPath); os.IsNotExist(err) {
		return nil // nothing to archive
	}
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000Z")
	stamp = strings.ReplaceAll(stamp, ":", "-")
	archivePath := filepath.Join(d.agentDir(worldID, agentID), archiveDir, "memory_"+stamp+".json")
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create archive directory")
	}
	if err := os.Rename(memPath, archivePath); err != nil {
		return errors.Wrap(err, "failed to archive memory")
	}
	return d.SaveAgentMemory(ctx, worldID, agentID, nil)
}

func (d *Driver) SaveChat(_ context.Context, chat *store.Chat) error {
	return writeJSON(d.chatPath(chat.WorldID, chat.ID), chat)
}

func (d *Driver) LoadChat(_ context.Context, worldID, chatID string) (*store.Chat, error) {
	var chat store.Chat
	if err := readJSON(d.chatPath(worldID, chatID), &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (d *Driver) DeleteChat(_ context.Context, worldID, chatID string) error {
	path := d.chatPath(worldID, chatID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(store.ErrNotFound, "chat %s/%s", worldID, chatID)
		}
		return errors.Wrapf(err, "failed to delete chat %s/%s", worldID, chatID)
	}
	return nil
}

func (d *Driver) ListChats(ctx context.Context, worldID string) ([]*store.Chat, error) {
	dir := filepath.Join(d.worldDir(worldID), "chats")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*store.Chat{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list chats of world %s", worldID)
	}
	chats := make([]*store.Chat, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		chat, err := d.LoadChat(ctx, worldID, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}
