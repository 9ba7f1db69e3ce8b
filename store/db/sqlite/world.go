package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

func (d *DB) SaveWorld(ctx context.Context, world *store.World) error {
	variables, err := json.Marshal(world.Variables)
	if err != nil {
		return errors.Wrap(err, "failed to marshal world variables")
	}
	stmt := `
		INSERT INTO worlds (id, name, description, turn_limit, current_chat_id, chat_llm_provider, chat_llm_model, mcp_config, variables, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			turn_limit = excluded.turn_limit,
			current_chat_id = excluded.current_chat_id,
			chat_llm_provider = excluded.chat_llm_provider,
			chat_llm_model = excluded.chat_llm_model,
			mcp_config = excluded.mcp_config,
			variables = excluded.variables,
			last_updated = excluded.last_updated
	`
	_, err = d.db.ExecContext(ctx, stmt,
		world.ID,
		world.Name,
		world.Description,
		world.TurnLimit,
		world.CurrentChatID,
		world.ChatLLMProvider,
		world.ChatLLMModel,
		world.MCPConfig,
		string(variables),
		formatTime(world.CreatedAt),
		formatTime(world.LastUpdated),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save world")
	}
	return nil
}

func (d *DB) LoadWorld(ctx context.Context, worldID string) (*store.World, error) {
	stmt := `
		SELECT id, name, description, turn_limit, current_chat_id, chat_llm_provider, chat_llm_model, mcp_config, variables, created_at, last_updated
		FROM worlds WHERE id = ?
	`
	row := d.db.QueryRowContext(ctx, stmt, worldID)
	world, err := scanWorld(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "world %s", worldID)
		}
		return nil, err
	}
	return world, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorld(row rowScanner) (*store.World, error) {
	var world store.World
	var variables, createdAt, lastUpdated string
	err := row.Scan(
		&world.ID,
		&world.Name,
		&world.Description,
		&world.TurnLimit,
		&world.CurrentChatID,
		&world.ChatLLMProvider,
		&world.ChatLLMModel,
		&world.MCPConfig,
		&variables,
		&createdAt,
		&lastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan world")
	}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &world.Variables); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal world variables")
		}
	}
	if world.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if world.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &world, nil
}

func (d *DB) DeleteWorld(ctx context.Context, worldID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM worlds WHERE id = ?", worldID)
	if err != nil {
		return errors.Wrap(err, "failed to delete world")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "world %s", worldID)
	}

	// Cascade: agents, memories, archives and chats are owned by the world.
	for _, table := range []string{"agents", "agent_memory", "agent_memory_archive", "chats"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE world_id = ?", worldID); err != nil {
			return errors.Wrapf(err, "failed to delete %s of world %s", table, worldID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit world deletion")
}

func (d *DB) ListWorlds(ctx context.Context) ([]*store.World, error) {
	stmt := `
		SELECT id, name, description, turn_limit, current_chat_id, chat_llm_provider, chat_llm_model, mcp_config, variables, created_at, last_updated
		FROM worlds ORDER BY created_at
	`
	rows, err := d.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list worlds")
	}
	defer rows.Close()

	worlds := []*store.World{}
	for rows.Next() {
		world, err := scanWorld(rows)
		if err != nil {
			return nil, err
		}
		worlds = append(worlds, world)
	}
	return worlds, errors.Wrap(rows.Err(), "failed to iterate worlds")
}
