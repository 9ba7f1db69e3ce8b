package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

func (d *DB) SaveAgent(ctx context.Context, agent *store.Agent) error {
	stmt := `
		INSERT INTO agents (world_id, agent_id, name, type, provider, model, system_prompt, temperature, max_tokens, auto_reply, status, llm_call_count, last_llm_call, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (world_id, agent_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			provider = excluded.provider,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			auto_reply = excluded.auto_reply,
			status = excluded.status,
			llm_call_count = excluded.llm_call_count,
			last_llm_call = excluded.last_llm_call,
			last_active = excluded.last_active
	`
	var lastLLMCall any
	if agent.LastLLMCall != nil {
		lastLLMCall = formatTime(*agent.LastLLMCall)
	}
	_, err := d.db.ExecContext(ctx, stmt,
		agent.WorldID,
		agent.ID,
		agent.Name,
		agent.Type,
		agent.Provider,
		agent.Model,
		agent.SystemPrompt,
		agent.Temperature,
		agent.MaxTokens,
		agent.AutoReply,
		string(agent.Status),
		agent.LLMCallCount,
		lastLLMCall,
		formatTime(agent.CreatedAt),
		formatTime(agent.LastActive),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save agent")
	}
	return nil
}

func scanAgent(row rowScanner) (*store.Agent, error) {
	var agent store.Agent
	var status, createdAt, lastActive string
	var lastLLMCall sql.NullString
	var temperature sql.NullFloat64
	var maxTokens sql.NullInt64
	err := row.Scan(
		&agent.WorldID,
		&agent.ID,
		&agent.Name,
		&agent.Type,
		&agent.Provider,
		&agent.Model,
		&agent.SystemPrompt,
		&temperature,
		&maxTokens,
		&agent.AutoReply,
		&status,
		&agent.LLMCallCount,
		&lastLLMCall,
		&createdAt,
		&lastActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan agent")
	}
	agent.Status = store.AgentStatus(status)
	if temperature.Valid {
		t := float32(temperature.Float64)
		agent.Temperature = &t
	}
	if maxTokens.Valid {
		m := int(maxTokens.Int64)
		agent.MaxTokens = &m
	}
	if lastLLMCall.Valid && lastLLMCall.String != "" {
		t, err := parseTime(lastLLMCall.String)
		if err != nil {
			return nil, err
		}
		agent.LastLLMCall = &t
	}
	if agent.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if agent.LastActive, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	return &agent, nil
}

const agentColumns = "world_id, agent_id, name, type, provider, model, system_prompt, temperature, max_tokens, auto_reply, status, llm_call_count, last_llm_call, created_at, last_active"

func (d *DB) LoadAgent(ctx context.Context, worldID, agentID string) (*store.Agent, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE world_id = ? AND agent_id = ?",
		worldID, agentID)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "agent %s/%s", worldID, agentID)
		}
		return nil, err
	}
	return agent, nil
}

func (d *DB) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM agents WHERE world_id = ? AND agent_id = ?", worldID, agentID)
	if err != nil {
		return errors.Wrap(err, "failed to delete agent")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "agent %s/%s", worldID, agentID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?", worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to delete agent memory")
	}

	return errors.Wrap(tx.Commit(), "failed to commit agent deletion")
}

func (d *DB) ListAgents(ctx context.Context, worldID string) ([]*store.Agent, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE world_id = ? ORDER BY created_at",
		worldID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}
	defer rows.Close()

	agents := []*store.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, errors.Wrap(rows.Err(), "failed to iterate agents")
}
