package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

// SaveAgentMemory replaces the agent's full memory in one transaction:
// delete everything, then insert the new slice.
func (d *DB) SaveAgentMemory(ctx context.Context, worldID, agentID string, messages []store.AgentMessage) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?", worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to clear agent memory")
	}

	stmt := `
		INSERT INTO agent_memory (world_id, agent_id, message_id, chat_id, role, sender, content, created_at, reply_to_message_id, tool_call_id, input_tokens, output_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range messages {
		m := &messages[i]
		var inputTokens, outputTokens, totalTokens any
		if m.Usage != nil {
			inputTokens, outputTokens, totalTokens = m.Usage.InputTokens, m.Usage.OutputTokens, m.Usage.TotalTokens
		}
		if _, err := tx.ExecContext(ctx, stmt,
			worldID,
			agentID,
			m.MessageID,
			m.ChatID,
			m.Role,
			m.Sender,
			m.Content,
			formatTime(m.CreatedAt),
			m.ReplyToMessageID,
			m.ToolCallID,
			inputTokens,
			outputTokens,
			totalTokens,
		); err != nil {
			return errors.Wrapf(err, "failed to insert memory message %s", m.MessageID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit memory replacement")
}

func (d *DB) LoadAgentMemory(ctx context.Context, worldID, agentID string) ([]store.AgentMessage, error) {
	stmt := `
		SELECT message_id, chat_id, role, sender, content, created_at, reply_to_message_id, tool_call_id, input_tokens, output_tokens, total_tokens
		FROM agent_memory
		WHERE world_id = ? AND agent_id = ?
		ORDER BY created_at, message_id
	`
	rows, err := d.db.QueryContext(ctx, stmt, worldID, agentID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent memory")
	}
	defer rows.Close()

	messages := []store.AgentMessage{}
	for rows.Next() {
		var m store.AgentMessage
		var createdAt string
		var inputTokens, outputTokens, totalTokens sql.NullInt64
		if err := rows.Scan(
			&m.MessageID,
			&m.ChatID,
			&m.Role,
			&m.Sender,
			&m.Content,
			&createdAt,
			&m.ReplyToMessageID,
			&m.ToolCallID,
			&inputTokens,
			&outputTokens,
			&totalTokens,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory message")
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if inputTokens.Valid || outputTokens.Valid || totalTokens.Valid {
			m.Usage = &store.TokenUsage{
				InputTokens:  int(inputTokens.Int64),
				OutputTokens: int(outputTokens.Int64),
				TotalTokens:  int(totalTokens.Int64),
			}
		}
		messages = append(messages, m)
	}
	return messages, errors.Wrap(rows.Err(), "failed to iterate memory messages")
}

// ArchiveAgentMemory copies the live memory into the archive table and
// clears it, all in one transaction.
func (d *DB) ArchiveAgentMemory(ctx context.Context, worldID, agentID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `
		INSERT INTO agent_memory_archive (world_id, agent_id, message_id, chat_id, role, sender, content, created_at, reply_to_message_id, tool_call_id, input_tokens, output_tokens, total_tokens, archived_at)
		SELECT world_id, agent_id, message_id, chat_id, role, sender, content, created_at, reply_to_message_id, tool_call_id, input_tokens, output_tokens, total_tokens, ?
		FROM agent_memory WHERE world_id = ? AND agent_id = ?
	`
	if _, err := tx.ExecContext(ctx, stmt, formatTime(nowUTC()), worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to archive agent memory")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?", worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to clear agent memory")
	}

	return errors.Wrap(tx.Commit(), "failed to commit memory archive")
}
