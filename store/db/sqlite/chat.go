package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/store"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (d *DB) SaveChat(ctx context.Context, chat *store.Chat) error {
	stmt := `
		INSERT INTO chats (world_id, chat_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (world_id, chat_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at
	`
	_, err := d.db.ExecContext(ctx, stmt,
		chat.WorldID,
		chat.ID,
		chat.Name,
		chat.Description,
		formatTime(chat.CreatedAt),
		formatTime(chat.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save chat")
	}
	return nil
}

func scanChat(row rowScanner) (*store.Chat, error) {
	var chat store.Chat
	var createdAt, updatedAt string
	err := row.Scan(
		&chat.WorldID,
		&chat.ID,
		&chat.Name,
		&chat.Description,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan chat")
	}
	if chat.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if chat.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (d *DB) LoadChat(ctx context.Context, worldID, chatID string) (*store.Chat, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT world_id, chat_id, name, description, created_at, updated_at FROM chats WHERE world_id = ? AND chat_id = ?",
		worldID, chatID)
	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "chat %s/%s", worldID, chatID)
		}
		return nil, err
	}
	return chat, nil
}

func (d *DB) DeleteChat(ctx context.Context, worldID, chatID string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM chats WHERE world_id = ? AND chat_id = ?", worldID, chatID)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "chat %s/%s", worldID, chatID)
	}
	return nil
}

func (d *DB) ListChats(ctx context.Context, worldID string) ([]*store.Chat, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT world_id, chat_id, name, description, created_at, updated_at FROM chats WHERE world_id = ? ORDER BY created_at",
		worldID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	chats := []*store.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, errors.Wrap(rows.Err(), "failed to iterate chats")
}
