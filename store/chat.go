package store

import (
	"strings"
	"time"
)

// Chat is a named conversation branch within a world. Messages reference
// it by chatId; MessageCount is derived from persisted memory on read,
// never cached in the record.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"worldId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount,omitempty"`
}

// Validate checks chat fields that must never be persisted invalid.
func (c *Chat) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrValidation("chat name is required")
	}
	return nil
}
