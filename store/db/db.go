// Package db selects the persistence backend from the runtime profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/store"
	"github.com/hrygo/agentworld/store/db/file"
	"github.com/hrygo/agentworld/store/db/sqlite"
)

// NewDriver creates a storage driver based on the profile's storage type.
func NewDriver(p *profile.Profile) (store.Driver, error) {
	switch p.StorageType {
	case "file":
		return file.NewDriver(p)
	case "sqlite":
		return sqlite.NewDB(p)
	default:
		return nil, errors.Errorf("unsupported storage type: %s", p.StorageType)
	}
}
