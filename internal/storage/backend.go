// Package storage implements persistence backends for the world server.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/zot/world/internal/config"
)

// Entity categories stored in the repository.
const (
	CategoryObject  = "object"
	CategoryScript  = "script"
	CategoryAccount = "account"
	CategoryHelp    = "help"
	CategoryMsg     = "msg"
	CategoryChannel = "channel"
)

// Categories lists every entity category in storage order.
var Categories = []string{
	CategoryObject,
	CategoryScript,
	CategoryAccount,
	CategoryHelp,
	CategoryMsg,
	CategoryChannel,
}

// EntityData represents one stored entity row.
type EntityData struct {
	ID            int64           `json:"id"`
	Category      string          `json:"category"`
	Key           string          `json:"key,omitempty"`
	TypeclassPath string          `json:"typeclassPath,omitempty"`
	Locks         string          `json:"locks,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`

	// Script-only fields. Interval > -1 marks a repeating timer script.
	ObjID      int64 `json:"objId,omitempty"`
	Interval   int   `json:"interval"`
	Persistent bool  `json:"persistent,omitempty"`
	Started    bool  `json:"started,omitempty"`
}

// Clone returns a copy of the entity data.
func (e *EntityData) Clone() *EntityData {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = append(json.RawMessage(nil), e.Attributes...)
	}
	return &cp
}

// Backend defines the interface for storage backends.
type Backend interface {
	// Store persists an entity to storage.
	Store(e *EntityData) error

	// Load retrieves an entity from storage.
	Load(id int64) (*EntityData, error)

	// Delete removes an entity from storage.
	Delete(id int64) error

	// ListCategory gets all entities of one category.
	ListCategory(category string) ([]*EntityData, error)

	// Exists checks if an entity exists.
	Exists(id int64) bool

	// MaxID returns the highest stored entity ID (0 when empty).
	MaxID() (int64, error)

	// Clear removes all data.
	Clear() error

	// BeginTransaction starts an atomic operation.
	BeginTransaction() (Transaction, error)

	// Close closes the storage backend.
	Close() error
}

// Transaction represents an atomic storage operation.
type Transaction interface {
	// Store persists an entity within the transaction.
	Store(e *EntityData) error

	// Delete removes an entity within the transaction.
	Delete(id int64) error

	// Commit completes the transaction.
	Commit() error

	// Rollback cancels the transaction.
	Rollback() error
}

// Open creates the backend selected by the configuration.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(cfg.Storage.Path)
	case "postgresql":
		return NewPostgresStorage(cfg.Storage.URL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
