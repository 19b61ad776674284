// Package store persists conversations and their append-only message log.
package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a conversation does not exist, is soft
// deleted, or belongs to someone else.
var ErrNotFound = errors.New("store: not found")

// Store reads and writes conversations and chat messages.
type Store struct {
	db *gorm.DB
}

// Opts holds parameters for creating a Store.
type Opts struct {
	DB *gorm.DB
}

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: opts.DB}, nil
}
