// Package workspace mutates and describes the user's mapping workspace:
// maps, layers, styles and registered PostGIS connections.
package workspace

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible
	// to the requesting user.
	ErrNotFound = errors.New("workspace: not found")

	// ErrInvalidStyle is returned for MapLibre layer lists that cannot be
	// applied.
	ErrInvalidStyle = errors.New("workspace: invalid style")
)

// Workspace is the gorm-backed workspace service.
type Workspace struct {
	db *gorm.DB
}

// New returns a Workspace.
func New(db *gorm.DB) (*Workspace, error) {
	if db == nil {
		return nil, fmt.Errorf("workspace: db is required")
	}
	return &Workspace{db: db}, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("workspace: "+format+": %w", append(args, err)...)
}
