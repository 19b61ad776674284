package workspace

import (
	"context"

	"github.com/jjestrada2/farmane/internal/models"
)

// ConnectionURI returns the connection string of a PostGIS connection the
// user registered.
func (w *Workspace) ConnectionURI(ctx context.Context, connectionID, userID string) (string, error) {
	var c models.PostgresConnection
	err := w.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND soft_deleted_at IS NULL", connectionID, userID).
		First(&c).Error
	if err != nil {
		return "", notFound(err, "postgis connection %s", connectionID)
	}
	return c.ConnectionURI, nil
}
