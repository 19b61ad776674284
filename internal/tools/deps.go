package tools

import (
	"context"

	"github.com/jjestrada2/farmane/internal/geoprocessing"
	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/sandbox"
	"github.com/jjestrada2/farmane/internal/workspace"
)

// Workspace is what the tools read and change in the user's workspace.
// *workspace.Workspace satisfies it.
type Workspace interface {
	Layer(ctx context.Context, layerID, ownerID string) (*models.Layer, error)
	Unattached(ctx context.Context, ownerID string, limit int) ([]models.Layer, error)
	Attach(ctx context.Context, mapID, layerID, ownerID, newName string) error
	CreatePostGISLayer(ctx context.Context, p workspace.NewPostGISLayer) (*models.Layer, error)
	RegisterUpload(ctx context.Context, u workspace.Upload) (*models.Layer, error)
	ApplyStyle(ctx context.Context, mapID, layerID, userID string, layers []map[string]any) (string, error)
	ConnectionURI(ctx context.Context, connectionID, userID string) (string, error)
}

// Sandbox runs dataset SQL. *sandbox.Client satisfies it.
type Sandbox interface {
	Query(ctx context.Context, q sandbox.Query) (*sandbox.Table, error)
}

// Geoprocessor runs processing algorithms. *geoprocessing.Client
// satisfies it.
type Geoprocessor interface {
	Run(ctx context.Context, req geoprocessing.Request) (*geoprocessing.Result, error)
}

// SourceLocator resolves layers to readable data sources.
// *storage.Locator satisfies it.
type SourceLocator interface {
	Source(ctx context.Context, layer *models.Layer) (string, error)
}
