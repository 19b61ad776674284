package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
)

// Layer loads a layer owned by ownerID.
func (w *Workspace) Layer(ctx context.Context, layerID, ownerID string) (*models.Layer, error) {
	var l models.Layer
	err := w.db.WithContext(ctx).Where("layer_id = ? AND owner_id = ?", layerID, ownerID).First(&l).Error
	if err != nil {
		return nil, notFound(err, "layer %s", layerID)
	}
	return &l, nil
}

// Unattached returns the owner's most recent layers that are not on any
// of the owner's maps, newest first.
func (w *Workspace) Unattached(ctx context.Context, ownerID string, limit int) ([]models.Layer, error) {
	var maps []models.Map
	if err := w.db.WithContext(ctx).Select("id", "layers").Where("owner_id = ?", ownerID).Find(&maps).Error; err != nil {
		return nil, fmt.Errorf("workspace: list maps for %s: %w", ownerID, err)
	}
	var attached []string
	for _, m := range maps {
		attached = append(attached, m.Layers...)
	}

	q := w.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if len(attached) > 0 {
		q = q.Where("layer_id NOT IN ?", attached)
	}
	var layers []models.Layer
	if err := q.Order("created_on DESC").Limit(limit).Find(&layers).Error; err != nil {
		return nil, fmt.Errorf("workspace: list unattached layers for %s: %w", ownerID, err)
	}
	return layers, nil
}

// Attach renames a layer and appends it to a map. Attaching a layer that
// is already on the map only renames it.
func (w *Workspace) Attach(ctx context.Context, mapID, layerID, ownerID, newName string) error {
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l models.Layer
		if err := tx.Where("layer_id = ? AND owner_id = ?", layerID, ownerID).First(&l).Error; err != nil {
			return notFound(err, "layer %s", layerID)
		}
		if err := tx.Model(&l).Update("name", newName).Error; err != nil {
			return fmt.Errorf("workspace: rename layer %s: %w", layerID, err)
		}
		return appendLayer(tx, mapID, layerID)
	})
}

// NewPostGISLayer describes a layer backed by a live PostGIS query.
type NewPostGISLayer struct {
	MapID            string
	OwnerID          string
	Name             string
	ConnectionID     string
	Query            string
	AttributeColumns []string
	GeometryType     string
	FeatureCount     int
	Bounds           []float64
	Metadata         map[string]any
}

// CreatePostGISLayer stores the layer, gives it a default style on the map
// and appends it to the map, all in one transaction.
func (w *Workspace) CreatePostGISLayer(ctx context.Context, p NewPostGISLayer) (*models.Layer, error) {
	count := p.FeatureCount
	layer := models.Layer{
		LayerID:             models.NewID("L"),
		OwnerID:             p.OwnerID,
		Name:                p.Name,
		Type:                models.LayerPostGIS,
		PostGISConnectionID: p.ConnectionID,
		PostGISQuery:        p.Query,
		AttributeColumns:    p.AttributeColumns,
		Metadata:            p.Metadata,
		Bounds:              p.Bounds,
		GeometryType:        p.GeometryType,
		FeatureCount:        &count,
		SourceMapID:         p.MapID,
	}

	styleJSON, err := json.Marshal(DefaultStyle(layer.LayerID, p.GeometryType))
	if err != nil {
		return nil, fmt.Errorf("workspace: encode default style: %w", err)
	}
	style := models.LayerStyle{
		StyleID:   models.NewID("S"),
		LayerID:   layer.LayerID,
		StyleJSON: string(styleJSON),
		CreatedBy: p.OwnerID,
	}

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&layer).Error; err != nil {
			return fmt.Errorf("workspace: create layer: %w", err)
		}
		if err := tx.Create(&style).Error; err != nil {
			return fmt.Errorf("workspace: create style: %w", err)
		}
		if err := tx.Create(&models.MapLayerStyle{
			MapID:   p.MapID,
			LayerID: layer.LayerID,
			StyleID: style.StyleID,
		}).Error; err != nil {
			return fmt.Errorf("workspace: link style: %w", err)
		}
		return appendLayer(tx, p.MapID, layer.LayerID)
	})
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

// Upload describes a file already placed in object storage.
type Upload struct {
	OwnerID     string
	SourceMapID string
	LayerID     string
	Name        string
	Type        string
	S3Key       string
	SizeBytes   int64
	Metadata    map[string]any
}

// RegisterUpload records an uploaded file as a layer without attaching it
// to any map.
func (w *Workspace) RegisterUpload(ctx context.Context, u Upload) (*models.Layer, error) {
	if u.LayerID == "" {
		u.LayerID = models.NewID("L")
	}
	size := u.SizeBytes
	layer := models.Layer{
		LayerID:     u.LayerID,
		OwnerID:     u.OwnerID,
		Name:        u.Name,
		Type:        u.Type,
		S3Key:       u.S3Key,
		SizeBytes:   &size,
		Metadata:    u.Metadata,
		SourceMapID: u.SourceMapID,
	}
	if err := w.db.WithContext(ctx).Create(&layer).Error; err != nil {
		return nil, fmt.Errorf("workspace: register upload %s: %w", u.S3Key, err)
	}
	return &layer, nil
}
