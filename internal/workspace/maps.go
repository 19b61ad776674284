package workspace

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
)

// Map loads a live map owned by ownerID.
func (w *Workspace) Map(ctx context.Context, mapID, ownerID string) (*models.Map, error) {
	var m models.Map
	err := w.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND soft_deleted_at IS NULL", mapID, ownerID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, "map %s", mapID)
	}
	return &m, nil
}

// Owner returns the owner of a live map regardless of who is asking.
func (w *Workspace) Owner(ctx context.Context, mapID string) (string, error) {
	var m models.Map
	err := w.db.WithContext(ctx).Select("owner_id").
		Where("id = ? AND soft_deleted_at IS NULL", mapID).
		First(&m).Error
	if err != nil {
		return "", notFound(err, "map %s", mapID)
	}
	return m.OwnerID, nil
}

// appendLayer adds layerID to the map's layer list if it is not there yet.
func appendLayer(tx *gorm.DB, mapID, layerID string) error {
	var m models.Map
	if err := tx.Where("id = ?", mapID).First(&m).Error; err != nil {
		return notFound(err, "map %s", mapID)
	}
	if slices.Contains(m.Layers, layerID) {
		return nil
	}
	m.Layers = append(m.Layers, layerID)
	if err := tx.Save(&m).Error; err != nil {
		return fmt.Errorf("workspace: append layer %s to map %s: %w", layerID, mapID, err)
	}
	return nil
}

// Describe renders a plain-text summary of a map and its layers for the
// model's context.
func (w *Workspace) Describe(ctx context.Context, mapID, ownerID string) (string, error) {
	m, err := w.Map(ctx, mapID, ownerID)
	if err != nil {
		return "", err
	}
	var layers []models.Layer
	if len(m.Layers) > 0 {
		if err := w.db.WithContext(ctx).Where("layer_id IN ?", m.Layers).Find(&layers).Error; err != nil {
			return "", fmt.Errorf("workspace: describe map %s: %w", mapID, err)
		}
	}
	byID := make(map[string]models.Layer, len(layers))
	for _, l := range layers {
		byID[l.LayerID] = l
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Map %q (ID: %s)\n", m.Title, m.ID)
	if m.Description != "" {
		fmt.Fprintf(&b, "%s\n", m.Description)
	}
	if len(m.Layers) == 0 {
		b.WriteString("The map has no layers.\n")
		return b.String(), nil
	}
	b.WriteString("Layers (bottom to top):\n")
	for _, id := range m.Layers {
		l, ok := byID[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s (ID: %s, type: %s", l.Name, l.LayerID, l.Type)
		if l.GeometryType != "" {
			fmt.Fprintf(&b, ", geometry: %s", l.GeometryType)
		}
		if l.FeatureCount != nil {
			fmt.Fprintf(&b, ", features: %d", *l.FeatureCount)
		}
		if l.PostGISConnectionID != "" {
			fmt.Fprintf(&b, ", postgis connection: %s", l.PostGISConnectionID)
		}
		if len(l.AttributeColumns) > 0 {
			fmt.Fprintf(&b, ", attributes: %s", strings.Join(l.AttributeColumns, ", "))
		}
		b.WriteString(")\n")
	}
	return b.String(), nil
}
