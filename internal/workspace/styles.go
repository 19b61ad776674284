package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ValidateStyleLayers checks that every entry is a MapLibre layer object
// with an id and a type.
func ValidateStyleLayers(layers []map[string]any) error {
	if len(layers) == 0 {
		return fmt.Errorf("%w: at least one layer is required", ErrInvalidStyle)
	}
	for i, l := range layers {
		if id, _ := l["id"].(string); id == "" {
			return fmt.Errorf("%w: layer %d is missing an id", ErrInvalidStyle, i)
		}
		if typ, _ := l["type"].(string); typ == "" {
			return fmt.Errorf("%w: layer %d is missing a type", ErrInvalidStyle, i)
		}
	}
	return nil
}

// ApplyStyle stores layers as a new style version of layerID, parented on
// the style the map currently uses, and makes it the map's active style.
func (w *Workspace) ApplyStyle(ctx context.Context, mapID, layerID, userID string, layers []map[string]any) (string, error) {
	if err := ValidateStyleLayers(layers); err != nil {
		return "", err
	}
	data, err := json.Marshal(layers)
	if err != nil {
		return "", fmt.Errorf("workspace: encode style: %w", err)
	}

	style := models.LayerStyle{
		StyleID:   models.NewID("S"),
		LayerID:   layerID,
		StyleJSON: string(data),
		CreatedBy: userID,
	}
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.MapLayerStyle
		err := tx.Where("map_id = ? AND layer_id = ?", mapID, layerID).First(&current).Error
		switch {
		case err == nil:
			parent := current.StyleID
			style.ParentStyleID = &parent
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("workspace: load current style: %w", err)
		}

		if err := tx.Create(&style).Error; err != nil {
			return fmt.Errorf("workspace: create style: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "map_id"}, {Name: "layer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"style_id"}),
		}).Create(&models.MapLayerStyle{MapID: mapID, LayerID: layerID, StyleID: style.StyleID}).Error; err != nil {
			return fmt.Errorf("workspace: apply style: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return style.StyleID, nil
}
