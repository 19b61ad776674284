package workspace

import (
	"hash/fnv"
	"strings"
)

var palette = []string{"#1E90FF", "#FF8C00", "#2E8B57", "#C71585", "#8B4513", "#4682B4", "#DAA520", "#6A5ACD"}

// DefaultStyle returns MapLibre layers that draw a freshly created layer
// according to its geometry type. The colour is stable per layer id.
func DefaultStyle(layerID, geometryType string) []map[string]any {
	h := fnv.New32a()
	h.Write([]byte(layerID))
	color := palette[h.Sum32()%uint32(len(palette))]

	geom := strings.ToLower(geometryType)
	switch {
	case strings.Contains(geom, "point"):
		return []map[string]any{{
			"id":     layerID + "-circle",
			"type":   "circle",
			"source": layerID,
			"paint": map[string]any{
				"circle-radius":       5,
				"circle-color":        color,
				"circle-stroke-width": 1,
				"circle-stroke-color": "#000000",
			},
		}}
	case strings.Contains(geom, "line"):
		return []map[string]any{{
			"id":     layerID + "-line",
			"type":   "line",
			"source": layerID,
			"paint": map[string]any{
				"line-color": color,
				"line-width": 2,
			},
		}}
	default:
		return []map[string]any{
			{
				"id":     layerID + "-fill",
				"type":   "fill",
				"source": layerID,
				"paint": map[string]any{
					"fill-color":   color,
					"fill-opacity": 0.5,
				},
			},
			{
				"id":     layerID + "-line",
				"type":   "line",
				"source": layerID,
				"paint": map[string]any{
					"line-color": "#000000",
					"line-width": 1,
				},
			},
		}
	}
}
