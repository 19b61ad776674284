package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/workspace"
)

type runFunc func(ctx context.Context, tc Context, raw json.RawMessage) Result

type staticTool struct {
	def llm.Tool
	run runFunc
}

// staticTools returns the built-in workspace tools in the order they are
// offered to the model.
func (d *Dispatcher) staticTools() []staticTool {
	return []staticTool{
		{def: newLayerFromPostGISDef, run: d.newLayerFromPostGIS},
		{def: addLayerToMapDef(nil), run: d.addLayerToMap},
		{def: setLayerStyleDef, run: d.setLayerStyle},
		{def: queryDuckDBDef, run: d.queryDuckDB},
		{def: queryPostGISDef, run: d.queryPostGIS},
	}
}

var newLayerFromPostGISDef = llm.NewFunctionTool(
	"new_layer_from_postgis",
	"Creates a layer backed by a live query against one of the user's PostGIS connections and adds it to the map. Style it afterwards with set_layer_style.",
	true,
	map[string]any{
		"type": "object",
		"properties": map[string]any{
			"postgis_connection_id": map[string]any{
				"type":        "string",
				"description": "ID of the PostGIS connection to read from",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "SELECT returning the attribute columns needed for styling. The geometry column MUST be aliased 'geom' and a unique numeric id aliased 'id'. Wrap lines at about 55 columns.",
			},
			"layer_name": map[string]any{
				"type":        "string",
				"description": "Human-readable layer name shown in the legend",
			},
		},
		"required":             []string{"postgis_connection_id", "query", "layer_name"},
		"additionalProperties": false,
	},
)

// addLayerToMapDef builds the add_layer_to_map schema. layerIDs, when
// non-empty, constrains layer_id to the user's unattached layers.
func addLayerToMapDef(layerIDs []string) llm.Tool {
	layerID := map[string]any{
		"type":        "string",
		"description": "ID of the layer to show. Pick one of the available unattached layers.",
	}
	if len(layerIDs) > 0 {
		layerID["enum"] = layerIDs
	}
	return llm.NewFunctionTool(
		"add_layer_to_map",
		"Shows a new or existing unattached layer on the user's current map. Use it after geoprocessing creates a layer, or when the user asks to see a layer that is not on the map.",
		false,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layer_id": layerID,
				"new_name": map[string]any{
					"type":        "string",
					"description": "Human-readable layer name shown in the legend",
				},
			},
			"required": []string{"layer_id", "new_name"},
		},
	)
}

var setLayerStyleDef = llm.NewFunctionTool(
	"set_layer_style",
	"Creates a new style version for a layer from MapLibre layer objects and makes it the active style on this map.",
	false,
	map[string]any{
		"type": "object",
		"properties": map[string]any{
			"layer_id": map[string]any{
				"type":        "string",
				"description": "ID of the layer to style",
			},
			"maplibre_json_layers_str": map[string]any{
				"type":        "string",
				"description": `JSON array of MapLibre layer objects, e.g. [{"id": "LZJ5RmuZr6qN-line", "type": "line", "source": "LZJ5RmuZr6qN", "paint": {"line-color": "#1E90FF"}}]`,
			},
		},
		"required": []string{"layer_id", "maplibre_json_layers_str"},
	},
)

var queryDuckDBDef = llm.NewFunctionTool(
	"query_duckdb_sql",
	"Runs DuckDB SQL against vector layer data. For layers created from PostGIS connections use query_postgis_database instead.",
	true,
	map[string]any{
		"type": "object",
		"properties": map[string]any{
			"layer_ids": map[string]any{
				"type":        "array",
				"description": "Vector layer IDs to load as tables",
				"items":       map[string]any{"type": "string"},
			},
			"sql_query": map[string]any{
				"type":        "string",
				"description": "DuckDB SELECT statement. Wrap lines at about 55 columns.",
			},
			"head_n_rows": map[string]any{
				"type":        "number",
				"description": "Truncate the result to n rows; 20 is a good default. Name the columns you need.",
			},
		},
		"required":             []string{"layer_ids", "sql_query", "head_n_rows"},
		"additionalProperties": false,
	},
)

var queryPostGISDef = llm.NewFunctionTool(
	"query_postgis_database",
	"Runs SQL on one of the user's connected PostgreSQL/PostGIS databases for analysis, spatial queries and schema exploration. The query MUST include a LIMIT of at most 1000.",
	false,
	map[string]any{
		"type": "object",
		"properties": map[string]any{
			"postgis_connection_id": map[string]any{
				"type":        "string",
				"description": "ID of the PostGIS connection to query",
			},
			"sql_query": map[string]any{
				"type":        "string",
				"description": "SQL to execute, e.g. 'SELECT COUNT(*) FROM parcels LIMIT 1'. Wrap lines at about 55 columns.",
			},
		},
		"required":             []string{"postgis_connection_id", "sql_query"},
		"additionalProperties": false,
	},
)

func (d *Dispatcher) addLayerToMap(ctx context.Context, tc Context, raw json.RawMessage) Result {
	args, err := decodeArgs[addLayerToMapArgs](raw)
	if err != nil {
		return Fail(fmt.Sprintf("Invalid arguments for add_layer_to_map: %v", err), nil)
	}

	done := d.notifier.Action(ctx, tc.ConversationID, "Adding layer to map...", notify.WithLayer(args.LayerID))
	defer done()

	err = d.workspace.Attach(ctx, tc.MapID, args.LayerID, tc.UserID, args.NewName)
	if errors.Is(err, workspace.ErrNotFound) {
		return Fail(fmt.Sprintf("Layer ID '%s' not found or you do not have permission to use it.", args.LayerID), nil)
	}
	if err != nil {
		return Fail(fmt.Sprintf("Failed to add layer to map: %v", err), map[string]any{"layer_id": args.LayerID})
	}
	return OK(map[string]any{
		"message":  fmt.Sprintf("Layer '%s' (ID: %s) added to map '%s'.", args.NewName, args.LayerID, tc.MapID),
		"layer_id": args.LayerID,
		"name":     args.NewName,
	})
}

func (d *Dispatcher) setLayerStyle(ctx context.Context, tc Context, raw json.RawMessage) Result {
	args, err := decodeArgs[setLayerStyleArgs](raw)
	if err != nil {
		return Fail("Missing required parameters (layer_id or maplibre_json_layers_str).", nil)
	}

	var decoded any
	if err := json.Unmarshal([]byte(args.LayersJSON), &decoded); err != nil {
		return Fail(fmt.Sprintf("Invalid JSON format: %v", err), map[string]any{"layer_id": args.LayerID})
	}
	layers, err := styleLayers(decoded)
	if err != nil {
		return Fail(fmt.Sprintf("Failed to create and apply style: %v", err), map[string]any{"layer_id": args.LayerID})
	}

	layer, err := d.workspace.Layer(ctx, args.LayerID, tc.UserID)
	if err != nil {
		return Fail(fmt.Sprintf("Failed to create and apply style: %v", err), map[string]any{"layer_id": args.LayerID})
	}

	done := d.notifier.Action(ctx, tc.ConversationID, fmt.Sprintf("Styling layer %s...", layer.Name), notify.WithLayer(layer.LayerID))
	styleID, err := d.workspace.ApplyStyle(ctx, tc.MapID, layer.LayerID, tc.UserID, layers)
	done()
	if err != nil {
		return Fail(fmt.Sprintf("Failed to create and apply style: %v", err), map[string]any{"layer_id": args.LayerID})
	}
	return OK(map[string]any{
		"style_id": styleID,
		"layer_id": layer.LayerID,
		"message":  fmt.Sprintf("Style %s created and applied to layer %s", styleID, layer.LayerID),
	})
}

// styleLayers accepts a decoded JSON array of objects.
func styleLayers(v any) ([]map[string]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON array of layer objects", workspace.ErrInvalidStyle)
	}
	out := make([]map[string]any, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: layer %d is not an object", workspace.ErrInvalidStyle, i)
		}
		out = append(out, obj)
	}
	return out, nil
}
