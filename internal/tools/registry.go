package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/workspace"
)

// DynamicTool is a tool registered at startup in addition to the static
// set. Handler receives the raw JSON arguments the model produced.
type DynamicTool struct {
	Definition llm.Tool
	Handler    func(ctx context.Context, tc Context, raw json.RawMessage) Result
}

// Name returns the function name the model calls the tool by.
func (t DynamicTool) Name() string { return t.Definition.Function.Name }

// Registry holds dynamically registered tools in registration order.
type Registry struct {
	mu     sync.RWMutex
	tools  []DynamicTool
	byName map[string]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds t. Names must be unique within the registry.
func (r *Registry) Register(t DynamicTool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tools: dynamic tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: dynamic tool %s has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("tools: dynamic tool %s already registered", name)
	}
	r.byName[name] = len(r.tools)
	r.tools = append(r.tools, t)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (DynamicTool, bool) {
	if r == nil {
		return DynamicTool{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return DynamicTool{}, false
	}
	return r.tools[i], true
}

// Definitions returns the schemas of every registered tool.
func (r *Registry) Definitions() []llm.Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	return out
}

// Register adds a tool whose arguments are decoded into T and validated
// before fn runs. Invalid arguments and handler errors become error
// results; fn never sees a malformed T.
func Register[T any](r *Registry, name, description string, params map[string]any, fn func(ctx context.Context, tc Context, args T) (Result, error)) error {
	return r.Register(DynamicTool{
		Definition: llm.NewFunctionTool(name, description, false, params),
		Handler: func(ctx context.Context, tc Context, raw json.RawMessage) Result {
			args, err := decodeArgs[T](raw)
			if err != nil {
				return Fail(fmt.Sprintf("Invalid arguments for %s: %v", name, err), nil)
			}
			res, err := fn(ctx, tc, args)
			if err != nil {
				return Fail(executionFailed, map[string]any{"detail": err.Error()})
			}
			if res == nil {
				return OK(nil)
			}
			return res
		},
	})
}

// RegisterDescribeLayer adds describe_layer, a read-only view of one of the
// user's layers.
func RegisterDescribeLayer(r *Registry, ws Workspace) error {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"layer_id": map[string]any{
				"type":        "string",
				"description": "ID of the layer to describe",
			},
		},
		"required": []string{"layer_id"},
	}
	return Register(r, "describe_layer",
		"Returns metadata about one of the user's layers: type, geometry, feature count, bounds and attribute columns.",
		params,
		func(ctx context.Context, tc Context, args describeLayerArgs) (Result, error) {
			layer, err := ws.Layer(ctx, args.LayerID, tc.UserID)
			if errors.Is(err, workspace.ErrNotFound) {
				return Fail(fmt.Sprintf("Layer ID '%s' not found or you do not have permission to access it.", args.LayerID), nil), nil
			}
			if err != nil {
				return nil, err
			}
			fields := map[string]any{
				"layer_id":          layer.LayerID,
				"name":              layer.Name,
				"type":              layer.Type,
				"geometry_type":     layer.GeometryType,
				"attribute_columns": layer.AttributeColumns,
				"bounds":            layer.Bounds,
				"created_on":        layer.CreatedOn,
			}
			if layer.FeatureCount != nil {
				fields["feature_count"] = *layer.FeatureCount
			}
			if layer.SizeBytes != nil {
				fields["size_bytes"] = *layer.SizeBytes
			}
			return OK(fields), nil
		})
}
