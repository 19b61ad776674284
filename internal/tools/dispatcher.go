package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/jjestrada2/farmane/internal/geoprocessing"
	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/observability"
	"github.com/jjestrada2/farmane/internal/postgis"
	"github.com/jjestrada2/farmane/internal/storage"
)

// Deps are the collaborators the tools act through. Only Workspace is
// required; tools whose collaborator is missing return an error result.
type Deps struct {
	Workspace    Workspace
	PostGIS      postgis.Connector
	Sandbox      Sandbox
	Geoprocessor Geoprocessor
	Catalog      *geoprocessing.Catalog
	Storage      storage.Store
	Locator      SourceLocator
	Notifier     notify.Notifier
	Registry     *Registry
	Logger       *zap.Logger
	PutURLTTL    time.Duration
}

// Dispatcher is the tool set offered in a conversation: the static tools,
// a dynamic registry and the geoprocessing catalog. It resolves the
// model's calls and runs them.
type Dispatcher struct {
	workspace    Workspace
	postgis      postgis.Connector
	sandbox      Sandbox
	geoprocessor Geoprocessor
	catalog      *geoprocessing.Catalog
	storage      storage.Store
	locator      SourceLocator
	notifier     notify.Notifier
	registry     *Registry
	logger       *zap.Logger
	putURLTTL    time.Duration

	static map[string]runFunc
}

// New builds a Dispatcher. A nil Registry gets a fresh one carrying
// describe_layer.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Workspace == nil {
		return nil, fmt.Errorf("tools: workspace is required")
	}
	d := &Dispatcher{
		workspace:    deps.Workspace,
		postgis:      deps.PostGIS,
		sandbox:      deps.Sandbox,
		geoprocessor: deps.Geoprocessor,
		catalog:      deps.Catalog,
		storage:      deps.Storage,
		locator:      deps.Locator,
		notifier:     deps.Notifier,
		registry:     deps.Registry,
		logger:       deps.Logger,
		putURLTTL:    deps.PutURLTTL,
	}
	if d.notifier == nil {
		d.notifier = notify.Nop{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("tools")
	if d.putURLTTL <= 0 {
		d.putURLTTL = time.Hour
	}
	if d.registry == nil {
		d.registry = NewRegistry()
		if err := RegisterDescribeLayer(d.registry, d.workspace); err != nil {
			return nil, err
		}
	}
	d.static = make(map[string]runFunc)
	for _, t := range d.staticTools() {
		d.static[t.def.Function.Name] = t.run
	}
	return d, nil
}

// Registry returns the dynamic tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Schemas returns the tool schemas offered for one round. The
// add_layer_to_map layer_id enum lists the user's most recent unattached
// layers and is omitted when there are none or they cannot be read.
func (d *Dispatcher) Schemas(ctx context.Context, tc Context) []llm.Tool {
	var layerIDs []string
	layers, err := d.workspace.Unattached(ctx, tc.UserID, unattachedLimit)
	if err != nil {
		d.logger.Warn("list unattached layers", zap.String("user_id", tc.UserID), zap.Error(err))
	}
	for _, l := range layers {
		layerIDs = append(layerIDs, l.LayerID)
	}

	var out []llm.Tool
	for _, t := range d.staticTools() {
		if t.def.Function.Name == "add_layer_to_map" {
			out = append(out, addLayerToMapDef(layerIDs))
			continue
		}
		out = append(out, t.def)
	}
	out = append(out, d.registry.Definitions()...)
	if !d.canGeoprocess() {
		return out
	}
	for _, alg := range d.catalog.All() {
		out = append(out, llm.NewFunctionTool(alg.Name, alg.Description, false, alg.Parameters))
	}
	return out
}

// canGeoprocess reports whether catalog algorithms can run: they need the
// processing service, output storage and a way to sign input sources.
func (d *Dispatcher) canGeoprocess() bool {
	return d.geoprocessor != nil && d.storage != nil && d.locator != nil
}

// Call is a tool call that resolved to a runnable tool.
type Call struct {
	ID   string
	Name string
	Args json.RawMessage
	run  runFunc
}

// Resolve maps a model tool call to a runnable Call. Dynamic tools win
// over static ones, which win over geoprocessing algorithms. Algorithms
// resolve only when geoprocessing is configured. Unknown names and
// arguments that are not a JSON object are protocol faults.
func (d *Dispatcher) Resolve(tc llm.ToolCall) (Call, error) {
	name := tc.Function.Name
	args := json.RawMessage(tc.Function.Arguments)
	if !isObject(args) {
		return Call{}, fmt.Errorf("%w: %s", ErrMalformedArguments, name)
	}
	call := Call{ID: tc.ID, Name: name, Args: normalizeRaw(args)}
	if t, ok := d.registry.Lookup(name); ok {
		call.run = t.Handler
		return call, nil
	}
	if run, ok := d.static[name]; ok {
		call.run = run
		return call, nil
	}
	if alg, ok := d.catalog.Lookup(name); ok && d.canGeoprocess() {
		call.run = d.geoprocess(alg)
		return call, nil
	}
	return Call{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Execute runs a resolved call. It never fails: handler errors and panics
// come back as error results.
func (d *Dispatcher) Execute(ctx context.Context, tc Context, call Call) (res Result) {
	ctx, span := observability.Tracer().Start(ctx, "kue."+call.Name)
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.String("map.id", tc.MapID),
	)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked",
				zap.String("tool", call.Name),
				zap.Uint("conversation_id", tc.ConversationID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = Fail(executionFailed, nil)
		}
		if res.Status() == StatusError {
			span.SetStatus(codes.Error, res.Err())
		}
		span.SetAttributes(attribute.String("tool.status", res.Status()))
		span.End()
	}()

	if call.run == nil {
		return Fail(executionFailed, nil)
	}
	res = call.run(ctx, tc, call.Args)
	if res == nil {
		res = Fail(executionFailed, nil)
	}
	return res
}
