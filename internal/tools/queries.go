package tools

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/postgis"
	"github.com/jjestrada2/farmane/internal/sandbox"
	"github.com/jjestrada2/farmane/internal/workspace"
)

var limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

const sandboxTimeout = 10 * time.Second

func (d *Dispatcher) queryDuckDB(ctx context.Context, tc Context, raw json.RawMessage) Result {
	args, err := decodeArgs[queryDuckDBArgs](raw)
	if err != nil {
		return Fail("Missing required parameters (layer_ids or sql_query).", nil)
	}
	if d.sandbox == nil {
		return Fail("Error executing SQL query: dataset sandbox is not configured", nil)
	}
	layerID := args.LayerIDs[0]
	headRows := defaultHeadRows
	if args.HeadNRows != nil {
		headRows = int(*args.HeadNRows)
	}

	if _, err := d.workspace.Layer(ctx, layerID, tc.UserID); err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return Fail(fmt.Sprintf("Layer ID '%s' not found or you do not have permission to access it.", layerID), nil)
		}
		return Fail(fmt.Sprintf("Error executing SQL query: %v", err), nil)
	}

	done := d.notifier.Action(ctx, tc.ConversationID, "Querying with SQL...", notify.WithLayer(layerID))
	table, err := d.sandbox.Query(ctx, sandbox.Query{
		SQL:     args.SQLQuery,
		LayerID: layerID,
		MaxRows: headRows,
		Timeout: sandboxTimeout,
	})
	done()
	var qerr *sandbox.QueryError
	if errors.As(err, &qerr) {
		return Fail(fmt.Sprintf("DuckDB query error: %s", qerr.Detail), nil)
	}
	if err != nil {
		return Fail(fmt.Sprintf("Error executing SQL query: %v", err), nil)
	}

	text, err := tableCSV(table.Headers, table.Rows)
	if err != nil {
		return Fail(fmt.Sprintf("Error executing SQL query: %v", err), nil)
	}
	if len(text) > maxResultChars {
		return Fail(fmt.Sprintf("DuckDB CSV result too large: %d characters exceeds 25,000 character limit, try reducing columns or head_n_rows", len(text)), nil)
	}
	return OK(map[string]any{
		"result":    text,
		"row_count": table.RowCount,
		"query":     args.SQLQuery,
	})
}

// tableCSV writes a header row followed by the data rows.
func tableCSV(headers []string, rows [][]any) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(headers); err != nil {
		return "", err
	}
	record := make([]string, 0, len(headers))
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, cellText(v, ""))
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

// cellText prints a result value; null prints as nullText.
func cellText(v any, nullText string) string {
	switch x := v.(type) {
	case nil:
		return nullText
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

func (d *Dispatcher) queryPostGIS(ctx context.Context, tc Context, raw json.RawMessage) Result {
	args, err := decodeArgs[queryPostGISArgs](raw)
	if err != nil {
		return Fail("Missing required parameters (postgis_connection_id or sql_query)", nil)
	}
	uri, err := d.workspace.ConnectionURI(ctx, args.ConnectionID, tc.UserID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return Fail(fmt.Sprintf("PostGIS connection '%s' not found or you do not have access to it.", args.ConnectionID), nil)
		}
		return Fail(fmt.Sprintf("PostgreSQL query error: %v", err), nil)
	}

	query := strings.TrimSpace(args.SQLQuery)
	if res, ok := checkLimit(query); !ok {
		return res
	}

	done := d.notifier.Action(ctx, tc.ConversationID, "Querying PostgreSQL database...")
	defer done()

	rows, err := d.runPostGIS(ctx, uri, query)
	if err != nil {
		return Fail(fmt.Sprintf("PostgreSQL query error: %v", err), map[string]any{"query": query})
	}
	if len(rows.Values) == 0 {
		return OK(map[string]any{
			"message":   "Query executed successfully but returned no rows",
			"row_count": 0,
			"query":     query,
		})
	}

	var text string
	if len(rows.Values) == 1 && len(rows.Columns) == 1 {
		text = "Query result: " + cellText(rows.Values[0][0], "NULL")
	} else {
		lines := make([]string, 0, len(rows.Values)+1)
		lines = append(lines, strings.Join(rows.Columns, "\t"))
		for _, row := range rows.Values {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = cellText(v, "NULL")
			}
			lines = append(lines, strings.Join(cells, "\t"))
		}
		text = strings.Join(lines, "\n")
	}
	if len(text) > maxResultChars {
		return Fail(fmt.Sprintf("Query result too large: %d characters exceeds 25,000 character limit. Try reducing the number of columns or rows.", len(text)), nil)
	}
	return OK(map[string]any{
		"result":    text,
		"row_count": len(rows.Values),
		"query":     query,
	})
}

// checkLimit requires an explicit LIMIT no larger than maxPostGISLimit.
func checkLimit(query string) (Result, bool) {
	m := limitRe.FindStringSubmatch(query)
	if m == nil {
		return Fail("Query must include a LIMIT clause with a value less than 1000", nil), false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > maxPostGISLimit {
		return Fail(fmt.Sprintf("LIMIT value %s exceeds maximum allowed limit of 1000", m[1]), nil), false
	}
	return nil, true
}

func (d *Dispatcher) runPostGIS(ctx context.Context, uri, query string) (*postgis.Rows, error) {
	if d.postgis == nil {
		return nil, fmt.Errorf("postgis access is not configured")
	}
	conn, err := d.postgis.Connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	plan, err := conn.Plan(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := postgis.CheckReadOnly(plan); err != nil {
		return nil, err
	}
	return conn.Query(ctx, query)
}

// trimQuery drops trailing whitespace and semicolons so the query can be
// nested as a subquery.
func trimQuery(q string) string {
	return strings.TrimRight(strings.TrimRightFunc(q, unicode.IsSpace), ";")
}

func (d *Dispatcher) newLayerFromPostGIS(ctx context.Context, tc Context, raw json.RawMessage) Result {
	args, err := decodeArgs[newLayerFromPostGISArgs](raw)
	if err != nil {
		return Fail("Missing required parameters (postgis_connection_id or query).", nil)
	}
	query := trimQuery(args.Query)
	uri, err := d.workspace.ConnectionURI(ctx, args.ConnectionID, tc.UserID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return Fail(fmt.Sprintf("PostGIS connection '%s' not found or you do not have access to it.", args.ConnectionID), nil)
		}
		return Fail(fmt.Sprintf("Query validation failed: %v", err), nil)
	}

	done := d.notifier.Action(ctx, tc.ConversationID, "Adding layer from PostGIS...")
	defer done()

	newLayer, err := d.inspectPostGIS(ctx, uri, query)
	if err != nil {
		return Fail(fmt.Sprintf("Query validation failed: %v", err), nil)
	}
	name := args.LayerName
	if name == "" {
		name = "PostGIS layer"
	}
	newLayer.MapID = tc.MapID
	newLayer.OwnerID = tc.UserID
	newLayer.Name = name
	newLayer.ConnectionID = args.ConnectionID

	layer, err := d.workspace.CreatePostGISLayer(ctx, *newLayer)
	if err != nil {
		return Fail(fmt.Sprintf("Query validation failed: %v", err), nil)
	}
	return OK(map[string]any{
		"message":      fmt.Sprintf("PostGIS layer created successfully with ID: %s and added to map", layer.LayerID),
		"layer_id":     layer.LayerID,
		"query":        query,
		"added_to_map": true,
	})
}

// inspectPostGIS rejects writing queries, then reads the columns, feature
// count, geometry type and extent a new layer records.
func (d *Dispatcher) inspectPostGIS(ctx context.Context, uri, query string) (*workspace.NewPostGISLayer, error) {
	if d.postgis == nil {
		return nil, fmt.Errorf("postgis access is not configured")
	}
	conn, err := d.postgis.Connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	plan, err := conn.Plan(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := postgis.CheckReadOnly(plan); err != nil {
		return nil, err
	}

	cols, err := conn.Columns(ctx, query)
	if err != nil {
		return nil, err
	}
	var hasGeom, hasID bool
	var attrs []string
	for _, c := range cols {
		switch c {
		case "geom":
			hasGeom = true
		case "id":
			hasID = true
		default:
			attrs = append(attrs, c)
		}
	}
	if !hasGeom {
		return nil, fmt.Errorf("Query must return a column named 'geom'")
	}
	if !hasID {
		return nil, fmt.Errorf("Query must return a column named 'id'")
	}

	count, err := conn.Count(ctx, query)
	if err != nil {
		return nil, err
	}
	newLayer := &workspace.NewPostGISLayer{
		Query:            query,
		AttributeColumns: attrs,
		FeatureCount:     count,
		Metadata:         map[string]any{},
	}
	newLayer.GeometryType, err = conn.GeometryType(ctx, query)
	if err != nil {
		return nil, err
	}
	if newLayer.GeometryType == "" {
		return newLayer, nil
	}
	bounds, err := conn.Bounds(ctx, query)
	if err != nil {
		return nil, err
	}
	if bounds != nil {
		newLayer.Bounds = bounds.Slice()
		if bounds.SRID != 0 {
			newLayer.Metadata["original_srid"] = bounds.SRID
		}
	}
	return newLayer, nil
}
