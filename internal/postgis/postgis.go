// Package postgis reads from user-registered PostGIS databases. Every
// statement runs inside a read-only transaction with a statement timeout.
package postgis

import (
	"context"
	"errors"
	"fmt"
)

// ErrWriteQuery is returned when a query plan contains a data-modifying node.
var ErrWriteQuery = errors.New("postgis: query modifies data")

// Bounds is a WGS84 extent plus the SRID the data is stored in.
type Bounds struct {
	XMin, YMin, XMax, YMax float64
	SRID                   int
}

// Slice returns the extent as [xmin, ymin, xmax, ymax].
func (b Bounds) Slice() []float64 {
	return []float64{b.XMin, b.YMin, b.XMax, b.YMax}
}

// Rows is a fully materialised result set.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Conn is a session against one external database.
type Conn interface {
	// Plan returns the decoded EXPLAIN (FORMAT JSON) output for query.
	Plan(ctx context.Context, query string) (any, error)
	// Columns lists the result columns of query without reading rows.
	Columns(ctx context.Context, query string) ([]string, error)
	// Count returns the number of rows query yields.
	Count(ctx context.Context, query string) (int, error)
	// GeometryType returns the majority geometry type of the geom column,
	// lowercased without the ST_ prefix, or "" when there is none.
	GeometryType(ctx context.Context, query string) (string, error)
	// Bounds returns the WGS84 extent of the geom column, or nil when empty.
	Bounds(ctx context.Context, query string) (*Bounds, error)
	// Query runs query and returns every row.
	Query(ctx context.Context, query string) (*Rows, error)
	Close(ctx context.Context) error
}

// Connector opens Conns from connection URIs.
type Connector interface {
	Connect(ctx context.Context, uri string) (Conn, error)
}

// CheckReadOnly walks a decoded EXPLAIN plan and rejects any plan with a
// ModifyTable node at any depth.
func CheckReadOnly(plan any) error {
	switch v := plan.(type) {
	case map[string]any:
		if nt, _ := v["Node Type"].(string); nt == "ModifyTable" {
			op, _ := v["Operation"].(string)
			if op == "" {
				op = "modify"
			}
			return fmt.Errorf("%w (%s)", ErrWriteQuery, op)
		}
		for _, child := range v {
			if err := CheckReadOnly(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := CheckReadOnly(child); err != nil {
				return err
			}
		}
	}
	return nil
}
