package postgis

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// PGXConnector opens connections with pgx.
type PGXConnector struct {
	StatementTimeout time.Duration
}

// Connect implements Connector.
func (c PGXConnector) Connect(ctx context.Context, uri string) (Conn, error) {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("postgis: connect: %w", err)
	}
	timeout := c.StatementTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &pgxConn{conn: conn, timeout: timeout}, nil
}

type pgxConn struct {
	conn    *pgx.Conn
	timeout time.Duration
}

// readOnly runs fn in a READ ONLY transaction that is always rolled back.
func (c *pgxConn) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgis: begin read-only: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", c.timeout.Milliseconds())); err != nil {
		return fmt.Errorf("postgis: set statement timeout: %w", err)
	}
	return fn(tx)
}

func (c *pgxConn) Plan(ctx context.Context, query string) (any, error) {
	var raw string
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&raw)
	})
	if err != nil {
		return nil, fmt.Errorf("postgis: explain: %w", err)
	}
	var plan any
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("postgis: decode plan: %w", err)
	}
	return plan, nil
}

func (c *pgxConn) Columns(ctx context.Context, query string) ([]string, error) {
	var cols []string
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT 0", query))
		if err != nil {
			return err
		}
		defer rows.Close()
		for _, fd := range rows.FieldDescriptions() {
			cols = append(cols, fd.Name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgis: columns: %w", err)
	}
	return cols, nil
}

func (c *pgxConn) Count(ctx context.Context, query string) (int, error) {
	var n int64
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", query)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("postgis: count: %w", err)
	}
	return int(n), nil
}

func (c *pgxConn) GeometryType(ctx context.Context, query string) (string, error) {
	var geomType *string
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT ST_GeometryType(geom) AS geom_type
			FROM (%s) AS sub
			WHERE geom IS NOT NULL
			GROUP BY ST_GeometryType(geom)
			ORDER BY COUNT(*) DESC
			LIMIT 1`, query)).Scan(&geomType)
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("postgis: geometry type: %w", err)
	}
	if geomType == nil {
		return "", nil
	}
	return NormalizeGeometryType(*geomType), nil
}

// NormalizeGeometryType turns "ST_MultiPolygon" into "multipolygon".
func NormalizeGeometryType(t string) string {
	return strings.ToLower(strings.TrimPrefix(t, "ST_"))
}

func (c *pgxConn) Bounds(ctx context.Context, query string) (*Bounds, error) {
	var xmin, ymin, xmax, ymax *float64
	var srid *int32
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, fmt.Sprintf(`
			WITH extent_data AS (
				SELECT
					ST_Extent(geom) AS extent_geom,
					(SELECT ST_SRID(geom) FROM (%[1]s) AS sub2 WHERE geom IS NOT NULL LIMIT 1) AS original_srid
				FROM (%[1]s) AS sub
				WHERE geom IS NOT NULL
			), wgs AS (
				SELECT
					CASE WHEN original_srid = 4326 THEN extent_geom::geometry
					     ELSE ST_Transform(ST_SetSRID(extent_geom::geometry, original_srid), 4326)
					END AS g,
					original_srid
				FROM extent_data
				WHERE extent_geom IS NOT NULL
			)
			SELECT ST_XMin(g), ST_YMin(g), ST_XMax(g), ST_YMax(g), original_srid FROM wgs`, query)).
			Scan(&xmin, &ymin, &xmax, &ymax, &srid)
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("postgis: bounds: %w", err)
	}
	if xmin == nil || ymin == nil || xmax == nil || ymax == nil {
		return nil, nil
	}
	b := &Bounds{XMin: *xmin, YMin: *ymin, XMax: *xmax, YMax: *ymax}
	if srid != nil {
		b.SRID = int(*srid)
	}
	return b, nil
}

func (c *pgxConn) Query(ctx context.Context, query string) (*Rows, error) {
	out := &Rows{}
	err := c.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for _, fd := range rows.FieldDescriptions() {
			out.Columns = append(out.Columns, fd.Name)
		}
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return err
			}
			for i, v := range vals {
				vals[i] = PlainValue(v)
			}
			out.Values = append(out.Values, vals)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgis: query: %w", err)
	}
	return out, nil
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// PlainValue converts driver-specific values (numerics, UUIDs, byte
// slices) into plain Go values that print and encode predictably.
func PlainValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int16, int32, int64, float32, float64, time.Time:
		return x
	case []byte:
		return string(x)
	case pgtype.Numeric:
		return numericString(x)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(x)
		}
		return PlainValue(dv)
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

// numericString renders a numeric exactly, in plain decimal notation.
func numericString(n pgtype.Numeric) any {
	switch {
	case !n.Valid:
		return nil
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	if n.Int == nil {
		return "0"
	}
	if n.Exp >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		return new(big.Int).Mul(n.Int, scale).String()
	}

	digits := new(big.Int).Abs(n.Int).String()
	frac := int(-n.Exp)
	for len(digits) <= frac {
		digits = "0" + digits
	}
	out := digits[:len(digits)-frac] + "." + digits[len(digits)-frac:]
	if n.Int.Sign() < 0 {
		out = "-" + out
	}
	return out
}
