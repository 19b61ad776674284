// Package sandbox is a client for the dataset SQL sandbox, which runs
// DuckDB queries against a single layer's data.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QueryError is a query the sandbox rejected or failed to run.
type QueryError struct {
	Status int
	Detail string
}

func (e *QueryError) Error() string {
	return e.Detail
}

// Query is one SQL statement against a layer.
type Query struct {
	SQL     string
	LayerID string
	MaxRows int
	Timeout time.Duration
}

// Table is a query result.
type Table struct {
	Headers  []string `json:"headers"`
	Rows     [][]any  `json:"result"`
	RowCount int      `json:"row_count"`
}

// Client talks to the sandbox over HTTP.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the sandbox at baseURL. A nil hc uses a
// client with no timeout of its own; each Query carries one.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sandbox: base url is required")
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

type queryBody struct {
	SQL      string  `json:"sql_query"`
	LayerID  string  `json:"layer_id"`
	MaxNRows int     `json:"max_n_rows"`
	Timeout  float64 `json:"timeout"`
}

// Query runs q and returns the resulting table.
func (c *Client) Query(ctx context.Context, q Query) (*Table, error) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(queryBody{
		SQL:      q.SQL,
		LayerID:  q.LayerID,
		MaxNRows: q.MaxRows,
		Timeout:  timeout.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sandbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: query: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("sandbox: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		detail := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			detail = e.Detail
		}
		return nil, &QueryError{Status: resp.StatusCode, Detail: detail}
	}

	var t Table
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("sandbox: decode response: %w", err)
	}
	if t.RowCount == 0 {
		t.RowCount = len(t.Rows)
	}
	return &t, nil
}
