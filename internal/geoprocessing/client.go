package geoprocessing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when a pending job does not finish within MaxWait.
var ErrTimeout = errors.New("geoprocessing: job did not finish in time")

// StatusError is a non-200 reply from the processing service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("QGIS processing failed: %d - %s", e.Code, e.Body)
}

// Request asks the service to run one algorithm.
type Request struct {
	AlgorithmID   string            `json:"algorithm_id"`
	Inputs        map[string]string `json:"qgis_inputs"`
	InputURLs     map[string]string `json:"input_urls"`
	OutputPutURLs map[string]string `json:"output_presigned_put_urls"`
}

// UploadResult reports whether an output file reached its signed URL.
type UploadResult struct {
	Uploaded bool   `json:"uploaded"`
	Error    string `json:"error,omitempty"`
}

// Result is the service's reply once the job has finished.
type Result struct {
	Status        string                  `json:"status"`
	JobID         string                  `json:"job_id,omitempty"`
	UploadResults map[string]UploadResult `json:"upload_results"`

	// Raw is the complete reply, passed back to the model.
	Raw map[string]any `json:"-"`
}

// Uploaded reports whether output param was uploaded.
func (r *Result) Uploaded(param string) bool {
	u, ok := r.UploadResults[param]
	return ok && u.Uploaded
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration // per HTTP request
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the geoprocessing service.
type Client struct {
	base    string
	http    *http.Client
	poll    time.Duration
	maxWait time.Duration
}

// NewClient builds a client. BaseURL is required.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("geoprocessing: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		poll:    poll,
		maxWait: maxWait,
	}, nil
}

// Run submits req and waits for it to finish. A reply with status
// "pending" and a job id is polled until it settles or MaxWait passes.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: encode request: %w", err)
	}
	res, err := c.do(ctx, http.MethodPost, c.base+"/run_qgis_process", body)
	if err != nil {
		return nil, err
	}
	if res.Status != "pending" || res.JobID == "" {
		return res, nil
	}
	return c.wait(ctx, res.JobID)
}

func (c *Client) wait(parent context.Context, jobID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, c.maxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.poll), 1)
	// The submit call just happened; spend the initial token.
	limiter.Allow()
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, c.waitErr(parent, jobID)
		}
		res, err := c.do(ctx, http.MethodGet, c.base+"/jobs/"+jobID, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.waitErr(parent, jobID)
			}
			return nil, err
		}
		if res.Status != "pending" {
			return res, nil
		}
	}
}

// waitErr tells a caller cancellation apart from running out of MaxWait.
// Limiter.Wait fails early when the next tick falls past the deadline, so
// the parent context decides.
func (c *Client) waitErr(parent context.Context, jobID string) error {
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("geoprocessing: poll %s: %w", jobID, perr)
	}
	return fmt.Errorf("job %s: %w", jobID, ErrTimeout)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*Result, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("geoprocessing: decode response: %w", err)
	}
	if err := json.Unmarshal(data, &res.Raw); err != nil {
		return nil, fmt.Errorf("geoprocessing: decode response: %w", err)
	}
	return &res, nil
}
