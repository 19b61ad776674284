// Package tools holds the tools the model may call during a conversation
// round: the static workspace tools, dynamically registered tools, and the
// geoprocessing algorithms. The Dispatcher resolves and runs them.
package tools

import (
	"errors"
)

var (
	// ErrUnknownTool is returned when the model names a tool that is not
	// offered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrMalformedArguments is returned when a call's arguments are not a
	// JSON object.
	ErrMalformedArguments = errors.New("tools: arguments are not a JSON object")
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Limits shared by the query tools.
const (
	maxResultChars  = 25000
	maxPostGISLimit = 1000
	defaultHeadRows = 20
	unattachedLimit = 10
	executionFailed = "Tool execution failed. Please try again or adjust the inputs."
)

// Context identifies who a tool runs for and where its effects land.
type Context struct {
	UserID         string
	MapID          string
	ProjectID      string
	ConversationID uint
}

// Result is the JSON object persisted as a tool message. It always has a
// "status" of success or error.
type Result map[string]any

// OK builds a success result carrying fields.
func OK(fields map[string]any) Result {
	r := Result{}
	for k, v := range fields {
		r[k] = v
	}
	r["status"] = StatusSuccess
	return r
}

// Fail builds an error result with msg and any extra fields.
func Fail(msg string, fields map[string]any) Result {
	r := Result{}
	for k, v := range fields {
		r[k] = v
	}
	r["status"] = StatusError
	r["error"] = msg
	return r
}

// Status returns the result's status.
func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Err returns the error message of a failed result, or "".
func (r Result) Err() string {
	s, _ := r["error"].(string)
	return s
}
