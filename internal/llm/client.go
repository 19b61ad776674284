package llm

import (
	"context"
	"errors"
)

// ErrContextLength is returned when the transcript no longer fits the
// model's context window. Retrying cannot help.
var ErrContextLength = errors.New("llm: context length exceeded")

// ErrProvider wraps every other provider failure.
var ErrProvider = errors.New("llm: provider error")

// Params are per-request generation settings.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Request is a single chat-completion call.
type Request struct {
	Params   Params
	Messages []Message
	Tools    []Tool
}

// Client produces the next assistant turn for a transcript.
type Client interface {
	Complete(ctx context.Context, req Request) (*Message, error)
}

// ParamsProvider resolves generation params for a user, letting
// deployments route users to different models.
type ParamsProvider interface {
	ParamsFor(ctx context.Context, userID string) Params
}

// StaticParams returns the same Params for everyone.
type StaticParams Params

// ParamsFor implements ParamsProvider.
func (s StaticParams) ParamsFor(context.Context, string) Params { return Params(s) }

// IsContextLength reports whether err is a context-window overflow.
func IsContextLength(err error) bool {
	return errors.Is(err, ErrContextLength)
}
