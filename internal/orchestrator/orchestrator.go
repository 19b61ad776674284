// Package orchestrator runs conversations: the bounded loop that alternates
// model turns with tool execution, and the Service that admits a user
// message under the per-conversation lock and starts the loop.
package orchestrator

import (
	"context"
	"errors"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/store"
	"github.com/jjestrada2/farmane/internal/tools"
)

var (
	// ErrConflict is returned when another request holds the
	// conversation's lock.
	ErrConflict = errors.New("orchestrator: conversation is held by another request")

	// ErrProtocol is returned when the model calls a tool outside the
	// offered schema or sends arguments that are not a JSON object.
	ErrProtocol = errors.New("orchestrator: tool call outside the declared schema")

	// ErrNotFound is returned for maps and conversations the user cannot see.
	ErrNotFound = errors.New("orchestrator: not found")

	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("orchestrator: message is empty")

	// ErrForbidden is returned when a map exists but belongs to someone else.
	ErrForbidden = errors.New("orchestrator: not the owner")
)

// State is a position in the conversation loop.
type State string

// Loop states. Completed, Cancelled and Faulted are terminal.
const (
	StateAwaitingModel  State = "awaiting_model"
	StateModelResponded State = "model_responded"
	StateExecutingTools State = "executing_tools"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateFaulted        State = "faulted"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFaulted
}

// User-visible notices.
const (
	NoticeContextLength = "Maximum context length for LLM has been reached. Please create a new chat to continue using the chat feature."
	NoticeLLMError      = "Error connecting to LLM. If trying again doesn't work, create a new chat in the top right to reset the chat history."
	NoticeInternal      = "Something went wrong while processing your message. Please try again."
	NoticeProtocol      = "Kue tried to use a tool that does not exist. Please rephrase your request and try again."

	thinkingText = "Kue is thinking..."
)

// Sender ids for messages the user did not write.
const (
	SenderAssistant = "kue"
	SenderSystem    = "system"
)

// Messages is the conversation log the loop reads and appends to.
// *store.Store satisfies it.
type Messages interface {
	Append(ctx context.Context, p store.AppendParams) (*models.ChatMessage, error)
	Transcript(ctx context.Context, conversationID uint, ownerID string) ([]llm.Message, error)
}

// Tools resolves and runs the model's tool calls. *tools.Dispatcher
// satisfies it.
type Tools interface {
	Schemas(ctx context.Context, tc tools.Context) []llm.Tool
	Resolve(call llm.ToolCall) (tools.Call, error)
	Execute(ctx context.Context, tc tools.Context, call tools.Call) tools.Result
}

// CancelPoller reports and clears a pending cancellation. *cancel.Flags
// satisfies it.
type CancelPoller interface {
	PollAndConsume(ctx context.Context, mapID string) (bool, error)
}
