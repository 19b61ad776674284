package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jjestrada2/farmane/internal/alert"
	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/notify"
	"github.com/jjestrada2/farmane/internal/observability"
	"github.com/jjestrada2/farmane/internal/prompts"
	"github.com/jjestrada2/farmane/internal/store"
	"github.com/jjestrada2/farmane/internal/tools"
)

// DefaultMaxRounds bounds a run when LoopOpts.MaxRounds is unset.
const DefaultMaxRounds = 25

const alertTimeout = 10 * time.Second

// LoopOpts holds the collaborators of a Loop.
type LoopOpts struct {
	Messages  Messages
	LLM       llm.Client
	Params    llm.ParamsProvider
	Prompts   prompts.Provider
	Tools     Tools
	Cancel    CancelPoller
	Notifier  notify.Notifier
	Alerts    alert.Sink
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	MaxRounds int
}

// Loop is the conversation state machine. It is safe to run many
// conversations through one Loop concurrently.
type Loop struct {
	messages  Messages
	llm       llm.Client
	params    llm.ParamsProvider
	prompts   prompts.Provider
	tools     Tools
	cancel    CancelPoller
	notifier  notify.Notifier
	alerts    alert.Sink
	metrics   *observability.Metrics
	logger    *zap.Logger
	maxRounds int
}

// NewLoop validates opts and returns a Loop.
func NewLoop(opts LoopOpts) (*Loop, error) {
	switch {
	case opts.Messages == nil:
		return nil, fmt.Errorf("orchestrator: messages are required")
	case opts.LLM == nil:
		return nil, fmt.Errorf("orchestrator: llm client is required")
	case opts.Tools == nil:
		return nil, fmt.Errorf("orchestrator: tools are required")
	case opts.Cancel == nil:
		return nil, fmt.Errorf("orchestrator: cancel flags are required")
	case opts.Prompts == nil:
		return nil, fmt.Errorf("orchestrator: prompt provider is required")
	}
	l := &Loop{
		messages:  opts.Messages,
		llm:       opts.LLM,
		params:    opts.Params,
		prompts:   opts.Prompts,
		tools:     opts.Tools,
		cancel:    opts.Cancel,
		notifier:  opts.Notifier,
		alerts:    opts.Alerts,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		maxRounds: opts.MaxRounds,
	}
	if l.params == nil {
		l.params = llm.StaticParams{}
	}
	if l.notifier == nil {
		l.notifier = notify.Nop{}
	}
	if l.alerts == nil {
		l.alerts = alert.Nop{}
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.Named("loop")
	if l.maxRounds <= 0 {
		l.maxRounds = DefaultMaxRounds
	}
	return l, nil
}

// Run identifies the conversation a run works on and who it runs for.
type Run struct {
	ConversationID uint
	MapID          string
	ProjectID      string
	UserID         string
}

func (r Run) toolContext() tools.Context {
	return tools.Context{
		UserID:         r.UserID,
		MapID:          r.MapID,
		ProjectID:      r.ProjectID,
		ConversationID: r.ConversationID,
	}
}

// Outcome is how a run ended.
type Outcome struct {
	State  State
	Rounds int
	Err    error
}

// Run drives the conversation until the model stops calling tools, the
// round budget is spent, the user cancels, or something faults. The caller
// holds the conversation lock for the duration.
func (l *Loop) Run(ctx context.Context, run Run) (out Outcome) {
	ctx, span := observability.Tracer().Start(ctx, "app.process_chat_interaction",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(run.ConversationID)),
			attribute.String("map.id", run.MapID),
			attribute.String("user.id", run.UserID),
		))
	finish := l.metrics.RunStarted()
	defer func() {
		span.SetAttributes(attribute.String("run.state", string(out.State)), attribute.Int("run.rounds", out.Rounds))
		if out.State == StateFaulted {
			span.SetStatus(codes.Error, fmt.Sprint(out.Err))
		}
		span.End()
		finish(string(out.State), out.Rounds)
	}()

	log := l.logger.With(zap.Uint("conversation_id", run.ConversationID), zap.String("map_id", run.MapID))
	for round := 1; round <= l.maxRounds; round++ {
		out.Rounds = round
		state, err := l.round(ctx, run, log.With(zap.Int("round", round)))
		switch state {
		case StateExecutingTools:
			continue
		case StateFaulted:
			out.State, out.Err = state, err
			l.fault(ctx, run, round, err)
			return out
		default:
			out.State, out.Err = state, err
			return out
		}
	}
	log.Warn("round budget spent", zap.Int("max_rounds", l.maxRounds))
	out.State = StateCompleted
	return out
}

// round runs one model turn and its tool calls. It returns
// StateExecutingTools when the loop should go around again.
func (l *Loop) round(ctx context.Context, run Run, log *zap.Logger) (State, error) {
	// AwaitingModel
	if l.cancelled(ctx, run, log) {
		return StateCancelled, nil
	}
	transcript, err := l.messages.Transcript(ctx, run.ConversationID, run.UserID)
	if err != nil {
		return l.internal(ctx, run, fmt.Errorf("load transcript: %w", err))
	}
	system, err := l.prompts.SystemPrompt()
	if err != nil {
		return l.internal(ctx, run, fmt.Errorf("system prompt: %w", err))
	}
	msgs := make([]llm.Message, 0, len(transcript)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, transcript...)

	tc := run.toolContext()
	reply, err := l.complete(ctx, run, msgs, l.tools.Schemas(ctx, tc))
	if err != nil {
		if llm.IsContextLength(err) {
			log.Warn("context length exceeded", zap.Error(err))
			l.notifier.Error(ctx, run.ConversationID, NoticeContextLength)
			return StateFaulted, err
		}
		log.Error("llm request failed", zap.Error(err))
		l.notifier.Error(ctx, run.ConversationID, NoticeLLMError)
		return StateCompleted, err
	}

	// ModelResponded
	if l.cancelled(ctx, run, log) {
		return StateCancelled, nil
	}
	reply.Role = llm.RoleAssistant
	if _, err := l.messages.Append(ctx, store.AppendParams{
		MapID:          run.MapID,
		ConversationID: run.ConversationID,
		SenderID:       SenderAssistant,
		Message:        *reply,
	}); err != nil {
		return l.internal(ctx, run, err)
	}
	if len(reply.ToolCalls) == 0 {
		return StateCompleted, nil
	}

	// ExecutingTools
	calls, err := l.resolve(reply.ToolCalls)
	if err != nil {
		log.Error("protocol fault", zap.Error(err))
		if perr := l.answerAll(ctx, run, reply.ToolCalls, err); perr != nil {
			return l.internal(ctx, run, perr)
		}
		l.notifier.Error(ctx, run.ConversationID, NoticeProtocol)
		return StateFaulted, err
	}
	for _, call := range calls {
		res := l.tools.Execute(ctx, tc, call)
		l.metrics.ToolCall(call.Name, res.Status())
		if res.Status() == tools.StatusError {
			log.Info("tool returned error", zap.String("tool", call.Name), zap.String("error", res.Err()))
		}
		if err := l.answer(ctx, run, call.ID, call.Name, res); err != nil {
			return l.internal(ctx, run, err)
		}
	}
	return StateExecutingTools, nil
}

func (l *Loop) complete(ctx context.Context, run Run, msgs []llm.Message, schemas []llm.Tool) (*llm.Message, error) {
	params := l.params.ParamsFor(ctx, run.UserID)
	ctx, span := observability.Tracer().Start(ctx, "kue.llm",
		trace.WithAttributes(
			attribute.String("llm.model", params.Model),
			attribute.Int("llm.messages", len(msgs)),
			attribute.Int("llm.tools", len(schemas)),
		))
	defer span.End()

	done := l.notifier.Action(ctx, run.ConversationID, thinkingText)
	start := time.Now()
	reply, err := l.llm.Complete(ctx, llm.Request{Params: params, Messages: msgs, Tools: schemas})
	done()

	outcome := "ok"
	switch {
	case llm.IsContextLength(err):
		outcome = "context_length"
	case err != nil:
		outcome = "error"
	case reply == nil:
		outcome, err = "error", fmt.Errorf("%w: empty reply", llm.ErrProvider)
	}
	l.metrics.LLMRequest(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(reply.ToolCalls)))
	return reply, nil
}

// resolve maps every call of a turn before any of them runs, so a turn
// with one bad call executes nothing.
func (l *Loop) resolve(calls []llm.ToolCall) ([]tools.Call, error) {
	out := make([]tools.Call, 0, len(calls))
	var errs []error
	for _, c := range calls {
		rc, err := l.tools.Resolve(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rc)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, errors.Join(errs...))
	}
	return out, nil
}

// answerAll records an error result for every call of a faulting turn so
// no call is left unanswered.
func (l *Loop) answerAll(ctx context.Context, run Run, calls []llm.ToolCall, cause error) error {
	for _, c := range calls {
		msg := "Tool call was not executed because another call in the same turn was invalid."
		if _, err := l.tools.Resolve(c); err != nil {
			switch {
			case errors.Is(err, tools.ErrUnknownTool):
				msg = fmt.Sprintf("Unknown tool '%s'.", c.Function.Name)
			case errors.Is(err, tools.ErrMalformedArguments):
				msg = fmt.Sprintf("Arguments for '%s' must be a JSON object.", c.Function.Name)
			default:
				msg = cause.Error()
			}
		}
		if err := l.answer(ctx, run, c.ID, c.Function.Name, tools.Fail(msg, nil)); err != nil {
			return err
		}
	}
	return nil
}

// interruptedCallText answers a call whose run stopped before its result
// was stored.
const interruptedCallText = "Tool call was interrupted before it returned a result."

// interrupted returns the calls of the last assistant turn that have no
// tool message, in call order. Only a turn at the tail of the log can be
// missing results.
func interrupted(transcript []llm.Message) []llm.ToolCall {
	last := -1
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role != llm.RoleTool {
			last = i
			break
		}
	}
	if last < 0 || transcript[last].Role != llm.RoleAssistant {
		return nil
	}
	answered := make(map[string]bool, len(transcript)-last-1)
	for _, m := range transcript[last+1:] {
		answered[m.ToolCallID] = true
	}
	var out []llm.ToolCall
	for _, c := range transcript[last].ToolCalls {
		if !answered[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// repair stores an error result for every call the previous run left
// unanswered, so the next model request sees a well-formed history.
func (l *Loop) repair(ctx context.Context, run Run, transcript []llm.Message) error {
	for _, c := range interrupted(transcript) {
		l.logger.Warn("answering interrupted tool call",
			zap.Uint("conversation_id", run.ConversationID),
			zap.String("tool_call_id", c.ID),
			zap.String("tool", c.Function.Name))
		if err := l.answer(ctx, run, c.ID, c.Function.Name, tools.Fail(interruptedCallText, nil)); err != nil {
			return err
		}
	}
	return nil
}

// answer persists the tool message for one call.
func (l *Loop) answer(ctx context.Context, run Run, callID, name string, res tools.Result) error {
	content, err := tools.EncodeResult(res)
	if err != nil {
		l.logger.Error("encode tool result", zap.String("tool", name), zap.Error(err))
		content, err = tools.EncodeResult(tools.Fail("Tool result could not be encoded.", nil))
		if err != nil {
			return err
		}
	}
	_, err = l.messages.Append(ctx, store.AppendParams{
		MapID:          run.MapID,
		ConversationID: run.ConversationID,
		SenderID:       SenderAssistant,
		Message: llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: callID,
			Name:       name,
		},
	})
	return err
}

// cancelled polls the cancel flag. A failed poll is treated as no
// cancellation.
func (l *Loop) cancelled(ctx context.Context, run Run, log *zap.Logger) bool {
	ok, err := l.cancel.PollAndConsume(ctx, run.MapID)
	if err != nil {
		log.Warn("poll cancel flag", zap.Error(err))
		return false
	}
	if ok {
		log.Info("run cancelled")
	}
	return ok
}

// internal reports a bookkeeping failure to the user and faults the run.
func (l *Loop) internal(ctx context.Context, run Run, err error) (State, error) {
	l.notifier.Error(ctx, run.ConversationID, NoticeInternal)
	return StateFaulted, err
}

// fault logs a faulted run with its context and alerts operators.
func (l *Loop) fault(ctx context.Context, run Run, round int, err error) {
	l.logger.Error("run faulted",
		zap.Uint("conversation_id", run.ConversationID),
		zap.String("map_id", run.MapID),
		zap.String("user_id", run.UserID),
		zap.Int("round", round),
		zap.Error(err))
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if aerr := l.alerts.Alert(actx, alert.Fault(run.ConversationID, run.MapID, run.UserID, round, err)); aerr != nil {
		l.logger.Warn("send fault alert", zap.Error(aerr))
	}
}
