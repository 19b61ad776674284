package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/observability"
	"github.com/jjestrada2/farmane/internal/store"
	"github.com/jjestrada2/farmane/internal/workspace"
)

const releaseTimeout = 5 * time.Second

// Conversations finds or starts conversations. *store.Store satisfies it.
type Conversations interface {
	Messages
	ConversationOrCreate(ctx context.Context, id uint, projectID, ownerID string) (*models.Conversation, error)
}

// Maps looks up the maps messages are sent from. *workspace.Workspace
// satisfies it.
type Maps interface {
	Map(ctx context.Context, mapID, ownerID string) (*models.Map, error)
	Owner(ctx context.Context, mapID string) (string, error)
	Describe(ctx context.Context, mapID, ownerID string) (string, error)
}

// Locker grants exclusive use of a conversation. *lock.Locker satisfies it.
type Locker interface {
	Acquire(ctx context.Context, conversationID uint) (bool, error)
	Release(ctx context.Context, conversationID uint) error
}

// CancelRequester raises the cancel flag of a map. *cancel.Flags
// satisfies it.
type CancelRequester interface {
	Request(ctx context.Context, mapID string) error
}

// Labeler titles a conversation after a run. *store.Labeler satisfies it.
type Labeler interface {
	Label(ctx context.Context, conversationID uint, ownerID string) (string, error)
}

// ServiceOpts holds the collaborators of a Service.
type ServiceOpts struct {
	Conversations Conversations
	Maps          Maps
	Locker        Locker
	Cancel        CancelRequester
	Loop          *Loop
	Labeler       Labeler // optional
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Service admits user messages and cancellations.
type Service struct {
	conversations Conversations
	maps          Maps
	locker        Locker
	cancel        CancelRequester
	loop          *Loop
	labeler       Labeler
	metrics       *observability.Metrics
	logger        *zap.Logger

	wg sync.WaitGroup
}

// NewService validates opts and returns a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	switch {
	case opts.Conversations == nil:
		return nil, fmt.Errorf("orchestrator: conversations are required")
	case opts.Maps == nil:
		return nil, fmt.Errorf("orchestrator: maps are required")
	case opts.Locker == nil:
		return nil, fmt.Errorf("orchestrator: locker is required")
	case opts.Cancel == nil:
		return nil, fmt.Errorf("orchestrator: cancel flags are required")
	case opts.Loop == nil:
		return nil, fmt.Errorf("orchestrator: loop is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		conversations: opts.Conversations,
		maps:          opts.Maps,
		locker:        opts.Locker,
		cancel:        opts.Cancel,
		loop:          opts.Loop,
		labeler:       opts.Labeler,
		metrics:       opts.Metrics,
		logger:        logger.Named("service"),
	}, nil
}

// SendRequest is a user message sent from a map.
type SendRequest struct {
	ConversationID  uint // 0 starts a new conversation
	MapID           string
	UserID          string
	Message         string
	SelectedFeature *workspace.SelectedFeature
	AwaitEnd        bool
}

// SendResult acknowledges a sent message.
type SendResult struct {
	ConversationID uint   `json:"conversation_id"`
	SentMessage    string `json:"sent_message"`
	MessageID      uint   `json:"message_id"`
	Status         string `json:"status"`
	// State is set when the caller waited for the run to end.
	State State `json:"state,omitempty"`
}

// StatusProcessingStarted acknowledges an accepted message.
const StatusProcessingStarted = "processing_started"

// Send stores the user's message and runs the conversation, inline when
// AwaitEnd is set and in the background otherwise. It fails with
// ErrConflict without side effects when the conversation is busy. With
// AwaitEnd, a protocol fault is returned as ErrProtocol alongside the
// result.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	m, err := s.maps.Map(ctx, req.MapID, req.UserID)
	if errors.Is(err, workspace.ErrNotFound) {
		return nil, fmt.Errorf("%w: map %s", ErrNotFound, req.MapID)
	}
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.ConversationOrCreate(ctx, req.ConversationID, m.ProjectID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, req.ConversationID)
	}
	if err != nil {
		return nil, err
	}

	acquired, err := s.locker.Acquire(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.metrics.LockConflict()
		return nil, fmt.Errorf("%w: conversation %d", ErrConflict, conv.ID)
	}
	// The lock belongs to this goroutine until a background run takes it.
	owned := true
	defer func() {
		if owned {
			s.release(ctx, conv.ID)
		}
	}()

	msg, err := s.admit(ctx, conv.ID, req)
	if err != nil {
		return nil, err
	}
	res := &SendResult{
		ConversationID: conv.ID,
		SentMessage:    req.Message,
		MessageID:      msg.ID,
		Status:         StatusProcessingStarted,
	}
	run := Run{ConversationID: conv.ID, MapID: req.MapID, ProjectID: m.ProjectID, UserID: req.UserID}

	// Once admitted, the run outlives the request so every tool call it
	// makes is answered even if the client goes away.
	bg := context.WithoutCancel(ctx)
	if !req.AwaitEnd {
		owned = false
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLocked(bg, run)
		}()
		return res, nil
	}

	out := s.loop.Run(bg, run)
	res.State = out.State
	s.labelLater(bg, run)
	if errors.Is(out.Err, ErrProtocol) {
		return res, out.Err
	}
	return res, nil
}

// runLocked runs a background conversation and releases its lock.
func (s *Service) runLocked(ctx context.Context, run Run) {
	func() {
		defer s.release(ctx, run.ConversationID)
		out := s.loop.Run(ctx, run)
		s.logger.Debug("background run finished",
			zap.Uint("conversation_id", run.ConversationID),
			zap.String("state", string(out.State)),
			zap.Int("rounds", out.Rounds))
	}()
	s.labelLater(ctx, run)
}

// admit answers calls an earlier run left open, then persists the
// map-state system messages and the user's message.
func (s *Service) admit(ctx context.Context, convID uint, req SendRequest) (*models.ChatMessage, error) {
	transcript, err := s.conversations.Transcript(ctx, convID, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.loop.repair(ctx, Run{ConversationID: convID, MapID: req.MapID, UserID: req.UserID}, transcript); err != nil {
		return nil, err
	}
	description, err := s.maps.Describe(ctx, req.MapID, req.UserID)
	if err != nil {
		s.logger.Warn("describe map", zap.String("map_id", req.MapID), zap.Error(err))
		description = ""
	}
	for _, sys := range workspace.SystemMessages(transcript, description, req.SelectedFeature) {
		if _, err := s.conversations.Append(ctx, store.AppendParams{
			MapID:          req.MapID,
			ConversationID: convID,
			SenderID:       SenderSystem,
			Message:        sys,
		}); err != nil {
			return nil, err
		}
	}
	return s.conversations.Append(ctx, store.AppendParams{
		MapID:          req.MapID,
		ConversationID: convID,
		SenderID:       req.UserID,
		Message:        llm.Message{Role: llm.RoleUser, Content: req.Message},
	})
}

func (s *Service) release(ctx context.Context, convID uint) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.locker.Release(rctx, convID); err != nil {
		s.logger.Error("release conversation lock", zap.Uint("conversation_id", convID), zap.Error(err))
	}
}

// labelLater titles the conversation in the background once a run ends.
func (s *Service) labelLater(ctx context.Context, run Run) {
	if s.labeler == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.labeler.Label(bg, run.ConversationID, run.UserID); err != nil {
			s.logger.Warn("label conversation", zap.Uint("conversation_id", run.ConversationID), zap.Error(err))
		}
	}()
}

// Cancel asks the running conversation on mapID to stop at its next
// checkpoint.
func (s *Service) Cancel(ctx context.Context, mapID, userID string) error {
	owner, err := s.maps.Owner(ctx, mapID)
	if errors.Is(err, workspace.ErrNotFound) {
		return fmt.Errorf("%w: map %s", ErrNotFound, mapID)
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return fmt.Errorf("%w: map %s", ErrForbidden, mapID)
	}
	return s.cancel.Request(ctx, mapID)
}

// Wait blocks until background runs and labelling have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
