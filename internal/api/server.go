// Package api is the HTTP surface of the chat service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/orchestrator"
	"github.com/jjestrada2/farmane/internal/store"
)

// Chat admits messages and cancellations. *orchestrator.Service
// satisfies it.
type Chat interface {
	Send(ctx context.Context, req orchestrator.SendRequest) (*orchestrator.SendResult, error)
	Cancel(ctx context.Context, mapID, userID string) error
}

// Transcripts reads conversations for display. *store.Store satisfies it.
type Transcripts interface {
	Conversation(ctx context.Context, id uint, ownerID string) (*models.Conversation, error)
	Visible(ctx context.Context, conversationID uint, ownerID string) ([]store.VisibleMessage, error)
}

// Notifications streams a conversation's events. *notify.Hub satisfies it.
type Notifications interface {
	ServeWS(w http.ResponseWriter, r *http.Request, conversationID uint) error
}

// Deps are the handlers' collaborators. Metrics may be nil.
type Deps struct {
	Chat          Chat
	Transcripts   Transcripts
	Notifications Notifications
	Metrics       http.Handler
	Logger        *zap.Logger
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps
	Port            int
	ShutdownTimeout time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) (*gin.Engine, error) {
	switch {
	case deps.Chat == nil:
		return nil, fmt.Errorf("api: chat is required")
	case deps.Transcripts == nil:
		return nil, fmt.Errorf("api: transcripts are required")
	case deps.Notifications == nil:
		return nil, fmt.Errorf("api: notifications are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger.Named("api")))
	registerRoutes(router, deps)
	return router, nil
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(sctx)
	}()

	logger.Info("api listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
