package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jjestrada2/farmane/internal/orchestrator"
	"github.com/jjestrada2/farmane/internal/store"
	"github.com/jjestrada2/farmane/internal/workspace"
)

const conflictDetail = "Conversation is currently being processed by another request"

func registerRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api", requireUser())
	api.POST("/conversations/:conversation_id/maps/:map_id/send", handleSend(deps.Chat))
	api.POST("/maps/:map_id/messages/cancel", handleCancel(deps.Chat))
	api.GET("/conversations/:conversation_id/messages", handleMessages(deps.Transcripts))
	api.GET("/conversations/:conversation_id/ws", handleWS(deps.Transcripts, deps.Notifications))
}

type sendBody struct {
	Message         string                     `json:"message" binding:"required"`
	SelectedFeature *workspace.SelectedFeature `json:"selected_feature"`
}

// parseConversationID accepts a non-negative integer; 0 asks for a new
// conversation where the route allows it.
func parseConversationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("conversation_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}

func handleSend(chat Chat) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := parseConversationID(c)
		if !ok {
			return
		}
		var body sendBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		awaitEnd, _ := strconv.ParseBool(c.DefaultQuery("await_end", "false"))

		res, err := chat.Send(c.Request.Context(), orchestrator.SendRequest{
			ConversationID:  convID,
			MapID:           c.Param("map_id"),
			UserID:          userID(c),
			Message:         body.Message,
			SelectedFeature: body.SelectedFeature,
			AwaitEnd:        awaitEnd,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleCancel(chat Chat) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := chat.Cancel(c.Request.Context(), c.Param("map_id"), userID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

func handleMessages(transcripts Transcripts) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := parseConversationID(c)
		if !ok {
			return
		}
		msgs, err := transcripts.Visible(c.Request.Context(), convID, userID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "messages": msgs})
	}
}

func handleWS(transcripts Transcripts, notifications Notifications) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := parseConversationID(c)
		if !ok {
			return
		}
		if _, err := transcripts.Conversation(c.Request.Context(), convID, userID(c)); err != nil {
			writeError(c, err)
			return
		}
		// The upgrade has already answered the request when ServeWS fails
		// after it, so only record the error.
		if err := notifications.ServeWS(c.Writer, c.Request, convID); err != nil {
			c.Error(err)
		}
	}
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"detail": conflictDetail})
	case errors.Is(err, orchestrator.ErrProtocol):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Message is empty"})
	case errors.Is(err, orchestrator.ErrForbidden):
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "You do not have access to this map"})
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}
