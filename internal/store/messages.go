package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/models"
)

// AppendParams describes one message to add to a conversation's log.
type AppendParams struct {
	MapID          string
	ConversationID uint
	SenderID       string
	Message        llm.Message
}

// Append writes one message in its own unit of work and returns the
// stored row with its id and timestamp.
func (s *Store) Append(ctx context.Context, p AppendParams) (*models.ChatMessage, error) {
	payload, err := json.Marshal(p.Message)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s message: %w", p.Message.Role, err)
	}
	convID := p.ConversationID
	row := models.ChatMessage{
		MapID:          p.MapID,
		ConversationID: &convID,
		SenderID:       p.SenderID,
		MessageJSON:    string(payload),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("store: append %s message: %w", p.Message.Role, err)
	}
	return &row, nil
}

// Transcript returns the full ordered message log the model sees,
// including system messages. Soft-deleted or foreign conversations yield
// an empty transcript.
func (s *Store) Transcript(ctx context.Context, conversationID uint, ownerID string) ([]llm.Message, error) {
	rows, err := s.rows(ctx, conversationID, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(rows))
	for _, r := range rows {
		var m llm.Message
		if err := json.Unmarshal([]byte(r.MessageJSON), &m); err != nil {
			return nil, fmt.Errorf("store: decode message %d: %w", r.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// VisibleMessage is a transcript entry as shown to the user.
type VisibleMessage struct {
	ID             uint           `json:"id"`
	MapID          string         `json:"map_id"`
	ConversationID uint           `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Visible returns the user-facing view of a conversation: the same order
// as Transcript with system messages removed.
func (s *Store) Visible(ctx context.Context, conversationID uint, ownerID string) ([]VisibleMessage, error) {
	if _, err := s.Conversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	rows, err := s.rows(ctx, conversationID, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]VisibleMessage, 0, len(rows))
	for _, r := range rows {
		var m llm.Message
		if err := json.Unmarshal([]byte(r.MessageJSON), &m); err != nil {
			return nil, fmt.Errorf("store: decode message %d: %w", r.ID, err)
		}
		if m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, VisibleMessage{
			ID:             r.ID,
			MapID:          r.MapID,
			ConversationID: conversationID,
			SenderID:       r.SenderID,
			Role:           m.Role,
			Content:        m.Content,
			ToolCalls:      m.ToolCalls,
			ToolCallID:     m.ToolCallID,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) rows(ctx context.Context, conversationID uint, ownerID string) ([]models.ChatMessage, error) {
	var rows []models.ChatMessage
	err := s.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Select("chat_messages.*").
		Joins("JOIN conversations ON conversations.id = chat_messages.conversation_id").
		Where("chat_messages.conversation_id = ? AND conversations.owner_id = ? AND conversations.soft_deleted_at IS NULL",
			conversationID, ownerID).
		Order("chat_messages.created_at ASC, chat_messages.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load transcript %d: %w", conversationID, err)
	}
	return rows, nil
}
