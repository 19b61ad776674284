package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
)

// Conversation loads a live conversation owned by ownerID.
func (s *Store) Conversation(ctx context.Context, id uint, ownerID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND soft_deleted_at IS NULL", id, ownerID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load conversation %d: %w", id, err)
	}
	return &conv, nil
}

// CreateConversation starts a conversation with a pending title.
func (s *Store) CreateConversation(ctx context.Context, projectID, ownerID string) (*models.Conversation, error) {
	conv := models.Conversation{
		ProjectID: projectID,
		OwnerID:   ownerID,
		Title:     models.TitlePending,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return &conv, nil
}

// ConversationOrCreate loads conversation id, or creates one when id is 0.
func (s *Store) ConversationOrCreate(ctx context.Context, id uint, projectID, ownerID string) (*models.Conversation, error) {
	if id == 0 {
		return s.CreateConversation(ctx, projectID, ownerID)
	}
	return s.Conversation(ctx, id, ownerID)
}

// SetTitle replaces a conversation's display title.
func (s *Store) SetTitle(ctx context.Context, id uint, title string) error {
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("store: set title %d: %w", id, err)
	}
	return nil
}
