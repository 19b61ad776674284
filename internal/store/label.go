package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jjestrada2/farmane/internal/llm"
	"github.com/jjestrada2/farmane/internal/models"
	"go.uber.org/zap"
)

const labelPrompt = "Generate a short, descriptive title (3-6 words) for this conversation. " +
	"The title should capture the main topic or request. Only return the title, nothing else."

// labelWindow is how many leading messages feed the title.
const labelWindow = 5

// Labeler names conversations whose title is still pending.
type Labeler struct {
	store  *Store
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewLabeler returns a Labeler that asks model for titles.
func NewLabeler(s *Store, client llm.Client, model string, logger *zap.Logger) *Labeler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Labeler{store: s, client: client, model: model, logger: logger.Named("labeler")}
}

// Label generates and stores a title for conversation id. It returns the
// empty string without error when the conversation is already titled or
// has nothing to summarise.
func (l *Labeler) Label(ctx context.Context, id uint, ownerID string) (string, error) {
	conv, err := l.store.Conversation(ctx, id, ownerID)
	if err != nil {
		return "", err
	}
	if conv.Title != models.TitlePending {
		return "", nil
	}
	transcript, err := l.store.Transcript(ctx, id, ownerID)
	if err != nil {
		return "", err
	}
	if len(transcript) > labelWindow {
		transcript = transcript[:labelWindow]
	}

	var lines []string
	for _, m := range transcript {
		if m.Content == "" || (m.Role != llm.RoleUser && m.Role != llm.RoleAssistant) {
			continue
		}
		content := m.Content
		if len(content) > 200 {
			content = content[:200]
		}
		lines = append(lines, m.Role+": "+content)
	}
	if len(lines) == 0 {
		return "", nil
	}

	reply, err := l.client.Complete(ctx, llm.Request{
		Params: llm.Params{Model: l.model, Temperature: 0.3, MaxTokens: 20},
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: labelPrompt},
			{Role: llm.RoleUser, Content: "Conversation:\n" + strings.Join(lines, "\n")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("store: label conversation %d: %w", id, err)
	}
	title := strings.Trim(strings.TrimSpace(reply.Content), `"`)
	if title == "" {
		return "", nil
	}
	if err := l.store.SetTitle(ctx, id, title); err != nil {
		return "", err
	}
	l.logger.Info("labelled conversation", zap.Uint("conversation_id", id), zap.String("title", title))
	return title, nil
}
