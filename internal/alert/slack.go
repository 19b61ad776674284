package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackClient is the part of the Slack API alerts use.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts as message attachments.
type Slack struct {
	client    slackClient
	channelID string
	backoff   time.Duration
}

// NewSlack returns a Slack sink posting to channelID with a bot token.
func NewSlack(token, channelID string) (*Slack, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("alert: slack token and channel are required")
	}
	return &Slack{client: slackapi.New(token), channelID: channelID, backoff: baseBackoff}, nil
}

// Alert implements Sink.
func (s *Slack) Alert(ctx context.Context, ev Event) error {
	att := slackapi.Attachment{
		Title:    ev.Title,
		Text:     ev.Body,
		Color:    ev.Color,
		Fallback: ev.Title,
	}
	for _, f := range ev.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	opts := []slackapi.MsgOption{
		slackapi.MsgOptionText(ev.Title, false),
		slackapi.MsgOptionAttachments(att),
	}

	err := retry(ctx, s.backoff, slackRateLimited, func() error {
		_, _, err := s.client.PostMessage(s.channelID, opts...)
		return err
	})
	if err != nil {
		return fmt.Errorf("alert: slack post: %w", err)
	}
	return nil
}

func slackRateLimited(err error) (bool, time.Duration) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return false, 0
	}
	return true, rle.RetryAfter
}
