package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the part of discordgo alerts use.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts as embeds. Only the REST API is used; no gateway
// connection is opened.
type Discord struct {
	session   discordSession
	channelID string
	backoff   time.Duration
}

// NewDiscord returns a Discord sink posting to channelID with a bot token.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("alert: discord token and channel are required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &Discord{session: s, channelID: channelID, backoff: baseBackoff}, nil
}

// Alert implements Sink.
func (d *Discord) Alert(ctx context.Context, ev Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       ev.Title,
		Description: ev.Body,
		Color:       hexColor(ev.Color),
	}
	for _, f := range ev.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
	}
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	err := retry(ctx, d.backoff, discordRateLimited, func() error {
		_, err := d.session.ChannelMessageSendComplex(d.channelID, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("alert: discord send: %w", err)
	}
	return nil
}

func discordRateLimited(err error) (bool, time.Duration) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false, 0
	}
	return restErr.Response.StatusCode == http.StatusTooManyRequests, 0
}

// hexColor turns "#rrggbb" into the integer Discord expects; bad input is 0.
func hexColor(s string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
