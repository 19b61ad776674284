package alert

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlack struct {
	calls   int
	errs    []error
	channel string
}

func (f *fakeSlack) PostMessage(channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	f.calls++
	f.channel = channelID
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", "", err
	}
	return channelID, "123.456", nil
}

type fakeDiscord struct {
	calls int
	errs  []error
	sent  *discordgo.MessageSend
}

func (f *fakeDiscord) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls++
	f.sent = data
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1"}, nil
}

func rateLimit429() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func TestFault(t *testing.T) {
	ev := Fault(42, "MAbcdefghijk", "user-1", 3, errors.New("store: append: disk full"))
	assert.Equal(t, "Conversation 42 faulted", ev.Title)
	assert.Equal(t, "store: append: disk full", ev.Body)
	require.Len(t, ev.Fields, 4)
	assert.Equal(t, "3", ev.Fields[3].Value)

	assert.Equal(t, "unknown error", Fault(1, "", "", 0, nil).Body)
}

func TestSlack_Alert(t *testing.T) {
	fc := &fakeSlack{}
	s := &Slack{client: fc, channelID: "C01", backoff: time.Millisecond}
	require.NoError(t, s.Alert(context.Background(), Fault(1, "M", "U", 1, errors.New("x"))))
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, "C01", fc.channel)
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	fc := &fakeSlack{errs: []error{
		&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
		&slackapi.RateLimitedError{},
	}}
	s := &Slack{client: fc, channelID: "C01", backoff: time.Millisecond}
	require.NoError(t, s.Alert(context.Background(), Event{Title: "t"}))
	assert.Equal(t, 3, fc.calls)
}

func TestSlack_GivesUpAfterMaxRetries(t *testing.T) {
	var errs []error
	for range maxRetries + 2 {
		errs = append(errs, &slackapi.RateLimitedError{RetryAfter: time.Millisecond})
	}
	fc := &fakeSlack{errs: errs}
	s := &Slack{client: fc, channelID: "C01", backoff: time.Millisecond}
	err := s.Alert(context.Background(), Event{Title: "t"})
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, fc.calls)
}

func TestSlack_NoRetryOnOtherErrors(t *testing.T) {
	fc := &fakeSlack{errs: []error{errors.New("channel_not_found")}}
	s := &Slack{client: fc, channelID: "C01", backoff: time.Millisecond}
	err := s.Alert(context.Background(), Event{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Equal(t, 1, fc.calls)
}

func TestSlack_RespectsContext(t *testing.T) {
	fc := &fakeSlack{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Minute}}}
	s := &Slack{client: fc, channelID: "C01", backoff: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Alert(ctx, Event{Title: "t"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDiscord_Alert(t *testing.T) {
	fd := &fakeDiscord{}
	d := &Discord{session: fd, channelID: "D01", backoff: time.Millisecond}
	require.NoError(t, d.Alert(context.Background(), Fault(9, "M", "U", 2, errors.New("boom"))))
	require.NotNil(t, fd.sent)
	require.Len(t, fd.sent.Embeds, 1)
	assert.Equal(t, "Conversation 9 faulted", fd.sent.Embeds[0].Title)
	assert.Equal(t, 0xd9534f, fd.sent.Embeds[0].Color)
	assert.Len(t, fd.sent.Embeds[0].Fields, 4)
}

func TestDiscord_RetriesRateLimit(t *testing.T) {
	fd := &fakeDiscord{errs: []error{rateLimit429()}}
	d := &Discord{session: fd, channelID: "D01", backoff: time.Millisecond}
	require.NoError(t, d.Alert(context.Background(), Event{Title: "t"}))
	assert.Equal(t, 2, fd.calls)
}

func TestDiscord_NoRetryOnForbidden(t *testing.T) {
	fd := &fakeDiscord{errs: []error{&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}}}
	d := &Discord{session: fd, channelID: "D01", backoff: time.Millisecond}
	require.Error(t, d.Alert(context.Background(), Event{Title: "t"}))
	assert.Equal(t, 1, fd.calls)
}

func TestHexColor(t *testing.T) {
	assert.Equal(t, 0x36a64f, hexColor("#36a64f"))
	assert.Equal(t, 0xFF0000, hexColor("FF0000"))
	assert.Equal(t, 0, hexColor("not-a-color"))
	assert.Equal(t, 0, hexColor(""))
}

type errSink struct{ err error }

func (e errSink) Alert(context.Context, Event) error { return e.err }

func TestMulti(t *testing.T) {
	a, b := errors.New("a down"), errors.New("b down")
	err := Multi{errSink{a}, Nop{}, errSink{b}}.Alert(context.Background(), Event{})
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)

	assert.NoError(t, Multi{Nop{}}.Alert(context.Background(), Event{}))
	assert.NoError(t, Multi(nil).Alert(context.Background(), Event{}))
}

func TestNewSinks_RequireConfig(t *testing.T) {
	_, err := NewSlack("", "C")
	assert.Error(t, err)
	_, err = NewDiscord("tok", "")
	assert.Error(t, err)

	d, err := NewDiscord("tok", "D01")
	require.NoError(t, err)
	assert.NotNil(t, d)
}
