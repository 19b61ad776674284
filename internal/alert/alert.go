// Package alert sends operator alerts about faulted conversation runs to
// chat platforms.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	maxRetries  = 3
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
	faultColor  = "#d9534f"
)

// Field is one labelled value shown with an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Event describes something an operator should look at.
type Event struct {
	Title  string
	Body   string
	Color  string // hex, e.g. "#d9534f"
	Fields []Field
}

// Fault builds the alert for a run that ended in the Faulted state.
func Fault(conversationID uint, mapID, userID string, round int, err error) Event {
	body := "unknown error"
	if err != nil {
		body = err.Error()
	}
	return Event{
		Title: fmt.Sprintf("Conversation %d faulted", conversationID),
		Body:  body,
		Color: faultColor,
		Fields: []Field{
			{Name: "Conversation", Value: strconv.FormatUint(uint64(conversationID), 10), Short: true},
			{Name: "Map", Value: mapID, Short: true},
			{Name: "User", Value: userID, Short: true},
			{Name: "Round", Value: strconv.Itoa(round), Short: true},
		},
	}
}

// Sink delivers alerts.
type Sink interface {
	Alert(ctx context.Context, ev Event) error
}

// Nop drops alerts.
type Nop struct{}

func (Nop) Alert(context.Context, Event) error { return nil }

// Multi sends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Alert(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Alert(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// backoff is the wait before retry attempt n when the platform gave no hint.
func backoff(attempt int, base time.Duration) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt))) * base
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

// retry calls fn until it succeeds, fails with a non-rate-limit error, or
// runs out of attempts. limited reports whether err was a rate limit and
// how long the platform asked to wait (zero for no hint).
func retry(ctx context.Context, base time.Duration, limited func(error) (bool, time.Duration), fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		ok, wait := limited(err)
		if !ok || attempt == maxRetries {
			return err
		}
		if wait <= 0 {
			wait = backoff(attempt, base)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
