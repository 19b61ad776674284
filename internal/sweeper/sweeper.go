// Package sweeper periodically purges expired conversation leases and
// cancel flags.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Target deletes rows that have outlived their TTL and reports how many.
// *lock.Locker and *cancel.Flags satisfy it.
type Target interface {
	Sweep(ctx context.Context) (int64, error)
}

// parser accepts standard 5-field expressions plus descriptors such as
// "@every 1m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const sweepTimeout = 30 * time.Second

// Sweeper runs every named target on a cron schedule.
type Sweeper struct {
	schedule cron.Schedule
	targets  map[string]Target
	log      *zap.Logger
}

// New parses schedule and returns a Sweeper over targets, keyed by a name
// used in logs.
func New(schedule string, targets map[string]Target, log *zap.Logger) (*Sweeper, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", schedule, err)
	}
	if len(targets) == 0 {
		return nil, errors.New("sweeper: no targets")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{schedule: sched, targets: targets, log: log.Named("sweeper")}, nil
}

// Next returns when the sweep after t will fire.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Once sweeps every target and returns the rows removed per target. A
// failing target does not stop the others; their errors are joined.
func (s *Sweeper) Once(ctx context.Context) (map[string]int64, error) {
	removed := make(map[string]int64, len(s.targets))
	var errs []error
	for name, t := range s.targets {
		n, err := t.Sweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		removed[name] = n
	}
	return removed, errors.Join(errs...)
}

// Run sweeps on schedule until ctx is cancelled, then waits for an
// in-flight sweep to finish.
func (s *Sweeper) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		removed, err := s.Once(sctx)
		for name, n := range removed {
			if n > 0 {
				s.log.Info("swept expired rows", zap.String("target", name), zap.Int64("rows", n))
			}
		}
		if err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
	}))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
