package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jjestrada2/farmane/internal/cancel"
	"github.com/jjestrada2/farmane/internal/config"
	"github.com/jjestrada2/farmane/internal/db"
	"github.com/jjestrada2/farmane/internal/lock"
)

type countingTarget struct {
	calls atomic.Int32
	rows  int64
	err   error
}

func (c *countingTarget) Sweep(context.Context) (int64, error) {
	c.calls.Add(1)
	return c.rows, c.err
}

func TestNew_Validation(t *testing.T) {
	_, err := New("not a schedule", map[string]Target{"x": &countingTarget{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule "not a schedule"`)

	_, err = New("@every 1m", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no targets")
}

func TestNext(t *testing.T) {
	s, err := New("@every 1m", map[string]Target{"x": &countingTarget{}}, nil)
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), s.Next(now))

	s, err = New("*/5 * * * *", map[string]Target{"x": &countingTarget{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC), s.Next(now))
}

func TestOnce_ContinuesPastFailures(t *testing.T) {
	good := &countingTarget{rows: 3}
	bad := &countingTarget{err: errors.New("db down")}
	s, err := New("@every 1m", map[string]Target{"locks": good, "flags": bad}, nil)
	require.NoError(t, err)

	removed, err := s.Once(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flags: db down")
	assert.Equal(t, map[string]int64{"locks": 3}, removed)
	assert.Equal(t, int32(1), good.calls.Load())
	assert.Equal(t, int32(1), bad.calls.Load())
}

func TestOnce_PurgesExpiredRows(t *testing.T) {
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	ctx := context.Background()

	locks := lock.New(gdb, time.Millisecond, "test")
	flags := cancel.New(gdb, time.Millisecond)
	ok, err := locks.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, flags.Request(ctx, "Mmap00000001"))
	time.Sleep(5 * time.Millisecond)

	s, err := New("@every 1m", map[string]Target{"locks": locks, "flags": flags}, nil)
	require.NoError(t, err)
	removed, err := s.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed["locks"])
	assert.Equal(t, int64(1), removed["flags"])
}

func TestRun_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &countingTarget{}
	s, err := New("@every 1s", map[string]Target{"x": target}, nil)
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer stop()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, target.calls.Load(), int32(1))
}
