package cancel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jjestrada2/farmane/internal/config"
	"github.com/jjestrada2/farmane/internal/db"
	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
)

func openCancelTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gormDB.AutoMigrate(&models.CancelFlag{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

func TestPollAndConsume_NoFlag(t *testing.T) {
	f := New(openCancelTestDB(t), DefaultTTL)
	got, err := f.PollAndConsume(context.Background(), "Mmap00000001")
	if err != nil {
		t.Fatalf("PollAndConsume: %v", err)
	}
	if got {
		t.Error("PollAndConsume = true with no request")
	}
}

func TestPollAndConsume_ConsumesOnce(t *testing.T) {
	f := New(openCancelTestDB(t), DefaultTTL)
	ctx := context.Background()

	if err := f.Request(ctx, "Mmap00000001"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got, _ := f.PollAndConsume(ctx, "Mmap00000001"); !got {
		t.Fatal("first poll should observe the cancellation")
	}
	if got, _ := f.PollAndConsume(ctx, "Mmap00000001"); got {
		t.Fatal("second poll should find the flag consumed")
	}
}

func TestPollAndConsume_ScopedToMap(t *testing.T) {
	f := New(openCancelTestDB(t), DefaultTTL)
	ctx := context.Background()

	f.Request(ctx, "Mmap00000001")
	if got, _ := f.PollAndConsume(ctx, "Mmap00000002"); got {
		t.Fatal("cancellation leaked to another map")
	}
}

func TestPollAndConsume_Expired(t *testing.T) {
	f := New(openCancelTestDB(t), time.Minute)
	base := time.Now()
	f.now = func() time.Time { return base }
	ctx := context.Background()

	f.Request(ctx, "Mmap00000001")
	f.now = func() time.Time { return base.Add(2 * time.Minute) }

	if got, _ := f.PollAndConsume(ctx, "Mmap00000001"); got {
		t.Fatal("expired flag should not cancel")
	}
}

func TestRequest_Twice(t *testing.T) {
	gormDB := openCancelTestDB(t)
	f := New(gormDB, DefaultTTL)
	ctx := context.Background()

	if err := f.Request(ctx, "Mmap00000001"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := f.Request(ctx, "Mmap00000001"); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	var count int64
	gormDB.Model(&models.CancelFlag{}).Count(&count)
	if count != 1 {
		t.Errorf("flag rows = %d, want 1", count)
	}
}

func TestSweep(t *testing.T) {
	gormDB := openCancelTestDB(t)
	f := New(gormDB, DefaultTTL)
	ctx := context.Background()

	gormDB.Create(&models.CancelFlag{MapID: "Mold00000001", ExpiresAt: time.Now().Add(-time.Hour)})
	f.Request(ctx, "Mlive0000001")

	n, err := f.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
}

func TestConcurrent_PollAndConsume_OneObserver(t *testing.T) {
	f := New(openCancelTestDB(t), DefaultTTL)
	ctx := context.Background()
	f.Request(ctx, "Mmap00000001")

	var observed atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := f.PollAndConsume(ctx, "Mmap00000001"); err == nil && got {
				observed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := observed.Load(); got != 1 {
		t.Errorf("observers = %d, want 1", got)
	}
}
