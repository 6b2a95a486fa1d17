package merchant_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-merchant-bot/internal/merchant"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// countingEnsurer counts EnsureRotation calls.
type countingEnsurer struct {
	calls atomic.Int64
}

func (c *countingEnsurer) EnsureRotation(_ context.Context) (*store.Rotation, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestRefresher_Ticks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-sensitive test in short mode")
	}

	ensurer := &countingEnsurer{}
	r := merchant.NewRefresher(ensurer, time.Second, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(2500 * time.Millisecond)
	r.Stop()

	if got := ensurer.calls.Load(); got < 2 {
		t.Errorf("EnsureRotation called %d times, want at least 2", got)
	}
}

func TestRefresher_StopHaltsTicks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-sensitive test in short mode")
	}

	ensurer := &countingEnsurer{}
	r := merchant.NewRefresher(ensurer, time.Second, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()

	before := ensurer.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	if after := ensurer.calls.Load(); after != before {
		t.Errorf("EnsureRotation called %d times after Stop, want %d", after, before)
	}
}
