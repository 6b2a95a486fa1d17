package merchant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// rotationEnsurer is the slice of Manager the refresher needs.
type rotationEnsurer interface {
	EnsureRotation(ctx context.Context) (*store.Rotation, error)
}

// Refresher keeps the rotation warm by re-checking it on a fixed interval,
// so the first viewer after an expiry does not pay the creation cost.
// Start it only after the bot is ready; Stop drains the running job before
// returning, and no tick fires afterwards.
type Refresher struct {
	cron   *cron.Cron
	engine rotationEnsurer
	logger *slog.Logger
	spec   string
	cancel context.CancelFunc
}

// NewRefresher creates a refresher ticking every interval.
func NewRefresher(engine rotationEnsurer, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		cron:   cron.New(),
		engine: engine,
		logger: logger,
		spec:   "@every " + interval.String(),
	}
}

// Start schedules the refresh job and begins ticking.
func (r *Refresher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if _, err := r.cron.AddFunc(r.spec, func() { r.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling rotation refresh (%s): %w", r.spec, err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "rotation refresher started", slog.String("schedule", r.spec))
	return nil
}

// tick runs one refresh. Failures are logged and the next tick proceeds.
func (r *Refresher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.engine.EnsureRotation(ctx); err != nil {
		r.logger.ErrorContext(ctx, "rotation refresh failed", slog.Any("error", err))
	}
}

// Stop cancels future ticks and waits for an in-flight tick to finish.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.cron.Stop().Done()
	r.logger.Info("rotation refresher stopped")
}
