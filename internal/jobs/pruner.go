package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the same standard 5-field and optional-seconds
// expressions a periodic task scheduler accepts.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// PrunerConfig configures the background job-directory sweep.
type PrunerConfig struct {
	// Schedule is a cron expression; "@hourly" by default.
	Schedule string
	// Retention is how long a terminal job's directory survives before
	// the sweep removes it.
	Retention time.Duration
	Logger    *slog.Logger
}

// Pruner periodically calls Store.Prune on a cron schedule.
type Pruner struct {
	store     Store
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
}

// NewPruner parses cfg.Schedule and binds it to store.
func NewPruner(store Store, cfg PrunerConfig) (*Pruner, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = "@hourly"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{store: store, schedule: schedule, retention: retention, logger: logger}, nil
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		now := time.Now()
		next := p.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case fired := <-timer.C:
				n, err := p.store.Prune(ctx, p.retention)
				if err != nil {
					p.logger.Error("job prune failed", "error", err)
				} else if n > 0 {
					p.logger.Info("pruned job directories", "count", n)
				}
				timer.Reset(p.schedule.Next(fired).Sub(fired))
			}
		}
	}()
}

// Stop halts the sweep loop.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}
