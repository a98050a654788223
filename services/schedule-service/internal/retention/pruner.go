package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/robfig/cron/v3"
)

type Store interface {
	PruneOverrides(ctx context.Context, before calendar.Date) (int64, error)
}

type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@daily".
	Schedule string
	Days     int
}

// Pruner deletes date overrides that ended more than Days ago.
type Pruner struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
	cron   *cron.Cron
}

func NewPruner(store Store, logger *slog.Logger, cfg Config) *Pruner {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Days <= 0 {
		cfg.Days = 90
	}
	return &Pruner{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		cron:   cron.New(cron.WithLocation(time.UTC)),
	}
}

// Cutoff is the first date that is kept.
func (p *Pruner) Cutoff() calendar.Date {
	return calendar.DateOf(p.now().UTC()).AddDays(-p.cfg.Days)
}

// RunOnce prunes a single time and returns the number of deleted overrides.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()
	n, err := p.store.PruneOverrides(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune overrides before %s: %w", cutoff, err)
	}
	if n > 0 {
		p.logger.Info("pruned date overrides", "count", n, "before", cutoff.String())
	}
	return n, nil
}

// Run schedules the job and blocks until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.cfg.Schedule, func() {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error("override retention failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.cfg.Schedule, err)
	}
	p.cron.Start()
	p.logger.Info("override retention scheduled", "schedule", p.cfg.Schedule, "days", p.cfg.Days)

	<-ctx.Done()
	<-p.cron.Stop().Done()
	return nil
}
