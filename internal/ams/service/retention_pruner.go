package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/store"
)

// RetentionPruner periodically deletes synced rows older than the
// retention window. It runs as a background goroutine and is safe to stop
// via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type RetentionPruner struct {
	store     store.RetentionStore
	retention time.Duration
	interval  time.Duration
	clock     clock.WithTicker
	log       *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewRetentionPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of synced history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

func NewRetentionPruner(s store.RetentionStore, cfg PrunerConfig, clk clock.WithTicker, log *zap.Logger) *RetentionPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RetentionPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     clk,
		log:       log.With(zap.String("component", "pruner")),
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the interval until ctx
// is cancelled or Stop is called.
func (p *RetentionPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.log.Info("retention pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.log.Info("retention pruner started",
		zap.Int("retention_days", int(p.retention.Hours()/24)),
		zap.Duration("interval", p.interval))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *RetentionPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *RetentionPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce deletes everything older than now minus the retention window.
func (p *RetentionPruner) PruneOnce(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	stats, err := p.store.PruneSynced(ctx, cutoff)
	if err != nil {
		p.log.Warn("retention prune failed", zap.Error(err))
		return
	}
	if stats.Total() > 0 {
		p.log.Info("retention prune",
			zap.Int64("sessions", stats.Sessions),
			zap.Int64("requests", stats.Requests),
			zap.Int64("events", stats.Events),
			zap.Time("cutoff", cutoff))
	}
}
