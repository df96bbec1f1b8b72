package retention

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
)

type AlertPruner interface {
	PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
}

// Pruner removes resolved alerts once their resolution is older than TTL.
// It runs once on start and then every Interval.
type Pruner struct {
	alerts   AlertPruner
	ttl      time.Duration
	interval time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewPruner(alerts AlertPruner, ttl, interval time.Duration, logger *logging.Logger) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		alerts:   alerts,
		ttl:      ttl,
		interval: interval,
		log:      logger.WithComponent("retention"),
		now:      time.Now,
	}
}

func (p *Pruner) Start(ctx context.Context, wg *sync.WaitGroup) {
	if p.ttl <= 0 {
		p.log.Info("Retention disabled")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.PruneOnce(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PruneOnce(ctx)
			}
		}
	}()
}

// PruneOnce deletes expired alerts and returns how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.ttl)
	n, err := p.alerts.PruneResolvedAlerts(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Error("Failed to prune resolved alerts")
		return 0
	}
	if n > 0 {
		metrics.RetentionPruned.Add(float64(n))
		p.log.WithFields(logrus.Fields{"removed": n, "cutoff": cutoff}).Info("Pruned resolved alerts")
	}
	return n
}
