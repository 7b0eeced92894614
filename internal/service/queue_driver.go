package service

import (
	"context"
	"time"

	"courier/internal/constants"

	"github.com/sirupsen/logrus"
)

// QueueDriver ticks the delivery queue on a fixed interval and runs
// the daily retention purge.
type QueueDriver struct {
	queue         *DeliveryQueue
	interval      time.Duration
	purgeInterval time.Duration
	retention     time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewQueueDriver(queue *DeliveryQueue, interval time.Duration, retentionDays int, logger *logrus.Logger) *QueueDriver {
	if interval <= 0 {
		interval = constants.DefaultDriverIntervalSec * time.Second
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	return &QueueDriver{
		queue:         queue,
		interval:      interval,
		purgeInterval: constants.DefaultPurgeIntervalHours * time.Hour,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (d *QueueDriver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(d.purgeInterval)
	defer purgeTicker.Stop()

	d.logger.WithField("interval", d.interval.String()).Info("Starting queue driver")

	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Queue driver context cancelled, stopping")
			return
		case <-d.stopCh:
			d.logger.Info("Queue driver stop signal received, stopping")
			return
		case <-ticker.C:
			d.tick(ctx)
		case <-purgeTicker.C:
			if _, err := d.queue.PurgeTerminal(ctx, d.retention); err != nil {
				d.logger.WithError(err).Error("Failed to purge terminal entries")
			}
		}
	}
}

func (d *QueueDriver) Stop() {
	close(d.stopCh)
}

func (d *QueueDriver) tick(ctx context.Context) {
	if _, err := d.queue.RunOnce(ctx); err != nil {
		d.logger.WithError(err).Error("Queue tick failed")
	}
}
