package telemetry

import (
	"context"
	"errors"
	"time"

	"hwcast/internal/broadcast"
	"hwcast/internal/metrics"
	"hwcast/internal/models"
	"hwcast/internal/utils"
)

// DefaultInterval is the sampling period used when none is configured.
const DefaultInterval = time.Second

// Sampler is the refresh/derive pair the loop drives.
type Sampler interface {
	Refresh(ctx context.Context) error
	Snapshot() models.HardwareSnapshot
}

// Feed receives published snapshots. *broadcast.Broadcaster satisfies it.
type Feed interface {
	Publish(models.HardwareSnapshot) (uint64, error)
	Close()
}

// SamplingLoop drives one refresh, snapshot, publish cycle per interval.
type SamplingLoop struct {
	sampler  Sampler
	feed     Feed
	interval time.Duration
	logger   *utils.Logger
	metrics  *metrics.Telemetry
}

// NewSamplingLoop wires a sampler to a feed. A non-positive interval selects
// DefaultInterval; logger and tm may be nil.
func NewSamplingLoop(sampler Sampler, feed Feed, interval time.Duration, logger *utils.Logger, tm *metrics.Telemetry) *SamplingLoop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SamplingLoop{
		sampler:  sampler,
		feed:     feed,
		interval: interval,
		logger:   logger.With("sampler"),
		metrics:  tm,
	}
}

// Interval returns the configured sampling period.
func (l *SamplingLoop) Interval() time.Duration {
	return l.interval
}

// Run ticks until ctx is done, then closes the feed so every subscriber sees
// end of stream. A failed tick is logged and skipped; the next attempt waits
// for the next interval boundary.
func (l *SamplingLoop) Run(ctx context.Context) error {
	defer l.feed.Close()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Infof("sampling every %s", l.interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("sampling loop stopped")
			return nil
		case <-ticker.C:
			err := l.Tick(ctx)
			if errors.Is(err, broadcast.ErrClosed) {
				l.logger.Infof("feed closed, sampling loop exiting")
				return nil
			}
			if err != nil && ctx.Err() == nil {
				l.logger.Warnf("skipping tick: %v", err)
			}
		}
	}
}

// Tick runs one cycle. The OS query is bounded by the interval so a stuck
// query cannot stack up behind later ticks.
func (l *SamplingLoop) Tick(ctx context.Context) error {
	tickCtx, cancel := context.WithTimeout(ctx, l.interval)
	defer cancel()

	if err := l.sampler.Refresh(tickCtx); err != nil {
		l.metrics.ObserveTick(metrics.TickSkipped)
		return err
	}
	snap := l.sampler.Snapshot()
	seq, err := l.feed.Publish(snap)
	if err != nil {
		l.metrics.ObserveTick(metrics.TickSkipped)
		return err
	}
	l.metrics.ObserveTick(metrics.TickPublished)
	l.metrics.ObserveSnapshot(snap)
	l.logger.Debugf("published #%d cpu=%d mem=%d net=%s", seq, snap.CPUPercent, snap.MemPercent, snap.NetKiB)
	return nil
}
