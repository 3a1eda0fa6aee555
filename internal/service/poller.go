package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"erp-pricing-api/internal/cache"
	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/metrics"
	"erp-pricing-api/pkg/uid"
)

// PollerConfig holds configuration for the monitor poller.
type PollerConfig struct {
	// Interval is how often the summary is recomputed.
	// Default: 5 seconds
	Interval time.Duration

	// LeaseKey, when a Locker is supplied, makes instances sharing a cache
	// take turns refreshing instead of all polling the store.
	LeaseKey string
}

// leaseTTL keeps a successful lease for most of an interval so that one
// instance refreshes per tick, yet lets it lapse before the holder's next tick.
func (c PollerConfig) leaseTTL() time.Duration {
	return c.Interval * 9 / 10
}

// DefaultPollerConfig returns default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: 5 * time.Second,
		LeaseKey: "monitor:poll-lease",
	}
}

// MonitorPoller refreshes the monitor summary on a fixed interval and
// publishes the per-status gauges.
type MonitorPoller struct {
	monitor   *MonitorService
	locker    cache.Locker
	config    PollerConfig
	token     string
	ticker    *time.Ticker
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewMonitorPoller creates a poller. locker may be nil.
func NewMonitorPoller(monitor *MonitorService, locker cache.Locker, config PollerConfig) *MonitorPoller {
	def := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.LeaseKey == "" {
		config.LeaseKey = def.LeaseKey
	}

	return &MonitorPoller{
		monitor: monitor,
		locker:  locker,
		config:  config,
		token:   uid.New(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins polling. Calling Start twice is a no-op.
func (p *MonitorPoller) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.ticker = time.NewTicker(p.config.Interval)
	p.mu.Unlock()

	logger.Info("monitor poller started", zap.Duration("interval", p.config.Interval))

	go p.run()
}

func (p *MonitorPoller) run() {
	defer close(p.done)

	p.poll()
	for {
		select {
		case <-p.ticker.C:
			p.poll()
		case <-p.stopCh:
			logger.Info("monitor poller stopped")
			return
		}
	}
}

func (p *MonitorPoller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Interval)
	defer cancel()

	if _, err := p.RunNow(ctx); err != nil {
		logger.Warn("monitor poll failed", zap.Error(err))
	}
}

// RunNow refreshes the summary once. It returns false when another instance
// holds the lease. A successful lease is left to expire; it is released only
// when the refresh fails, so another instance can retry within the interval.
func (p *MonitorPoller) RunNow(ctx context.Context) (bool, error) {
	if p.locker != nil {
		ok, err := p.locker.TryLock(ctx, p.config.LeaseKey, p.token, p.config.leaseTTL())
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	sum, err := p.monitor.Refresh(ctx)
	if err != nil {
		if p.locker != nil {
			if uerr := p.locker.Unlock(context.Background(), p.config.LeaseKey, p.token); uerr != nil {
				logger.Warn("could not release poll lease", zap.Error(uerr))
			}
		}
		return false, err
	}

	gauges := make(map[string]int, len(sum.Counts))
	for st, n := range sum.Counts {
		gauges[string(st)] = n
	}
	metrics.SetOperationCounts(gauges)
	logger.Debug("monitor summary refreshed", zap.Int("total", sum.Total), zap.Int("active", sum.Active))
	return true, nil
}

// Stop stops the poller and waits for the loop to exit.
func (p *MonitorPoller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		running := p.isRunning
		if p.ticker != nil {
			p.ticker.Stop()
		}
		close(p.stopCh)
		p.isRunning = false
		p.mu.Unlock()

		if running {
			<-p.done
		}
	})
}
