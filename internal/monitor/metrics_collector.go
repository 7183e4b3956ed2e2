package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/model"
	"github.com/t77yq/taskforge/internal/scheduler"
)

// StatsSource supplies point-in-time scheduler gauges
type StatsSource interface {
	Gauges() scheduler.Gauges
}

// Snapshot is one collected sample
type Snapshot struct {
	Gauges      scheduler.Gauges
	CollectedAt time.Time
}

// MetricsCollector periodically samples scheduler and host metrics
type MetricsCollector struct {
	logger   *zap.Logger
	source   StatsSource
	interval time.Duration
	mu       sync.RWMutex
	last     Snapshot
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(source StatsSource, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

// Stop stops the collection loop
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

// Latest returns the most recent sample
func (c *MetricsCollector) Latest() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *MetricsCollector) collect() {
	gauges := c.source.Gauges()
	snapshot := Snapshot{
		Gauges:      gauges,
		CollectedAt: time.Now(),
	}

	c.mu.Lock()
	c.last = snapshot
	c.mu.Unlock()

	c.logger.Info("Collected metrics",
		zap.Int("scheduled", gauges.Tasks[model.TaskStatusScheduled]),
		zap.Int("running", gauges.Tasks[model.TaskStatusRunning]),
		zap.Int("completed", gauges.Tasks[model.TaskStatusCompleted]),
		zap.Int("failed", gauges.Tasks[model.TaskStatusFailed]),
		zap.Int("pool_running", gauges.Pool.RunningTasks),
		zap.Int("pool_queue", gauges.Pool.QueueDepth),
		zap.Float64("cpu_percent", gauges.Pool.CPUPercent),
		zap.Float64("memory_percent", gauges.Pool.MemoryPercent))
}
