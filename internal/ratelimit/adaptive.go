package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Load thresholds and the multiplier selected when load first crosses each
// one. Below the lowest threshold the system is idle and limits are raised;
// above the highest the system is saturated and limits collapse to 10%.
var (
	loadThresholds  = []float64{0.3, 0.6, 0.8, 0.95}
	loadMultipliers = []float64{1.2, 1.0, 0.7, 0.4, 0.1}
)

// MultiplierForLoad maps a system load fraction (0.0-1.0) to a limit
// multiplier.
func MultiplierForLoad(load float64) float64 {
	for i, threshold := range loadThresholds {
		if load < threshold {
			return loadMultipliers[i]
		}
	}
	return loadMultipliers[len(loadMultipliers)-1]
}

// LoadSource reports current system load as a fraction in [0, 1].
type LoadSource interface {
	Load(ctx context.Context) (float64, error)
}

// CPULoadSource reads system-wide CPU utilization.
type CPULoadSource struct{}

// Load returns CPU utilization since the previous call as a 0-1 fraction.
func (CPULoadSource) Load(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu utilization: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu utilization unavailable")
	}
	return percents[0] / 100, nil
}

// AdaptiveControllerConfig configures an AdaptiveController.
type AdaptiveControllerConfig struct {
	// Source provides the system load reading. Defaults to CPULoadSource.
	Source LoadSource
	// Interval between load refreshes. Defaults to 10 seconds.
	Interval time.Duration
	// Logger for refresh activity.
	Logger *slog.Logger
}

// DefaultAdaptiveInterval is the default time between load refreshes.
const DefaultAdaptiveInterval = 10 * time.Second

// AdaptiveController maintains the current load-derived multiplier. The
// multiplier is refreshed on a ticker rather than per request so a rate
// limit check never blocks on a load probe.
type AdaptiveController struct {
	source   LoadSource
	interval time.Duration
	log      *slog.Logger

	mu         sync.RWMutex
	multiplier float64
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewAdaptiveController creates a controller starting at multiplier 1.0.
func NewAdaptiveController(cfg AdaptiveControllerConfig) *AdaptiveController {
	if cfg.Source == nil {
		cfg.Source = CPULoadSource{}
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultAdaptiveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &AdaptiveController{
		source:     cfg.Source,
		interval:   cfg.Interval,
		log:        cfg.Logger,
		multiplier: 1.0,
	}
}

// Multiplier returns the current load multiplier.
func (c *AdaptiveController) Multiplier() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.multiplier
}

// Refresh reads the load source once and updates the multiplier. A failed
// reading keeps the previous multiplier; load sensing is advisory and must
// not make limits flap on probe errors.
func (c *AdaptiveController) Refresh(ctx context.Context) error {
	load, err := c.source.Load(ctx)
	if err != nil {
		c.log.Warn("failed to read system load, keeping previous multiplier",
			"error", err)
		return err
	}

	multiplier := MultiplierForLoad(load)

	c.mu.Lock()
	changed := multiplier != c.multiplier
	c.multiplier = multiplier
	c.mu.Unlock()

	if changed {
		c.log.Info("adaptive rate limit multiplier changed",
			"load", load, "multiplier", multiplier)
	}
	return nil
}

// Start begins periodic refreshes. Returns immediately; the refresh loop
// runs in a background goroutine.
func (c *AdaptiveController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop signals the refresh loop to stop and waits for it to finish.
func (c *AdaptiveController) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *AdaptiveController) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			// Errors already logged; the loop keeps the last good value.
			_ = c.Refresh(ctx)
		}
	}
}
