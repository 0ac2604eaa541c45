package region

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTickInterval is the tick period used when none is configured.
const DefaultTickInterval = 100 * time.Millisecond

// Runner drives Registry.Tick on a fixed interval.
type Runner struct {
	reg      *Registry
	interval time.Duration

	mu    sync.RWMutex
	hooks []func(TickReport)
}

// NewRunner creates a runner ticking reg every interval.
func NewRunner(reg *Registry, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{reg: reg, interval: interval}
}

// OnTick registers fn to receive every tick report. Hooks run on the tick goroutine.
func (rn *Runner) OnTick(fn func(TickReport)) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.hooks = append(rn.hooks, fn)
}

// Start ticks until ctx is cancelled.
func (rn *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(rn.interval)
	defer ticker.Stop()

	slog.Info("region runner started", "interval", rn.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("region runner stopping", "tick", rn.reg.Query().Tick())
			return ctx.Err()

		case <-ticker.C:
			rn.step()
		}
	}
}

func (rn *Runner) step() {
	report := rn.reg.Tick()
	if report.Duration > rn.interval {
		slog.Warn("tick overran interval",
			"tick", report.Tick,
			"duration", report.Duration,
			"interval", rn.interval,
			"agents", report.Agents)
	}

	rn.mu.RLock()
	hooks := rn.hooks
	rn.mu.RUnlock()
	for _, fn := range hooks {
		fn(report)
	}
}
