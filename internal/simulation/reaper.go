package simulation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultReapInterval = 5 * time.Minute
	DefaultStaleAfter   = 30 * time.Minute
)

// Reaper retires running runs that have not ticked within StaleAfter.
type Reaper struct {
	Registry   *Registry
	Interval   time.Duration
	StaleAfter time.Duration
}

func NewReaper(reg *Registry, interval, staleAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reaper{Registry: reg, Interval: interval, StaleAfter: staleAfter}
}

// Run sweeps every Interval until ctx is cancelled.
func (p *Reaper) Run(ctx context.Context) error {
	log := p.Registry.log.Named("reaper")
	log.Info("reaper started", zap.Duration("interval", p.Interval), zap.Duration("stale_after", p.StaleAfter))
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("reaper stopped")
			return nil
		case <-ticker.C:
			if n := p.Sweep(p.Registry.opts.Now()); n > 0 {
				log.Info("reaped stale simulation runs", zap.Int("count", n))
			}
		}
	}
}

// Sweep marks stale and removes every running run idle for longer than
// StaleAfter at now.
func (p *Reaper) Sweep(now time.Time) int {
	reg := p.Registry
	_, span := reg.opts.Tracer.Start(context.Background(), "simulation.sweep")
	defer span.End()

	reg.mu.Lock()
	var stale []*run
	for _, rn := range reg.runs {
		if rn.status == StatusRunning && now.Sub(rn.lastActivity()) > p.StaleAfter {
			stale = append(stale, rn)
		}
	}
	reaped := 0
	for _, rn := range stale {
		reg.endLocked(rn, StatusStale, "stale", now)
		reaped++
		reg.log.Warn("simulation run reaped",
			zap.String("run_id", rn.id),
			zap.String("org_id", rn.orgID),
			zap.Time("last_activity", rn.lastActivity()))
	}
	reg.mu.Unlock()
	span.SetAttributes(attribute.Int("reaped", reaped))
	return reaped
}
