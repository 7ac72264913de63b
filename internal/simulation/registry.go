package simulation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configure a Registry. Zero values take the defaults.
type Options struct {
	BaseInterval time.Duration
	MinInterval  time.Duration
	TickTimeout  time.Duration
	MaxBackfill  int
	Seed         int64
	Now          func() time.Time
	Logger       *zap.Logger
	Metrics      *Metrics
	Tracer       trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.BaseInterval <= 0 {
		o.BaseInterval = DefaultBaseInterval
	}
	if o.MinInterval <= 0 {
		o.MinInterval = DefaultMinInterval
	}
	if o.TickTimeout <= 0 {
		o.TickTimeout = 30 * time.Second
	}
	if o.MaxBackfill <= 0 {
		o.MaxBackfill = MaxBackfill
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("donorline/internal/simulation")
	}
	return o
}

// Registry owns every simulation run in the process. One mutex guards the run
// map and all run fields; tick bodies additionally hold the run's tickMu.
type Registry struct {
	store      Store
	donors     DonorFabricator
	activities ActivityFabricator
	rand       *Rand
	opts       Options
	log        *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	runs     map[string]*run
	closed   bool
	inflight sync.WaitGroup
}

func NewRegistry(store Store, opts Options) *Registry {
	opts = opts.withDefaults()
	rnd := NewRand(opts.Seed)
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		donors:     DonorFabricator{Rand: rnd},
		activities: ActivityFabricator{Rand: rnd},
		rand:       rnd,
		opts:       opts,
		log:        opts.Logger.Named("simulation"),
		baseCtx:    ctx,
		cancel:     cancel,
		runs:       map[string]*run{},
	}
}

// Start begins a run for orgID, stopping any running or paused run the
// organization already has. The first tick fires immediately.
func (r *Registry) Start(ctx context.Context, orgID, targetDonorID string, cfg RunConfig) (Snapshot, error) {
	if orgID == "" {
		return Snapshot{}, ErrOrganizationRequired
	}
	cfg = cfg.Normalize()
	now := r.opts.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	var superseded []*run
	for _, existing := range r.runs {
		if existing.orgID == orgID && existing.active() {
			r.endLocked(existing, StatusStopped, "superseded", now)
			superseded = append(superseded, existing)
		}
	}
	nr := &run{
		id:            uuid.NewString(),
		orgID:         orgID,
		targetDonorID: targetDonorID,
		status:        StatusRunning,
		cfg:           cfg,
		startedAt:     now,
	}
	if targetDonorID != "" {
		nr.pool = []string{targetDonorID}
	}
	r.runs[nr.id] = nr
	r.armLocked(nr, 0)
	snap := nr.snapshot()
	r.opts.Metrics.RunsStarted.Inc()
	r.opts.Metrics.ActiveRuns.Set(float64(len(r.runs)))
	r.mu.Unlock()

	drain(superseded)
	r.log.Info("simulation started",
		zap.String("run_id", nr.id),
		zap.String("org_id", orgID),
		zap.String("target_donor_id", targetDonorID),
		zap.Int("speed", cfg.Speed),
		zap.Float64("realism", cfg.Realism),
		zap.Int("superseded", len(superseded)))
	return snap, nil
}

// Stop stops runID, or every running or paused run of orgID when runID is empty.
// It returns how many runs were stopped; zero is not an error.
func (r *Registry) Stop(ctx context.Context, orgID, runID string) (int, error) {
	if orgID == "" {
		return 0, ErrOrganizationRequired
	}
	now := r.opts.Now()
	r.mu.Lock()
	var stopped []*run
	for _, rn := range r.runs {
		if rn.orgID != orgID || !rn.active() {
			continue
		}
		if runID != "" && rn.id != runID {
			continue
		}
		r.endLocked(rn, StatusStopped, "stopped", now)
		stopped = append(stopped, rn)
	}
	r.mu.Unlock()

	drain(stopped)
	if len(stopped) > 0 {
		r.log.Info("simulation stopped", zap.String("org_id", orgID), zap.String("run_id", runID), zap.Int("count", len(stopped)))
	}
	return len(stopped), nil
}

// Status returns snapshots of the organization's runs, optionally only runID.
func (r *Registry) Status(orgID, runID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Snapshot{}
	for _, rn := range r.runs {
		if rn.orgID != orgID {
			continue
		}
		if runID != "" && rn.id != runID {
			continue
		}
		out = append(out, rn.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Pause suspends the organization's running run, keeping its pool and stats.
func (r *Registry) Pause(ctx context.Context, orgID string) (Snapshot, error) {
	if orgID == "" {
		return Snapshot{}, ErrOrganizationRequired
	}
	r.mu.Lock()
	rn := r.findLocked(orgID, StatusRunning)
	if rn == nil {
		r.mu.Unlock()
		return Snapshot{}, ErrNoActiveRun
	}
	rn.status = StatusPaused
	rn.pausedAt = r.opts.Now()
	r.cancelLocked(rn)
	r.mu.Unlock()

	drain([]*run{rn})
	r.mu.Lock()
	snap := rn.snapshot()
	r.mu.Unlock()
	r.log.Info("simulation paused", zap.String("run_id", rn.id), zap.String("org_id", orgID))
	return snap, nil
}

// Resume re-arms the organization's paused run.
func (r *Registry) Resume(ctx context.Context, orgID string) (Snapshot, error) {
	if orgID == "" {
		return Snapshot{}, ErrOrganizationRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rn := r.findLocked(orgID, StatusPaused)
	if rn == nil {
		return Snapshot{}, ErrNoActiveRun
	}
	rn.status = StatusRunning
	rn.resumedAt = r.opts.Now()
	r.armLocked(rn, r.interval(rn.cfg.Speed))
	r.log.Info("simulation resumed", zap.String("run_id", rn.id), zap.String("org_id", orgID))
	return rn.snapshot(), nil
}

// Close stops every run and waits for in-flight ticks until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	now := r.opts.Now()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	count := 0
	for _, rn := range r.runs {
		r.endLocked(rn, StatusStopped, "shutdown", now)
		count++
	}
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("simulation registry closed", zap.Int("stopped", count))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) interval(speed int) time.Duration {
	return tickInterval(r.opts.BaseInterval, r.opts.MinInterval, speed)
}

func (r *Registry) findLocked(orgID string, status Status) *run {
	for _, rn := range r.runs {
		if rn.orgID == orgID && rn.status == status {
			return rn
		}
	}
	return nil
}

// armLocked schedules the next tick after d and invalidates older timers.
func (r *Registry) armLocked(rn *run, d time.Duration) {
	r.cancelLocked(rn)
	epoch := rn.epoch
	id := rn.id
	rn.timer = time.AfterFunc(d, func() { r.tick(id, epoch) })
}

// cancelLocked stops the pending timer. Safe to call repeatedly.
func (r *Registry) cancelLocked(rn *run) {
	rn.epoch++
	if rn.timer != nil {
		rn.timer.Stop()
		rn.timer = nil
	}
}

// endLocked moves a run to a terminal status and removes it from the registry.
func (r *Registry) endLocked(rn *run, status Status, reason string, now time.Time) {
	r.cancelLocked(rn)
	rn.status = status
	rn.stoppedAt = now
	delete(r.runs, rn.id)
	r.opts.Metrics.RunsEnded.WithLabelValues(reason).Inc()
	r.opts.Metrics.ActiveRuns.Set(float64(len(r.runs)))
}

// drain waits for any tick still executing on the given runs.
func drain(runs []*run) {
	for _, rn := range runs {
		rn.tickMu.Lock()
		rn.tickMu.Unlock()
	}
}
