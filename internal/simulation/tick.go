package simulation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"donorline/internal/domain"
)

// tickPlan is the state a tick reads from its run under the registry lock.
type tickPlan struct {
	orgID string
	cfg   RunConfig
	pool  []string
}

type tickResult struct {
	newDonors  []string
	candidates int
	persisted  int
	donations  int
	lastErr    error
	aborted    bool
}

// tick runs one generation step for runID and re-arms the timer when the run
// is still running under the same epoch.
func (r *Registry) tick(runID string, epoch uint64) {
	r.mu.Lock()
	rn, ok := r.runs[runID]
	if r.closed || !ok || rn.status != StatusRunning || rn.epoch != epoch {
		r.mu.Unlock()
		return
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	rn.tickMu.Lock()
	defer rn.tickMu.Unlock()

	r.mu.Lock()
	if rn.status != StatusRunning || rn.epoch != epoch {
		r.mu.Unlock()
		return
	}
	plan := tickPlan{orgID: rn.orgID, cfg: rn.cfg, pool: append([]string(nil), rn.pool...)}
	r.mu.Unlock()

	started := time.Now()
	ctx, cancel := context.WithTimeout(r.baseCtx, r.opts.TickTimeout)
	ctx, span := r.opts.Tracer.Start(ctx, "simulation.tick")
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("org_id", plan.orgID))
	res := r.generate(ctx, runID, epoch, plan)
	if res.lastErr != nil {
		span.RecordError(res.lastErr)
		span.SetStatus(codes.Error, res.lastErr.Error())
	}
	span.SetAttributes(attribute.Int("candidates", res.candidates), attribute.Int("persisted", res.persisted))
	span.End()
	cancel()
	r.opts.Metrics.Ticks.Inc()
	r.opts.Metrics.TickDuration.Observe(time.Since(started).Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	rn.pool = append(rn.pool, res.newDonors...)
	rn.stats.DonorsCreated += len(res.newDonors)
	rn.stats.ActivitiesGenerated += res.candidates
	rn.stats.ActivitiesPersisted += res.persisted
	rn.stats.DonationsGenerated += res.donations
	rn.stats.Ticks++
	rn.lastTickAt = r.opts.Now()
	if res.lastErr != nil {
		rn.lastError = res.lastErr.Error()
	}
	if rn.status == StatusRunning && rn.epoch == epoch && !r.closed {
		r.armLocked(rn, r.interval(rn.cfg.Speed))
	}
}

// current reports whether the run is still running under epoch.
func (r *Registry) current(runID string, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.runs[runID]
	return ok && !r.closed && rn.status == StatusRunning && rn.epoch == epoch
}

// generate fabricates and persists one tick's records. A panic in the store
// or a fabricator is recorded like a persistence failure; the counts gathered
// before it are kept.
func (r *Registry) generate(ctx context.Context, runID string, epoch uint64, plan tickPlan) (res tickResult) {
	log := r.log.With(zap.String("run_id", runID), zap.String("org_id", plan.orgID))
	fail := func(stage string, err error) {
		res.lastErr = fmt.Errorf("%s: %w", stage, err)
		r.opts.Metrics.TickErrors.WithLabelValues(stage).Inc()
		log.Warn("simulation tick persistence failed", zap.String("stage", stage), zap.Error(err))
	}
	defer func() {
		if rec := recover(); rec != nil {
			res.lastErr = fmt.Errorf("panic: %v", rec)
			r.opts.Metrics.TickErrors.WithLabelValues("panic").Inc()
			log.Error("simulation tick panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	pool := plan.pool
	if len(pool) == 0 {
		want := min(plan.cfg.DonorLimit, r.opts.MaxBackfill)
		for i := 0; i < want; i++ {
			if !r.current(runID, epoch) {
				res.aborted = true
				return res
			}
			d, err := r.store.CreateDonor(ctx, r.donors.Generate(plan.orgID))
			if err != nil {
				fail("donor", err)
				continue
			}
			r.opts.Metrics.RecordsCreated.WithLabelValues("donor").Inc()
			res.newDonors = append(res.newDonors, d.ID)
		}
		pool = res.newDonors
		if len(pool) == 0 {
			return res
		}
	}

	n := max(1, int(math.Floor(float64(len(pool))*CandidateFraction)))
	enabled := plan.cfg.EnabledTypes()
	for _, idx := range r.rand.Sample(len(pool), n) {
		if !r.current(runID, epoch) {
			res.aborted = true
			break
		}
		res.candidates++
		if len(enabled) == 0 {
			continue
		}
		activityType := pick(r.rand, enabled)
		if r.rand.Float64() > plan.cfg.Realism {
			continue
		}
		donorID := pool[idx]
		a := r.activities.Generate(plan.orgID, donorID, activityType, plan.cfg.Realism)
		if _, err := r.store.CreateActivity(ctx, a); err != nil {
			fail("activity", err)
			continue
		}
		res.persisted++
		r.opts.Metrics.RecordsCreated.WithLabelValues("activity").Inc()
		if a.Type != domain.ActivityDonation || a.Amount == nil {
			continue
		}
		_, err := r.store.CreateDonation(ctx, domain.Donation{
			OrgID:         plan.orgID,
			DonorID:       donorID,
			Amount:        *a.Amount,
			PaymentMethod: "CREDIT_CARD",
			Status:        "COMPLETED",
			Type:          "ONE_TIME",
			IsSimulated:   true,
		})
		if err != nil {
			fail("donation", err)
			continue
		}
		res.donations++
		r.opts.Metrics.RecordsCreated.WithLabelValues("donation").Inc()
	}
	log.Debug("simulation tick",
		zap.Int("pool", len(pool)),
		zap.Int("candidates", res.candidates),
		zap.Int("persisted", res.persisted),
		zap.Int("donations", res.donations),
		zap.Bool("aborted", res.aborted))
	return res
}
