// Package feed delivers audit events to webhooks and Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Store is the event and config source the dispatcher polls.
type Store interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context, orgID string) (int64, error)
	ListOrgs(ctx context.Context, actorID string) ([]domain.Organization, error)
	GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error)
}

type Options struct {
	Interval time.Duration
	Batch    int
	Client   *http.Client
	// Global sinks receive events from every organization.
	Global   []Sink
	Logger   *zap.Logger
	Registry prometheus.Registerer
}

// Dispatcher tracks one cursor per sink. A new sink starts at the latest event,
// so history is not replayed. A failed delivery stops that sink's batch; the
// event is retried on the next pass.
type Dispatcher struct {
	store    Store
	interval time.Duration
	batch    int
	client   *http.Client
	global   []Sink
	log      *zap.Logger

	deliveries *prometheus.CounterVec

	mu      sync.Mutex
	cursors map[string]int64
}

func NewDispatcher(store Store, opts Options) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		store:    store,
		interval: opts.Interval,
		batch:    opts.Batch,
		client:   opts.Client,
		global:   opts.Global,
		log:      opts.Logger.Named("feed"),
		deliveries: promauto.With(opts.Registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "feed",
			Name:      "deliveries_total",
			Help:      "Event deliveries by sink kind and result",
		}, []string{"sink", "result"}),
		cursors: map[string]int64{},
	}
}

// Run dispatches every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type target struct {
	orgID string
	sink  Sink
	kind  string
}

// DispatchOnce runs one delivery pass over every sink and returns how many
// events were delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	targets, err := d.targets(ctx)
	if err != nil {
		d.log.Error("feed: list sinks failed", zap.Error(err))
	}
	delivered := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		delivered += d.dispatch(ctx, t)
	}
	return delivered
}

func (d *Dispatcher) targets(ctx context.Context) ([]target, error) {
	out := make([]target, 0, len(d.global))
	for _, s := range d.global {
		out = append(out, target{sink: s, kind: "global"})
	}
	orgs, err := d.store.ListOrgs(ctx, "")
	if err != nil {
		return out, err
	}
	for _, o := range orgs {
		cfg, err := d.store.GetOrgConfig(ctx, o.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			d.log.Warn("feed: load org config failed", zap.String("org_id", o.ID), zap.Error(err))
			continue
		}
		for _, h := range cfg.Webhooks {
			out = append(out, target{orgID: o.ID, kind: "webhook", sink: WebhookSink{OrgID: o.ID, Hook: h, Client: d.client}})
		}
	}
	return out, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, t target) int {
	name := t.sink.Name()
	log := d.log.With(zap.String("sink", name))
	cursor, err := d.cursorFor(ctx, name, t.orgID)
	if err != nil {
		log.Error("feed: init cursor failed", zap.Error(err))
		return 0
	}
	evts, err := d.store.EventsAfter(ctx, d.batch, cursor, t.orgID)
	if err != nil {
		log.Error("feed: fetch events failed", zap.Error(err))
		return 0
	}
	delivered := 0
	for _, evt := range evts {
		if !t.sink.Accepts(evt.Type) {
			d.setCursor(name, evt.ID)
			continue
		}
		env := NewEnvelope(evt)
		body, err := json.Marshal(env)
		if err != nil {
			log.Error("feed: encode event failed", zap.Int64("event_id", evt.ID), zap.Error(err))
			d.setCursor(name, evt.ID)
			continue
		}
		if err := t.sink.Send(ctx, env, body); err != nil {
			d.deliveries.WithLabelValues(t.kind, "error").Inc()
			log.Warn("feed: delivery failed", zap.Int64("event_id", evt.ID), zap.Error(err))
			return delivered
		}
		d.deliveries.WithLabelValues(t.kind, "ok").Inc()
		d.setCursor(name, evt.ID)
		delivered++
	}
	return delivered
}

func (d *Dispatcher) cursorFor(ctx context.Context, name, orgID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[name]; ok {
		return cur, nil
	}
	cur, err := d.store.LatestEventID(ctx, orgID)
	if err != nil {
		return 0, err
	}
	d.cursors[name] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(name string, id int64) {
	d.mu.Lock()
	d.cursors[name] = id
	d.mu.Unlock()
}

// Cursor returns the last event ID handled by the named sink.
func (d *Dispatcher) Cursor(name string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.cursors[name]
	return cur, ok
}
