package simulation

import (
	"math"
	"strings"
	"sync"
	"time"

	"donorline/internal/domain"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusStale   Status = "stale"
)

const (
	MinSpeed          = 1
	MaxSpeed          = 10
	MinRealism        = 0.1
	MaxRealism        = 1.0
	DefaultDonorLimit = 20
	// MaxBackfill caps how many donors one backfill creates.
	MaxBackfill = 20
	// CandidateFraction of the pool is sampled each tick.
	CandidateFraction = 0.3

	DefaultBaseInterval = 10 * time.Second
	DefaultMinInterval  = time.Second
)

// ActivityToggle enables or disables one activity type for a run.
type ActivityToggle struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// RunConfig is fixed for the lifetime of a run.
type RunConfig struct {
	DonorLimit    int              `json:"donor_limit"`
	Speed         int              `json:"speed"`
	ActivityTypes []ActivityToggle `json:"activity_types"`
	Realism       float64          `json:"realism"`
}

// Normalize clamps speed and realism, and fills defaults for donor limit and activity types.
func (c RunConfig) Normalize() RunConfig {
	out := c
	out.Speed = ClampSpeed(c.Speed)
	out.Realism = ClampRealism(c.Realism)
	if out.DonorLimit <= 0 {
		out.DonorLimit = DefaultDonorLimit
	}
	if len(c.ActivityTypes) == 0 {
		out.ActivityTypes = make([]ActivityToggle, 0, len(domain.ActivityTypes))
		for _, t := range domain.ActivityTypes {
			out.ActivityTypes = append(out.ActivityTypes, ActivityToggle{Type: t, Enabled: true})
		}
		return out
	}
	out.ActivityTypes = make([]ActivityToggle, len(c.ActivityTypes))
	for i, t := range c.ActivityTypes {
		out.ActivityTypes[i] = ActivityToggle{Type: strings.ToUpper(strings.TrimSpace(t.Type)), Enabled: t.Enabled}
	}
	return out
}

// EnabledTypes lists enabled activity types in configured order.
func (c RunConfig) EnabledTypes() []string {
	var out []string
	for _, t := range c.ActivityTypes {
		if t.Enabled {
			out = append(out, t.Type)
		}
	}
	return out
}

func ClampSpeed(speed int) int {
	return min(max(speed, MinSpeed), MaxSpeed)
}

func ClampRealism(r float64) float64 {
	if math.IsNaN(r) {
		return MinRealism
	}
	return math.Min(math.Max(r, MinRealism), MaxRealism)
}

// TickInterval is the delay between ticks at the given speed: 10s/speed, never under 1s.
func TickInterval(speed int) time.Duration {
	return tickInterval(DefaultBaseInterval, DefaultMinInterval, speed)
}

func tickInterval(base, floor time.Duration, speed int) time.Duration {
	return max(base/time.Duration(ClampSpeed(speed)), floor)
}

// Stats are cumulative counters for a run. ActivitiesGenerated counts sampled
// candidates before the realism gate; ActivitiesPersisted counts stored records.
type Stats struct {
	ActivitiesGenerated int `json:"activities_generated"`
	ActivitiesPersisted int `json:"activities_persisted"`
	DonationsGenerated  int `json:"donations_generated"`
	DonorsCreated       int `json:"donors_created"`
	Ticks               int `json:"ticks"`
}

// Snapshot is a read-only copy of a run.
type Snapshot struct {
	RunID         string     `json:"run_id"`
	OrgID         string     `json:"org_id"`
	TargetDonorID string     `json:"target_donor_id,omitempty"`
	Status        Status     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	LastTickAt    *time.Time `json:"last_tick_at,omitempty"`
	PausedAt      *time.Time `json:"paused_at,omitempty"`
	ResumedAt     *time.Time `json:"resumed_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	DonorCount    int        `json:"donor_count"`
	DonorIDs      []string   `json:"donor_ids"`
	Config        RunConfig  `json:"config"`
	Stats         Stats      `json:"stats"`
	LastError     string     `json:"last_error,omitempty"`
}

type run struct {
	id            string
	orgID         string
	targetDonorID string
	status        Status
	cfg           RunConfig

	startedAt  time.Time
	lastTickAt time.Time
	pausedAt   time.Time
	resumedAt  time.Time
	stoppedAt  time.Time

	pool      []string
	stats     Stats
	lastError string

	timer *time.Timer
	// epoch changes on every arm and cancel; a tick carrying an older epoch is void.
	epoch uint64
	// tickMu serializes tick bodies for this run.
	tickMu sync.Mutex
}

func (r *run) active() bool {
	return r.status == StatusRunning || r.status == StatusPaused
}

// lastActivity is the most recent of start, resume and last tick.
func (r *run) lastActivity() time.Time {
	t := r.startedAt
	if r.lastTickAt.After(t) {
		t = r.lastTickAt
	}
	if r.resumedAt.After(t) {
		t = r.resumedAt
	}
	return t
}

func (r *run) snapshot() Snapshot {
	s := Snapshot{
		RunID:         r.id,
		OrgID:         r.orgID,
		TargetDonorID: r.targetDonorID,
		Status:        r.status,
		StartedAt:     r.startedAt,
		LastTickAt:    timePtr(r.lastTickAt),
		PausedAt:      timePtr(r.pausedAt),
		ResumedAt:     timePtr(r.resumedAt),
		StoppedAt:     timePtr(r.stoppedAt),
		DonorCount:    len(r.pool),
		DonorIDs:      append([]string(nil), r.pool...),
		Config:        r.cfg,
		Stats:         r.stats,
		LastError:     r.lastError,
	}
	s.Config.ActivityTypes = append([]ActivityToggle(nil), r.cfg.ActivityTypes...)
	if s.DonorIDs == nil {
		s.DonorIDs = []string{}
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
