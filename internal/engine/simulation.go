package engine

import (
	"context"
	"database/sql"

	"donorline/internal/domain"
	"donorline/internal/events"
)

// SimulationActor is recorded as the actor on simulated records.
const SimulationActor = "simulator"

// SimulationStore persists simulated records through the same paths as manual
// writes, so every record lands with its audit event.
type SimulationStore struct {
	Engine  Engine
	ActorID string
}

func (s SimulationStore) actor() string {
	if s.ActorID == "" {
		return SimulationActor
	}
	return s.ActorID
}

func (s SimulationStore) CreateDonor(ctx context.Context, d domain.Donor) (domain.Donor, error) {
	d.IsSimulated = true
	return s.Engine.insertDonor(ctx, d, s.actor())
}

func (s SimulationStore) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	return s.Engine.insertActivity(ctx, a, s.actor())
}

func (s SimulationStore) CreateDonation(ctx context.Context, d domain.Donation) (domain.Donation, error) {
	d.IsSimulated = true
	return s.Engine.insertDonation(ctx, d, s.actor())
}

// RecordSimulationEvent appends a simulation lifecycle event for orgID.
func (e Engine) RecordSimulationEvent(ctx context.Context, evtType, orgID, runID, actorID string, payload events.EventPayload) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, evtType, orgID, "simulation", runID, actorID, payload)
	})
}
