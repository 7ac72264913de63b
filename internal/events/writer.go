package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	OrgCreated        = "org.created"
	OrgConfigUpdated  = "org.config_updated"
	DonorCreated      = "donor.created"
	DonorUpdated      = "donor.updated"
	DonorDeleted      = "donor.deleted"
	DonationRecorded  = "donation.recorded"
	ActivityLogged    = "activity.logged"
	CampaignCreated   = "campaign.created"
	CampaignUpdated   = "campaign.updated"
	RoleGranted       = "rbac.role_granted"
	RoleRevoked       = "rbac.role_revoked"
	APIKeyCreated     = "apikey.created"
	APIKeyRevoked     = "apikey.revoked"
	SimulationStarted = "simulation.started"
	SimulationStopped = "simulation.stopped"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside tx so the event commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, orgID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,org_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(orgID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
