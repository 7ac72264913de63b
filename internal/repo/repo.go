package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"donorline/internal/config"
	"donorline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertOrg(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO organizations(id,name,status,created_at) VALUES (?,?,?,?)`,
		o.ID, o.Name, o.Status, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

// ListOrgs returns all organizations, or only those the actor holds a role in.
func (r Repo) ListOrgs(ctx context.Context, actorID string) ([]domain.Organization, error) {
	query := `SELECT id,name,status,created_at FROM organizations ORDER BY created_at DESC, id`
	var args []any
	if actorID != "" {
		query = `SELECT DISTINCT o.id,o.name,o.status,o.created_at FROM organizations o
JOIN actor_roles ar ON ar.org_id=o.id WHERE ar.actor_id=? ORDER BY o.created_at DESC, o.id`
		args = append(args, actorID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) UpsertOrgConfig(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Organization.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO organization_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM organization_configs WHERE org_id=?`, orgID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Organization.ID == "" {
		cfg.Organization.ID = orgID
	}
	return &cfg, cfg.Validate()
}

// EventFilters narrows LatestEvents.
type EventFilters struct {
	OrgID      string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// LatestEvents returns events newest first, strictly before Cursor when set.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "ts", "type", "COALESCE(org_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json")
	sb.From("events")
	if f.OrgID != "" {
		sb.Where(sb.Equal("org_id", f.OrgID))
	}
	if f.Type != "" {
		sb.Where(sb.Equal("type", f.Type))
	}
	if f.EntityKind != "" {
		sb.Where(sb.Equal("entity_kind", f.EntityKind))
	}
	if f.EntityID != "" {
		sb.Where(sb.Equal("entity_id", f.EntityID))
	}
	if f.Cursor > 0 {
		sb.Where(sb.LessThan("id", f.Cursor))
	}
	sb.OrderBy("id DESC")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	query, args := sb.Build()
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "ts", "type", "COALESCE(org_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json")
	sb.From("events")
	if orgID != "" {
		sb.Where(sb.Equal("org_id", orgID))
	}
	if cursor > 0 {
		sb.Where(sb.GreaterThan("id", cursor))
	}
	sb.OrderBy("id ASC")
	sb.Limit(limit)
	query, args := sb.Build()
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrgID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for an organization, or
// across all organizations when orgID is empty.
func (r Repo) LatestEventID(ctx context.Context, orgID string) (int64, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COALESCE(MAX(id),0)").From("events")
	if orgID != "" {
		sb.Where(sb.Equal("org_id", orgID))
	}
	query, args := sb.Build()
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
