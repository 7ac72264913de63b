package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/engine/auth"
	"donorline/internal/events"
	"donorline/internal/logging"
	"donorline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, logger *zap.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Logger: logging.OrNop(logger),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

// withTx runs fn in a transaction, committing on success.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateOrganization inserts the org, seeds its default config and RBAC, and makes actorID its owner.
func (e Engine) CreateOrganization(ctx context.Context, orgID, name, actorID string) (domain.Organization, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return domain.Organization{}, errors.New("org id required")
	}
	if actorID == "" {
		return domain.Organization{}, errors.New("actor id required")
	}
	if name == "" {
		name = orgID
	}
	o := domain.Organization{ID: orgID, Name: name, Status: "active", CreatedAt: e.timestamp()}
	cfg := config.Default(orgID)
	cfg.Organization.Name = name
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertOrg(ctx, tx, o); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return fmt.Errorf("organization %s already exists", orgID)
			}
			return fmt.Errorf("insert organization: %w", err)
		}
		if err := e.Repo.UpsertOrgConfig(ctx, tx, orgID, cfg); err != nil {
			return fmt.Errorf("insert organization config: %w", err)
		}
		if err := e.bootstrapRBAC(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		if err := e.Repo.EnsureActor(ctx, tx, actorID, o.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, orgID, actorID, "owner"); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.OrgCreated, orgID, "organization", orgID, actorID, events.EventPayload{"name": name})
	})
	if err != nil {
		return domain.Organization{}, err
	}
	e.log().Info("organization created", zap.String("org_id", orgID), zap.String("actor_id", actorID))
	return o, nil
}

func (e Engine) bootstrapRBAC(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	roleIDs := make([]string, 0, len(cfg.RBAC.Roles))
	for id := range cfg.RBAC.Roles {
		roleIDs = append(roleIDs, id)
	}
	sort.Strings(roleIDs)
	for _, roleID := range roleIDs {
		role := cfg.RBAC.Roles[roleID]
		if err := e.Repo.InsertRole(ctx, tx, orgID, roleID, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", roleID, err)
		}
		if err := e.Repo.ClearRolePermissions(ctx, tx, orgID, roleID); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, orgID, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImportOrgConfig replaces an organization's config and re-seeds its roles.
func (e Engine) ImportOrgConfig(ctx context.Context, orgID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertOrgConfig(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		if err := e.bootstrapRBAC(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.OrgConfigUpdated, orgID, "organization", orgID, actorID,
			events.EventPayload{"roles": len(cfg.RBAC.Roles), "webhooks": len(cfg.Webhooks)})
	})
}

// OrgConfig returns the stored config, falling back to the default template.
func (e Engine) OrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	cfg, err := e.Repo.GetOrgConfig(ctx, orgID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(orgID), nil
	}
	return cfg, err
}

func (e Engine) GrantRole(ctx context.Context, orgID, targetActorID, roleID, actorID string) error {
	if targetActorID == "" || roleID == "" {
		return errors.New("actor and role required")
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := e.Repo.RoleExists(ctx, tx, orgID, roleID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("invalid role %s", roleID)
		}
		if err := e.Repo.EnsureActor(ctx, tx, targetActorID, e.timestamp()); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, orgID, targetActorID, roleID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleGranted, orgID, "actor", targetActorID, actorID, events.EventPayload{"role": roleID})
	})
}

// RevokeRole removes a role; the last owner of an organization cannot be revoked.
func (e Engine) RevokeRole(ctx context.Context, orgID, targetActorID, roleID, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if roleID == "owner" {
			n, err := e.Repo.CountRoleHolders(ctx, tx, orgID, roleID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return errors.New("invalid revoke: organization must keep one owner")
			}
		}
		ok, err := e.Repo.RevokeRole(ctx, tx, orgID, targetActorID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return repo.ErrNotFound
		}
		return e.Events.Append(ctx, tx, events.RoleRevoked, orgID, "actor", targetActorID, actorID, events.EventPayload{"role": roleID})
	})
}

func (e Engine) WhoAmI(ctx context.Context, orgID, actorID string) (domain.WhoAmI, error) {
	roles, err := e.Auth.ActorRoles(ctx, nil, orgID, actorID)
	if err != nil {
		return domain.WhoAmI{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, nil, orgID, actorID)
	if err != nil {
		return domain.WhoAmI{}, err
	}
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	return domain.WhoAmI{ActorID: actorID, OrgID: orgID, Roles: roles, Permissions: perms}, nil
}

// CreateAPIKey mints a key for actorID. The plaintext key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "dl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.timestamp(),
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID, events.EventPayload{"name": name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, actorID, keyID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, actorID, keyID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyRevoked, "", "api_key", keyID, actorID, nil)
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
