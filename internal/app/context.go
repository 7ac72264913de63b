package app

import (
	"context"
	"errors"
	"fmt"

	"donorline/internal/config"
	"donorline/internal/engine"
	"donorline/internal/repo"
)

// ResolveOrgAndConfig picks the organization a local command acts on. It
// prefers the override, then the single organization actorID belongs to.
// An override naming a missing organization creates it with actorID as owner.
func ResolveOrgAndConfig(ctx context.Context, e engine.Engine, orgOverride, actorID string) (string, *config.Config, error) {
	orgID := orgOverride
	if orgID == "" {
		orgs, err := e.Repo.ListOrgs(ctx, actorID)
		if err != nil {
			return "", nil, err
		}
		switch len(orgs) {
		case 1:
			orgID = orgs[0].ID
		case 0:
			return "", nil, fmt.Errorf("no organization for actor %s; use --org", actorID)
		default:
			return "", nil, fmt.Errorf("actor %s belongs to %d organizations; use --org", actorID, len(orgs))
		}
	}

	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := e.CreateOrganization(ctx, orgID, "", actorID); err != nil {
			return "", nil, fmt.Errorf("create organization: %w", err)
		}
	}
	cfg, err := e.OrgConfig(ctx, orgID)
	if err != nil {
		return "", nil, err
	}
	cfg.Organization.ID = orgID
	return orgID, cfg, nil
}
