package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorline/internal/db"
	"donorline/internal/engine"
	"donorline/internal/migrate"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return engine.New(conn, nil)
}

func TestResolveOrgCreatesOverride(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	orgID, cfg, err := ResolveOrgAndConfig(ctx, e, "acme", "ann")
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID)
	assert.Equal(t, "acme", cfg.Organization.ID)
	assert.Equal(t, 20, cfg.Simulation.DonorLimit)

	who, err := e.WhoAmI(ctx, "acme", "ann")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, who.Roles)

	// second call reuses the organization
	_, _, err = ResolveOrgAndConfig(ctx, e, "acme", "ann")
	require.NoError(t, err)
}

func TestResolveOrgFromMembership(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, _, err := ResolveOrgAndConfig(ctx, e, "", "ann")
	require.Error(t, err)

	_, err = e.CreateOrganization(ctx, "acme", "Acme", "ann")
	require.NoError(t, err)
	orgID, _, err := ResolveOrgAndConfig(ctx, e, "", "ann")
	require.NoError(t, err)
	assert.Equal(t, "acme", orgID)

	_, err = e.CreateOrganization(ctx, "globex", "Globex", "ann")
	require.NoError(t, err)
	_, _, err = ResolveOrgAndConfig(ctx, e, "", "ann")
	assert.ErrorContains(t, err, "2 organizations")
}
