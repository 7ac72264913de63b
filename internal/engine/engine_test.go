package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorline/internal/db"
	"donorline/internal/domain"
	"donorline/internal/engine"
	"donorline/internal/engine/auth"
	"donorline/internal/events"
	"donorline/internal/migrate"
	"donorline/internal/repo"
	"donorline/internal/simulation"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	_, err = eng.CreateOrganization(ctx, "org-1", "Test Org", "tester")
	require.NoError(t, err, "create org")
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) donor(t *testing.T, first, stage string) domain.Donor {
	t.Helper()
	d, err := env.Engine.CreateDonor(env.Ctx, "org-1", engine.DonorInput{
		FirstName: first, LastName: "Doe", Email: first + "@example.org", RelationshipStage: stage,
	}, "tester")
	require.NoError(t, err)
	return d
}

func TestCreateOrganizationBootstrapsOwner(t *testing.T) {
	env := newTestEnv(t)
	who, err := env.Engine.WhoAmI(env.Ctx, "org-1", "tester")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, who.Roles)
	assert.Contains(t, who.Permissions, "simulation.run")

	_, err = env.Engine.CreateOrganization(env.Ctx, "org-1", "again", "tester")
	require.Error(t, err)

	orgs, err := env.Engine.Repo.ListOrgs(env.Ctx, "tester")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Test Org", orgs[0].Name)
}

func TestCreateDonorValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateDonor(env.Ctx, "org-1", engine.DonorInput{FirstName: "Ann", Email: "not-an-email"}, "tester")
	var invalid engine.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Fields, "last_name")
	assert.Contains(t, invalid.Fields, "email")

	_, err = env.Engine.CreateDonor(env.Ctx, "missing", engine.DonorInput{FirstName: "Ann", LastName: "Lee"}, "tester")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDonorLifecycle(t *testing.T) {
	env := newTestEnv(t)
	d := env.donor(t, "ann", "")
	assert.Equal(t, domain.DonorStatusActive, d.Status)
	assert.Equal(t, domain.StageNew, d.RelationshipStage)
	assert.True(t, d.LifetimeTotal.IsZero())

	stage := domain.StageCultivation
	updated, err := env.Engine.UpdateDonor(env.Ctx, "org-1", d.ID, engine.DonorPatch{RelationshipStage: &stage}, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCultivation, updated.RelationshipStage)

	got, err := env.Engine.GetDonor(env.Ctx, "org-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCultivation, got.RelationshipStage)

	_, err = env.Engine.GetDonor(env.Ctx, "org-2", d.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, env.Engine.DeleteDonor(env.Ctx, "org-1", d.ID, "tester"))
	require.ErrorIs(t, env.Engine.DeleteDonor(env.Ctx, "org-1", d.ID, "tester"), repo.ErrNotFound)
}

func TestListDonorsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.donor(t, "ann", domain.StageNew)
	env.donor(t, "bob", domain.StageAskReady)
	env.donor(t, "cat", domain.StageAskReady)

	all, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ready, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1", Stage: domain.StageAskReady})
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	found, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1", Query: "BOB"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].FirstName)

	page, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	last := page[1]
	rest, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1", Limit: 2, CursorCreatedAt: last.CreatedAt, CursorID: last.ID})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotContains(t, []string{page[0].ID, page[1].ID}, rest[0].ID)
}

func TestRecordDonationUpdatesLifetimeTotal(t *testing.T) {
	env := newTestEnv(t)
	d := env.donor(t, "ann", "")

	_, err := env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.RequireFromString("125.50"), Date: "2024-03-01"}, "tester")
	require.NoError(t, err)
	_, err = env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.RequireFromString("74.50"), Date: "2024-02-01"}, "tester")
	require.NoError(t, err)
	_, err = env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.NewFromInt(1000), Status: "PENDING"}, "tester")
	require.NoError(t, err)

	got, err := env.Engine.GetDonor(env.Ctx, "org-1", d.ID)
	require.NoError(t, err)
	assert.True(t, got.LifetimeTotal.Equal(decimal.NewFromInt(200)), got.LifetimeTotal.String())
	require.NotNil(t, got.LastGiftAt)
	assert.Equal(t, "2024-03-01", *got.LastGiftAt)

	gifts, err := env.Engine.ListDonations(env.Ctx, repo.DonationFilters{OrgID: "org-1", DonorID: d.ID})
	require.NoError(t, err)
	assert.Len(t, gifts, 3)
}

func TestRecordDonationRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	d := env.donor(t, "ann", "")

	_, err := env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.Zero}, "tester")
	require.ErrorContains(t, err, "invalid amount")

	_, err = env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: "nope", Amount: decimal.NewFromInt(5)}, "tester")
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, CampaignID: "nope", Amount: decimal.NewFromInt(5)}, "tester")
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.NewFromInt(5), PaymentMethod: "BITCOIN"}, "tester")
	var invalid engine.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestLogActivity(t *testing.T) {
	env := newTestEnv(t)
	d := env.donor(t, "ann", "")
	a, err := env.Engine.LogActivity(env.Ctx, "org-1", engine.ActivityInput{
		DonorID: d.ID, Type: domain.ActivityMeeting, Action: "coffee_meeting", Title: "Coffee",
		Metadata: map[string]any{"location": "downtown"},
	}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", a.Importance)

	list, err := env.Engine.ListActivities(env.Ctx, repo.ActivityFilters{OrgID: "org-1", DonorID: d.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "downtown", list[0].Metadata["location"])

	_, err = env.Engine.LogActivity(env.Ctx, "org-1", engine.ActivityInput{DonorID: d.ID, Type: "FAX", Action: "x", Title: "x"}, "tester")
	var invalid engine.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestCampaignTransitionsAndReport(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCampaign(env.Ctx, "org-1", engine.CampaignInput{Name: "Spring Appeal", Goal: decimal.NewFromInt(1000)}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "DRAFT", c.Status)

	_, err = env.Engine.SetCampaignStatus(env.Ctx, "org-1", c.ID, "COMPLETED", "tester")
	require.ErrorContains(t, err, "invalid campaign transition")
	c, err = env.Engine.SetCampaignStatus(env.Ctx, "org-1", c.ID, "ACTIVE", "tester")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", c.Status)

	ann := env.donor(t, "ann", domain.StageNew)
	bob := env.donor(t, "bob", domain.StageAskReady)
	gift := func(donorID, amount, status string) {
		t.Helper()
		_, err := env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{
			DonorID: donorID, CampaignID: c.ID, Amount: decimal.RequireFromString(amount), Status: status,
		}, "tester")
		require.NoError(t, err)
	}
	gift(ann.ID, "100", "")
	gift(ann.ID, "50", "")
	gift(bob.ID, "100", "")
	gift(bob.ID, "999", "REFUNDED")

	report, err := env.Engine.CampaignReport(env.Ctx, "org-1", c.ID)
	require.NoError(t, err)
	assert.True(t, report.TotalRaised.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 3, report.DonationCount)
	assert.Equal(t, 2, report.UniqueDonors)
	assert.True(t, report.AverageGift.Equal(decimal.RequireFromString("83.33")), report.AverageGift.String())
	assert.True(t, report.GoalProgress.Equal(decimal.NewFromInt(25)), report.GoalProgress.String())

	require.Len(t, report.Segments, 3)
	assert.Equal(t, "donor_status", report.Segments[0].Dimension)
	assert.Equal(t, 2, report.Segments[0].Donors)
	assert.Equal(t, "relationship_stage", report.Segments[1].Dimension)
	assert.Equal(t, domain.StageNew, report.Segments[1].Value)
	assert.True(t, report.Segments[1].Total.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, domain.StageAskReady, report.Segments[2].Value)
}

func TestCampaignTransitionAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCampaign(env.Ctx, "org-1", engine.CampaignInput{Name: "Year End", Goal: decimal.NewFromInt(500)}, "tester")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	moved := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.Engine.SetCampaignStatus(env.Ctx, "org-1", c.ID, "ACTIVE", "tester"); err == nil {
				mu.Lock()
				moved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, moved)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-1", Type: events.CampaignUpdated, EntityID: c.ID, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, evts, 1)

	got, err := env.Engine.Repo.GetCampaign(env.Ctx, "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", got.Status)
}

func TestRBACGrantRevoke(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.Engine.Auth.ActorHasPermission(env.Ctx, nil, "org-1", "alice", "donor.write")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.Engine.GrantRole(env.Ctx, "org-1", "alice", "viewer", "tester"))
	err = env.Engine.Auth.Require(env.Ctx, nil, "org-1", "alice", "donor.write")
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "donor.write", forbidden.Permission)
	require.NoError(t, env.Engine.Auth.Require(env.Ctx, nil, "org-1", "alice", "donor.read"))

	require.ErrorContains(t, env.Engine.GrantRole(env.Ctx, "org-1", "alice", "wizard", "tester"), "invalid role")
	require.ErrorContains(t, env.Engine.RevokeRole(env.Ctx, "org-1", "tester", "owner", "tester"), "one owner")

	require.NoError(t, env.Engine.RevokeRole(env.Ctx, "org-1", "alice", "viewer", "tester"))
	require.ErrorIs(t, env.Engine.RevokeRole(env.Ctx, "org-1", "alice", "viewer", "tester"), repo.ErrNotFound)
}

func TestRolesAreScopedPerOrganization(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrganization(env.Ctx, "org-2", "Other", "someone")
	require.NoError(t, err)
	ok, err := env.Engine.Auth.ActorHasPermission(env.Ctx, nil, "org-2", "tester", "donor.read")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg, err := env.Engine.OrgConfig(env.Ctx, "org-2")
	require.NoError(t, err)
	viewer := cfg.RBAC.Roles["viewer"]
	viewer.Permissions = append(viewer.Permissions, "donor.write")
	cfg.RBAC.Roles["viewer"] = viewer
	require.NoError(t, env.Engine.ImportOrgConfig(env.Ctx, "org-2", cfg, "someone"))

	require.NoError(t, env.Engine.GrantRole(env.Ctx, "org-1", "alice", "viewer", "tester"))
	ok, err = env.Engine.Auth.ActorHasPermission(env.Ctx, nil, "org-1", "alice", "donor.write")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "tester", "ci")
	require.NoError(t, err)
	assert.Regexp(t, `^dl_[0-9a-f]{48}$`, secret)

	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)

	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, "tester", key.ID))
	require.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, "tester", key.ID), repo.ErrNotFound)
}

func TestEventsAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	d := env.donor(t, "ann", "")
	_, err := env.Engine.RecordDonation(env.Ctx, "org-1", engine.DonationInput{DonorID: d.ID, Amount: decimal.NewFromInt(10)}, "tester")
	require.NoError(t, err)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-1", Limit: 10})
	require.NoError(t, err)
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{events.OrgCreated, events.DonorCreated, events.DonationRecorded} {
		assert.True(t, types[want], "missing event %s", want)
	}

	donorEvents, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-1", EntityKind: "donor", EntityID: d.ID})
	require.NoError(t, err)
	require.Len(t, donorEvents, 1)
	assert.Equal(t, "tester", donorEvents[0].ActorID)
}

func TestSimulationStorePersistsWithEvents(t *testing.T) {
	env := newTestEnv(t)
	store := engine.SimulationStore{Engine: env.Engine}
	fab := simulation.DonorFabricator{Rand: simulation.NewRand(1)}

	d, err := store.CreateDonor(env.Ctx, fab.Generate("org-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.True(t, d.IsSimulated)

	acts := simulation.ActivityFabricator{Rand: simulation.NewRand(1)}
	a, err := store.CreateActivity(env.Ctx, acts.Generate("org-1", d.ID, domain.ActivityDonation, 1))
	require.NoError(t, err)
	require.NotNil(t, a.Amount)

	_, err = store.CreateDonation(env.Ctx, domain.Donation{
		OrgID: "org-1", DonorID: d.ID, Amount: *a.Amount, PaymentMethod: "CREDIT_CARD", Status: "COMPLETED", Type: "ONE_TIME",
	})
	require.NoError(t, err)

	got, err := env.Engine.GetDonor(env.Ctx, "org-1", d.ID)
	require.NoError(t, err)
	assert.True(t, got.LifetimeTotal.Equal(*a.Amount))

	simulated := true
	donors, err := env.Engine.ListDonors(env.Ctx, repo.DonorFilters{OrgID: "org-1", Simulated: &simulated})
	require.NoError(t, err)
	assert.Len(t, donors, 1)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-1", Type: events.ActivityLogged})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, engine.SimulationActor, evts[0].ActorID)
	assert.Contains(t, evts[0].Payload, `"simulated":true`)

	_, err = store.CreateActivity(env.Ctx, acts.Generate("org-1", "missing", domain.ActivityTask, 1))
	require.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestSimulationRunAgainstDatabase(t *testing.T) {
	env := newTestEnv(t)
	reg := simulation.NewRegistry(engine.SimulationStore{Engine: env.Engine}, simulation.Options{
		BaseInterval: time.Hour, MinInterval: time.Hour, Seed: 11,
	})
	t.Cleanup(func() { require.NoError(t, reg.Close(context.Background())) })

	_, err := reg.Start(env.Ctx, "org-1", "", simulation.RunConfig{DonorLimit: 3, Realism: 1,
		ActivityTypes: []simulation.ActivityToggle{{Type: domain.ActivityDonation, Enabled: true}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		runs := reg.Status("org-1", "")
		return len(runs) == 1 && runs[0].Stats.Ticks == 1
	}, 5*time.Second, 10*time.Millisecond)

	n, err := env.Engine.Repo.CountDonors(env.Ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	gifts, err := env.Engine.ListDonations(env.Ctx, repo.DonationFilters{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, gifts, 1)
	assert.True(t, gifts[0].IsSimulated)
}
