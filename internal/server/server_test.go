package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorline/internal/db"
	"donorline/internal/domain"
	"donorline/internal/engine"
	"donorline/internal/migrate"
	"donorline/internal/simulation"
)

const (
	testOrg    = "org-1"
	testSecret = "test-secret"
)

var asTester = map[string]string{"X-Actor-Id": "tester"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")

	e := engine.New(conn, nil)
	_, err = e.CreateOrganization(context.Background(), testOrg, "Test Org", "tester")
	require.NoError(t, err, "create org")

	promReg := prometheus.NewRegistry()
	reg := simulation.NewRegistry(engine.SimulationStore{Engine: e}, simulation.Options{
		BaseInterval: time.Hour,
		MinInterval:  time.Hour,
		Seed:         7,
		Metrics:      simulation.NewMetrics(promReg),
	})
	t.Cleanup(func() { reg.Close(context.Background()) })

	handler, err := New(Config{
		Engine:     e,
		Simulation: reg,
		Metrics:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		BasePath:   "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			AllowDevLogin:          true,
		},
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v0", Engine: e, client: &http.Client{}}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

// call decodes the response into out when out is non-nil and asserts the status.
func call(t *testing.T, srv *testServer, method, path string, body any, headers map[string]string, wantStatus int, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+path, body, headers)
	require.Equal(t, wantStatus, res.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	call(t, srv, http.MethodGet, "/health", nil, nil, http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	var env errorEnvelope
	call(t, srv, http.MethodGet, "/orgs/"+testOrg+"/donors", nil, nil, http.StatusUnauthorized, &env)
	assert.Equal(t, "unauthorized", env.Error.Code)

	call(t, srv, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, &env)
	assert.Equal(t, "invalid_credentials", env.Error.Code)
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv := newTestServer(t)
	var login DevLoginResponse
	call(t, srv, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "tester", "roles": []string{"owner"}}, nil, http.StatusOK, &login)
	require.NotEmpty(t, login.AccessToken)
	assert.Equal(t, "Bearer", login.TokenType)

	bearer := map[string]string{"Authorization": "Bearer " + login.AccessToken}
	var me domain.WhoAmI
	call(t, srv, http.MethodGet, "/me", nil, bearer, http.StatusOK, &me)
	assert.Equal(t, "tester", me.ActorID)
	assert.Equal(t, []string{"owner"}, me.Roles)

	call(t, srv, http.MethodGet, "/orgs/"+testOrg+"/donors", nil, bearer, http.StatusOK, nil)
}

func TestAPIKeyAuthenticates(t *testing.T) {
	srv := newTestServer(t)
	var created APIKeyCreated
	call(t, srv, http.MethodPost, "/me/api-keys", map[string]any{"name": "ci"}, asTester, http.StatusCreated, &created)
	require.True(t, strings.HasPrefix(created.Secret, "dl_"))

	var orgs []domain.Organization
	call(t, srv, http.MethodGet, "/orgs", nil, map[string]string{"X-Api-Key": created.Secret}, http.StatusOK, &orgs)
	require.Len(t, orgs, 1)
	assert.Equal(t, testOrg, orgs[0].ID)

	call(t, srv, http.MethodDelete, "/me/api-keys/"+created.Key.ID, nil, asTester, http.StatusNoContent, nil)
	call(t, srv, http.MethodGet, "/orgs", nil, map[string]string{"X-Api-Key": created.Secret}, http.StatusUnauthorized, nil)
}

func TestDonorCRUDAndPagination(t *testing.T) {
	srv := newTestServer(t)
	base := "/orgs/" + testOrg + "/donors"

	var env errorEnvelope
	call(t, srv, http.MethodPost, base, map[string]any{"first_name": "Ann", "last_name": "Lee", "email": "bad"}, asTester, http.StatusBadRequest, &env)
	assert.Equal(t, "invalid_input", env.Error.Code)
	assert.Equal(t, "email", env.Error.Details["email"])

	var ids []string
	for _, name := range []string{"Ann", "Ben", "Cal"} {
		var d domain.Donor
		call(t, srv, http.MethodPost, base, map[string]any{"first_name": name, "last_name": "Lee"}, asTester, http.StatusCreated, &d)
		assert.Equal(t, domain.DonorStatusActive, d.Status)
		ids = append(ids, d.ID)
	}

	var page paginatedDonors
	call(t, srv, http.MethodGet, base+"?limit=2", nil, asTester, http.StatusOK, &page)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	var rest paginatedDonors
	call(t, srv, http.MethodGet, base+"?limit=2&cursor="+page.NextCursor, nil, asTester, http.StatusOK, &rest)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)

	var found paginatedDonors
	call(t, srv, http.MethodGet, base+"?q=ben", nil, asTester, http.StatusOK, &found)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "Ben", found.Items[0].FirstName)

	var updated domain.Donor
	call(t, srv, http.MethodPatch, base+"/"+ids[0], map[string]any{"relationship_stage": "CULTIVATION"}, asTester, http.StatusOK, &updated)
	assert.Equal(t, domain.StageCultivation, updated.RelationshipStage)
	assert.Equal(t, "Ann", updated.FirstName)

	call(t, srv, http.MethodDelete, base+"/"+ids[0], nil, asTester, http.StatusNoContent, nil)
	call(t, srv, http.MethodGet, base+"/"+ids[0], nil, asTester, http.StatusNotFound, &env)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestViewerCannotWrite(t *testing.T) {
	srv := newTestServer(t)
	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/roles", map[string]any{"actor_id": "vic", "role": "viewer"}, asTester, http.StatusNoContent, nil)
	vic := map[string]string{"X-Actor-Id": "vic"}

	call(t, srv, http.MethodGet, "/orgs/"+testOrg+"/donors", nil, vic, http.StatusOK, nil)
	var env errorEnvelope
	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/donors", map[string]any{"first_name": "A", "last_name": "B"}, vic, http.StatusForbidden, &env)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "donor.write", env.Error.Details["permission"])

	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/simulation/start", map[string]any{}, vic, http.StatusForbidden, nil)

	var who domain.WhoAmI
	call(t, srv, http.MethodGet, "/orgs/"+testOrg+"/me/permissions", nil, vic, http.StatusOK, &who)
	assert.Equal(t, []string{"viewer"}, who.Roles)

	call(t, srv, http.MethodDelete, "/orgs/"+testOrg+"/roles/owner/actors/tester", nil, asTester, http.StatusBadRequest, nil)
}

func TestDonationUpdatesDonorAndFeed(t *testing.T) {
	srv := newTestServer(t)
	org := "/orgs/" + testOrg
	var d domain.Donor
	call(t, srv, http.MethodPost, org+"/donors", map[string]any{"first_name": "Ann", "last_name": "Lee"}, asTester, http.StatusCreated, &d)

	var env errorEnvelope
	call(t, srv, http.MethodPost, org+"/donations", map[string]any{"donor_id": d.ID, "amount": "abc"}, asTester, http.StatusBadRequest, &env)

	var gift domain.Donation
	call(t, srv, http.MethodPost, org+"/donations", map[string]any{"donor_id": d.ID, "amount": "125.50", "date": "2024-03-01"}, asTester, http.StatusCreated, &gift)
	assert.Equal(t, "COMPLETED", gift.Status)

	var got domain.Donor
	call(t, srv, http.MethodGet, org+"/donors/"+d.ID, nil, asTester, http.StatusOK, &got)
	assert.Equal(t, "125.5", got.LifetimeTotal.String())

	var act domain.Activity
	call(t, srv, http.MethodPost, org+"/activities", map[string]any{
		"donor_id": d.ID, "type": "MEETING", "action": "coffee", "title": "Coffee chat",
	}, asTester, http.StatusCreated, &act)
	var feed paginatedActivities
	call(t, srv, http.MethodGet, org+"/activities?type=MEETING", nil, asTester, http.StatusOK, &feed)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, act.ID, feed.Items[0].ID)

	var evts paginatedEvents
	call(t, srv, http.MethodGet, org+"/events?type=donation.recorded", nil, asTester, http.StatusOK, &evts)
	require.Len(t, evts.Items, 1)
	assert.Equal(t, gift.ID, evts.Items[0].EntityID)
}

func TestCampaignReportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	org := "/orgs/" + testOrg
	var c domain.Campaign
	call(t, srv, http.MethodPost, org+"/campaigns", map[string]any{"name": "Spring", "goal": "1000"}, asTester, http.StatusCreated, &c)
	assert.Equal(t, "DRAFT", c.Status)
	call(t, srv, http.MethodPost, org+"/campaigns/"+c.ID+"/status", map[string]any{"status": "ACTIVE"}, asTester, http.StatusOK, &c)
	assert.Equal(t, "ACTIVE", c.Status)

	var d domain.Donor
	call(t, srv, http.MethodPost, org+"/donors", map[string]any{"first_name": "Ann", "last_name": "Lee"}, asTester, http.StatusCreated, &d)
	call(t, srv, http.MethodPost, org+"/donations", map[string]any{"donor_id": d.ID, "campaign_id": c.ID, "amount": "250"}, asTester, http.StatusCreated, nil)

	var report domain.CampaignReport
	call(t, srv, http.MethodGet, org+"/campaigns/"+c.ID+"/report", nil, asTester, http.StatusOK, &report)
	assert.Equal(t, 1, report.DonationCount)
	assert.Equal(t, "250", report.TotalRaised.String())
	assert.Equal(t, "25", report.GoalProgress.String())
}

func TestPersonaAndBrief(t *testing.T) {
	srv := newTestServer(t)
	org := "/orgs/" + testOrg
	var d domain.Donor
	call(t, srv, http.MethodPost, org+"/donors", map[string]any{
		"first_name": "Ann", "last_name": "Lee", "relationship_stage": "ASK_READY",
		"personal_notes": map[string]any{"interests": []string{"literacy"}},
	}, asTester, http.StatusCreated, &d)
	call(t, srv, http.MethodPost, org+"/donations", map[string]any{"donor_id": d.ID, "amount": "200"}, asTester, http.StatusCreated, nil)

	var resp PersonaResponse
	call(t, srv, http.MethodPost, org+"/donors/"+d.ID+"/persona", map[string]any{"message": "Would you consider a gift?"}, asTester, http.StatusOK, &resp)
	assert.Equal(t, "ask", string(resp.Reply.Intent))
	assert.Equal(t, "engaged", resp.Reply.Tone)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "donor", resp.History[1].Role)

	call(t, srv, http.MethodPost, org+"/donors/missing/persona", map[string]any{"message": "hi"}, asTester, http.StatusNotFound, nil)

	var brief struct {
		GiftCount    int      `json:"gift_count"`
		SuggestedAsk string   `json:"suggested_ask"`
		NextStep     string   `json:"next_step"`
		Interests    []string `json:"interests"`
	}
	call(t, srv, http.MethodGet, org+"/donors/"+d.ID+"/brief", nil, asTester, http.StatusOK, &brief)
	assert.Equal(t, 1, brief.GiftCount)
	assert.Equal(t, "300", brief.SuggestedAsk)
	assert.Equal(t, "Schedule an ask meeting for $300", brief.NextStep)
	assert.Equal(t, []string{"literacy"}, brief.Interests)
}

func TestSimulationLifecycleEnvelope(t *testing.T) {
	srv := newTestServer(t)
	sim := "/orgs/" + testOrg + "/simulation"

	var state SimulationStateResponse
	call(t, srv, http.MethodPost, sim+"/pause", nil, asTester, http.StatusOK, &state)
	assert.False(t, state.Success)
	assert.NotEmpty(t, state.Message)

	var started StartSimulationResponse
	call(t, srv, http.MethodPost, sim+"/start", map[string]any{
		"donor_limit": 4,
		"speed":       99,
		"realism":     5,
		"activity_types": []map[string]any{
			{"type": "DONATION", "enabled": true},
			{"type": "TASK", "enabled": false},
		},
	}, asTester, http.StatusOK, &started)
	assert.True(t, started.Success)
	assert.Equal(t, simulation.StatusRunning, started.Status)
	assert.Equal(t, simulation.MaxSpeed, started.Config.Speed)
	assert.Equal(t, simulation.MaxRealism, started.Config.Realism)
	assert.Equal(t, 4, started.Config.DonorLimit)
	assert.Equal(t, []string{"DONATION"}, started.Config.EnabledTypes())

	var status SimulationStatusResponse
	call(t, srv, http.MethodGet, sim+"?run_id="+started.RunID, nil, asTester, http.StatusOK, &status)
	assert.True(t, status.Success)
	require.Equal(t, 1, status.Count)
	assert.Equal(t, started.RunID, status.Runs[0].RunID)

	call(t, srv, http.MethodPost, sim+"/pause", nil, asTester, http.StatusOK, &state)
	assert.True(t, state.Success)
	assert.Equal(t, simulation.StatusPaused, state.Status)
	call(t, srv, http.MethodPost, sim+"/resume", nil, asTester, http.StatusOK, &state)
	assert.True(t, state.Success)
	assert.Equal(t, simulation.StatusRunning, state.Status)

	var stopped StopSimulationResponse
	call(t, srv, http.MethodPost, sim+"/stop", map[string]any{}, asTester, http.StatusOK, &stopped)
	assert.True(t, stopped.Success)
	assert.Equal(t, 1, stopped.StoppedCount)

	call(t, srv, http.MethodGet, sim, nil, asTester, http.StatusOK, &status)
	assert.Zero(t, status.Count)
	assert.Empty(t, status.Runs)

	call(t, srv, http.MethodPost, sim+"/stop", map[string]any{"run_id": "unknown"}, asTester, http.StatusOK, &stopped)
	assert.Zero(t, stopped.StoppedCount)

	var evts paginatedEvents
	call(t, srv, http.MethodGet, "/orgs/"+testOrg+"/events?entity_kind=simulation", nil, asTester, http.StatusOK, &evts)
	require.Len(t, evts.Items, 2)
	assert.Equal(t, "simulation.stopped", evts.Items[0].Type)
	assert.Equal(t, "simulation.started", evts.Items[1].Type)
}

func TestSimulationStartDefaultsFromOrgConfig(t *testing.T) {
	srv := newTestServer(t)
	var started StartSimulationResponse
	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/simulation/start", map[string]any{}, asTester, http.StatusOK, &started)
	assert.Equal(t, 20, started.Config.DonorLimit)
	assert.Equal(t, 5, started.Config.Speed)
	assert.InDelta(t, 0.7, started.Config.Realism, 1e-9)
	assert.Len(t, started.Config.EnabledTypes(), 4)
}

func TestSimulationStartRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	sim := "/orgs/" + testOrg + "/simulation"

	var env errorEnvelope
	call(t, srv, http.MethodPost, sim+"/start", map[string]any{
		"activity_types": []map[string]any{{"type": "PHONE_BANK", "enabled": true}},
	}, asTester, http.StatusBadRequest, &env)
	assert.Equal(t, "invalid_config", env.Error.Code)

	call(t, srv, http.MethodPost, sim+"/start", map[string]any{"target_donor_id": "missing"}, asTester, http.StatusNotFound, &env)
	assert.Equal(t, "not_found", env.Error.Code)

	call(t, srv, http.MethodPost, "/orgs/nope/simulation/start", map[string]any{}, asTester, http.StatusNotFound, nil)

	var status SimulationStatusResponse
	call(t, srv, http.MethodGet, sim, nil, asTester, http.StatusOK, &status)
	assert.Zero(t, status.Count)
}

func TestOrgConfigImport(t *testing.T) {
	srv := newTestServer(t)
	path := "/orgs/" + testOrg + "/config"

	var cfg OrgConfigResponse
	call(t, srv, http.MethodGet, path, nil, asTester, http.StatusOK, &cfg)
	assert.Contains(t, cfg.YAML, "simulation:")

	yaml := strings.Replace(cfg.YAML, "speed: 5", "speed: 8", 1)
	call(t, srv, http.MethodPut, path, map[string]any{"yaml": yaml}, asTester, http.StatusOK, &cfg)
	assert.Equal(t, 8, cfg.Config.Simulation.Speed)

	var env errorEnvelope
	call(t, srv, http.MethodPut, path, map[string]any{"yaml": "organization: {id: other}"}, asTester, http.StatusBadRequest, &env)
	assert.Equal(t, "invalid_config", env.Error.Code)

	var started StartSimulationResponse
	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/simulation/start", map[string]any{}, asTester, http.StatusOK, &started)
	assert.Equal(t, 8, started.Config.Speed)
}

func TestMetricsMounted(t *testing.T) {
	srv := newTestServer(t)
	call(t, srv, http.MethodPost, "/orgs/"+testOrg+"/simulation/start", map[string]any{"donor_limit": 2}, asTester, http.StatusOK, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, strings.TrimSuffix(srv.URL, "/v0")+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "donorline_simulation_runs_started_total 1")
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv := newTestServer(t)
	var doc map[string]any
	call(t, srv, http.MethodGet, "/openapi.json", nil, nil, http.StatusOK, &doc)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/orgs/{org_id}/simulation/start")

	// org config and run config are distinct components
	components, ok := doc["components"].(map[string]any)
	require.True(t, ok)
	schemas, ok := components["schemas"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, schemas, "Config")
	assert.Contains(t, schemas, "RunConfig")
	assert.Contains(t, schemas, "Snapshot")
}
