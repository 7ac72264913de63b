package donorlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   map[string]any
}

func stubServer(t *testing.T, status int, reply string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method, rec.path, rec.query, rec.header = r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		rec.body = nil
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/", "org 1")
	return c, rec
}

func TestStartSimulationSendsOptions(t *testing.T) {
	c, rec := stubServer(t, http.StatusOK, `{"success":true,"run_id":"r1","status":"running","config":{"donor_limit":5,"speed":3,"realism":0.5,"activity_types":[{"type":"DONATION","enabled":true}]},"message":"ok"}`)
	c.APIKey = "dl_abc"
	speed := 3
	res, err := c.StartSimulation(context.Background(), StartOptions{Speed: &speed, TargetDonorID: "d1"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v0/orgs/org 1/simulation/start", rec.path)
	assert.Equal(t, "dl_abc", rec.header.Get("X-Api-Key"))
	assert.Equal(t, map[string]any{"speed": float64(3), "target_donor_id": "d1"}, rec.body)
	assert.Equal(t, "r1", res.RunID)
	assert.Equal(t, 5, res.Config.DonorLimit)
	assert.Equal(t, []ActivityToggle{{Type: "DONATION", Enabled: true}}, res.Config.ActivityTypes)
}

func TestPauseWithoutRunIsNotAnError(t *testing.T) {
	c, rec := stubServer(t, http.StatusOK, `{"success":false,"timestamp":"2024-01-01T00:00:00Z","message":"No running simulation to pause"}`)
	c.BearerToken = "tok"
	res, err := c.PauseSimulation(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Bearer tok", rec.header.Get("Authorization"))
	assert.Nil(t, rec.body)
}

func TestStatusAndStop(t *testing.T) {
	c, rec := stubServer(t, http.StatusOK, `{"success":true,"runs":[{"run_id":"r1","status":"paused","donor_ids":["a","b"],"donor_count":2,"stats":{"ticks":4}}],"count":1}`)
	c.ActorID = "ann"
	st, err := c.SimulationStatus(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "run_id=r1", rec.query)
	assert.Equal(t, "ann", rec.header.Get("X-Actor-Id"))
	require.Len(t, st.Runs, 1)
	assert.Equal(t, 4, st.Runs[0].Stats.Ticks)

	_, err = c.StopSimulation(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "/v0/orgs/org 1/simulation/stop", rec.path)
	assert.Equal(t, map[string]any{"run_id": "r1"}, rec.body)
}

func TestListOptionsBuildQuery(t *testing.T) {
	c, rec := stubServer(t, http.StatusOK, `{"items":[{"id":"a1","type":"MEETING","title":"Coffee"}],"next_cursor":"ts|a1"}`)
	page, err := c.Activities(context.Background(), ListOptions{Limit: 10, Cursor: "x|y", Filters: map[string]string{"type": "MEETING", "donor_id": ""}})
	require.NoError(t, err)
	assert.Equal(t, "/v0/orgs/org 1/activities", rec.path)
	assert.Equal(t, "cursor=x%7Cy&limit=10&type=MEETING", rec.query)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ts|a1", page.NextCursor)
}

func TestAPIErrorDecodesEnvelope(t *testing.T) {
	c, _ := stubServer(t, http.StatusNotFound, `{"error":{"code":"not_found","message":"target donor x: not found"}}`)
	_, err := c.CreateDonor(context.Background(), Donor{FirstName: "A", LastName: "B"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "target donor x")
}
