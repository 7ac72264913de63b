package feed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/repo"
)

type memStore struct {
	mu      sync.Mutex
	events  []domain.Event
	configs map[string]*config.Config
}

func (s *memStore) add(orgID, typ string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.events) + 1)
	s.events = append(s.events, domain.Event{ID: id, OrgID: orgID, Type: typ, EntityKind: "donor", ActorID: "tester", Payload: `{"n":1}`})
	return id
}

func (s *memStore) EventsAfter(_ context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.ID > cursor && (orgID == "" || e.OrgID == orgID) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) LatestEventID(_ context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	for _, e := range s.events {
		if orgID == "" || e.OrgID == orgID {
			id = e.ID
		}
	}
	return id, nil
}

func (s *memStore) ListOrgs(context.Context, string) ([]domain.Organization, error) {
	var out []domain.Organization
	for id := range s.configs {
		out = append(out, domain.Organization{ID: id})
	}
	return out, nil
}

func (s *memStore) GetOrgConfig(_ context.Context, orgID string) (*config.Config, error) {
	cfg, ok := s.configs[orgID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cfg, nil
}

type received struct {
	header http.Header
	body   []byte
}

func hookServer(t *testing.T, fail *atomic.Bool) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func storeWithHook(url string, events ...string) *memStore {
	cfg := config.Default("org-1")
	cfg.Webhooks = []config.Webhook{{ID: "crm", URL: url, Secret: "s3cret", Events: events}}
	return &memStore{configs: map[string]*config.Config{"org-1": cfg}}
}

func TestWebhookDeliveryStartsAtLatest(t *testing.T) {
	srv, got := hookServer(t, nil)
	store := storeWithHook(srv.URL)
	store.add("org-1", "donor.created")

	d := NewDispatcher(store, Options{})
	ctx := context.Background()
	assert.Zero(t, d.DispatchOnce(ctx))
	assert.Empty(t, got())

	id := store.add("org-1", "donation.recorded")
	store.add("org-2", "donor.created")
	assert.Equal(t, 1, d.DispatchOnce(ctx))

	reqs := got()
	require.Len(t, reqs, 1)
	h := reqs[0].header
	assert.Equal(t, "donation.recorded", h.Get("X-Donorline-Event"))
	assert.Equal(t, "2", h.Get("X-Donorline-Delivery"))
	assert.Equal(t, "org-1", h.Get("X-Donorline-Org"))
	assert.Equal(t, "sha256="+Sign("s3cret", reqs[0].body), h.Get("X-Donorline-Signature"))

	var env Envelope
	require.NoError(t, json.Unmarshal(reqs[0].body, &env))
	assert.Equal(t, id, env.ID)
	assert.JSONEq(t, `{"n":1}`, string(env.Payload))

	cur, ok := d.Cursor("webhook:org-1:crm")
	require.True(t, ok)
	assert.Equal(t, id, cur)
}

func TestWebhookFailureRetriesNextPass(t *testing.T) {
	var fail atomic.Bool
	srv, got := hookServer(t, &fail)
	store := storeWithHook(srv.URL)
	d := NewDispatcher(store, Options{})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	store.add("org-1", "donor.created")
	store.add("org-1", "donor.updated")
	fail.Store(true)
	assert.Zero(t, d.DispatchOnce(ctx))
	cur, _ := d.Cursor("webhook:org-1:crm")
	assert.Zero(t, cur)

	fail.Store(false)
	assert.Equal(t, 2, d.DispatchOnce(ctx))
	require.Len(t, got(), 2)
	assert.Equal(t, "donor.created", got()[0].header.Get("X-Donorline-Event"))
}

func TestWebhookFilterAdvancesCursor(t *testing.T) {
	srv, got := hookServer(t, nil)
	store := storeWithHook(srv.URL, "donation.*")
	d := NewDispatcher(store, Options{})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	store.add("org-1", "donor.created")
	last := store.add("org-1", "donation.recorded")
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	require.Len(t, got(), 1)
	cur, _ := d.Cursor("webhook:org-1:crm")
	assert.Equal(t, last, cur)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkReceivesAllOrganizations(t *testing.T) {
	store := &memStore{configs: map[string]*config.Config{}}
	w := &fakeWriter{}
	sink := &KafkaSink{Writer: w, Topic: "donorline.events"}
	d := NewDispatcher(store, Options{Global: []Sink{sink}})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	store.add("org-1", "donor.created")
	store.add("org-2", "activity.logged")
	assert.Equal(t, 2, d.DispatchOnce(ctx))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "org-1", string(w.msgs[0].Key))
	assert.Equal(t, "org-2", string(w.msgs[1].Key))
	assert.Equal(t, "activity.logged", string(w.msgs[1].Headers[0].Value))
	require.NoError(t, sink.Close())
}

func TestNewEnvelopeKeepsInvalidPayloadRaw(t *testing.T) {
	env := NewEnvelope(domain.Event{ID: 3, Type: "x", Payload: "not json"})
	assert.JSONEq(t, `{}`, string(env.Payload))
	assert.Equal(t, "not json", env.PayloadRaw)
}
