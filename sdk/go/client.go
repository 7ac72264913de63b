package donorlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Donorline HTTP API client scoped to one organization.
type Client struct {
	BaseURL     string
	OrgID       string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credentials are set. Servers
	// accept it only in development mode.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// Donor represents the API donor model (partial).
type Donor struct {
	ID                string         `json:"id"`
	OrgID             string         `json:"org_id"`
	FirstName         string         `json:"first_name"`
	LastName          string         `json:"last_name"`
	Email             string         `json:"email,omitempty"`
	Phone             string         `json:"phone,omitempty"`
	Status            string         `json:"status,omitempty"`
	PreferredContact  string         `json:"preferred_contact,omitempty"`
	RelationshipStage string         `json:"relationship_stage,omitempty"`
	IsSimulated       bool           `json:"is_simulated,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	PersonalNotes     map[string]any `json:"personal_notes,omitempty"`
	LifetimeTotal     string         `json:"lifetime_total,omitempty"`
	LastGiftAt        string         `json:"last_gift_at,omitempty"`
	CreatedAt         string         `json:"created_at,omitempty"`
}

// Activity is one entry of the organization's activity feed.
type Activity struct {
	ID          string         `json:"id"`
	DonorID     string         `json:"donor_id"`
	Type        string         `json:"type"`
	Action      string         `json:"action"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Amount      string         `json:"amount,omitempty"`
	Importance  string         `json:"importance"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ActivityToggle struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// RunConfig is the effective configuration of a simulation run.
type RunConfig struct {
	DonorLimit    int              `json:"donor_limit"`
	Speed         int              `json:"speed"`
	ActivityTypes []ActivityToggle `json:"activity_types"`
	Realism       float64          `json:"realism"`
}

type RunStats struct {
	ActivitiesGenerated int `json:"activities_generated"`
	ActivitiesPersisted int `json:"activities_persisted"`
	DonationsGenerated  int `json:"donations_generated"`
	DonorsCreated       int `json:"donors_created"`
	Ticks               int `json:"ticks"`
}

// Run is a snapshot of a simulation run.
type Run struct {
	RunID         string    `json:"run_id"`
	OrgID         string    `json:"org_id"`
	TargetDonorID string    `json:"target_donor_id,omitempty"`
	Status        string    `json:"status"`
	StartedAt     string    `json:"started_at"`
	LastTickAt    string    `json:"last_tick_at,omitempty"`
	PausedAt      string    `json:"paused_at,omitempty"`
	ResumedAt     string    `json:"resumed_at,omitempty"`
	DonorCount    int       `json:"donor_count"`
	DonorIDs      []string  `json:"donor_ids"`
	Config        RunConfig `json:"config"`
	Stats         RunStats  `json:"stats"`
	LastError     string    `json:"last_error,omitempty"`
}

// StartOptions leave fields nil to take the organization's defaults.
type StartOptions struct {
	TargetDonorID string           `json:"target_donor_id,omitempty"`
	DonorLimit    *int             `json:"donor_limit,omitempty"`
	Speed         *int             `json:"speed,omitempty"`
	ActivityTypes []ActivityToggle `json:"activity_types,omitempty"`
	Realism       *float64         `json:"realism,omitempty"`
}

type StartResult struct {
	Success bool      `json:"success"`
	RunID   string    `json:"run_id"`
	Status  string    `json:"status"`
	Config  RunConfig `json:"config"`
	Message string    `json:"message"`
}

type StopResult struct {
	Success      bool   `json:"success"`
	StoppedCount int    `json:"stopped_count"`
	Message      string `json:"message"`
}

// StateResult answers pause and resume. Success is false when no run was eligible.
type StateResult struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type StatusResult struct {
	Success bool  `json:"success"`
	Runs    []Run `json:"runs"`
	Count   int   `json:"count"`
}

// ListOptions filter list calls. Zero values are omitted.
type ListOptions struct {
	Limit  int
	Cursor string
	// Filters are passed as query parameters, e.g. "status", "type", "donor_id".
	Filters map[string]string
}

type PaginatedDonors struct {
	Items      []Donor `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedActivities struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDonor creates a donor; ID and timestamps in d are ignored.
func (c *Client) CreateDonor(ctx context.Context, d Donor) (Donor, error) {
	body := map[string]any{
		"first_name": d.FirstName,
		"last_name":  d.LastName,
	}
	for k, v := range map[string]string{
		"email":              d.Email,
		"phone":              d.Phone,
		"status":             d.Status,
		"preferred_contact":  d.PreferredContact,
		"relationship_stage": d.RelationshipStage,
		"notes":              d.Notes,
	} {
		if v != "" {
			body[k] = v
		}
	}
	if len(d.PersonalNotes) > 0 {
		body["personal_notes"] = d.PersonalNotes
	}
	var resp Donor
	err := c.do(ctx, http.MethodPost, c.orgPath("donors"), body, &resp)
	return resp, err
}

// Donors returns one page of donors, newest first.
func (c *Client) Donors(ctx context.Context, opts ListOptions) (PaginatedDonors, error) {
	var resp PaginatedDonors
	err := c.do(ctx, http.MethodGet, c.orgPath("donors")+opts.query(), nil, &resp)
	return resp, err
}

// Activities returns one page of the activity feed, newest first.
func (c *Client) Activities(ctx context.Context, opts ListOptions) (PaginatedActivities, error) {
	var resp PaginatedActivities
	err := c.do(ctx, http.MethodGet, c.orgPath("activities")+opts.query(), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated audit event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, opts ListOptions) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, c.orgPath("events")+opts.query(), nil, &resp)
	return resp, err
}

// StartSimulation starts a run, replacing any active run of the organization.
func (c *Client) StartSimulation(ctx context.Context, opts StartOptions) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, c.orgPath("simulation/start"), opts, &resp)
	return resp, err
}

// StopSimulation stops runID, or every active run when runID is empty.
func (c *Client) StopSimulation(ctx context.Context, runID string) (StopResult, error) {
	var resp StopResult
	err := c.do(ctx, http.MethodPost, c.orgPath("simulation/stop"), map[string]string{"run_id": runID}, &resp)
	return resp, err
}

func (c *Client) PauseSimulation(ctx context.Context) (StateResult, error) {
	var resp StateResult
	err := c.do(ctx, http.MethodPost, c.orgPath("simulation/pause"), nil, &resp)
	return resp, err
}

func (c *Client) ResumeSimulation(ctx context.Context) (StateResult, error) {
	var resp StateResult
	err := c.do(ctx, http.MethodPost, c.orgPath("simulation/resume"), nil, &resp)
	return resp, err
}

// SimulationStatus lists the organization's active runs, or only runID when set.
func (c *Client) SimulationStatus(ctx context.Context, runID string) (StatusResult, error) {
	endpoint := c.orgPath("simulation")
	if runID != "" {
		endpoint += "?run_id=" + url.QueryEscape(runID)
	}
	var resp StatusResult
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", fmt.Sprint(o.Limit))
	}
	if o.Cursor != "" {
		q.Set("cursor", o.Cursor)
	}
	for k, v := range o.Filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orgPath(p string) string {
	org := url.PathEscape(c.OrgID)
	return fmt.Sprintf("v0/orgs/%s/%s", org, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
