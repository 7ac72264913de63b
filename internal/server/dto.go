package server

import (
	"fmt"

	"github.com/shopspring/decimal"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/engine"
	"donorline/internal/persona"
	"donorline/internal/simulation"
)

// Request payloads

type CreateOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml" doc:"donorline.yml contents"`
}

type CreateDonorRequest struct {
	FirstName         string         `json:"first_name"`
	LastName          string         `json:"last_name"`
	Email             string         `json:"email,omitempty"`
	Phone             string         `json:"phone,omitempty"`
	Status            string         `json:"status,omitempty" enum:"ACTIVE,LYBUNT,SYBUNT,LAPSED,INACTIVE"`
	PreferredContact  string         `json:"preferred_contact,omitempty" enum:"EMAIL,PHONE,MAIL"`
	RelationshipStage string         `json:"relationship_stage,omitempty" enum:"NEW,CULTIVATION,ASK_READY,STEWARDSHIP"`
	Notes             string         `json:"notes,omitempty"`
	PersonalNotes     map[string]any `json:"personal_notes,omitempty"`
}

func (r CreateDonorRequest) input() engine.DonorInput {
	return engine.DonorInput{
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Email:             r.Email,
		Phone:             r.Phone,
		Status:            r.Status,
		PreferredContact:  r.PreferredContact,
		RelationshipStage: r.RelationshipStage,
		Notes:             r.Notes,
		PersonalNotes:     r.PersonalNotes,
	}
}

type UpdateDonorRequest struct {
	FirstName         *string        `json:"first_name,omitempty"`
	LastName          *string        `json:"last_name,omitempty"`
	Email             *string        `json:"email,omitempty"`
	Phone             *string        `json:"phone,omitempty"`
	Status            *string        `json:"status,omitempty" enum:"ACTIVE,LYBUNT,SYBUNT,LAPSED,INACTIVE"`
	PreferredContact  *string        `json:"preferred_contact,omitempty" enum:"EMAIL,PHONE,MAIL"`
	RelationshipStage *string        `json:"relationship_stage,omitempty" enum:"NEW,CULTIVATION,ASK_READY,STEWARDSHIP"`
	Notes             *string        `json:"notes,omitempty"`
	PersonalNotes     map[string]any `json:"personal_notes,omitempty"`
}

func (r UpdateDonorRequest) patch() engine.DonorPatch {
	return engine.DonorPatch{
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Email:             r.Email,
		Phone:             r.Phone,
		Status:            r.Status,
		PreferredContact:  r.PreferredContact,
		RelationshipStage: r.RelationshipStage,
		Notes:             r.Notes,
		PersonalNotes:     r.PersonalNotes,
	}
}

type CreateDonationRequest struct {
	DonorID       string `json:"donor_id"`
	CampaignID    string `json:"campaign_id,omitempty"`
	Amount        string `json:"amount" example:"125.50"`
	Date          string `json:"date,omitempty" example:"2024-03-01"`
	PaymentMethod string `json:"payment_method,omitempty" enum:"CREDIT_CARD,CHECK,CASH,ACH,STOCK,OTHER"`
	Status        string `json:"status,omitempty" enum:"COMPLETED,PENDING,REFUNDED"`
	Type          string `json:"type,omitempty" enum:"ONE_TIME,RECURRING,PLEDGE,IN_KIND"`
}

func (r CreateDonationRequest) input() (engine.DonationInput, error) {
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return engine.DonationInput{}, err
	}
	return engine.DonationInput{
		DonorID:       r.DonorID,
		CampaignID:    r.CampaignID,
		Amount:        amount,
		Date:          r.Date,
		PaymentMethod: r.PaymentMethod,
		Status:        r.Status,
		Type:          r.Type,
	}, nil
}

type LogActivityRequest struct {
	DonorID     string         `json:"donor_id"`
	Type        string         `json:"type" enum:"DONATION,COMMUNICATION,MEETING,TASK"`
	Action      string         `json:"action"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Amount      string         `json:"amount,omitempty" example:"50.00"`
	Importance  string         `json:"importance,omitempty" enum:"LOW,NORMAL,HIGH"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r LogActivityRequest) input() (engine.ActivityInput, error) {
	in := engine.ActivityInput{
		DonorID:     r.DonorID,
		Type:        r.Type,
		Action:      r.Action,
		Title:       r.Title,
		Description: r.Description,
		Importance:  r.Importance,
		Metadata:    r.Metadata,
	}
	if r.Amount != "" {
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return engine.ActivityInput{}, err
		}
		in.Amount = &amount
	}
	return in, nil
}

type CreateCampaignRequest struct {
	Name      string `json:"name"`
	Goal      string `json:"goal" example:"10000"`
	Status    string `json:"status,omitempty" enum:"DRAFT,ACTIVE,COMPLETED"`
	StartDate string `json:"start_date,omitempty" example:"2024-01-01"`
	EndDate   string `json:"end_date,omitempty" example:"2024-12-31"`
}

func (r CreateCampaignRequest) input() (engine.CampaignInput, error) {
	goal := decimal.Zero
	if r.Goal != "" {
		var err error
		if goal, err = parseAmount(r.Goal); err != nil {
			return engine.CampaignInput{}, err
		}
	}
	return engine.CampaignInput{
		Name:      r.Name,
		Goal:      goal,
		Status:    r.Status,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}, nil
}

type SetCampaignStatusRequest struct {
	Status string `json:"status" enum:"DRAFT,ACTIVE,COMPLETED"`
}

type PersonaRequest struct {
	Message string         `json:"message"`
	History []persona.Turn `json:"history,omitempty"`
}

type RoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// StartSimulationRequest leaves fields nil to take the organization's defaults.
type StartSimulationRequest struct {
	TargetDonorID string                      `json:"target_donor_id,omitempty"`
	DonorLimit    *int                        `json:"donor_limit,omitempty" minimum:"1" maximum:"1000"`
	Speed         *int                        `json:"speed,omitempty" doc:"1-10, clamped"`
	ActivityTypes []simulation.ActivityToggle `json:"activity_types,omitempty"`
	Realism       *float64                    `json:"realism,omitempty" doc:"0.1-1.0, clamped"`
}

type StopSimulationRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// Response payloads

type APIKeyCreated struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret" doc:"shown once"`
}

type DevLoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at" format:"date-time"`
}

type StartSimulationResponse struct {
	Success bool                 `json:"success"`
	RunID   string               `json:"run_id"`
	Status  simulation.Status    `json:"status"`
	Config  simulation.RunConfig `json:"config"`
	Message string               `json:"message"`
}

type StopSimulationResponse struct {
	Success      bool   `json:"success"`
	StoppedCount int    `json:"stopped_count"`
	Message      string `json:"message"`
}

type SimulationStateResponse struct {
	Success   bool              `json:"success"`
	Status    simulation.Status `json:"status,omitempty"`
	Timestamp string            `json:"timestamp" format:"date-time"`
	Message   string            `json:"message"`
}

type SimulationStatusResponse struct {
	Success bool                  `json:"success"`
	Runs    []simulation.Snapshot `json:"runs"`
	Count   int                   `json:"count"`
}

type PersonaResponse struct {
	DonorID string         `json:"donor_id"`
	Reply   persona.Reply  `json:"reply"`
	History []persona.Turn `json:"history"`
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

type paginatedDonors struct {
	Items      []domain.Donor `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedDonations struct {
	Items      []domain.Donation `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedActivities struct {
	Items      []domain.Activity `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type OrgConfigResponse struct {
	OrgID  string         `json:"org_id"`
	Config *config.Config `json:"config"`
	YAML   string         `json:"yaml"`
}
