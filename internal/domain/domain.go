package domain

import "github.com/shopspring/decimal"

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Donor statuses.
const (
	DonorStatusActive   = "ACTIVE"
	DonorStatusLYBUNT   = "LYBUNT"
	DonorStatusSYBUNT   = "SYBUNT"
	DonorStatusLapsed   = "LAPSED"
	DonorStatusInactive = "INACTIVE"
)

// Contact preferences.
const (
	ContactEmail = "EMAIL"
	ContactPhone = "PHONE"
	ContactMail  = "MAIL"
)

// Relationship stages.
const (
	StageNew         = "NEW"
	StageCultivation = "CULTIVATION"
	StageAskReady    = "ASK_READY"
	StageStewardship = "STEWARDSHIP"
)

var (
	DonorStatuses       = []string{DonorStatusActive, DonorStatusLYBUNT, DonorStatusSYBUNT, DonorStatusLapsed, DonorStatusInactive}
	ContactPreferences  = []string{ContactEmail, ContactPhone, ContactMail}
	RelationshipStages  = []string{StageNew, StageCultivation, StageAskReady, StageStewardship}
	PaymentMethods      = []string{"CREDIT_CARD", "CHECK", "CASH", "ACH", "STOCK", "OTHER"}
	DonationStatuses    = []string{"COMPLETED", "PENDING", "REFUNDED"}
	DonationTypes       = []string{"ONE_TIME", "RECURRING", "PLEDGE", "IN_KIND"}
	CampaignStatuses    = []string{"DRAFT", "ACTIVE", "COMPLETED"}
	ActivityImportances = []string{"LOW", "NORMAL", "HIGH"}
)

type Donor struct {
	ID                string          `json:"id"`
	OrgID             string          `json:"org_id"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	Email             string          `json:"email,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	Status            string          `json:"status"`
	PreferredContact  string          `json:"preferred_contact"`
	RelationshipStage string          `json:"relationship_stage"`
	IsSimulated       bool            `json:"is_simulated"`
	Notes             string          `json:"notes,omitempty"`
	PersonalNotes     map[string]any  `json:"personal_notes,omitempty"`
	LifetimeTotal     decimal.Decimal `json:"lifetime_total"`
	LastGiftAt        *string         `json:"last_gift_at,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

// FullName joins first and last name.
func (d Donor) FullName() string {
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

type Donation struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	DonorID       string          `json:"donor_id"`
	CampaignID    *string         `json:"campaign_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	IsSimulated   bool            `json:"is_simulated"`
	CreatedAt     string          `json:"created_at"`
}

// Activity types.
const (
	ActivityDonation      = "DONATION"
	ActivityCommunication = "COMMUNICATION"
	ActivityMeeting       = "MEETING"
	ActivityTask          = "TASK"
)

var ActivityTypes = []string{ActivityDonation, ActivityCommunication, ActivityMeeting, ActivityTask}

type Activity struct {
	ID          string           `json:"id"`
	OrgID       string           `json:"org_id"`
	DonorID     string           `json:"donor_id"`
	Type        string           `json:"type"`
	Action      string           `json:"action"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Importance  string           `json:"importance"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

type Campaign struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Name      string          `json:"name"`
	Goal      decimal.Decimal `json:"goal"`
	Status    string          `json:"status"`
	StartDate *string         `json:"start_date,omitempty"`
	EndDate   *string         `json:"end_date,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// CampaignSegment aggregates donors sharing one attribute value.
type CampaignSegment struct {
	Dimension string          `json:"dimension"`
	Value     string          `json:"value"`
	Donors    int             `json:"donors"`
	Total     decimal.Decimal `json:"total"`
}

type CampaignReport struct {
	Campaign      Campaign          `json:"campaign"`
	TotalRaised   decimal.Decimal   `json:"total_raised"`
	DonationCount int               `json:"donation_count"`
	UniqueDonors  int               `json:"unique_donors"`
	AverageGift   decimal.Decimal   `json:"average_gift"`
	GoalProgress  decimal.Decimal   `json:"goal_progress_pct"`
	Segments      []CampaignSegment `json:"segments"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
