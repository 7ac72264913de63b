package engine

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
	"donorline/internal/events"
)

type CampaignInput struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Goal      decimal.Decimal `json:"goal" validate:"-"`
	Status    string          `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE COMPLETED"`
	StartDate string          `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func (e Engine) CreateCampaign(ctx context.Context, orgID string, in CampaignInput, actorID string) (domain.Campaign, error) {
	if err := validateInput(in); err != nil {
		return domain.Campaign{}, err
	}
	if in.Goal.IsNegative() {
		return domain.Campaign{}, errors.New("invalid goal: must not be negative")
	}
	if in.StartDate != "" && in.EndDate != "" && in.EndDate < in.StartDate {
		return domain.Campaign{}, errors.New("invalid dates: end_date before start_date")
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return domain.Campaign{}, err
	}
	c := domain.Campaign{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      in.Name,
		Goal:      in.Goal.Round(2),
		Status:    defaultString(in.Status, "DRAFT"),
		StartDate: optionalString(in.StartDate),
		EndDate:   optionalString(in.EndDate),
		CreatedAt: e.timestamp(),
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCampaign(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.CampaignCreated, orgID, "campaign", c.ID, actorID, events.EventPayload{
			"name": c.Name, "goal": c.Goal.StringFixed(2), "status": c.Status,
		})
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

var campaignTransitions = map[string][]string{
	"DRAFT":     {"ACTIVE"},
	"ACTIVE":    {"COMPLETED"},
	"COMPLETED": {},
}

// SetCampaignStatus moves a campaign DRAFT -> ACTIVE -> COMPLETED.
func (e Engine) SetCampaignStatus(ctx context.Context, orgID, id, status, actorID string) (domain.Campaign, error) {
	var c domain.Campaign
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = e.Repo.GetCampaignTx(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if !slices.Contains(campaignTransitions[c.Status], status) {
			return errors.New("invalid campaign transition " + c.Status + " -> " + status)
		}
		moved, err := e.Repo.UpdateCampaignStatus(ctx, tx, orgID, id, c.Status, status)
		if err != nil {
			return err
		}
		if !moved {
			return errors.New("invalid campaign transition: status changed concurrently")
		}
		return e.Events.Append(ctx, tx, events.CampaignUpdated, orgID, "campaign", id, actorID, events.EventPayload{"from": c.Status, "to": status})
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	c.Status = status
	return c, nil
}

func (e Engine) ListCampaigns(ctx context.Context, orgID, status string) ([]domain.Campaign, error) {
	return e.Repo.ListCampaigns(ctx, orgID, status)
}

// CampaignReport aggregates completed gifts for a campaign and segments them by
// relationship stage and donor status.
func (e Engine) CampaignReport(ctx context.Context, orgID, id string) (domain.CampaignReport, error) {
	c, err := e.Repo.GetCampaign(ctx, orgID, id)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	gifts, err := e.Repo.CampaignGifts(ctx, orgID, id)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	report := domain.CampaignReport{
		Campaign:     c,
		TotalRaised:  decimal.Zero,
		AverageGift:  decimal.Zero,
		GoalProgress: decimal.Zero,
		Segments:     []domain.CampaignSegment{},
	}
	type segKey struct{ dim, val string }
	totals := map[segKey]decimal.Decimal{}
	donors := map[segKey]map[string]bool{}
	unique := map[string]bool{}
	add := func(k segKey, donorID string, amt decimal.Decimal) {
		totals[k] = totals[k].Add(amt)
		if donors[k] == nil {
			donors[k] = map[string]bool{}
		}
		donors[k][donorID] = true
	}
	for _, g := range gifts {
		report.TotalRaised = report.TotalRaised.Add(g.Donation.Amount)
		report.DonationCount++
		unique[g.Donation.DonorID] = true
		add(segKey{"relationship_stage", g.RelationshipStage}, g.Donation.DonorID, g.Donation.Amount)
		add(segKey{"donor_status", g.DonorStatus}, g.Donation.DonorID, g.Donation.Amount)
	}
	report.UniqueDonors = len(unique)
	if report.DonationCount > 0 {
		report.AverageGift = report.TotalRaised.Div(decimal.NewFromInt(int64(report.DonationCount))).Round(2)
	}
	if c.Goal.IsPositive() {
		report.GoalProgress = report.TotalRaised.Div(c.Goal).Mul(decimal.NewFromInt(100)).Round(1)
	}
	for k, total := range totals {
		report.Segments = append(report.Segments, domain.CampaignSegment{
			Dimension: k.dim,
			Value:     k.val,
			Donors:    len(donors[k]),
			Total:     total,
		})
	}
	sort.Slice(report.Segments, func(i, j int) bool {
		a, b := report.Segments[i], report.Segments[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Value < b.Value
	})
	return report, nil
}
