package persona

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"donorline/internal/domain"
)

// Brief is a fundraiser-facing summary of one donor.
type Brief struct {
	DonorID           string          `json:"donor_id"`
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	RelationshipStage string          `json:"relationship_stage"`
	GiftCount         int             `json:"gift_count"`
	TotalGiven        decimal.Decimal `json:"total_given"`
	LargestGift       decimal.Decimal `json:"largest_gift"`
	AverageGift       decimal.Decimal `json:"average_gift"`
	FirstGiftAt       string          `json:"first_gift_at,omitempty"`
	LastGiftAt        string          `json:"last_gift_at,omitempty"`
	DaysSinceLastGift *int            `json:"days_since_last_gift,omitempty"`
	LastContactAt     string          `json:"last_contact_at,omitempty"`
	LastContact       string          `json:"last_contact,omitempty"`
	Interests         []string        `json:"interests"`
	SuggestedAsk      decimal.Decimal `json:"suggested_ask"`
	NextStep          string          `json:"next_step"`
	Summary           string          `json:"summary"`
}

var (
	minAsk      = decimal.NewFromInt(100)
	askStep     = decimal.NewFromInt(25)
	askUplift   = decimal.RequireFromString("1.5")
	lapsedAfter = 365
)

// BuildBrief summarizes completed donations and the latest non-gift activity.
// now anchors the days-since-last-gift figure.
func BuildBrief(d domain.Donor, donations []domain.Donation, activities []domain.Activity, now time.Time) Brief {
	b := Brief{
		DonorID:           d.ID,
		Name:              d.FullName(),
		Status:            d.Status,
		RelationshipStage: d.RelationshipStage,
		TotalGiven:        decimal.Zero,
		LargestGift:       decimal.Zero,
		AverageGift:       decimal.Zero,
		Interests:         interests(d),
	}
	if b.Interests == nil {
		b.Interests = []string{}
	}

	var dates []string
	for _, g := range donations {
		if g.Status != "COMPLETED" {
			continue
		}
		b.GiftCount++
		b.TotalGiven = b.TotalGiven.Add(g.Amount)
		if g.Amount.GreaterThan(b.LargestGift) {
			b.LargestGift = g.Amount
		}
		if g.Date != "" {
			dates = append(dates, g.Date)
		}
	}
	if b.GiftCount > 0 {
		b.AverageGift = b.TotalGiven.Div(decimal.NewFromInt(int64(b.GiftCount))).Round(2)
	}
	if len(dates) > 0 {
		sort.Strings(dates)
		b.FirstGiftAt, b.LastGiftAt = dates[0], dates[len(dates)-1]
		if last, err := time.Parse(time.DateOnly, b.LastGiftAt); err == nil {
			days := int(now.Sub(last).Hours() / 24)
			b.DaysSinceLastGift = &days
		}
	}

	for _, a := range activities {
		if a.Type == domain.ActivityDonation {
			continue
		}
		if a.CreatedAt > b.LastContactAt {
			b.LastContactAt = a.CreatedAt
			b.LastContact = a.Title
		}
	}

	b.SuggestedAsk = suggestedAsk(b.LargestGift)
	b.NextStep = nextStep(b)
	b.Summary = summary(b)
	return b
}

// suggestedAsk is 1.5x the largest gift rounded up to $25, never under $100.
func suggestedAsk(largest decimal.Decimal) decimal.Decimal {
	ask := largest.Mul(askUplift).Div(askStep).Ceil().Mul(askStep)
	if ask.LessThan(minAsk) {
		return minAsk
	}
	return ask
}

func nextStep(b Brief) string {
	lapsed := b.DaysSinceLastGift != nil && *b.DaysSinceLastGift > lapsedAfter
	switch {
	case b.Status == domain.DonorStatusInactive:
		return "Confirm contact details before any outreach"
	case lapsed || b.Status == domain.DonorStatusLapsed || b.Status == domain.DonorStatusLYBUNT || b.Status == domain.DonorStatusSYBUNT:
		return fmt.Sprintf("Re-engage with a personal note and a $%s renewal ask", b.SuggestedAsk.StringFixed(0))
	}
	switch b.RelationshipStage {
	case domain.StageCultivation:
		return "Invite to a site visit or program event"
	case domain.StageAskReady:
		return fmt.Sprintf("Schedule an ask meeting for $%s", b.SuggestedAsk.StringFixed(0))
	case domain.StageStewardship:
		return "Send an impact report and make a thank-you call"
	default:
		return "Send a welcome note and learn their interests"
	}
}

func summary(b Brief) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s is a %s donor in the %s stage.", b.Name, strings.ToLower(b.Status), strings.ToLower(strings.ReplaceAll(b.RelationshipStage, "_", " ")))
	if b.GiftCount == 0 {
		sb.WriteString(" No completed gifts yet.")
	} else {
		fmt.Fprintf(&sb, " %d gift(s) totaling $%s, largest $%s, most recent %s.",
			b.GiftCount, b.TotalGiven.StringFixed(2), b.LargestGift.StringFixed(2), b.LastGiftAt)
	}
	if b.LastContact != "" {
		fmt.Fprintf(&sb, " Last contact: %s.", b.LastContact)
	}
	if len(b.Interests) > 0 {
		fmt.Fprintf(&sb, " Interested in %s.", strings.Join(b.Interests, ", "))
	}
	return sb.String()
}
