package simulation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"donorline/internal/domain"
)

type actionSpec struct {
	action string
	title  string
	desc   string
}

var (
	donationActions = []actionSpec{
		{"online_gift", "Online gift received", "Gift submitted through the donation page"},
		{"event_gift", "Gift at event", "Gift made during a fundraising event"},
		{"appeal_response", "Appeal response", "Gift in response to the latest appeal"},
	}
	communicationActions = []actionSpec{
		{"email_sent", "Email sent", "Stewardship email sent"},
		{"email_opened", "Email opened", "Donor opened the most recent newsletter"},
		{"phone_call", "Phone call", "Check-in call with the donor"},
		{"thank_you_note", "Thank-you note", "Handwritten thank-you note mailed"},
		{"newsletter_clicked", "Newsletter click", "Donor clicked through the newsletter"},
	}
	meetingActions = []actionSpec{
		{"coffee_meeting", "Coffee meeting", "Informal meeting over coffee"},
		{"site_visit", "Site visit", "Donor toured program site"},
		{"virtual_meeting", "Virtual meeting", "Video call to discuss impact"},
		{"event_attended", "Event attended", "Donor attended a cultivation event"},
	}
	taskActions = []actionSpec{
		{"follow_up_call", "Follow-up call", "Schedule a follow-up call"},
		{"send_acknowledgment", "Send acknowledgment", "Send gift acknowledgment letter"},
		{"update_profile", "Update profile", "Review and update donor profile"},
		{"prepare_proposal", "Prepare proposal", "Draft a giving proposal"},
	}
)

const (
	minGiftCents   = 5000
	giftRangeCents = 50000
)

// ActivityFabricator produces synthetic activity records. It never persists anything.
type ActivityFabricator struct {
	Rand *Rand
}

// Generate returns a simulated activity of activityType for donorID. Unknown
// types fall back to DONATION. realism is recorded in metadata only.
func (f ActivityFabricator) Generate(orgID, donorID, activityType string, realism float64) domain.Activity {
	a := domain.Activity{
		OrgID:      orgID,
		DonorID:    donorID,
		Importance: "NORMAL",
		Metadata:   map[string]any{"simulated": true, "realism": realism},
	}
	var spec actionSpec
	switch activityType {
	case domain.ActivityCommunication:
		spec = pick(f.Rand, communicationActions)
	case domain.ActivityMeeting:
		spec = pick(f.Rand, meetingActions)
		a.Importance = "HIGH"
	case domain.ActivityTask:
		spec = pick(f.Rand, taskActions)
	default:
		activityType = domain.ActivityDonation
		spec = pick(f.Rand, donationActions)
		amount := decimal.New(int64(minGiftCents+f.Rand.Intn(giftRangeCents)), -2)
		a.Amount = &amount
		a.Importance = "HIGH"
	}
	a.Type = activityType
	a.Action = spec.action
	a.Title = spec.title
	a.Description = spec.desc
	if a.Amount != nil {
		a.Title = fmt.Sprintf("%s: $%s", spec.title, a.Amount.StringFixed(2))
	}
	return a
}
