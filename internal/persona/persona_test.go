package persona

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorline/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := map[string]Intent{
		"Hello Jane!":                             IntentGreeting,
		"Would you consider a gift this spring?":  IntentAsk,
		"Can we grab coffee next week?":           IntentMeeting,
		"Here is our impact report":               IntentImpact,
		"Please unsubscribe me":                   IntentUnsubscribe,
		"The weather is lovely":                   IntentGeneral,
		"hi":                                      IntentGreeting,
		"Stop contacting me about your donations": IntentUnsubscribe,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(msg), msg)
	}
}

func TestReplyUsesStageToneAndInterests(t *testing.T) {
	p := New(1)
	d := domain.Donor{
		FirstName:         "Jane",
		RelationshipStage: domain.StageAskReady,
		PersonalNotes:     map[string]any{"interests": []any{"education"}},
	}
	for i := 0; i < 20; i++ {
		r := p.Reply(d, nil, "Would you make a gift?")
		assert.Equal(t, IntentAsk, r.Intent)
		assert.Equal(t, "engaged", r.Tone)
		assert.NotContains(t, r.Text, "{interest}")
		assert.NotEmpty(t, r.Text)
	}

	d.RelationshipStage = ""
	r := p.Reply(d, nil, "hello")
	assert.Equal(t, "curious", r.Tone)
}

func TestReplyNotesRepeatedAsk(t *testing.T) {
	p := New(2)
	d := domain.Donor{FirstName: "Sam", RelationshipStage: domain.StageStewardship}
	history := []Turn{{Role: "fundraiser", Text: "Could you donate again?"}, {Role: "donor", Text: "Of course."}}
	r := p.Reply(d, history, "Any chance of a gift this month?")
	assert.Contains(t, r.Text, "Like I mentioned: ")

	r = p.Reply(d, history, "Hello!")
	assert.NotContains(t, r.Text, "Like I mentioned")
}

func TestBuildBrief(t *testing.T) {
	d := domain.Donor{
		ID: "d1", FirstName: "Ann", LastName: "Lee",
		Status: domain.DonorStatusActive, RelationshipStage: domain.StageAskReady,
		PersonalNotes: map[string]any{"interests": []string{"arts", "housing"}},
	}
	gifts := []domain.Donation{
		{Amount: decimal.NewFromInt(100), Date: "2024-01-10", Status: "COMPLETED"},
		{Amount: decimal.NewFromInt(310), Date: "2024-05-01", Status: "COMPLETED"},
		{Amount: decimal.NewFromInt(5000), Date: "2024-06-01", Status: "REFUNDED"},
	}
	acts := []domain.Activity{
		{Type: domain.ActivityMeeting, Title: "Coffee meeting", CreatedAt: "2024-05-20T10:00:00Z"},
		{Type: domain.ActivityCommunication, Title: "Email sent", CreatedAt: "2024-04-01T10:00:00Z"},
		{Type: domain.ActivityDonation, Title: "Gift", CreatedAt: "2024-06-01T10:00:00Z"},
	}
	b := BuildBrief(d, gifts, acts, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "Ann Lee", b.Name)
	assert.Equal(t, 2, b.GiftCount)
	assert.True(t, b.TotalGiven.Equal(decimal.NewFromInt(410)))
	assert.True(t, b.LargestGift.Equal(decimal.NewFromInt(310)))
	assert.True(t, b.AverageGift.Equal(decimal.NewFromInt(205)))
	assert.Equal(t, "2024-01-10", b.FirstGiftAt)
	assert.Equal(t, "2024-05-01", b.LastGiftAt)
	require.NotNil(t, b.DaysSinceLastGift)
	assert.Equal(t, 10, *b.DaysSinceLastGift)
	assert.Equal(t, "Coffee meeting", b.LastContact)
	// 310 * 1.5 = 465, rounded up to 475
	assert.True(t, b.SuggestedAsk.Equal(decimal.NewFromInt(475)), b.SuggestedAsk.String())
	assert.Equal(t, "Schedule an ask meeting for $475", b.NextStep)
	assert.Contains(t, b.Summary, "Interested in arts, housing.")
}

func TestBuildBriefNewDonor(t *testing.T) {
	d := domain.Donor{FirstName: "Kim", Status: domain.DonorStatusActive, RelationshipStage: domain.StageNew}
	b := BuildBrief(d, nil, nil, time.Now())
	assert.Zero(t, b.GiftCount)
	assert.Nil(t, b.DaysSinceLastGift)
	assert.True(t, b.SuggestedAsk.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "Send a welcome note and learn their interests", b.NextStep)
	assert.Contains(t, b.Summary, "No completed gifts yet.")
	assert.Equal(t, []string{}, b.Interests)
}

func TestBuildBriefLapsedDonor(t *testing.T) {
	d := domain.Donor{FirstName: "Lou", Status: domain.DonorStatusActive, RelationshipStage: domain.StageStewardship}
	gifts := []domain.Donation{{Amount: decimal.NewFromInt(200), Date: "2022-01-01", Status: "COMPLETED"}}
	b := BuildBrief(d, gifts, nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "Re-engage with a personal note and a $300 renewal ask", b.NextStep)
}
