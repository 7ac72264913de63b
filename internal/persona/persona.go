// Package persona answers as a donor would and summarizes donors for
// fundraisers. Replies are keyword and template driven.
package persona

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"donorline/internal/domain"
)

type Intent string

const (
	IntentGreeting    Intent = "greeting"
	IntentAsk         Intent = "ask"
	IntentImpact      Intent = "impact"
	IntentMeeting     Intent = "meeting"
	IntentUnsubscribe Intent = "unsubscribe"
	IntentGeneral     Intent = "general"
)

// intentHints are checked in order; the first intent with a matching hint wins.
var intentHints = []struct {
	intent Intent
	hints  []string
}{
	{IntentUnsubscribe, []string{"unsubscribe", "stop contacting", "remove me", "opt out", "no more emails"}},
	{IntentAsk, []string{"donat", "give", "gift", "contribut", "support us", "pledge", "match"}},
	{IntentMeeting, []string{"meet", "coffee", "visit", "tour", "call", "schedule", "lunch"}},
	{IntentImpact, []string{"impact", "result", "outcome", "report", "difference", "progress", "update"}},
	{IntentGreeting, []string{"hello", "hi ", "hey", "good morning", "good afternoon", "thank"}},
}

// Classify maps a fundraiser message to an intent.
func Classify(message string) Intent {
	msg := " " + strings.ToLower(strings.TrimSpace(message)) + " "
	for _, ih := range intentHints {
		for _, h := range ih.hints {
			if strings.Contains(msg, h) {
				return ih.intent
			}
		}
	}
	return IntentGeneral
}

// Tone follows the donor's relationship stage.
func Tone(stage string) string {
	switch stage {
	case domain.StageCultivation:
		return "warm"
	case domain.StageAskReady:
		return "engaged"
	case domain.StageStewardship:
		return "loyal"
	default:
		return "curious"
	}
}

// Turn is one message in a conversation with a donor persona.
type Turn struct {
	Role string `json:"role" enum:"fundraiser,donor"`
	Text string `json:"text"`
}

type Reply struct {
	Intent Intent `json:"intent"`
	Tone   string `json:"tone"`
	Text   string `json:"text"`
}

type template struct {
	weight int
	text   string
}

// Persona is safe for concurrent use.
type Persona struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a persona seeded with seed, or with the clock when seed is 0.
func New(seed int64) *Persona {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Persona{rnd: rand.New(rand.NewSource(seed))}
}

// Reply answers message in the voice of donor d. history is the prior
// conversation, oldest first.
func (p *Persona) Reply(d domain.Donor, history []Turn, message string) Reply {
	intent := Classify(message)
	tone := Tone(d.RelationshipStage)
	text := p.choose(templatesFor(intent, tone))
	if repeated(history, message) {
		text = "Like I mentioned: " + text
	}
	r := strings.NewReplacer(
		"{first}", d.FirstName,
		"{interest}", firstInterest(d),
	)
	return Reply{Intent: intent, Tone: tone, Text: r.Replace(text)}
}

func (p *Persona) choose(ts []template) string {
	total := 0
	for _, t := range ts {
		total += t.weight
	}
	p.mu.Lock()
	n := p.rnd.Intn(total)
	p.mu.Unlock()
	for _, t := range ts {
		if n < t.weight {
			return t.text
		}
		n -= t.weight
	}
	return ts[len(ts)-1].text
}

// repeated reports whether the fundraiser already sent a message with the same intent.
func repeated(history []Turn, message string) bool {
	intent := Classify(message)
	if intent == IntentGeneral || intent == IntentGreeting {
		return false
	}
	for _, t := range history {
		if t.Role == "fundraiser" && Classify(t.Text) == intent {
			return true
		}
	}
	return false
}

func templatesFor(intent Intent, tone string) []template {
	if ts, ok := templates[intent][tone]; ok {
		return ts
	}
	return templates[intent]["*"]
}

var templates = map[Intent]map[string][]template{
	IntentGreeting: {
		"curious": {
			{3, "Hi! Thanks for reaching out. I'm still learning about your work."},
			{1, "Hello. I signed up recently, what should I know first?"},
		},
		"warm": {
			{3, "Hello again! Always nice to hear from you."},
			{1, "Hi there, I was just reading your last newsletter."},
		},
		"*": {
			{2, "Hi! Great to hear from you."},
			{1, "Hello, hope all is well with the team."},
		},
	},
	IntentAsk: {
		"curious": {
			{3, "I'd like to understand more about how gifts are used before I commit."},
			{1, "Maybe a small gift to start. Do you have anything focused on {interest}?"},
		},
		"warm": {
			{2, "I'm open to it. What would a gift make possible right now?"},
			{1, "Let me talk it over at home, but I'm leaning yes."},
		},
		"engaged": {
			{3, "I've been expecting this. I'd be glad to increase my support this year."},
			{1, "Yes, count me in. Can it go toward {interest}?"},
		},
		"loyal": {
			{2, "Of course. Same as last year, and I'll see if my employer will match."},
			{1, "Happy to keep supporting you. Send me the details."},
		},
	},
	IntentImpact: {
		"*": {
			{2, "I'd love to hear what changed because of last year's gifts."},
			{1, "Do you have any stories about {interest}? That's what I care about most."},
		},
		"loyal": {
			{2, "Your reports are the reason I keep giving. Anything new on {interest}?"},
		},
	},
	IntentMeeting: {
		"curious": {
			{2, "A short call could work. I'm pretty busy this month."},
			{1, "Could we start with an email instead?"},
		},
		"*": {
			{3, "Sure, coffee sounds great. Next week works for me."},
			{1, "I'd love a site visit if that's possible."},
		},
	},
	IntentUnsubscribe: {
		"*": {
			{1, "Please take me off the list for now. I'll reach out when I'm ready."},
		},
		"loyal": {
			{1, "Fewer emails, please. I still want the annual report."},
		},
	},
	IntentGeneral: {
		"*": {
			{2, "Thanks for the note. Tell me more?"},
			{1, "Interesting. How does that connect to {interest}?"},
		},
	},
}

func firstInterest(d domain.Donor) string {
	if v := interests(d); len(v) > 0 {
		return v[0]
	}
	return "your programs"
}

// interests reads the interests list from personal notes, which may have
// been decoded from JSON.
func interests(d domain.Donor) []string {
	switch v := d.PersonalNotes["interests"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
