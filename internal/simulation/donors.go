package simulation

import (
	"fmt"
	"strings"

	"donorline/internal/domain"
)

var (
	firstNames = []string{
		"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda", "David", "Elizabeth",
		"William", "Barbara", "Richard", "Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Charles", "Karen",
		"Daniel", "Nancy", "Matthew", "Lisa", "Anthony", "Betty", "Mark", "Margaret", "Maria", "Aisha",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez",
		"Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
		"Lee", "Perez", "Thompson", "White", "Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Nguyen",
	}
	emailDomains      = []string{"example.org", "example.com", "mail.example.net"}
	interests         = []string{"education", "environment", "health", "arts", "animal welfare", "youth programs", "housing", "food security"}
	givingCapacity    = []string{"low", "medium", "high", "major"}
	activeProbability = 0.7
)

// DonorFabricator produces synthetic donor profiles. It never persists anything.
type DonorFabricator struct {
	Rand *Rand
}

// Generate returns a new simulated donor for orgID. ID and timestamps are left to the store.
func (f DonorFabricator) Generate(orgID string) domain.Donor {
	r := f.Rand
	first := pick(r, firstNames)
	last := pick(r, lastNames)
	status := domain.DonorStatusLYBUNT
	if r.Float64() < activeProbability {
		status = domain.DonorStatusActive
	}
	n := 1 + r.Intn(3)
	picked := make([]string, 0, n)
	for _, i := range r.Sample(len(interests), n) {
		picked = append(picked, interests[i])
	}
	return domain.Donor{
		OrgID:             orgID,
		FirstName:         first,
		LastName:          last,
		Email:             fmt.Sprintf("%s.%s%d@%s", strings.ToLower(first), strings.ToLower(last), 1+r.Intn(999), pick(r, emailDomains)),
		Phone:             fmt.Sprintf("(%03d) %03d-%04d", 200+r.Intn(800), 200+r.Intn(800), r.Intn(10000)),
		Status:            status,
		PreferredContact:  pick(r, domain.ContactPreferences),
		RelationshipStage: pick(r, domain.RelationshipStages),
		IsSimulated:       true,
		Notes:             "Simulated donor",
		PersonalNotes: map[string]any{
			"interests":       picked,
			"giving_capacity": pick(r, givingCapacity),
		},
	}
}
