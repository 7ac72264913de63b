package simulation

import (
	"context"
	"errors"

	"donorline/internal/domain"
)

var (
	ErrOrganizationRequired = errors.New("organization id is required")
	ErrNoActiveRun          = errors.New("no active simulation run")
	ErrClosed               = errors.New("simulation registry closed")
)

// Store persists the records a tick fabricates. Implementations assign IDs and
// timestamps and return the stored record.
type Store interface {
	CreateDonor(ctx context.Context, d domain.Donor) (domain.Donor, error)
	CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error)
	CreateDonation(ctx context.Context, d domain.Donation) (domain.Donation, error)
}
