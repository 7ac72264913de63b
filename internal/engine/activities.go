package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
	"donorline/internal/events"
	"donorline/internal/repo"
)

type ActivityInput struct {
	DonorID     string           `json:"donor_id" validate:"required"`
	Type        string           `json:"type" validate:"required,oneof=DONATION COMMUNICATION MEETING TASK"`
	Action      string           `json:"action" validate:"required,max=64"`
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=4000"`
	Amount      *decimal.Decimal `json:"amount" validate:"-"`
	Importance  string           `json:"importance" validate:"omitempty,oneof=LOW NORMAL HIGH"`
	Metadata    map[string]any   `json:"metadata"`
}

// LogActivity records a manual feed entry against a donor.
func (e Engine) LogActivity(ctx context.Context, orgID string, in ActivityInput, actorID string) (domain.Activity, error) {
	if err := validateInput(in); err != nil {
		return domain.Activity{}, err
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return domain.Activity{}, errors.New("invalid amount: must not be negative")
	}
	return e.insertActivity(ctx, domain.Activity{
		OrgID:       orgID,
		DonorID:     in.DonorID,
		Type:        in.Type,
		Action:      in.Action,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		Importance:  defaultString(in.Importance, "NORMAL"),
		Metadata:    in.Metadata,
	}, actorID)
}

func (e Engine) insertActivity(ctx context.Context, a domain.Activity, actorID string) (domain.Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = e.timestamp()
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDonorTx(ctx, tx, a.OrgID, a.DonorID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("donor %s: %w", a.DonorID, err)
			}
			return err
		}
		if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
			return err
		}
		payload := events.EventPayload{"donor_id": a.DonorID, "type": a.Type, "action": a.Action, "title": a.Title}
		if sim, ok := a.Metadata["simulated"].(bool); ok && sim {
			payload["simulated"] = true
		}
		return e.Events.Append(ctx, tx, events.ActivityLogged, a.OrgID, "activity", a.ID, actorID, payload)
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (e Engine) ListActivities(ctx context.Context, f repo.ActivityFilters) ([]domain.Activity, error) {
	return e.Repo.ListActivities(ctx, f)
}
