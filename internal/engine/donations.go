package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
	"donorline/internal/events"
	"donorline/internal/repo"
)

type DonationInput struct {
	DonorID       string          `json:"donor_id" validate:"required"`
	CampaignID    string          `json:"campaign_id"`
	Amount        decimal.Decimal `json:"amount" validate:"-"`
	Date          string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod string          `json:"payment_method" validate:"omitempty,oneof=CREDIT_CARD CHECK CASH ACH STOCK OTHER"`
	Status        string          `json:"status" validate:"omitempty,oneof=COMPLETED PENDING REFUNDED"`
	Type          string          `json:"type" validate:"omitempty,oneof=ONE_TIME RECURRING PLEDGE IN_KIND"`
	IsSimulated   bool            `json:"is_simulated"`
}

// RecordDonation stores a gift. Completed gifts roll into the donor's lifetime total.
func (e Engine) RecordDonation(ctx context.Context, orgID string, in DonationInput, actorID string) (domain.Donation, error) {
	if err := validateInput(in); err != nil {
		return domain.Donation{}, err
	}
	if !in.Amount.IsPositive() {
		return domain.Donation{}, errors.New("invalid amount: must be greater than zero")
	}
	if in.CampaignID != "" {
		if _, err := e.Repo.GetCampaign(ctx, orgID, in.CampaignID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Donation{}, fmt.Errorf("campaign %s: %w", in.CampaignID, err)
			}
			return domain.Donation{}, err
		}
	}
	d := domain.Donation{
		OrgID:         orgID,
		DonorID:       in.DonorID,
		CampaignID:    optionalString(in.CampaignID),
		Amount:        in.Amount.Round(2),
		Date:          in.Date,
		PaymentMethod: defaultString(in.PaymentMethod, "CREDIT_CARD"),
		Status:        defaultString(in.Status, "COMPLETED"),
		Type:          defaultString(in.Type, "ONE_TIME"),
		IsSimulated:   in.IsSimulated,
	}
	return e.insertDonation(ctx, d, actorID)
}

func (e Engine) insertDonation(ctx context.Context, d domain.Donation, actorID string) (domain.Donation, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = e.timestamp()
	if d.Date == "" {
		d.Date = e.now().UTC().Format(time.DateOnly)
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDonorTx(ctx, tx, d.OrgID, d.DonorID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("donor %s: %w", d.DonorID, err)
			}
			return err
		}
		if err := e.Repo.InsertDonation(ctx, tx, d); err != nil {
			return err
		}
		if d.Status == "COMPLETED" {
			if err := e.Repo.ApplyGift(ctx, tx, d.OrgID, d.DonorID, d.Amount, d.Date, d.CreatedAt); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.DonationRecorded, d.OrgID, "donation", d.ID, actorID, events.EventPayload{
			"donor_id":     d.DonorID,
			"amount":       d.Amount.StringFixed(2),
			"status":       d.Status,
			"is_simulated": d.IsSimulated,
		})
	})
	if err != nil {
		return domain.Donation{}, err
	}
	return d, nil
}

func (e Engine) ListDonations(ctx context.Context, f repo.DonationFilters) ([]domain.Donation, error) {
	return e.Repo.ListDonations(ctx, f)
}
