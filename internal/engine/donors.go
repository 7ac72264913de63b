package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
	"donorline/internal/events"
	"donorline/internal/repo"
)

// DonorInput carries the fields accepted when creating a donor.
type DonorInput struct {
	FirstName         string         `json:"first_name" validate:"required,max=100"`
	LastName          string         `json:"last_name" validate:"required,max=100"`
	Email             string         `json:"email" validate:"omitempty,email"`
	Phone             string         `json:"phone" validate:"omitempty,max=32"`
	Status            string         `json:"status" validate:"omitempty,oneof=ACTIVE LYBUNT SYBUNT LAPSED INACTIVE"`
	PreferredContact  string         `json:"preferred_contact" validate:"omitempty,oneof=EMAIL PHONE MAIL"`
	RelationshipStage string         `json:"relationship_stage" validate:"omitempty,oneof=NEW CULTIVATION ASK_READY STEWARDSHIP"`
	Notes             string         `json:"notes" validate:"max=4000"`
	PersonalNotes     map[string]any `json:"personal_notes"`
	IsSimulated       bool           `json:"is_simulated"`
}

// DonorPatch updates only the non-nil fields.
type DonorPatch struct {
	FirstName         *string        `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName          *string        `json:"last_name" validate:"omitempty,min=1,max=100"`
	Email             *string        `json:"email" validate:"omitempty,email"`
	Phone             *string        `json:"phone" validate:"omitempty,max=32"`
	Status            *string        `json:"status" validate:"omitempty,oneof=ACTIVE LYBUNT SYBUNT LAPSED INACTIVE"`
	PreferredContact  *string        `json:"preferred_contact" validate:"omitempty,oneof=EMAIL PHONE MAIL"`
	RelationshipStage *string        `json:"relationship_stage" validate:"omitempty,oneof=NEW CULTIVATION ASK_READY STEWARDSHIP"`
	Notes             *string        `json:"notes" validate:"omitempty,max=4000"`
	PersonalNotes     map[string]any `json:"personal_notes"`
}

func (e Engine) CreateDonor(ctx context.Context, orgID string, in DonorInput, actorID string) (domain.Donor, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validateInput(in); err != nil {
		return domain.Donor{}, err
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return domain.Donor{}, err
	}
	d := domain.Donor{
		OrgID:             orgID,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Email:             in.Email,
		Phone:             in.Phone,
		Status:            defaultString(in.Status, domain.DonorStatusActive),
		PreferredContact:  defaultString(in.PreferredContact, domain.ContactEmail),
		RelationshipStage: defaultString(in.RelationshipStage, domain.StageNew),
		IsSimulated:       in.IsSimulated,
		Notes:             in.Notes,
		PersonalNotes:     in.PersonalNotes,
	}
	return e.insertDonor(ctx, d, actorID)
}

// insertDonor assigns identity and timestamps, then writes the donor and its audit event.
func (e Engine) insertDonor(ctx context.Context, d domain.Donor, actorID string) (domain.Donor, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := e.timestamp()
	d.CreatedAt, d.UpdatedAt = now, now
	d.LifetimeTotal = decimal.Zero
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertDonor(ctx, tx, d); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DonorCreated, d.OrgID, "donor", d.ID, actorID, events.EventPayload{
			"name":         d.FullName(),
			"is_simulated": d.IsSimulated,
		})
	})
	if err != nil {
		return domain.Donor{}, err
	}
	return d, nil
}

func (e Engine) GetDonor(ctx context.Context, orgID, id string) (domain.Donor, error) {
	return e.Repo.GetDonor(ctx, orgID, id)
}

func (e Engine) ListDonors(ctx context.Context, f repo.DonorFilters) ([]domain.Donor, error) {
	return e.Repo.ListDonors(ctx, f)
}

func (e Engine) UpdateDonor(ctx context.Context, orgID, id string, patch DonorPatch, actorID string) (domain.Donor, error) {
	if err := validateInput(patch); err != nil {
		return domain.Donor{}, err
	}
	var out domain.Donor
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		d, err := e.Repo.GetDonorTx(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		changed := map[string]any{}
		apply := func(field string, dst *string, v *string) {
			if v != nil && *v != *dst {
				*dst = *v
				changed[field] = *v
			}
		}
		apply("first_name", &d.FirstName, patch.FirstName)
		apply("last_name", &d.LastName, patch.LastName)
		apply("email", &d.Email, patch.Email)
		apply("phone", &d.Phone, patch.Phone)
		apply("status", &d.Status, patch.Status)
		apply("preferred_contact", &d.PreferredContact, patch.PreferredContact)
		apply("relationship_stage", &d.RelationshipStage, patch.RelationshipStage)
		apply("notes", &d.Notes, patch.Notes)
		if patch.PersonalNotes != nil {
			d.PersonalNotes = patch.PersonalNotes
			changed["personal_notes"] = true
		}
		d.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateDonor(ctx, tx, d); err != nil {
			return err
		}
		out = d
		return e.Events.Append(ctx, tx, events.DonorUpdated, orgID, "donor", id, actorID, events.EventPayload(changed))
	})
	return out, err
}

func (e Engine) DeleteDonor(ctx context.Context, orgID, id, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteDonor(ctx, tx, orgID, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DonorDeleted, orgID, "donor", id, actorID, nil)
	})
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
