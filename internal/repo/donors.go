package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
)

var donorColumns = []string{
	"id", "org_id", "first_name", "last_name", "COALESCE(email,'')", "COALESCE(phone,'')", "status",
	"preferred_contact", "relationship_stage", "is_simulated", "COALESCE(notes,'')", "personal_notes_json",
	"lifetime_total", "last_gift_at", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonor(row rowScanner) (domain.Donor, error) {
	var d domain.Donor
	var simulated int
	var personal, lastGift sql.NullString
	err := row.Scan(&d.ID, &d.OrgID, &d.FirstName, &d.LastName, &d.Email, &d.Phone, &d.Status,
		&d.PreferredContact, &d.RelationshipStage, &simulated, &d.Notes, &personal,
		&d.LifetimeTotal, &lastGift, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.IsSimulated = simulated == 1
	d.PersonalNotes = decodeJSON(personal)
	if lastGift.Valid {
		d.LastGiftAt = &lastGift.String
	}
	return d, nil
}

func (r Repo) InsertDonor(ctx context.Context, tx *sql.Tx, d domain.Donor) error {
	personal, err := nullableJSON(d.PersonalNotes)
	if err != nil {
		return err
	}
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("donors")
	ib.Cols("id", "org_id", "first_name", "last_name", "email", "phone", "status", "preferred_contact",
		"relationship_stage", "is_simulated", "notes", "personal_notes_json", "lifetime_total", "last_gift_at",
		"created_at", "updated_at")
	ib.Values(d.ID, d.OrgID, d.FirstName, d.LastName, nullable(d.Email), nullable(d.Phone), d.Status, d.PreferredContact,
		d.RelationshipStage, boolInt(d.IsSimulated), nullable(d.Notes), personal, d.LifetimeTotal.String(),
		nullableStringPtr(d.LastGiftAt), d.CreatedAt, d.UpdatedAt)
	query, args := ib.Build()
	_, err = r.q(tx).ExecContext(ctx, query, args...)
	return err
}

// GetDonor returns a donor scoped to the organization.
func (r Repo) GetDonor(ctx context.Context, orgID, id string) (domain.Donor, error) {
	return r.getDonor(ctx, nil, orgID, id)
}

func (r Repo) GetDonorTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Donor, error) {
	return r.getDonor(ctx, tx, orgID, id)
}

func (r Repo) getDonor(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Donor, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(donorColumns...)
	sb.From("donors")
	sb.Where(sb.Equal("org_id", orgID), sb.Equal("id", id))
	query, args := sb.Build()
	return scanDonor(r.q(tx).QueryRowContext(ctx, query, args...))
}

// UpdateDonor writes every mutable column of d.
func (r Repo) UpdateDonor(ctx context.Context, tx *sql.Tx, d domain.Donor) error {
	personal, err := nullableJSON(d.PersonalNotes)
	if err != nil {
		return err
	}
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("donors")
	ub.Set(
		ub.Assign("first_name", d.FirstName),
		ub.Assign("last_name", d.LastName),
		ub.Assign("email", nullable(d.Email)),
		ub.Assign("phone", nullable(d.Phone)),
		ub.Assign("status", d.Status),
		ub.Assign("preferred_contact", d.PreferredContact),
		ub.Assign("relationship_stage", d.RelationshipStage),
		ub.Assign("notes", nullable(d.Notes)),
		ub.Assign("personal_notes_json", personal),
		ub.Assign("updated_at", d.UpdatedAt),
	)
	ub.Where(ub.Equal("org_id", d.OrgID), ub.Equal("id", d.ID))
	query, args := ub.Build()
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyGift adds amount to the donor's lifetime total and moves last_gift_at forward.
func (r Repo) ApplyGift(ctx context.Context, tx *sql.Tx, orgID, donorID string, amount decimal.Decimal, giftDate, now string) error {
	d, err := r.GetDonorTx(ctx, tx, orgID, donorID)
	if err != nil {
		return err
	}
	total := d.LifetimeTotal.Add(amount)
	last := giftDate
	if d.LastGiftAt != nil && *d.LastGiftAt > giftDate {
		last = *d.LastGiftAt
	}
	_, err = tx.ExecContext(ctx, `UPDATE donors SET lifetime_total=?, last_gift_at=?, updated_at=? WHERE org_id=? AND id=?`,
		total.String(), last, now, orgID, donorID)
	return err
}

func (r Repo) DeleteDonor(ctx context.Context, tx *sql.Tx, orgID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM donors WHERE org_id=? AND id=?`, orgID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DonorFilters struct {
	OrgID           string
	Status          string
	Stage           string
	Simulated       *bool
	Query           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListDonors returns donors newest first using keyset pagination on (created_at, id).
func (r Repo) ListDonors(ctx context.Context, f DonorFilters) ([]domain.Donor, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(donorColumns...)
	sb.From("donors")
	sb.Where(sb.Equal("org_id", f.OrgID))
	if f.Status != "" {
		sb.Where(sb.Equal("status", f.Status))
	}
	if f.Stage != "" {
		sb.Where(sb.Equal("relationship_stage", f.Stage))
	}
	if f.Simulated != nil {
		sb.Where(sb.Equal("is_simulated", boolInt(*f.Simulated)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		sb.Where(sb.Or(
			sb.Like("lower(first_name || ' ' || last_name)", like),
			sb.Like("lower(COALESCE(email,''))", like),
		))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		sb.Where(sb.Or(
			sb.LessThan("created_at", f.CursorCreatedAt),
			sb.And(sb.Equal("created_at", f.CursorCreatedAt), sb.LessThan("id", f.CursorID)),
		))
	}
	sb.OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	query, args := sb.Build()
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountDonors returns the number of donors in an organization.
func (r Repo) CountDonors(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM donors WHERE org_id=?`, orgID).Scan(&n)
	return n, err
}
