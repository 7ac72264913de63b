package repo

import (
	"context"
	"database/sql"

	"github.com/huandu/go-sqlbuilder"

	"donorline/internal/domain"
)

func (r Repo) InsertDonation(ctx context.Context, tx *sql.Tx, d domain.Donation) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("donations")
	ib.Cols("id", "org_id", "donor_id", "campaign_id", "amount", "date", "payment_method", "status", "type", "is_simulated", "created_at")
	ib.Values(d.ID, d.OrgID, d.DonorID, nullableStringPtr(d.CampaignID), d.Amount.String(), d.Date, d.PaymentMethod,
		d.Status, d.Type, boolInt(d.IsSimulated), d.CreatedAt)
	query, args := ib.Build()
	_, err := r.q(tx).ExecContext(ctx, query, args...)
	return err
}

type DonationFilters struct {
	OrgID           string
	DonorID         string
	CampaignID      string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDonations(ctx context.Context, f DonationFilters) ([]domain.Donation, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "org_id", "donor_id", "campaign_id", "amount", "date", "payment_method", "status", "type", "is_simulated", "created_at")
	sb.From("donations")
	sb.Where(sb.Equal("org_id", f.OrgID))
	if f.DonorID != "" {
		sb.Where(sb.Equal("donor_id", f.DonorID))
	}
	if f.CampaignID != "" {
		sb.Where(sb.Equal("campaign_id", f.CampaignID))
	}
	if f.Status != "" {
		sb.Where(sb.Equal("status", f.Status))
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
	var res []domain.Donation
	for rows.Next() {
		var d domain.Donation
		var campaign sql.NullString
		var simulated int
		if err := rows.Scan(&d.ID, &d.OrgID, &d.DonorID, &campaign, &d.Amount, &d.Date, &d.PaymentMethod,
			&d.Status, &d.Type, &simulated, &d.CreatedAt); err != nil {
			return nil, err
		}
		if campaign.Valid {
			d.CampaignID = &campaign.String
		}
		d.IsSimulated = simulated == 1
		res = append(res, d)
	}
	return res, rows.Err()
}

// CampaignGift is one completed campaign donation joined with its donor's segment attributes.
type CampaignGift struct {
	Donation          domain.Donation
	RelationshipStage string
	DonorStatus       string
}

// CampaignGifts returns completed donations for a campaign with donor stage and status.
func (r Repo) CampaignGifts(ctx context.Context, orgID, campaignID string) ([]CampaignGift, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT d.id, d.donor_id, d.amount, d.date, dn.relationship_stage, dn.status
FROM donations d
JOIN donors dn ON dn.id=d.donor_id
WHERE d.org_id=? AND d.campaign_id=? AND d.status='COMPLETED'
ORDER BY d.created_at`, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CampaignGift
	for rows.Next() {
		var g CampaignGift
		if err := rows.Scan(&g.Donation.ID, &g.Donation.DonorID, &g.Donation.Amount, &g.Donation.Date, &g.RelationshipStage, &g.DonorStatus); err != nil {
			return nil, err
		}
		g.Donation.OrgID = orgID
		g.Donation.CampaignID = &campaignID
		res = append(res, g)
	}
	return res, rows.Err()
}
