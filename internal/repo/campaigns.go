package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/huandu/go-sqlbuilder"

	"donorline/internal/domain"
)

func (r Repo) InsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("campaigns")
	ib.Cols("id", "org_id", "name", "goal", "status", "start_date", "end_date", "created_at")
	ib.Values(c.ID, c.OrgID, c.Name, c.Goal.String(), c.Status, nullableStringPtr(c.StartDate), nullableStringPtr(c.EndDate), c.CreatedAt)
	query, args := ib.Build()
	_, err := r.q(tx).ExecContext(ctx, query, args...)
	return err
}

func scanCampaign(row rowScanner) (domain.Campaign, error) {
	var c domain.Campaign
	var start, end sql.NullString
	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Goal, &c.Status, &start, &end, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if start.Valid {
		c.StartDate = &start.String
	}
	if end.Valid {
		c.EndDate = &end.String
	}
	return c, nil
}

func (r Repo) GetCampaign(ctx context.Context, orgID, id string) (domain.Campaign, error) {
	return r.GetCampaignTx(ctx, nil, orgID, id)
}

func (r Repo) GetCampaignTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Campaign, error) {
	return scanCampaign(r.q(tx).QueryRowContext(ctx,
		`SELECT id,org_id,name,goal,status,start_date,end_date,created_at FROM campaigns WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListCampaigns(ctx context.Context, orgID, status string) ([]domain.Campaign, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "org_id", "name", "goal", "status", "start_date", "end_date", "created_at")
	sb.From("campaigns")
	sb.Where(sb.Equal("org_id", orgID))
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at DESC", "id DESC")
	query, args := sb.Build()
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateCampaignStatus moves a campaign from one status to another. It reports
// false when the campaign is no longer in from.
func (r Repo) UpdateCampaignStatus(ctx context.Context, tx *sql.Tx, orgID, id, from, to string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE campaigns SET status=? WHERE org_id=? AND id=? AND status=?`, to, orgID, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
