package repo

import (
	"context"
	"database/sql"

	"github.com/huandu/go-sqlbuilder"
	"github.com/shopspring/decimal"

	"donorline/internal/domain"
)

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	meta, err := nullableJSON(a.Metadata)
	if err != nil {
		return err
	}
	var amount any
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("activities")
	ib.Cols("id", "org_id", "donor_id", "type", "action", "title", "description", "amount", "importance", "metadata_json", "created_at")
	ib.Values(a.ID, a.OrgID, a.DonorID, a.Type, a.Action, a.Title, nullable(a.Description), amount, a.Importance, meta, a.CreatedAt)
	query, args := ib.Build()
	_, err = r.q(tx).ExecContext(ctx, query, args...)
	return err
}

type ActivityFilters struct {
	OrgID           string
	DonorID         string
	Type            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListActivities returns the activity feed newest first.
func (r Repo) ListActivities(ctx context.Context, f ActivityFilters) ([]domain.Activity, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "org_id", "donor_id", "type", "action", "title", "COALESCE(description,'')", "amount", "importance", "metadata_json", "created_at")
	sb.From("activities")
	sb.Where(sb.Equal("org_id", f.OrgID))
	if f.DonorID != "" {
		sb.Where(sb.Equal("donor_id", f.DonorID))
	}
	if f.Type != "" {
		sb.Where(sb.Equal("type", f.Type))
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
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var amount decimal.NullDecimal
		var meta sql.NullString
		if err := rows.Scan(&a.ID, &a.OrgID, &a.DonorID, &a.Type, &a.Action, &a.Title, &a.Description, &amount,
			&a.Importance, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		if amount.Valid {
			v := amount.Decimal
			a.Amount = &v
		}
		a.Metadata = decodeJSON(meta)
		res = append(res, a)
	}
	return res, rows.Err()
}
