package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"donorline/internal/domain"
	"donorline/internal/persona"
	"donorline/internal/repo"
)

// briefHistoryLimit bounds the donations and activities read for a brief.
const briefHistoryLimit = 500

func (a api) registerDonors(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-donor",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/donors",
		Summary:       "Create donor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		Body  CreateDonorRequest `json:"body"`
	}) (*struct {
		Body domain.Donor `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "donor.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.CreateDonor(ctx, input.OrgID, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Donor `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-donors",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/donors",
		Summary:     "List donors",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID     string `path:"org_id"`
		Status    string `query:"status" enum:"ACTIVE,LYBUNT,SYBUNT,LAPSED,INACTIVE"`
		Stage     string `query:"stage" enum:"NEW,CULTIVATION,ASK_READY,STEWARDSHIP"`
		Simulated string `query:"simulated" enum:"true,false"`
		Query     string `query:"q" doc:"matches name or email"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedDonors `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "donor.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.DonorFilters{
			OrgID:           input.OrgID,
			Status:          input.Status,
			Stage:           input.Stage,
			Query:           input.Query,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		if input.Simulated != "" {
			sim, _ := strconv.ParseBool(input.Simulated)
			f.Simulated = &sim
		}
		items, err := a.e.ListDonors(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDonors{Items: []domain.Donor{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedDonors `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-donor",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/donors/{donor_id}",
		Summary:     "Get donor",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		DonorID string `path:"donor_id"`
	}) (*struct {
		Body domain.Donor `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "donor.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.GetDonor(ctx, input.OrgID, input.DonorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Donor `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-donor",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/donors/{donor_id}",
		Summary:     "Update donor fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID   string             `path:"org_id"`
		DonorID string             `path:"donor_id"`
		Body    UpdateDonorRequest `json:"body"`
	}) (*struct {
		Body domain.Donor `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "donor.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.UpdateDonor(ctx, input.OrgID, input.DonorID, input.Body.patch(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Donor `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-donor",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/donors/{donor_id}",
		Summary:       "Delete donor",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		DonorID string `path:"donor_id"`
	}) (*struct{}, error) {
		actorID, err := a.requirePermission(ctx, input.OrgID, "donor.write")
		if err != nil {
			return nil, handleError(err)
		}
		if err := a.e.DeleteDonor(ctx, input.OrgID, input.DonorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (a api) registerDonations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-donation",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/donations",
		Summary:       "Record donation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string                `path:"org_id"`
		Body  CreateDonationRequest `json:"body"`
	}) (*struct {
		Body domain.Donation `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "donation.write")
		if err != nil {
			return nil, handleError(err)
		}
		in, err := input.Body.input()
		if err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.RecordDonation(ctx, input.OrgID, in, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Donation `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-donations",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/donations",
		Summary:     "List donations",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		DonorID    string `query:"donor_id"`
		CampaignID string `query:"campaign_id"`
		Status     string `query:"status" enum:"COMPLETED,PENDING,REFUNDED"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedDonations `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "donation.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := a.e.ListDonations(ctx, repo.DonationFilters{
			OrgID:           input.OrgID,
			DonorID:         input.DonorID,
			CampaignID:      input.CampaignID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDonations{Items: []domain.Donation{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedDonations `json:"body"`
		}{Body: resp}, nil
	})
}

func (a api) registerActivities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-activity",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/activities",
		Summary:       "Log activity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		Body  LogActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "activity.write")
		if err != nil {
			return nil, handleError(err)
		}
		in, err := input.Body.input()
		if err != nil {
			return nil, handleError(err)
		}
		act, err := a.e.LogActivity(ctx, input.OrgID, in, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: act}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/activities",
		Summary:     "Activity feed, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		DonorID string `query:"donor_id"`
		Type    string `query:"type" enum:"DONATION,COMMUNICATION,MEETING,TASK"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedActivities `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "activity.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := a.e.ListActivities(ctx, repo.ActivityFilters{
			OrgID:           input.OrgID,
			DonorID:         input.DonorID,
			Type:            input.Type,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedActivities{Items: []domain.Activity{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedActivities `json:"body"`
		}{Body: resp}, nil
	})
}

func (a api) registerCampaigns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-campaign",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/campaigns",
		Summary:       "Create campaign",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string                `path:"org_id"`
		Body  CreateCampaignRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "campaign.write")
		if err != nil {
			return nil, handleError(err)
		}
		in, err := input.Body.input()
		if err != nil {
			return nil, handleError(err)
		}
		c, err := a.e.CreateCampaign(ctx, input.OrgID, in, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campaigns",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/campaigns",
		Summary:     "List campaigns",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID  string `path:"org_id"`
		Status string `query:"status" enum:"DRAFT,ACTIVE,COMPLETED"`
	}) (*struct {
		Body []domain.Campaign `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "campaign.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := a.e.ListCampaigns(ctx, input.OrgID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Campaign `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-campaign-status",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/campaigns/{campaign_id}/status",
		Summary:     "Change campaign status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID      string                   `path:"org_id"`
		CampaignID string                   `path:"campaign_id"`
		Body       SetCampaignStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "campaign.write")
		if err != nil {
			return nil, handleError(err)
		}
		c, err := a.e.SetCampaignStatus(ctx, input.OrgID, input.CampaignID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "campaign-report",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/campaigns/{campaign_id}/report",
		Summary:     "Campaign segmentation report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body domain.CampaignReport `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "campaign.read"); err != nil {
			return nil, handleError(err)
		}
		report, err := a.e.CampaignReport(ctx, input.OrgID, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CampaignReport `json:"body"`
		}{Body: report}, nil
	})
}

func (a api) registerPersona(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "donor-persona",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/donors/{donor_id}/persona",
		Summary:     "Reply in the donor's voice",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID   string         `path:"org_id"`
		DonorID string         `path:"donor_id"`
		Body    PersonaRequest `json:"body"`
	}) (*struct {
		Body PersonaResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if input.Body.Message == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "message is required", nil)
		}
		if _, err := a.requirePermission(ctx, input.OrgID, "donor.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.GetDonor(ctx, input.OrgID, input.DonorID)
		if err != nil {
			return nil, handleError(err)
		}
		reply := a.persona.Reply(d, input.Body.History, input.Body.Message)
		history := append(nonNilSlice(input.Body.History),
			persona.Turn{Role: "fundraiser", Text: input.Body.Message},
			persona.Turn{Role: "donor", Text: reply.Text},
		)
		return &struct {
			Body PersonaResponse `json:"body"`
		}{Body: PersonaResponse{DonorID: d.ID, Reply: reply, History: history}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "donor-brief",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/donors/{donor_id}/brief",
		Summary:     "Donor brief for fundraisers",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		DonorID string `path:"donor_id"`
	}) (*struct {
		Body persona.Brief `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "donor.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := a.e.GetDonor(ctx, input.OrgID, input.DonorID)
		if err != nil {
			return nil, handleError(err)
		}
		gifts, err := a.e.ListDonations(ctx, repo.DonationFilters{OrgID: input.OrgID, DonorID: d.ID, Limit: briefHistoryLimit})
		if err != nil {
			return nil, handleError(err)
		}
		acts, err := a.e.ListActivities(ctx, repo.ActivityFilters{OrgID: input.OrgID, DonorID: d.ID, Limit: briefHistoryLimit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body persona.Brief `json:"body"`
		}{Body: persona.BuildBrief(d, gifts, acts, time.Now().UTC())}, nil
	})
}
