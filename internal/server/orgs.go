package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/repo"
)

func (a api) registerOrgs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := strings.TrimSpace(input.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		org, err := a.e.CreateOrganization(ctx, id, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List organizations the caller belongs to",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Organization `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgs, err := a.e.Repo.ListOrgs(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Organization `json:"body"`
		}{Body: nonNilSlice(orgs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}",
		Summary:     "Get organization",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "org.read"); err != nil {
			return nil, handleError(err)
		}
		org, err := a.e.Repo.GetOrg(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: org}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org-config",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/config",
		Summary:     "Get organization config",
		Description: "Webhook secrets are redacted.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body OrgConfigResponse `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "org.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := a.e.OrgConfig(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		redacted := *cfg
		redacted.Webhooks = make([]config.Webhook, len(cfg.Webhooks))
		for i, h := range cfg.Webhooks {
			h.Secret = ""
			redacted.Webhooks[i] = h
		}
		raw, err := redacted.YAML()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgConfigResponse `json:"body"`
		}{Body: OrgConfigResponse{OrgID: input.OrgID, Config: &redacted, YAML: string(raw)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-org-config",
		Method:      http.MethodPut,
		Path:        "/orgs/{org_id}/config",
		Summary:     "Replace organization config from YAML",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string              `path:"org_id"`
		Body  ImportConfigRequest `json:"body"`
	}) (*struct {
		Body OrgConfigResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "org.update")
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		if cfg.Organization.ID != "" && cfg.Organization.ID != input.OrgID {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", "organization.id does not match path", map[string]any{"organization.id": cfg.Organization.ID})
		}
		cfg.Organization.ID = input.OrgID
		if err := a.e.ImportOrgConfig(ctx, input.OrgID, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgConfigResponse `json:"body"`
		}{Body: OrgConfigResponse{OrgID: input.OrgID, Config: cfg, YAML: input.Body.YAML}}, nil
	})
}

func (a api) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"organization,donor,donation,activity,campaign,actor,simulation"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "events.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := a.e.Repo.LatestEvents(ctx, repo.EventFilters{
			OrgID:      input.OrgID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func (a api) registerRBAC(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/me/permissions",
		Summary:     "Current actor roles and permissions in an organization",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body domain.WhoAmI `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := a.e.Repo.GetOrg(ctx, input.OrgID); err != nil {
			return nil, handleError(err)
		}
		who, err := a.e.WhoAmI(ctx, input.OrgID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WhoAmI `json:"body"`
		}{Body: who}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/roles",
		Summary:       "Grant a role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string      `path:"org_id"`
		Body  RoleRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := a.requirePermission(ctx, input.OrgID, "rbac.manage")
		if err != nil {
			return nil, handleError(err)
		}
		if err := a.e.GrantRole(ctx, input.OrgID, input.Body.ActorID, input.Body.Role, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/roles/{role_id}/actors/{actor_id}",
		Summary:       "Revoke a role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		RoleID  string `path:"role_id"`
		ActorID string `path:"actor_id"`
	}) (*struct{}, error) {
		actorID, err := a.requirePermission(ctx, input.OrgID, "rbac.manage")
		if err != nil {
			return nil, handleError(err)
		}
		if err := a.e.RevokeRole(ctx, input.OrgID, input.ActorID, input.RoleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (a api) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.WhoAmI `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.WhoAmI `json:"body"`
		}{Body: domain.WhoAmI{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(principal.Permissions),
		}}, nil
	})
}

func (a api) registerAPIKeys(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreated `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := a.e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreated `json:"body"`
		}{Body: APIKeyCreated{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the caller's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := a.e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNilSlice(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.e.RevokeAPIKey(ctx, actorID, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (a api) registerDevAuth(api huma.API) {
	if !a.auth.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, exp, err := signDevToken(a.auth.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp.UTC().Format(time.RFC3339)}}, nil
	})
}
