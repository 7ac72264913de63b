package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service answers org-scoped RBAC questions.
type Service struct {
	DB *sql.DB
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s Service) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

// Require returns ForbiddenError unless the actor holds perm in the organization.
func (s Service) Require(ctx context.Context, tx *sql.Tx, orgID, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, orgID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, orgID, actorID, perm string) (bool, error) {
	if actorID == "" {
		return false, errors.New("actor_id required")
	}
	row := s.q(tx).QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.org_id=ar.org_id AND rp.role_id=ar.role_id
WHERE ar.org_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		orgID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, orgID, actorID string) ([]string, error) {
	return s.strings(ctx, tx, `SELECT role_id FROM actor_roles WHERE org_id=? AND actor_id=? ORDER BY role_id`, orgID, actorID)
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, orgID, actorID string) ([]string, error) {
	return s.strings(ctx, tx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.org_id=ar.org_id AND rp.role_id=ar.role_id
WHERE ar.org_id=? AND ar.actor_id=?
ORDER BY rp.permission_id`, orgID, actorID)
}

func (s Service) strings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
