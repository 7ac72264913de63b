package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, orgID, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO roles(org_id, id, description) VALUES (?,?,?)
ON CONFLICT(org_id, id) DO UPDATE SET description=excluded.description`, orgID, id, nullable(desc))
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, nullable(desc))
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, orgID, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(org_id, role_id, permission_id) VALUES (?,?,?)`, orgID, roleID, permID)
	return err
}

// ClearRolePermissions drops a role's grants before they are re-seeded from config.
func (r Repo) ClearRolePermissions(ctx context.Context, tx *sql.Tx, orgID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE org_id=? AND role_id=?`, orgID, roleID)
	return err
}

func (r Repo) RoleExists(ctx context.Context, tx *sql.Tx, orgID, roleID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE org_id=? AND id=?`, orgID, roleID).Scan(&n)
	return n > 0, err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, orgID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(org_id, actor_id, role_id) VALUES (?,?,?)`, orgID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, orgID, actorID, roleID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE org_id=? AND actor_id=? AND role_id=?`, orgID, actorID, roleID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountRoleHolders returns how many actors hold roleID in the organization.
func (r Repo) CountRoleHolders(ctx context.Context, tx *sql.Tx, orgID, roleID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM actor_roles WHERE org_id=? AND role_id=?`, orgID, roleID).Scan(&n)
	return n, err
}
