package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tallybook.org/internal/auth"
)

var (
	_ auth.RoleStore  = (*Store)(nil)
	_ auth.RoleWriter = (*Store)(nil)
)

// FindRole loads a role and its permissions in one round trip.
func (s *Store) FindRole(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.name, r.description, rp.resource, rp.action
		from roles r
		left join role_permissions rp on rp.role_name = r.name
		where r.name = $1
		order by rp.resource, rp.action
	`, name)
	if err != nil {
		return auth.Role{}, err
	}
	defer rows.Close()

	var (
		role  auth.Role
		found bool
	)
	for rows.Next() {
		var resource, action sql.NullString
		if err := rows.Scan(&role.Name, &role.Description, &resource, &action); err != nil {
			return auth.Role{}, err
		}
		found = true
		if resource.Valid && action.Valid {
			role.Permissions = append(role.Permissions, auth.NewPermission(resource.String, action.String))
		}
	}
	if err := rows.Err(); err != nil {
		return auth.Role{}, err
	}
	if !found {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, role string, perms []auth.Permission) error {
	if s.db == nil {
		return errUnavailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where name = $1 for update`, role).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("role %s: %w", role, auth.ErrNotFound)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_name = $1`, role); err != nil {
		return err
	}
	for _, p := range perms {
		if err := insertRolePermission(ctx, tx, role, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GrantPermission(ctx context.Context, role string, perm auth.Permission) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRolePermission(ctx, tx, role, perm); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("role %s: %w", role, auth.ErrNotFound)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokePermission(ctx context.Context, role string, perm auth.Permission) error {
	if s.db == nil {
		return errUnavailable
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `select 1 from roles where name = $1`, role).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("role %s: %w", role, auth.ErrNotFound)
		}
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		delete from role_permissions
		where role_name = $1 and resource = $2 and action = $3
	`, role, perm.Resource, perm.Action)
	return err
}

func insertRolePermission(ctx context.Context, tx *sql.Tx, role string, p auth.Permission) error {
	if _, err := tx.ExecContext(ctx, `
		insert into permissions (resource, action)
		values ($1, $2)
		on conflict do nothing
	`, p.Resource, p.Action); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		insert into role_permissions (role_name, resource, action)
		values ($1, $2, $3)
		on conflict do nothing
	`, role, p.Resource, p.Action)
	return err
}
