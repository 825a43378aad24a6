package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tallybook.org/internal/auth"
)

var (
	_ auth.PrincipalStore  = (*Store)(nil)
	_ auth.CredentialStore = (*Store)(nil)
)

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.Principal, error) {
	if s.db == nil {
		return auth.Principal{}, errUnavailable
	}
	var p auth.Principal
	err := s.db.QueryRowContext(ctx, `
		select username, password_hash, enabled, locked, role_name
		from principals
		where username = $1
	`, username).Scan(&p.Username, &p.PasswordHash, &p.Enabled, &p.Locked, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, err
	}
	p.Role = auth.CanonicalRoleName(p.Role)
	return p, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		update principals
		set password_hash = $2, updated_at = now()
		where username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// UpsertPrincipal creates username or replaces its hash, flags and role.
func (s *Store) UpsertPrincipal(ctx context.Context, p auth.Principal) error {
	if s.db == nil {
		return errUnavailable
	}
	if p.Username == "" || p.PasswordHash == "" {
		return fmt.Errorf("%w: username and password hash are required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into principals (username, password_hash, enabled, locked, role_name)
		values ($1, $2, $3, $4, $5)
		on conflict (username) do update
		set password_hash = excluded.password_hash,
			enabled = excluded.enabled,
			locked = excluded.locked,
			role_name = excluded.role_name,
			updated_at = now()
	`, p.Username, p.PasswordHash, p.Enabled, p.Locked, auth.CanonicalRoleName(p.Role))
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("role %s: %w", p.Role, auth.ErrNotFound)
	}
	return err
}
