package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tallybook.org/internal/auth"
)

var _ auth.RevocationStore = (*Store)(nil)

func (s *Store) Revoke(ctx context.Context, rec auth.RevokedToken) error {
	if s.db == nil {
		return errUnavailable
	}
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti is required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (jti, reason, revoked_at)
		values ($1, $2, $3)
		on conflict (jti) do nothing
	`, rec.JTI, rec.Reason, rec.RevokedAt.UTC())
	return err
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.db == nil {
		return false, errUnavailable
	}
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from revoked_tokens where jti = $1)
	`, jti).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (s *Store) RecordPasswordChangeCutoff(ctx context.Context, username string, at time.Time) error {
	if s.db == nil {
		return errUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		insert into password_change_cutoffs (username, cutoff_at)
		values ($1, $2)
		on conflict (username) do update
		set cutoff_at = excluded.cutoff_at
	`, username, at.UTC())
	return err
}

func (s *Store) IsIssuedBeforeCutoff(ctx context.Context, username string, issuedAt time.Time) (bool, error) {
	if s.db == nil {
		return false, errUnavailable
	}
	var cutoff time.Time
	err := s.db.QueryRowContext(ctx, `
		select cutoff_at from password_change_cutoffs where username = $1
	`, username).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return issuedAt.Before(cutoff), nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, stmt := range []string{
		`delete from revoked_tokens where revoked_at < $1`,
		`delete from password_change_cutoffs where cutoff_at < $1`,
	} {
		res, err := tx.ExecContext(ctx, stmt, before.UTC())
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
