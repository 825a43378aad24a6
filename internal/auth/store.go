package auth

import (
	"context"
	"time"
)

// CredentialVerifier checks a username/password pair. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (Principal, error)
}

// PrincipalStore resolves principals by username. Absent principals yield ErrNotFound.
type PrincipalStore interface {
	FindByUsername(ctx context.Context, username string) (Principal, error)
}

// CredentialStore persists password hashes.
type CredentialStore interface {
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error
}

// RoleStore backs the Permission Directory. Absent roles yield ErrNotFound.
type RoleStore interface {
	FindRole(ctx context.Context, name string) (Role, error)
}

// RoleWriter mutates role permission assignments.
type RoleWriter interface {
	SetRolePermissions(ctx context.Context, role string, perms []Permission) error
	GrantPermission(ctx context.Context, role string, perm Permission) error
	RevokePermission(ctx context.Context, role string, perm Permission) error
}

// RevocationStore tracks revoked token identifiers and password-change cutoffs.
// Implementations must be safe for concurrent use.
type RevocationStore interface {
	// Revoke is insert-or-ignore on jti.
	Revoke(ctx context.Context, rec RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// RecordPasswordChangeCutoff replaces any earlier cutoff for the username.
	RecordPasswordChangeCutoff(ctx context.Context, username string, at time.Time) error
	// IsIssuedBeforeCutoff is false when no cutoff is recorded.
	IsIssuedBeforeCutoff(ctx context.Context, username string, issuedAt time.Time) (bool, error)
	// Purge drops revocation and cutoff records older than before.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
