package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryPrincipalStore keeps principals in process memory.
type MemoryPrincipalStore struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

var (
	_ PrincipalStore  = (*MemoryPrincipalStore)(nil)
	_ CredentialStore = (*MemoryPrincipalStore)(nil)
)

// NewMemoryPrincipalStore returns a store seeded with principals.
func NewMemoryPrincipalStore(principals ...Principal) *MemoryPrincipalStore {
	s := &MemoryPrincipalStore{principals: make(map[string]Principal, len(principals))}
	for _, p := range principals {
		s.Put(p)
	}
	return s
}

// Put inserts or replaces a principal.
func (s *MemoryPrincipalStore) Put(p Principal) {
	p.Username = strings.TrimSpace(p.Username)
	p.Role = CanonicalRoleName(p.Role)
	p.Permissions = nil
	s.mu.Lock()
	s.principals[p.Username] = p
	s.mu.Unlock()
}

func (s *MemoryPrincipalStore) FindByUsername(ctx context.Context, username string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[strings.TrimSpace(username)]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryPrincipalStore) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[strings.TrimSpace(username)]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	s.principals[p.Username] = p
	return nil
}

// MemoryRoleStore keeps roles and their permissions in process memory.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]PermissionSet
}

var (
	_ RoleStore  = (*MemoryRoleStore)(nil)
	_ RoleWriter = (*MemoryRoleStore)(nil)
)

// NewMemoryRoleStore returns a store seeded with roles.
func NewMemoryRoleStore(roles ...Role) *MemoryRoleStore {
	s := &MemoryRoleStore{roles: make(map[string]PermissionSet, len(roles))}
	for _, r := range roles {
		s.roles[CanonicalRoleName(r.Name)] = NewPermissionSet(r.Permissions...)
	}
	return s
}

func (s *MemoryRoleStore) FindRole(ctx context.Context, name string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	name = CanonicalRoleName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms, ok := s.roles[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return Role{Name: name, Permissions: perms.Sorted()}, nil
}

func (s *MemoryRoleStore) SetRolePermissions(ctx context.Context, role string, perms []Permission) error {
	return s.mutate(ctx, role, func(PermissionSet) PermissionSet {
		return NewPermissionSet(perms...)
	})
}

func (s *MemoryRoleStore) GrantPermission(ctx context.Context, role string, perm Permission) error {
	return s.mutate(ctx, role, func(set PermissionSet) PermissionSet {
		set[perm.Canonical()] = struct{}{}
		return set
	})
}

func (s *MemoryRoleStore) RevokePermission(ctx context.Context, role string, perm Permission) error {
	return s.mutate(ctx, role, func(set PermissionSet) PermissionSet {
		delete(set, perm.Canonical())
		return set
	})
}

func (s *MemoryRoleStore) mutate(ctx context.Context, role string, fn func(PermissionSet) PermissionSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := CanonicalRoleName(role)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.roles[name]
	if !ok {
		return fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	s.roles[name] = fn(current.clone())
	return nil
}

// MemoryRevocationStore is a RevocationStore for a single process.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]RevokedToken
	cutoffs map[string]time.Time
}

var _ RevocationStore = (*MemoryRevocationStore)(nil)

// NewMemoryRevocationStore returns an empty store.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		revoked: make(map[string]RevokedToken),
		cutoffs: make(map[string]time.Time),
	}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, rec RevokedToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[rec.JTI]; ok {
		return nil
	}
	s.revoked[rec.JTI] = rec
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *MemoryRevocationStore) RecordPasswordChangeCutoff(ctx context.Context, username string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cutoffs[username] = at
	s.mu.Unlock()
	return nil
}

func (s *MemoryRevocationStore) IsIssuedBeforeCutoff(ctx context.Context, username string, issuedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	cutoff, ok := s.cutoffs[username]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return issuedAt.Before(cutoff), nil
}

func (s *MemoryRevocationStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for jti, rec := range s.revoked {
		if rec.RevokedAt.Before(before) {
			delete(s.revoked, jti)
			removed++
		}
	}
	for user, at := range s.cutoffs {
		if at.Before(before) {
			delete(s.cutoffs, user)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of revoked token records.
func (s *MemoryRevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revoked)
}
