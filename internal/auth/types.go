package auth

import (
	"sort"
	"strings"
	"time"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// Principal is a user identity as seen by the authorization core.
type Principal struct {
	Username     string        `json:"username"`
	PasswordHash string        `json:"-"`
	Enabled      bool          `json:"enabled"`
	Locked       bool          `json:"locked"`
	Role         string        `json:"role"`
	Permissions  PermissionSet `json:"-"`
}

// Active reports whether the principal may authenticate.
func (p Principal) Active() bool {
	return p.Enabled && !p.Locked
}

// Permission is an atomic (resource, action) pair. Two permissions are equal
// when both parts are equal after canonicalization.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// NewPermission returns the canonical form of the pair.
func NewPermission(resource, action string) Permission {
	return Permission{
		Resource: strings.ToUpper(strings.TrimSpace(resource)),
		Action:   strings.ToUpper(strings.TrimSpace(action)),
	}
}

// Canonical trims and upper-cases both parts.
func (p Permission) Canonical() Permission {
	return NewPermission(p.Resource, p.Action)
}

// Valid reports whether both parts are present.
func (p Permission) Valid() bool {
	c := p.Canonical()
	return c.Resource != "" && c.Action != ""
}

func (p Permission) String() string {
	if p.Resource == "" && p.Action == "" {
		return ""
	}
	return p.Resource + ":" + p.Action
}

// Requirement is the permission a guarded operation declares.
type Requirement = Permission

// PermissionSet is a set of canonical permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions, canonicalizing each.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if !p.Valid() {
			continue
		}
		set[p.Canonical()] = struct{}{}
	}
	return set
}

// Has reports exact membership. There is no wildcard or hierarchy matching.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p.Canonical()]
	return ok
}

// Sorted returns the permissions ordered by resource then action.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func (s PermissionSet) clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Role is a named collection of permissions.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// CanonicalRoleName normalizes role names for lookups.
func CanonicalRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// RevokedToken records an explicitly revoked token identifier.
type RevokedToken struct {
	JTI       string
	Reason    string
	RevokedAt time.Time
}

// PasswordChangeCutoff invalidates tokens issued before At for Username.
type PasswordChangeCutoff struct {
	Username string
	At       time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInMs  int64
	Username     string
}

// LogoutResult reports which of the presented tokens were revoked.
type LogoutResult struct {
	RevokedAccess  bool
	RevokedRefresh bool
}
