package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Directory answers role->permission questions from the RoleStore. With a zero
// cache TTL every call reads persisted state; with a positive TTL a revoked
// permission may be honored for at most TTL unless Invalidate is called.
type Directory struct {
	roles RoleStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	gen     uint64
	entries map[string]directoryEntry
	loads   singleflight.Group
}

type directoryEntry struct {
	perms    PermissionSet
	loadedAt time.Time
}

// DirectoryOption configures Directory behavior.
type DirectoryOption func(*Directory)

// WithCacheTTL enables caching of role permission sets for ttl.
func WithCacheTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithDirectoryClock overrides the time source used for cache expiry.
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

// NewDirectory constructs a Directory over roles.
func NewDirectory(roles RoleStore, opts ...DirectoryOption) (*Directory, error) {
	if roles == nil {
		return nil, errors.New("auth: role store is required")
	}
	d := &Directory{
		roles:   roles,
		now:     time.Now,
		entries: make(map[string]directoryEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// CacheTTL returns the documented staleness bound; zero means always live.
func (d *Directory) CacheTTL() time.Duration { return d.ttl }

// PermissionsForRole returns the current permission set of role. Unknown roles
// have no permissions. The returned set is owned by the caller.
func (d *Directory) PermissionsForRole(ctx context.Context, role string) (PermissionSet, error) {
	name := CanonicalRoleName(role)
	if name == "" {
		return PermissionSet{}, nil
	}
	if d.ttl <= 0 {
		return d.load(ctx, name)
	}
	if perms, ok := d.cached(name); ok {
		return perms.clone(), nil
	}

	d.mu.RLock()
	gen := d.gen
	d.mu.RUnlock()

	ch := d.loads.DoChan(name, func() (any, error) {
		// Detached from the first caller so one cancellation does not fail
		// every waiter; each waiter still honors its own ctx below.
		perms, err := d.load(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}
		d.store(name, perms, gen)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, systemFailure("load role permissions", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet).clone(), nil
	}
}

// RoleHasPermission reports whether role currently grants exactly (resource, action).
func (d *Directory) RoleHasPermission(ctx context.Context, role, resource, action string) (bool, error) {
	perms, err := d.PermissionsForRole(ctx, role)
	if err != nil {
		return false, err
	}
	return perms.Has(NewPermission(resource, action)), nil
}

// Invalidate drops the cached entry for role.
func (d *Directory) Invalidate(role string) {
	name := CanonicalRoleName(role)
	d.mu.Lock()
	d.gen++
	delete(d.entries, name)
	d.mu.Unlock()
	d.loads.Forget(name)
}

// InvalidateAll drops every cached entry.
func (d *Directory) InvalidateAll() {
	d.mu.Lock()
	d.gen++
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	d.entries = make(map[string]directoryEntry)
	d.mu.Unlock()
	for _, name := range names {
		d.loads.Forget(name)
	}
}

func (d *Directory) cached(name string) (PermissionSet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[name]
	if !ok {
		return nil, false
	}
	if d.now().Sub(entry.loadedAt) >= d.ttl {
		return nil, false
	}
	return entry.perms, true
}

// store skips the write when an invalidation happened after the load began.
func (d *Directory) store(name string, perms PermissionSet, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		return
	}
	d.entries[name] = directoryEntry{perms: perms, loadedAt: d.now()}
}

func (d *Directory) load(ctx context.Context, name string) (PermissionSet, error) {
	role, err := d.roles.FindRole(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return PermissionSet{}, nil
	}
	if err != nil {
		return nil, systemFailure("load role permissions", err)
	}
	return NewPermissionSet(role.Permissions...), nil
}
