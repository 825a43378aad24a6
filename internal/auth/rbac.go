package auth

import (
	"context"
	"errors"
	"fmt"
)

// RoleAdmin mutates role permissions and keeps the Directory in step.
type RoleAdmin struct {
	roles     RoleStore
	writer    RoleWriter
	directory *Directory
}

// NewRoleAdmin constructs a RoleAdmin.
func NewRoleAdmin(roles RoleStore, writer RoleWriter, directory *Directory) (*RoleAdmin, error) {
	if roles == nil || writer == nil || directory == nil {
		return nil, errors.New("auth: role store, role writer and directory are required")
	}
	return &RoleAdmin{roles: roles, writer: writer, directory: directory}, nil
}

// Role returns the persisted role with its permissions sorted.
func (a *RoleAdmin) Role(ctx context.Context, name string) (Role, error) {
	name = CanonicalRoleName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := a.roles.FindRole(ctx, name)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = NewPermissionSet(role.Permissions...).Sorted()
	return role, nil
}

// SetRolePermissions replaces the permission set of role.
func (a *RoleAdmin) SetRolePermissions(ctx context.Context, name string, perms []Permission) error {
	name = CanonicalRoleName(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	set, err := validatePermissions(perms)
	if err != nil {
		return err
	}
	defer a.directory.Invalidate(name)
	return a.writer.SetRolePermissions(ctx, name, set.Sorted())
}

// Grant adds perm to role. Granting an existing permission is a no-op.
func (a *RoleAdmin) Grant(ctx context.Context, name string, perm Permission) error {
	name, perm, err := validateRolePermission(name, perm)
	if err != nil {
		return err
	}
	defer a.directory.Invalidate(name)
	return a.writer.GrantPermission(ctx, name, perm)
}

// Revoke removes perm from role. Subsequent Directory reads no longer see it.
func (a *RoleAdmin) Revoke(ctx context.Context, name string, perm Permission) error {
	name, perm, err := validateRolePermission(name, perm)
	if err != nil {
		return err
	}
	defer a.directory.Invalidate(name)
	return a.writer.RevokePermission(ctx, name, perm)
}

func validateRolePermission(name string, perm Permission) (string, Permission, error) {
	name = CanonicalRoleName(name)
	if name == "" {
		return "", Permission{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if !perm.Valid() {
		return "", Permission{}, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	return name, perm.Canonical(), nil
}

func validatePermissions(perms []Permission) (PermissionSet, error) {
	for _, p := range perms {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
		}
	}
	return NewPermissionSet(perms...), nil
}
