package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRoleAdminInvalidatesCachedDirectory(t *testing.T) {
	clock := newTestClock()
	roles := NewMemoryRoleStore(Role{Name: "USER", Permissions: []Permission{permExpenseCreate}})
	dir, err := NewDirectory(roles, WithCacheTTL(time.Hour), WithDirectoryClock(clock.Now))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	admin, err := NewRoleAdmin(roles, roles, dir)
	if err != nil {
		t.Fatalf("NewRoleAdmin: %v", err)
	}
	ctx := context.Background()

	if ok, _ := dir.RoleHasPermission(ctx, "USER", "EXPENSE", "CREATE"); !ok {
		t.Fatal("expected initial grant")
	}
	if err := admin.Revoke(ctx, "USER", permExpenseCreate); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, _ := dir.RoleHasPermission(ctx, "USER", "EXPENSE", "CREATE"); ok {
		t.Fatal("revoked permission still honored from cache")
	}

	if err := admin.SetRolePermissions(ctx, "user", []Permission{permExpenseApprove, NewPermission("expense", "approve")}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	role, err := admin.Role(ctx, "USER")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if len(role.Permissions) != 1 || role.Permissions[0] != permExpenseApprove {
		t.Fatalf("unexpected permissions %v", role.Permissions)
	}
	if ok, _ := dir.RoleHasPermission(ctx, "USER", "EXPENSE", "APPROVE"); !ok {
		t.Fatal("expected new permission visible after set")
	}
}

func TestRoleAdminValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.admin.Grant(ctx, " ", permExpenseCreate); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty role, got %v", err)
	}
	if err := f.admin.Grant(ctx, "USER", NewPermission("EXPENSE", "")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty action, got %v", err)
	}
	if err := f.admin.SetRolePermissions(ctx, "USER", []Permission{{Resource: "X"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.admin.Role(ctx, "GHOST"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.admin.Revoke(ctx, "GHOST", permExpenseCreate); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKindLabels(t *testing.T) {
	cases := map[error]string{
		nil:                             "ok",
		ErrExpired:                      "expired",
		ErrMalformed:                    "malformed",
		ErrInvalidSignature:             "invalid_signature",
		ErrRevoked:                      "revoked",
		ErrStaleCredential:              "stale_credential",
		ErrForbidden:                    "forbidden",
		context.DeadlineExceeded:        "system_failure",
		errors.New("boom"):              "system_failure",
		systemFailure("x", ErrNotFound): "system_failure",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v)=%q, want %q", err, got, want)
		}
	}
}
