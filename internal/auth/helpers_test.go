package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(h)
}

func mustVerifier(t *testing.T, principals PrincipalStore) *PasswordVerifier {
	t.Helper()
	v, err := NewPasswordVerifier(principals)
	if err != nil {
		t.Fatalf("NewPasswordVerifier: %v", err)
	}
	return v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock       *testClock
	codec       *Codec
	principals  *MemoryPrincipalStore
	roles       *MemoryRoleStore
	revocations *MemoryRevocationStore
	directory   *Directory
	tokens      *TokenService
	gateway     *Gateway
	admin       *RoleAdmin
}

var (
	permExpenseCreate  = NewPermission("EXPENSE", "CREATE")
	permExpenseApprove = NewPermission("EXPENSE", "APPROVE")
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: newTestClock()}

	codec, err := NewCodec(CodecConfig{Secret: []byte(testSecret), Issuer: "tallybook-test"}, WithCodecClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f.codec = codec

	f.principals = NewMemoryPrincipalStore(
		Principal{Username: "alice", PasswordHash: mustHash(t, "alice-password"), Enabled: true, Role: "USER"},
		Principal{Username: "bob", PasswordHash: mustHash(t, "bob-password"), Enabled: true, Role: "USER"},
		Principal{Username: "root", PasswordHash: mustHash(t, "root-password"), Enabled: true, Role: "ADMIN"},
		Principal{Username: "carol", PasswordHash: mustHash(t, "carol-password"), Enabled: false, Role: "USER"},
		Principal{Username: "dave", PasswordHash: mustHash(t, "dave-password"), Enabled: true, Locked: true, Role: "USER"},
	)
	f.roles = NewMemoryRoleStore(
		Role{Name: "USER", Permissions: []Permission{permExpenseCreate}},
		Role{Name: "ADMIN", Permissions: []Permission{permExpenseCreate, permExpenseApprove, PermRoleRead, PermRoleManage, PermUserResetPassword}},
	)
	f.revocations = NewMemoryRevocationStore()

	f.directory, err = NewDirectory(f.roles)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	verifier, err := NewPasswordVerifier(f.principals)
	if err != nil {
		t.Fatalf("NewPasswordVerifier: %v", err)
	}
	f.tokens, err = NewTokenService(codec, verifier, f.principals, f.revocations,
		WithClock(f.clock.Now),
		WithAccessTTL(time.Hour),
		WithRefreshTTL(7*24*time.Hour),
		WithCredentialStore(f.principals),
		WithPasswordHasher(func(pw string) (string, error) {
			h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
			return string(h), err
		}),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	f.gateway, err = NewGateway(codec, f.revocations, f.principals, f.directory, WithGatewayLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	f.admin, err = NewRoleAdmin(f.roles, f.roles, f.directory)
	if err != nil {
		t.Fatalf("NewRoleAdmin: %v", err)
	}
	return f
}

func (f *fixture) login(t *testing.T, username, password string) TokenPair {
	t.Helper()
	pair, err := f.tokens.Login(context.Background(), username, password)
	if err != nil {
		t.Fatalf("Login(%s): %v", username, err)
	}
	return pair
}

// failingRevocations fails every call.
type failingRevocations struct{}

var errStoreDown = errors.New("store unreachable")

func (failingRevocations) Revoke(context.Context, RevokedToken) error { return errStoreDown }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errStoreDown
}
func (failingRevocations) RecordPasswordChangeCutoff(context.Context, string, time.Time) error {
	return errStoreDown
}
func (failingRevocations) IsIssuedBeforeCutoff(context.Context, string, time.Time) (bool, error) {
	return false, errStoreDown
}
func (failingRevocations) Purge(context.Context, time.Time) (int64, error) { return 0, errStoreDown }
