package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestLoginIssuesAccessAndRefreshTokens(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")

	if pair.Username != "alice" {
		t.Fatalf("unexpected username %q", pair.Username)
	}
	if pair.ExpiresInMs != time.Hour.Milliseconds() {
		t.Fatalf("unexpected expires_in_ms %d", pair.ExpiresInMs)
	}
	access, err := f.codec.Parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if access.TokenType != TokenAccess {
		t.Fatalf("expected access token type, got %s", access.TokenType)
	}
	if got := access.ExpiresAtTime().Sub(access.IssuedAtTime()); got != time.Hour {
		t.Fatalf("expected access lifetime 1h, got %s", got)
	}
	refresh, err := f.codec.Parse(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if refresh.TokenType != TokenRefresh {
		t.Fatalf("expected refresh token type, got %s", refresh.TokenType)
	}
	if got := refresh.ExpiresAtTime().Sub(refresh.IssuedAtTime()); got != 7*24*time.Hour {
		t.Fatalf("expected refresh lifetime 168h, got %s", got)
	}
	if access.ID == refresh.ID {
		t.Fatal("access and refresh tokens share a jti")
	}
}

func TestLoginDoesNotRevealWhichCheckFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string][2]string{
		"unknown user":   {"mallory", "whatever-password"},
		"wrong password": {"alice", "not-her-password"},
		"empty password": {"alice", ""},
		"disabled":       {"carol", "carol-password"},
		"locked":         {"dave", "dave-password"},
	}
	for name, creds := range cases {
		_, err := f.tokens.Login(ctx, creds[0], creds[1])
		if err != ErrInvalidCredentials {
			t.Fatalf("%s: expected bare ErrInvalidCredentials, got %v", name, err)
		}
	}
}

func TestRefreshReturnsSameRefreshToken(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")

	f.clock.Advance(10 * time.Minute)
	refreshed, err := f.tokens.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Fatal("expected refresh token to be returned unchanged")
	}
	if refreshed.AccessToken == pair.AccessToken {
		t.Fatal("expected a new access token")
	}
	claims, err := f.codec.Parse(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("parse refreshed access: %v", err)
	}
	if !claims.IssuedAtTime().Equal(f.clock.Now()) {
		t.Fatalf("expected new access token issued now, got %s", claims.IssuedAtTime())
	}
	if refreshed.Username != "alice" || refreshed.ExpiresInMs != time.Hour.Milliseconds() {
		t.Fatalf("unexpected pair: %+v", refreshed)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")
	_, err := f.tokens.Refresh(context.Background(), pair.AccessToken)
	if !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestRefreshRejectsInvalidAndExpiredTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.tokens.Refresh(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	pair := f.login(t, "alice", "alice-password")
	f.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")

	res := f.tokens.Logout(ctx, pair.AccessToken, pair.RefreshToken)
	if !res.RevokedAccess || !res.RevokedRefresh {
		t.Fatalf("expected both revoked, got %+v", res)
	}
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if _, err := f.gateway.Authorize(ctx, pair.AccessToken, permExpenseCreate); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLogoutReportsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")

	res := f.tokens.Logout(ctx, pair.AccessToken, "not-a-token")
	if !res.RevokedAccess || res.RevokedRefresh {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := f.tokens.Logout(ctx, "", ""); res.RevokedAccess || res.RevokedRefresh {
		t.Fatalf("expected nothing revoked, got %+v", res)
	}
}

func TestLogoutRevokesExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")
	access, err := f.codec.Parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	res := f.tokens.Logout(ctx, pair.AccessToken, "")
	if !res.RevokedAccess {
		t.Fatal("expected expired access token to be revoked")
	}
	revoked, err := f.revocations.IsRevoked(ctx, access.ID)
	if err != nil || !revoked {
		t.Fatalf("expected jti revoked, got %v %v", revoked, err)
	}
}

func TestLogoutTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")

	first := f.tokens.Logout(ctx, pair.AccessToken, pair.RefreshToken)
	second := f.tokens.Logout(ctx, pair.AccessToken, pair.RefreshToken)
	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
	if f.revocations.Len() != 2 {
		t.Fatalf("expected 2 revocation records, got %d", f.revocations.Len())
	}
}

func TestLogoutSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")
	svc, err := NewTokenService(f.codec, mustVerifier(t, f.principals), f.principals, failingRevocations{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	res := svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	if res.RevokedAccess || res.RevokedRefresh {
		t.Fatalf("expected no revocations, got %+v", res)
	}
}

func TestRefreshStaleAfterPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1 := f.login(t, "bob", "bob-password")
	f.clock.Advance(30 * time.Minute)

	if err := f.tokens.ResetPassword(ctx, "bob", "new-bob-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.tokens.Refresh(ctx, t1.RefreshToken); !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("expected ErrStaleCredential, got %v", err)
	}
	if _, err := f.tokens.Login(ctx, "bob", "bob-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}

	f.clock.Advance(time.Second)
	t2 := f.login(t, "bob", "new-bob-password")
	if _, err := f.tokens.Refresh(ctx, t2.RefreshToken); err != nil {
		t.Fatalf("expected new refresh token to work: %v", err)
	}
}

func TestRefreshIssuedInCutoffSecondStillWorks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Advance(400 * time.Millisecond)

	if err := f.tokens.ResetPassword(ctx, "bob", "new-bob-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	f.clock.Advance(200 * time.Millisecond)
	pair := f.login(t, "bob", "new-bob-password")
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("expected refresh issued after cutoff to work: %v", err)
	}
}

func TestChangePasswordRequiresCurrentPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")
	f.clock.Advance(time.Minute)

	if err := f.tokens.ChangePassword(ctx, "alice", "wrong", "brand-new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.tokens.ChangePassword(ctx, "alice", "alice-password", "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.tokens.ChangePassword(ctx, "alice", "alice-password", "brand-new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("expected ErrStaleCredential, got %v", err)
	}
}

func TestOverlongNewPasswordIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")
	f.clock.Advance(time.Minute)
	long := strings.Repeat("p", maxPasswordLength+8)

	if err := f.tokens.ChangePassword(ctx, "alice", "alice-password", long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ChangePassword: expected ErrInvalidInput, got %v", err)
	}
	if err := f.tokens.ResetPassword(ctx, "alice", long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ResetPassword: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("rejected change must not record a cutoff: %v", err)
	}
	if err := f.tokens.ResetPassword(ctx, "alice", strings.Repeat("p", maxPasswordLength)); err != nil {
		t.Fatalf("ResetPassword at the limit: %v", err)
	}
}

func TestHasherTooLongErrorIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	tokens, err := NewTokenService(f.codec, mustVerifier(t, f.principals), f.principals, f.revocations,
		WithCredentialStore(f.principals),
		WithPasswordHasher(func(string) (string, error) { return "", bcrypt.ErrPasswordTooLong }),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	err = tokens.ResetPassword(context.Background(), "bob", "long-enough-password")
	if !errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrSystemFailure) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResetPasswordUnknownUser(t *testing.T) {
	f := newFixture(t)
	if err := f.tokens.ResetPassword(context.Background(), "nobody", "long-enough-password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshRejectsUnavailablePrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t, "alice", "alice-password")

	alice, err := f.principals.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	alice.Enabled = false
	f.principals.Put(alice)

	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrPrincipalUnavailable) {
		t.Fatalf("expected ErrPrincipalUnavailable, got %v", err)
	}
}

func TestRefreshStoreFailureIsSystemFailure(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")
	svc, err := NewTokenService(f.codec, mustVerifier(t, f.principals), f.principals, failingRevocations{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrSystemFailure) {
		t.Fatalf("expected ErrSystemFailure, got %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestRefreshHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice", "alice-password")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSystemFailure) {
		t.Fatalf("expected ErrSystemFailure on cancelled context, got %v", err)
	}
}

func TestNewTokenServiceRejectsShortRefreshTTL(t *testing.T) {
	f := newFixture(t)
	_, err := NewTokenService(f.codec, mustVerifier(t, f.principals), f.principals, f.revocations,
		WithAccessTTL(2*time.Hour), WithRefreshTTL(time.Hour))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
