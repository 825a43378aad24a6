package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes and x/crypto rejects it outright.
	maxPasswordLength = 72

	reasonLogout = "logout"
)

// TokenService issues, refreshes and revokes bearer tokens.
type TokenService struct {
	codec       *Codec
	verifier    CredentialVerifier
	principals  PrincipalStore
	credentials CredentialStore
	revocations RevocationStore

	now          func() time.Time
	accessTTL    time.Duration
	refreshTTL   time.Duration
	hashPassword func(string) (string, error)
	logger       *slog.Logger
}

// ServiceOption configures TokenService behavior.
type ServiceOption func(*TokenService) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithCredentialStore enables password change and reset.
func WithCredentialStore(store CredentialStore) ServiceOption {
	return func(s *TokenService) error {
		s.credentials = store
		return nil
	}
}

// WithPasswordHasher overrides the hash function used for new passwords.
func WithPasswordHasher(fn func(string) (string, error)) ServiceOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.hashPassword = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for rejection and failure events.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *TokenService) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewTokenService constructs a TokenService.
func NewTokenService(codec *Codec, verifier CredentialVerifier, principals PrincipalStore, revocations RevocationStore, opts ...ServiceOption) (*TokenService, error) {
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	if verifier == nil || principals == nil || revocations == nil {
		return nil, errors.New("auth: verifier, principal store and revocation store are required")
	}
	svc := &TokenService{
		codec:        codec,
		verifier:     verifier,
		principals:   principals,
		revocations:  revocations,
		now:          time.Now,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		hashPassword: HashPassword,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.refreshTTL < svc.accessTTL {
		return nil, fmt.Errorf("%w: refresh ttl %s is shorter than access ttl %s", ErrInvalidInput, svc.refreshTTL, svc.accessTTL)
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// MaxTokenLifetime is the longest any issued token can stay valid.
func (s *TokenService) MaxTokenLifetime() time.Duration {
	return max(s.accessTTL, s.refreshTTL)
}

// Login verifies credentials and issues an access and a refresh token.
func (s *TokenService) Login(ctx context.Context, username, password string) (TokenPair, error) {
	principal, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		if isSystemError(err) {
			s.logger.ErrorContext(ctx, "login failed", "username", username, "error", err)
			return TokenPair{}, asSystemFailure("verify credentials", err)
		}
		s.logger.InfoContext(ctx, "login rejected", "username", username, "kind", Kind(err))
		return TokenPair{}, ErrInvalidCredentials
	}

	access, _, err := s.codec.Issue(principal.Username, TokenAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, systemFailure("issue access token", err)
	}
	refresh, _, err := s.codec.Issue(principal.Username, TokenRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, systemFailure("issue refresh token", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInMs:  s.accessTTL.Milliseconds(),
		Username:     principal.Username,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is returned unchanged.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.codec.Parse(refreshToken)
	if err != nil {
		return s.rejectRefresh(ctx, "", err)
	}
	if claims.TokenType != TokenRefresh {
		return s.rejectRefresh(ctx, claims.Subject, ErrWrongTokenType)
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return s.rejectRefresh(ctx, claims.Subject, systemFailure("check revocation", err))
	}
	if revoked {
		return s.rejectRefresh(ctx, claims.Subject, ErrRevoked)
	}

	stale, err := s.revocations.IsIssuedBeforeCutoff(ctx, claims.Subject, claims.IssuedAtTime())
	if err != nil {
		return s.rejectRefresh(ctx, claims.Subject, systemFailure("check password cutoff", err))
	}
	if stale {
		return s.rejectRefresh(ctx, claims.Subject, ErrStaleCredential)
	}

	principal, err := resolveActivePrincipal(ctx, s.principals, claims.Subject)
	if err != nil {
		return s.rejectRefresh(ctx, claims.Subject, err)
	}

	access, _, err := s.codec.Issue(principal.Username, TokenAccess, s.accessTTL)
	if err != nil {
		return s.rejectRefresh(ctx, claims.Subject, systemFailure("issue access token", err))
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresInMs:  s.accessTTL.Milliseconds(),
		Username:     principal.Username,
	}, nil
}

func (s *TokenService) rejectRefresh(ctx context.Context, subject string, err error) (TokenPair, error) {
	if isSystemError(err) {
		s.logger.ErrorContext(ctx, "refresh failed", "subject", subject, "error", err)
		return TokenPair{}, asSystemFailure("refresh", err)
	}
	s.logger.InfoContext(ctx, "refresh rejected", "subject", subject, "kind", Kind(err))
	return TokenPair{}, err
}

// Logout revokes the access token and, when given, the refresh token. Each
// revocation is attempted independently; expired tokens are still revoked.
func (s *TokenService) Logout(ctx context.Context, accessToken, refreshToken string) LogoutResult {
	var res LogoutResult
	res.RevokedAccess = s.revoke(ctx, accessToken, reasonLogout)
	if strings.TrimSpace(refreshToken) != "" {
		res.RevokedRefresh = s.revoke(ctx, refreshToken, reasonLogout)
	}
	return res
}

func (s *TokenService) revoke(ctx context.Context, token, reason string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	claims, err := s.codec.ParseAllowExpired(token)
	if err != nil {
		s.logger.InfoContext(ctx, "revoke skipped", "kind", Kind(err))
		return false
	}
	rec := RevokedToken{JTI: claims.ID, Reason: reason, RevokedAt: s.now().UTC()}
	if err := s.revocations.Revoke(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "revoke failed", "subject", claims.Subject, "jti", claims.ID, "error", err)
		return false
	}
	return true
}

// ChangePassword verifies the current password, stores the new one and
// records a cutoff invalidating every earlier refresh token of the user.
func (s *TokenService) ChangePassword(ctx context.Context, username, current, next string) error {
	if err := validateNewPassword(next); err != nil {
		return err
	}
	principal, err := s.verifier.Verify(ctx, username, current)
	if err != nil {
		if isSystemError(err) {
			return asSystemFailure("verify credentials", err)
		}
		return ErrInvalidCredentials
	}
	return s.applyPasswordChange(ctx, principal.Username, next)
}

// ResetPassword sets a new password for username without knowing the old one.
func (s *TokenService) ResetPassword(ctx context.Context, username, next string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if err := validateNewPassword(next); err != nil {
		return err
	}
	if _, err := s.principals.FindByUsername(ctx, username); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return systemFailure("find principal", err)
	}
	return s.applyPasswordChange(ctx, username, next)
}

func (s *TokenService) applyPasswordChange(ctx context.Context, username, next string) error {
	if s.credentials == nil {
		return systemFailure("change password", errors.New("credential store not configured"))
	}
	hash, err := s.hashPassword(next)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return systemFailure("hash password", err)
	}
	if err := s.credentials.UpdatePasswordHash(ctx, username, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return systemFailure("update password", err)
	}
	// iat has whole-second resolution, so the cutoff does too.
	cutoff := s.now().UTC().Truncate(time.Second)
	if err := s.revocations.RecordPasswordChangeCutoff(ctx, username, cutoff); err != nil {
		return systemFailure("record password cutoff", err)
	}
	s.logger.InfoContext(ctx, "password changed", "username", username, "cutoff", cutoff)
	return nil
}

func validateNewPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(pw) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

func resolveActivePrincipal(ctx context.Context, store PrincipalStore, username string) (Principal, error) {
	principal, err := store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrPrincipalUnavailable
	}
	if err != nil {
		return Principal{}, systemFailure("find principal", err)
	}
	if !principal.Active() {
		return Principal{}, ErrPrincipalUnavailable
	}
	return principal, nil
}

func isSystemError(err error) bool {
	return errors.Is(err, ErrSystemFailure) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func asSystemFailure(op string, err error) error {
	if errors.Is(err, ErrSystemFailure) {
		return err
	}
	return systemFailure(op, err)
}
