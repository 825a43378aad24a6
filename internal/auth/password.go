package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const argon2idPrefix = "$argon2id$"

var errPasswordMismatch = errors.New("password mismatch")

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash. Both bcrypt and
// argon2id encoded hashes are accepted.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if strings.HasPrefix(hash, argon2idPrefix) {
		return verifyArgon2id(hash, password)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// verifyArgon2id checks hashes of the form
// $argon2id$v=19$m=65536,t=2,p=1$<salt>$<key>.
func verifyArgon2id(encoded, password string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return errors.New("invalid argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return errors.New("unsupported argon2id version")
	}
	var (
		memory      uint32
		iterations  uint32
		parallelism uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return fmt.Errorf("invalid argon2id parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errPasswordMismatch
	}
	return nil
}

// HashPasswordArgon2id hashes plaintext password using argon2id.
func HashPasswordArgon2id(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	const (
		memory      = 64 * 1024
		iterations  = 2
		parallelism = 1
		keyLength   = 32
		saltLength  = 16
	)

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		memory,
		iterations,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming burns one hash comparison so unknown usernames cost the same
// as wrong passwords.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("tallybook-timing-equalizer"), bcrypt.DefaultCost)
		if err == nil {
			dummyHash = string(h)
		}
	})
	if dummyHash != "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
	}
}

// PasswordVerifier is the CredentialVerifier backed by a PrincipalStore and
// slow password hashes.
type PasswordVerifier struct {
	principals PrincipalStore
}

var _ CredentialVerifier = (*PasswordVerifier)(nil)

// NewPasswordVerifier constructs a PasswordVerifier.
func NewPasswordVerifier(principals PrincipalStore) (*PasswordVerifier, error) {
	if principals == nil {
		return nil, errors.New("principal store is required")
	}
	return &PasswordVerifier{principals: principals}, nil
}

// Verify returns the principal when the password matches and the account is
// enabled and unlocked. Every other outcome except store faults is
// ErrInvalidCredentials.
func (v *PasswordVerifier) Verify(ctx context.Context, username, password string) (Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Principal{}, ErrInvalidCredentials
	}
	principal, err := v.principals.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		equalizeTiming(password)
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, systemFailure("find principal", err)
	}
	if err := VerifyPassword(principal.PasswordHash, password); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if !principal.Active() {
		return Principal{}, ErrInvalidCredentials
	}
	return principal, nil
}
