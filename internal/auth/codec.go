package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HS256 signing secret the codec accepts.
const MinSecretLength = 32

// CodecConfig is loaded once at startup and never mutated afterwards.
type CodecConfig struct {
	Secret []byte
	Issuer string
}

// Claims represents JWT claims carried by access and refresh tokens.
type Claims struct {
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the iat claim or the zero time.
func (c Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec signs and parses bearer tokens with HS256.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
	newID  func() string
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source used for iat, exp and expiry checks.
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates cfg and returns a codec bound to it.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, MinSecretLength)
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	c := &Codec{
		secret: secret,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given type for subject and returns it with its jti.
func (c *Codec) Issue(subject string, typ TokenType, ttl time.Duration) (string, string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !typ.Valid() {
		return "", "", fmt.Errorf("%w: unknown token type %q", ErrInvalidInput, typ)
	}
	if ttl <= 0 {
		return "", "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}

	// iat carries whole seconds; keep exp aligned so exp-iat equals ttl.
	now := c.now().UTC().Truncate(time.Second)
	jti := c.newID()
	claims := Claims{
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, nil
}

// Parse verifies signature and expiry with zero leeway. It never consults
// revocation state.
func (c *Codec) Parse(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(0),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return c.parse(token, jwt.NewParser(opts...))
}

// ParseAllowExpired verifies the signature but skips time-based validation.
// Logout uses it so expired tokens can still be revoked.
func (c *Codec) ParseAllowExpired(token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return c.parse(token, parser)
}

func (c *Codec) parse(token string, parser *jwt.Parser) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMalformed
	}
	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, classifyParseError(err)
	}
	if !parsed.Valid {
		return Claims{}, ErrMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" || !claims.TokenType.Valid() {
		return Claims{}, ErrMalformed
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrInvalidSignature):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
