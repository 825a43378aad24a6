package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DecisionObserver receives the internal outcome label of every gateway decision.
type DecisionObserver func(ctx context.Context, req Requirement, kind string)

// Gateway is the per-request authorization entry point. It holds no mutable
// state of its own and is safe for concurrent use.
type Gateway struct {
	codec       *Codec
	revocations RevocationStore
	principals  PrincipalStore
	directory   *Directory
	logger      *slog.Logger
	observe     DecisionObserver
}

// GatewayOption configures Gateway behavior.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger used to record rejection kinds.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithDecisionObserver registers fn to be called once per decision.
func WithDecisionObserver(fn DecisionObserver) GatewayOption {
	return func(g *Gateway) {
		g.observe = fn
	}
}

// NewGateway constructs a Gateway.
func NewGateway(codec *Codec, revocations RevocationStore, principals PrincipalStore, directory *Directory, opts ...GatewayOption) (*Gateway, error) {
	if codec == nil || revocations == nil || principals == nil || directory == nil {
		return nil, errors.New("auth: codec, revocation store, principal store and directory are required")
	}
	g := &Gateway{
		codec:       codec,
		revocations: revocations,
		principals:  principals,
		directory:   directory,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate validates the bearer access token and resolves its principal
// with the current permission set of the principal's role. Every token or
// principal problem is reported as ErrUnauthenticated.
func (g *Gateway) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	principal, err := g.authenticate(ctx, bearer)
	if err != nil {
		return Principal{}, g.reject(ctx, Requirement{}, principal.Username, err)
	}
	g.record(ctx, Requirement{}, nil)
	return principal, nil
}

// Authorize validates bearer and checks that the principal's role grants req.
func (g *Gateway) Authorize(ctx context.Context, bearer string, req Requirement) (Principal, error) {
	if !req.Valid() {
		return Principal{}, g.reject(ctx, req, "", systemFailure("authorize", fmt.Errorf("%w: empty requirement", ErrInvalidInput)))
	}
	req = req.Canonical()
	principal, err := g.authenticate(ctx, bearer)
	if err != nil {
		return Principal{}, g.reject(ctx, req, principal.Username, err)
	}
	if !principal.Permissions.Has(req) {
		return Principal{}, g.reject(ctx, req, principal.Username, ErrForbidden)
	}
	g.record(ctx, req, nil)
	return principal, nil
}

// Admit runs Authorize and returns ctx carrying the resolved principal.
func (g *Gateway) Admit(ctx context.Context, bearer string, req Requirement) (context.Context, Principal, error) {
	principal, err := g.Authorize(ctx, bearer, req)
	if err != nil {
		return ctx, Principal{}, err
	}
	return ContextWithPrincipal(ctx, principal), principal, nil
}

// authenticate returns a principal carrying only the subject when a later
// step fails, so rejections can be logged against it.
func (g *Gateway) authenticate(ctx context.Context, bearer string) (Principal, error) {
	if bearer == "" {
		return Principal{}, ErrMalformed
	}
	claims, err := g.codec.Parse(bearer)
	if err != nil {
		return Principal{}, err
	}
	subject := Principal{Username: claims.Subject}
	if claims.TokenType != TokenAccess {
		return subject, ErrWrongTokenType
	}

	revoked, err := g.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return subject, systemFailure("check revocation", err)
	}
	if revoked {
		return subject, ErrRevoked
	}
	stale, err := g.revocations.IsIssuedBeforeCutoff(ctx, claims.Subject, claims.IssuedAtTime())
	if err != nil {
		return subject, systemFailure("check password cutoff", err)
	}
	if stale {
		return subject, ErrStaleCredential
	}

	principal, err := resolveActivePrincipal(ctx, g.principals, claims.Subject)
	if err != nil {
		return subject, err
	}
	perms, err := g.directory.PermissionsForRole(ctx, principal.Role)
	if err != nil {
		return subject, err
	}
	principal.Permissions = perms
	return principal, nil
}

func (g *Gateway) reject(ctx context.Context, req Requirement, username string, err error) error {
	g.record(ctx, req, err)
	if isSystemError(err) {
		g.logger.ErrorContext(ctx, "authorization failed",
			"username", username, "requirement", req.String(), "error", err)
		return asSystemFailure("authorize", err)
	}
	g.logger.InfoContext(ctx, "authorization rejected",
		"username", username, "requirement", req.String(), "kind", Kind(err))
	if errors.Is(err, ErrForbidden) {
		return ErrForbidden
	}
	return ErrUnauthenticated
}

func (g *Gateway) record(ctx context.Context, req Requirement, err error) {
	if g.observe != nil {
		g.observe(ctx, req, Kind(err))
	}
}
