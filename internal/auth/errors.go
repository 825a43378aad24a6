package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrMalformed        = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrExpired          = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrInvalidToken)

	ErrWrongTokenType       = errors.New("auth: wrong token type")
	ErrRevoked              = errors.New("auth: token revoked")
	ErrStaleCredential      = errors.New("auth: token issued before password change")
	ErrPrincipalUnavailable = errors.New("auth: principal unavailable")

	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")

	ErrSystemFailure = errors.New("auth: system failure")
)

func systemFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSystemFailure, op, err)
}

// Kind returns a stable label for err, suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSystemFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "system_failure"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrWrongTokenType):
		return "wrong_token_type"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrStaleCredential):
		return "stale_credential"
	case errors.Is(err, ErrPrincipalUnavailable):
		return "principal_unavailable"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "system_failure"
	}
}
