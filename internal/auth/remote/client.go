// Package remote is a client for the Authorizer gRPC service. cmd/smoke-authz
// drives it against a running deployment.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tallybook.org/internal/auth"
)

const (
	checkMethod           = "/tallybook.authz.v1.Authorizer/Check"
	rolePermissionsMethod = "/tallybook.authz.v1.Authorizer/RolePermissions"
)

// Client wraps a connection to the Authorizer service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new client. Without options the transport is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Decision is a positive answer from Check.
type Decision struct {
	Username string
	Role     string
}

// Check asks whether bearer grants (resource, action). A denial comes back
// as auth.ErrForbidden or auth.ErrUnauthenticated.
func (c *Client) Check(ctx context.Context, bearer, resource, action string) (Decision, error) {
	in, err := structpb.NewStruct(map[string]any{"resource": resource, "action": action})
	if err != nil {
		return Decision{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(withBearer(ctx, bearer), checkMethod, in, out); err != nil {
		return Decision{}, mapAuthzError(err)
	}
	fields := out.GetFields()
	if !fields["allowed"].GetBoolValue() {
		return Decision{}, auth.ErrForbidden
	}
	return Decision{
		Username: fields["username"].GetStringValue(),
		Role:     fields["role"].GetStringValue(),
	}, nil
}

// RolePermissions lists the permissions of role. bearer must grant (ROLE, READ).
func (c *Client) RolePermissions(ctx context.Context, bearer, role string) ([]auth.Permission, error) {
	in, err := structpb.NewStruct(map[string]any{"role": role})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(withBearer(ctx, bearer), rolePermissionsMethod, in, out); err != nil {
		return nil, mapAuthzError(err)
	}
	values := out.GetFields()["permissions"].GetListValue().GetValues()
	perms := make([]auth.Permission, 0, len(values))
	for _, v := range values {
		resource, action, ok := strings.Cut(v.GetStringValue(), ":")
		if !ok {
			return nil, fmt.Errorf("malformed permission %q", v.GetStringValue())
		}
		perms = append(perms, auth.NewPermission(resource, action))
	}
	return perms, nil
}

func withBearer(ctx context.Context, bearer string) context.Context {
	if bearer == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+bearer)
}

func mapAuthzError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return auth.ErrUnauthenticated
	case codes.PermissionDenied:
		return auth.ErrForbidden
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, st.Message())
	case codes.NotFound:
		return auth.ErrNotFound
	default:
		return err
	}
}

// WithTimeout returns a context with a default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
