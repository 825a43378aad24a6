package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/obs"
)

const (
	authorizerService     = "tallybook.authz.v1.Authorizer"
	checkMethod           = "/" + authorizerService + "/Check"
	rolePermissionsMethod = "/" + authorizerService + "/RolePermissions"
)

// AuthorizerServer is the gRPC authorization surface. Messages are
// google.protobuf.Struct so no generated code is needed.
type AuthorizerServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RolePermissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var authorizerServiceDesc = grpc.ServiceDesc{
	ServiceName: authorizerService,
	HandlerType: (*AuthorizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: authorizerCheckHandler},
		{MethodName: "RolePermissions", Handler: authorizerRolePermissionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tallybook/authz/v1/authorizer.proto",
}

func authorizerCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizerServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizerServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func authorizerRolePermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizerServer).RolePermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rolePermissionsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizerServer).RolePermissions(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves grpc.health.v1 and the Authorizer service.
type GRPCServer struct {
	gateway   *auth.Gateway
	roles     *auth.RoleAdmin
	readiness readinessChecker
	health    *health.Server
	logger    *slog.Logger

	// full method name -> requirement enforced by the interceptor
	requirements map[string]auth.Requirement
}

var _ AuthorizerServer = (*GRPCServer)(nil)

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(gateway *auth.Gateway, roles *auth.RoleAdmin, r readinessChecker, logger *slog.Logger) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &GRPCServer{
		gateway:   gateway,
		roles:     roles,
		readiness: r,
		health:    health.NewServer(),
		logger:    logger,
		requirements: map[string]auth.Requirement{
			rolePermissionsMethod: auth.PermRoleRead,
		},
	}
}

// NewServer builds a grpc.Server with the auth interceptor and both services registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.UnaryInterceptor()))
	srv := grpc.NewServer(opts...)
	s.Register(srv)
	return srv
}

func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&authorizerServiceDesc, s)
}

// SyncHealth sets the serving status from the readiness probe.
func (s *GRPCServer) SyncHealth(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.health.SetServingStatus(authorizerService, healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(authorizerService, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown flips every service to NOT_SERVING.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
}

// UnaryInterceptor enforces the static requirement of guarded methods and
// attaches the principal to the handler context.
func (s *GRPCServer) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requirement, guarded := s.requirements[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}
		token, err := bearerFromMetadata(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		ctx, _, err = s.gateway.Admit(ctx, token, requirement)
		if err != nil {
			return nil, grpcError(err)
		}
		return handler(ctx, req)
	}
}

// Check reports whether the caller's bearer token grants {resource, action}.
func (s *GRPCServer) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token, err := bearerFromMetadata(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	fields := in.GetFields()
	requirement := auth.NewPermission(fields["resource"].GetStringValue(), fields["action"].GetStringValue())
	if !requirement.Valid() {
		return nil, status.Error(codes.InvalidArgument, "resource and action are required")
	}
	principal, err := s.gateway.Authorize(ctx, token, requirement)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"allowed":  true,
		"username": principal.Username,
		"role":     principal.Role,
	})
}

// RolePermissions lists the persisted permissions of {role}.
func (s *GRPCServer) RolePermissions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.roles == nil {
		return nil, status.Error(codes.Unavailable, "role administration unavailable")
	}
	role, err := s.roles.Role(ctx, in.GetFields()["role"].GetStringValue())
	if err != nil {
		if auth.Kind(err) == "system_failure" {
			s.logger.ErrorContext(ctx, "role lookup failed", "error", err)
		}
		return nil, grpcError(err)
	}
	perms := make([]any, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.String())
	}
	return structpb.NewStruct(map[string]any{
		"role":        role.Name,
		"permissions": perms,
	})
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing bearer token")
	}
	values := md.Get(strings.ToLower(authHeader))
	if len(values) == 0 {
		return "", errors.New("missing bearer token")
	}
	return extractBearerToken(values[0])
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, auth.ErrSystemFailure):
		return status.Error(codes.Internal, "internal error")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case auth.Kind(err) == "system_failure":
		return status.Error(codes.Internal, "internal error")
	default:
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
}
