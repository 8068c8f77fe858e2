package rpc

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type permissionsKey struct{}

func RecoveryUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("gRPC handler panicked",
					zap.String("method", info.FullMethod),
					zap.Any("panic", recovered),
					zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, req)
		logger.Debug("gRPC request",
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("code", status.Code(err).String()))
		return response, err
	}
}

// AuthUnaryInterceptor validates the bearer token of historian calls and
// stores the granted permissions. A nil handler grants AllPermissions. Other
// services, such as health, are not checked.
func AuthUnaryInterceptor(h *auth.JWTHandler) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		if h == nil {
			return handler(context.WithValue(ctx, permissionsKey{}, auth.AllPermissions), req)
		}

		token, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := h.ValidateAccessToken(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		return handler(context.WithValue(ctx, permissionsKey{}, claims.Permissions), req)
	}
}

// ErrorUnaryInterceptor turns typed errors into gRPC statuses.
func ErrorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		response, err := handler(ctx, req)
		if err == nil {
			return response, nil
		}
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codeForKind(types.KindOf(err)), err.Error())
	}
}

func codeForKind(kind types.ErrorKind) codes.Code {
	switch kind {
	case types.KindEndpointNotFound:
		return codes.NotFound
	case types.KindEndpointNotReady:
		return codes.FailedPrecondition
	case types.KindUnknownVariant, types.KindMalformedPayload,
		types.KindInvalidIndexRange, types.KindEmptyRequest:
		return codes.InvalidArgument
	case types.KindStoreUnavailable:
		return codes.Unavailable
	case types.KindBackendError:
		return codes.Internal
	case types.KindTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

func requirePermission(ctx context.Context, perm auth.Permission) error {
	perms, _ := ctx.Value(permissionsKey{}).([]auth.Permission)
	if !auth.Granted(perms, perm) {
		return status.Errorf(codes.PermissionDenied, "missing permission %s", perm)
	}
	return nil
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", false
	}
	scheme, token, ok := strings.Cut(values[0], " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
