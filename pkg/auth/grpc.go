package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key of the bearer token.
// Metadata keys are always lower-case.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor authenticates unary calls. It reads the bearer
// token from the "authorization" metadata, validates it, and stores the
// resulting [Identity] in the handler context. Missing or rejected
// tokens are answered with codes.Unauthenticated.
//
// checks run after authentication in order, exactly as [Enforce] does
// for HTTP; the first failing check is answered with
// codes.PermissionDenied.
func UnaryServerInterceptor(validator TokenValidator, checks ...Check) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authorizeGRPC(ctx, validator, info.FullMethod, checks)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(validator TokenValidator, checks ...Check) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authorizeGRPC(ss.Context(), validator, info.FullMethod, checks)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authorizeGRPC(ctx context.Context, validator TokenValidator, method string, checks []Check) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "Bearer token not provided")
	}
	values := md.Get(metadataAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "Bearer token not provided")
	}
	token := ExtractBearerToken(values[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "Bearer token not provided")
	}

	identity, err := validator.Validate(ctx, token)
	if err != nil {
		slog.WarnContext(ctx, "auth: grpc authentication failed",
			"method", method, "reason", reasonOf(err))
		return ctx, StatusFromError(err)
	}

	for _, check := range checks {
		if err := check(ctx, identity); err != nil {
			slog.WarnContext(ctx, "auth: grpc authorization denied",
				"method", method,
				"sub", identity.Subject,
				"tenant_id", identity.TenantID,
				"code", sserr.GetCode(err),
			)
			return ctx, StatusFromError(err)
		}
	}
	return ContextWithIdentity(ctx, identity), nil
}

// StatusFromError converts an error into a gRPC status, choosing the
// status code from the error's category. Internal errors keep a generic
// message.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	e, ok := sserr.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "An unexpected error occurred")
	}
	var c codes.Code
	switch e.Code.Category() {
	case "AUTH":
		c = codes.Unauthenticated
	case "AUTHZ":
		c = codes.PermissionDenied
	case "VAL":
		c = codes.InvalidArgument
	case "NF":
		c = codes.NotFound
	case "RATE":
		c = codes.ResourceExhausted
	case "UNAVAIL":
		c = codes.Unavailable
	case "TIMEOUT":
		c = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "An unexpected error occurred")
	}
	return status.Error(c, e.Message)
}

// wrappedServerStream overrides Context so stream handlers see the
// identity added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
