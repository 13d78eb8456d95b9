package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

func incoming(header string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", header))
}

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/accessguard.v1.Audit/MyActivity"}

func TestUnaryServerInterceptor(t *testing.T) {
	t.Parallel()
	v := &stubValidator{token: "good", identity: Identity{Subject: "u-1", Roles: []string{"analista"}, TenantID: "t1"}}

	tests := []struct {
		name   string
		ctx    context.Context
		checks []Check
		code   codes.Code
	}{
		{name: "valid", ctx: incoming("Bearer good"), code: codes.OK},
		{name: "no metadata", ctx: context.Background(), code: codes.Unauthenticated},
		{name: "wrong scheme", ctx: incoming("Basic abc"), code: codes.Unauthenticated},
		{name: "invalid token", ctx: incoming("Bearer forged"), code: codes.Unauthenticated},
		{name: "role allowed", ctx: incoming("Bearer good"), checks: []Check{RolesCheck("Analista"), TenantCheck()}, code: codes.OK},
		{name: "role denied", ctx: incoming("Bearer good"), checks: []Check{RolesCheck("admin")}, code: codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Identity
			handler := func(ctx context.Context, _ any) (any, error) {
				got = MustIdentityFromContext(ctx)
				return "ok", nil
			}
			resp, err := UnaryServerInterceptor(v, tt.checks...)(tt.ctx, nil, unaryInfo, handler)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.code == codes.OK {
				assert.Equal(t, "ok", resp)
				assert.Equal(t, "u-1", got.Subject)
			}
		})
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	t.Parallel()
	v := &stubValidator{token: "good", identity: Identity{Subject: "u-1", TenantID: "t1"}}
	info := &grpc.StreamServerInfo{FullMethod: "/accessguard.v1.Audit/Watch"}

	var got Identity
	err := StreamServerInterceptor(v)(nil, &fakeServerStream{ctx: incoming("Bearer good")}, info,
		func(_ any, ss grpc.ServerStream) error {
			got = MustIdentityFromContext(ss.Context())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)

	err = StreamServerInterceptor(v)(nil, &fakeServerStream{ctx: incoming("Bearer bad")}, info,
		func(any, grpc.ServerStream) error { t.Error("handler must not run"); return nil })
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestStatusFromError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		code codes.Code
	}{
		{sserr.New(sserr.CodeAuthenticationExpired, "expired"), codes.Unauthenticated},
		{sserr.New(sserr.CodeAuthorizationCrossTenant, "x"), codes.PermissionDenied},
		{sserr.New(sserr.CodeValidationRange, "x"), codes.InvalidArgument},
		{sserr.New(sserr.CodeRateLimited, "x"), codes.ResourceExhausted},
		{sserr.New(sserr.CodeInternalDatabase, "pg down"), codes.Internal},
		{errors.New("plain"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(StatusFromError(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, StatusFromError(nil))

	st, _ := status.FromError(StatusFromError(sserr.New(sserr.CodeInternalDatabase, "pg down")))
	assert.NotContains(t, st.Message(), "pg down")
}
