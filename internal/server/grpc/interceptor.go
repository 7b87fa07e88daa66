package grpc

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type ctxKey string

const identityKey ctxKey = "identity"

// RequestIDHeader is echoed back to the caller in response headers.
const RequestIDHeader = "x-request-id"

// maxTrackedLogins caps the limiter table; past it the table starts over.
const maxTrackedLogins = 10000

func withIdentity(ctx context.Context, id *services.ResolvedIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller resolved by the auth interceptor.
func IdentityFromContext(ctx context.Context) (*services.ResolvedIdentity, bool) {
	id, ok := ctx.Value(identityKey).(*services.ResolvedIdentity)
	return id, ok && id != nil
}

type loginLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*rate.Limiter
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &loginLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		byKey: make(map[string]*rate.Limiter),
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.byKey[key]
	if !ok {
		if len(l.byKey) >= maxTrackedLogins {
			l.byKey = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byKey[key] = lim
	}
	return lim.Allow()
}

func loginKey(in *structpb.Struct) string {
	tenant, _ := int64Field(in, FieldTenantID)
	return strconv.FormatInt(tenant, 10) + "/" + strings.ToLower(strings.TrimSpace(stringField(in, FieldIdentifier)))
}

// requestInterceptor tags every call with a request id and logs its outcome.
func (s *Server) requestInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	id := uuid.NewString()
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

	start := time.Now()
	resp, err := handler(ctx, req)

	s.logger.Info(ctx, "request finished",
		"request_id", id,
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

// authInterceptor throttles logins and resolves the bearer token for every
// other Auth method. Calls outside the Auth service pass through.
func (s *Server) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
		return handler(ctx, req)
	}

	if info.FullMethod == MethodLogin {
		in, _ := req.(*structpb.Struct)
		key := loginKey(in)
		if !s.limiter.allow(key) {
			s.logger.Warn(ctx, "login throttled", "key", key)
			return nil, status.Error(codes.ResourceExhausted, "too many login attempts")
		}
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeaderName); len(values) > 0 {
			header = values[0]
		}
	}
	if strings.TrimSpace(header) == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	id, err := s.auth.Resolve(ctx, header)
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}

	return handler(withIdentity(ctx, id), req)
}
