package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Authenticator is the part of services.AuthService the boundary uses.
type Authenticator interface {
	Authenticate(ctx context.Context, tenantID int64, identifier, secret string) (*services.ResolvedIdentity, error)
	IssueToken(ctx context.Context, id *services.ResolvedIdentity, origin *string, ip string) (string, error)
	IssueStaticToken(ctx context.Context, id *services.ResolvedIdentity, origin *string, ip string) (string, error)
	Resolve(ctx context.Context, rawAuthHeader string) (*services.ResolvedIdentity, error)
	Refresh(ctx context.Context, id *services.ResolvedIdentity, ip string) (string, error)
	RevokeCurrent(ctx context.Context, id *services.ResolvedIdentity) error
	RevokeAll(ctx context.Context, id *services.ResolvedIdentity) (int64, error)
	RevokeAllFor(ctx context.Context, caller *services.ResolvedIdentity, target identity.ScopedUserID) (int64, error)
	RevokeTokens(ctx context.Context, id *services.ResolvedIdentity, locators []string) (int64, error)
	TokenDetails(ctx context.Context, id *services.ResolvedIdentity) (*models.Token, error)
	ListTokens(ctx context.Context, id *services.ResolvedIdentity, onlyValid *bool) ([]*models.Token, error)
	ListTokensFor(ctx context.Context, caller *services.ResolvedIdentity, target identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error)
}

// AccessChecker is the part of services.AccessService the boundary uses.
type AccessChecker interface {
	Check(ctx context.Context, caller *services.ResolvedIdentity, target identity.ScopedUserID, privilege services.Privilege) error
	RequireProjectFunctional(ctx context.Context, tenantID int64) error
}

var (
	_ Authenticator = (*services.AuthService)(nil)
	_ AccessChecker = (*services.AccessService)(nil)
	_ AuthServer    = (*Server)(nil)
)

type Server struct {
	address string
	auth    Authenticator
	access  AccessChecker
	limiter *loginLimiter
	logger  logging.Logger
	now     func() time.Time
}

func NewServer(address string, l logging.Logger, auth Authenticator, access AccessChecker, loginRate float64, loginBurst int) *Server {
	return &Server{
		address: address,
		auth:    auth,
		access:  access,
		limiter: newLoginLimiter(loginRate, loginBurst),
		logger:  l.With("module", "grpc_server"),
		now:     time.Now,
	}
}

// NewGRPCServer builds a grpc.Server with the Auth and health services and
// the interceptor chain installed.
func (s *Server) NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.requestInterceptor, s.authInterceptor))
	RegisterAuthServer(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv, hs
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv, hs := s.NewGRPCServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}
