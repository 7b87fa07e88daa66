package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeUser struct {
	secret    string
	authority identity.Authority
}

// fakeAuth keeps sessions in memory; a token is simply its locator.
type fakeAuth struct {
	mu       sync.Mutex
	users    map[string]fakeUser
	sessions map[string]*services.ResolvedIdentity
	issued   int

	lastOrigin *string
	lastIP     string
	internal   error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: map[string]fakeUser{}, sessions: map[string]*services.ResolvedIdentity{}}
}

func (f *fakeAuth) addUser(id identity.ScopedUserID, secret string, a identity.Authority) {
	f.users[id.UniversalID()] = fakeUser{secret: secret, authority: a}
}

func (f *fakeAuth) Authenticate(_ context.Context, tenantID int64, identifier, secret string) (*services.ResolvedIdentity, error) {
	if f.internal != nil {
		return nil, f.internal
	}
	id := identity.NewScopedUserID(identifier, tenantID)
	u, ok := f.users[id.UniversalID()]
	if !ok || u.secret != secret {
		return nil, common.ErrInvalidCredentials
	}
	return &services.ResolvedIdentity{ID: id, Authority: u.authority}, nil
}

func (f *fakeAuth) IssueToken(_ context.Context, id *services.ResolvedIdentity, origin *string, ip string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	token := fmt.Sprintf("tok-%d", f.issued)
	f.sessions[token] = &services.ResolvedIdentity{
		ID:        id.ID,
		Authority: id.Authority,
		Claims:    &auth.TokenClaims{Owner: id.ID, Locator: token, Origin: origin},
	}
	f.lastOrigin, f.lastIP = origin, ip
	return token, nil
}

func (f *fakeAuth) IssueStaticToken(ctx context.Context, id *services.ResolvedIdentity, origin *string, ip string) (string, error) {
	if !id.Authority.AtLeast(identity.AuthorityOwner) {
		return "", fmt.Errorf("%w: only owners can create static tokens", common.ErrAccessDenied)
	}
	return f.IssueToken(ctx, id, origin, ip)
}

func (f *fakeAuth) Resolve(_ context.Context, header string) (*services.ResolvedIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sessions[strings.TrimPrefix(header, common.BearerPrefix)]
	if !ok {
		return nil, common.ErrTokenBlocked
	}
	return id, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, id *services.ResolvedIdentity, ip string) (string, error) {
	return f.IssueToken(ctx, id, id.Claims.Origin, ip)
}

func (f *fakeAuth) RevokeCurrent(_ context.Context, id *services.ResolvedIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id.Claims.Locator)
	return nil
}

func (f *fakeAuth) revokeOwner(owner identity.ScopedUserID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for tok, s := range f.sessions {
		if s.ID == owner {
			delete(f.sessions, tok)
			n++
		}
	}
	return n
}

func (f *fakeAuth) RevokeAll(_ context.Context, id *services.ResolvedIdentity) (int64, error) {
	return f.revokeOwner(id.ID), nil
}

func (f *fakeAuth) RevokeAllFor(_ context.Context, _ *services.ResolvedIdentity, target identity.ScopedUserID) (int64, error) {
	return f.revokeOwner(target), nil
}

func (f *fakeAuth) RevokeTokens(_ context.Context, id *services.ResolvedIdentity, locators []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range locators {
		if s, ok := f.sessions[l]; ok && s.ID == id.ID {
			delete(f.sessions, l)
			n++
		}
	}
	return n, nil
}

func row(s *services.ResolvedIdentity) *models.Token {
	return &models.Token{
		Locator:   s.Claims.Locator,
		Owner:     s.ID,
		Origin:    s.Claims.Origin,
		CreatedAt: issuedAt,
		ExpiresAt: issuedAt.Add(24 * time.Hour),
	}
}

func (f *fakeAuth) TokenDetails(_ context.Context, id *services.ResolvedIdentity) (*models.Token, error) {
	if f.internal != nil {
		return nil, f.internal
	}
	return row(id), nil
}

func (f *fakeAuth) list(owner identity.ScopedUserID) []*models.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Token
	for _, s := range f.sessions {
		if s.ID == owner {
			out = append(out, row(s))
		}
	}
	return out
}

func (f *fakeAuth) ListTokens(_ context.Context, id *services.ResolvedIdentity, _ *bool) ([]*models.Token, error) {
	return f.list(id.ID), nil
}

func (f *fakeAuth) ListTokensFor(_ context.Context, _ *services.ResolvedIdentity, target identity.ScopedUserID, _ *bool) ([]*models.Token, error) {
	return f.list(target), nil
}

type fakeAccess struct {
	mu    sync.Mutex
	err   error
	calls []services.Privilege

	// closed tenants fail the functional check.
	closed  map[int64]bool
	tenants []int64
}

func (f *fakeAccess) RequireProjectFunctional(_ context.Context, tenantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenantID)
	if f.closed[tenantID] {
		return fmt.Errorf("%w: project is BLOCKED", common.ErrProjectNotFunctional)
	}
	return nil
}

func (f *fakeAccess) Check(_ context.Context, _ *services.ResolvedIdentity, _ identity.ScopedUserID, p services.Privilege) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

func nopLogger() logging.Logger { return logging.NewNopLogger() }

// startServer serves s over an in-memory listener and returns a client
// connection to it.
func startServer(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return conn
}
