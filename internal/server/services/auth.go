package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/locator"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/events"
	"github.com/dmitrijs2005/tenantguard/internal/server/geo"
	"github.com/dmitrijs2005/tenantguard/internal/server/metrics"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/repomanager"
)

// maxLocatorAttempts bounds the retries when two tokens of one owner and
// origin land on the same millisecond.
const maxLocatorAttempts = 5

// TokenSigner signs and verifies tokens.
type TokenSigner interface {
	Issue(subject string, claims map[string]string, issuedAt, expiresAt time.Time) (string, error)
	Verify(token string) error
}

type AuthOption func(*AuthService)

func WithClock(c Clock) AuthOption              { return func(s *AuthService) { s.clock = c } }
func WithCodec(c locator.Codec) AuthOption      { return func(s *AuthService) { s.codec = c } }
func WithGeo(g geo.Resolver) AuthOption         { return func(s *AuthService) { s.geo = g } }
func WithEvents(p events.Publisher) AuthOption  { return func(s *AuthService) { s.events = p } }
func WithMetrics(r metrics.Recorder) AuthOption { return func(s *AuthService) { s.metrics = r } }

// AuthService authenticates users, issues tokens and keeps the ledger.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	signer      TokenSigner
	codec       locator.Codec
	clock       Clock
	geo         geo.Resolver
	events      events.Publisher
	metrics     metrics.Recorder
	log         logging.Logger

	tokenTTL  time.Duration
	staticTTL time.Duration
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, signer TokenSigner, cfg *config.Config, log logging.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		db:          db,
		repomanager: m,
		signer:      signer,
		codec:       locator.NewCodec(),
		clock:       SystemClock{},
		geo:         geo.Nop{},
		events:      events.Discard{},
		metrics:     metrics.Nop{},
		log:         log.With("module", "auth"),
		tokenTTL:    cfg.TokenExpiration,
		staticTTL:   cfg.StaticTokenExpiration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate checks secret against the stored hash. An unknown user and a
// wrong secret both yield common.ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, tenantID int64, identifier, secret string) (*ResolvedIdentity, error) {
	identifier = strings.TrimSpace(identifier)

	user, err := s.repomanager.Users(s.db).FindByTenantAndIdentifier(ctx, tenantID, identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.BurnPasswordCheck(secret)
			s.log.Info(ctx, "login rejected", "tenant", tenantID, "reason", common.ErrUserNotFound)
			s.metrics.Decision("authenticate", metrics.OutcomeDenied)
			return nil, common.ErrInvalidCredentials
		}
		s.metrics.Decision("authenticate", metrics.OutcomeError)
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := auth.VerifyPassword(user.SignatureHash, secret); err != nil {
		s.log.Info(ctx, "login rejected", "user", user.ID.UniversalID(), "reason", "signature mismatch")
		s.metrics.Decision("authenticate", metrics.OutcomeDenied)
		return nil, common.ErrInvalidCredentials
	}

	s.metrics.Decision("authenticate", metrics.OutcomeAllowed)
	return &ResolvedIdentity{ID: user.ID, Authority: user.Authority}, nil
}

func (s *AuthService) IssueToken(ctx context.Context, id *ResolvedIdentity, origin *string, ip string) (string, error) {
	return s.issue(ctx, id.ID, id.Authority, origin, ip, false, events.TokenIssued)
}

// IssueStaticToken issues a long-lived API token. Only owners may do so.
func (s *AuthService) IssueStaticToken(ctx context.Context, id *ResolvedIdentity, origin *string, ip string) (string, error) {
	if !id.Authority.AtLeast(identity.AuthorityOwner) {
		s.metrics.Decision("issue_static", metrics.OutcomeDenied)
		return "", fmt.Errorf("%w: only %s can create static tokens", common.ErrAccessDenied, identity.AuthorityOwner.GroupName())
	}
	return s.issue(ctx, id.ID, id.Authority, origin, ip, true, events.TokenIssued)
}

// Refresh issues a fresh session token for the owner of the current one,
// keeping its authority snapshot and origin. The current token stays as is.
func (s *AuthService) Refresh(ctx context.Context, id *ResolvedIdentity, ip string) (string, error) {
	if err := id.requireToken(); err != nil {
		return "", err
	}
	return s.issue(ctx, id.ID, id.Authority, id.Claims.Origin, ip, false, events.TokenRefreshed)
}

func (s *AuthService) issue(ctx context.Context, owner identity.ScopedUserID, authority identity.Authority, origin *string, ip string, static bool, kind events.Kind) (string, error) {
	now := s.clock.Now()
	ttl := s.tokenTTL
	if static {
		ttl = s.staticTTL
	}
	expires := now.Add(ttl)

	claims := auth.TokenClaims{
		Owner:       owner,
		Authorities: identity.AllLevelsUpTo(authority),
		Origin:      origin,
		IsStatic:    static,
	}
	if ip != "" {
		claims.IPAddress = &ip
		claims.Geo = s.lookupGeo(ctx, ip)
	}

	repo := s.repomanager.Tokens(s.db)
	millis := now.UnixMilli()

	for attempt := 0; attempt < maxLocatorAttempts; attempt++ {
		claims.Locator = s.codec.Encode(locator.Locator{Owner: owner, Origin: origin, IssuedAtMillis: millis + int64(attempt)})

		token, err := s.signer.Issue(owner.UniversalID(), claims.Custom(), now, expires)
		if err != nil {
			return "", fmt.Errorf("error signing token: %w", err)
		}

		err = repo.Record(ctx, &models.Token{
			Locator:   claims.Locator,
			Owner:     owner,
			Origin:    claims.Origin,
			IPAddress: claims.IPAddress,
			Geo:       claims.Geo,
			IsStatic:  static,
			CreatedAt: now,
			ExpiresAt: expires,
		})
		if errors.Is(err, common.ErrAlreadyExists) {
			s.log.Debug(ctx, "locator collision, retrying", "owner", owner.UniversalID(), "attempt", attempt)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error recording token: %w", err)
		}

		s.log.Info(ctx, "token issued", "owner", owner.UniversalID(), "locator", claims.Locator, "static", static)
		s.events.Publish(ctx, events.Event{
			Kind:     kind,
			Owner:    owner,
			Locators: []string{claims.Locator},
			Static:   static,
			Count:    1,
			At:       now,
		})
		return token, nil
	}

	return "", fmt.Errorf("error recording token: %w", common.ErrAlreadyExists)
}

func (s *AuthService) lookupGeo(ctx context.Context, ip string) *string {
	loc, err := s.geo.Lookup(ctx, ip)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.log.Warn(ctx, "geo lookup failed", "error", err)
		}
		return nil
	}
	return &loc
}

// Resolve turns an authorization header value into an identity. The
// signature is checked first, then the ledger, then expiry.
func (s *AuthService) Resolve(ctx context.Context, rawAuthHeader string) (*ResolvedIdentity, error) {
	id, err := s.resolve(ctx, rawAuthHeader)
	switch {
	case err == nil:
		s.metrics.Decision("resolve", metrics.OutcomeAllowed)
	case common.IsUnauthenticated(err):
		s.metrics.Decision("resolve", metrics.OutcomeDenied)
	default:
		s.metrics.Decision("resolve", metrics.OutcomeError)
	}
	return id, err
}

func (s *AuthService) resolve(ctx context.Context, rawAuthHeader string) (*ResolvedIdentity, error) {
	token := stripBearer(rawAuthHeader)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", common.ErrMalformedToken)
	}

	if err := s.signer.Verify(token); err != nil {
		return nil, err
	}

	raw, err := auth.ParseClaims(token)
	if err != nil {
		return nil, err
	}
	claims, err := auth.DecodeClaims(raw)
	if err != nil {
		return nil, err
	}

	loc, err := s.codec.Decode(claims.Locator)
	if err != nil {
		return nil, err
	}
	if loc.Owner != claims.Owner {
		return nil, fmt.Errorf("%w: locator owner mismatch", common.ErrMalformedToken)
	}

	blocked, err := s.repomanager.Tokens(s.db).IsBlocked(ctx, claims.Locator)
	if err != nil {
		return nil, fmt.Errorf("error checking token state: %w", err)
	}
	if blocked {
		s.log.Info(ctx, "blocked token presented", "locator", claims.Locator)
		return nil, common.ErrTokenBlocked
	}

	if !s.clock.Now().Before(claims.ExpiresAt) {
		return nil, common.ErrTokenExpired
	}

	return &ResolvedIdentity{ID: claims.Owner, Authority: claims.Authority(), Claims: &claims}, nil
}

func stripBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= len(common.BearerPrefix) && strings.EqualFold(header[:len(common.BearerPrefix)], common.BearerPrefix) {
		header = header[len(common.BearerPrefix):]
	}
	return strings.TrimSpace(header)
}

// RevokeCurrent blocks the token the identity was resolved from.
func (s *AuthService) RevokeCurrent(ctx context.Context, id *ResolvedIdentity) error {
	if err := id.requireToken(); err != nil {
		return err
	}
	if err := s.repomanager.Tokens(s.db).Block(ctx, id.Claims.Locator); err != nil {
		return fmt.Errorf("error blocking token: %w", err)
	}
	s.events.Publish(ctx, events.Event{Kind: events.TokenRevoked, Owner: id.ID, Locators: []string{id.Claims.Locator}, Count: 1, At: s.clock.Now()})
	return nil
}

// RevokeAll blocks every token of the identity, including the current one.
func (s *AuthService) RevokeAll(ctx context.Context, id *ResolvedIdentity) (int64, error) {
	return s.revokeAllOf(ctx, id.ID, id.ID)
}

// RevokeAllFor blocks every token of target on behalf of caller. The caller's
// right to do so is checked by AccessService.
func (s *AuthService) RevokeAllFor(ctx context.Context, caller *ResolvedIdentity, target identity.ScopedUserID) (int64, error) {
	return s.revokeAllOf(ctx, caller.ID, target)
}

func (s *AuthService) revokeAllOf(ctx context.Context, caller, target identity.ScopedUserID) (int64, error) {
	n, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		repo := s.repomanager.Tokens(tx)
		if err := repo.LockOwner(ctx, target); err != nil {
			return 0, err
		}
		return repo.BlockAll(ctx, target)
	})
	if err != nil {
		return 0, fmt.Errorf("error blocking tokens: %w", err)
	}

	s.log.Info(ctx, "tokens revoked", "owner", target.UniversalID(), "by", caller.UniversalID(), "count", n)
	s.events.Publish(ctx, events.Event{Kind: events.TokensRevokedAll, Owner: target, Count: n, At: s.clock.Now()})
	return n, nil
}

// RevokeTokens blocks the listed locators of the identity's own tokens.
// Locators of other owners are ignored.
func (s *AuthService) RevokeTokens(ctx context.Context, id *ResolvedIdentity, locators []string) (int64, error) {
	if len(locators) == 0 {
		return 0, nil
	}
	n, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		repo := s.repomanager.Tokens(tx)
		if err := repo.LockOwner(ctx, id.ID); err != nil {
			return 0, err
		}
		return repo.BlockMany(ctx, id.ID, locators)
	})
	if err != nil {
		return 0, fmt.Errorf("error blocking tokens: %w", err)
	}

	s.events.Publish(ctx, events.Event{Kind: events.TokenRevoked, Owner: id.ID, Locators: locators, Count: n, At: s.clock.Now()})
	return n, nil
}

// DeleteAllFor removes every ledger row of target. Used when the user itself
// is deleted; the tokens then resolve as blocked.
func (s *AuthService) DeleteAllFor(ctx context.Context, target identity.ScopedUserID) (int64, error) {
	n, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		repo := s.repomanager.Tokens(tx)
		if err := repo.LockOwner(ctx, target); err != nil {
			return 0, err
		}
		return repo.DeleteAllByOwner(ctx, target)
	})
	if err != nil {
		return 0, fmt.Errorf("error deleting tokens: %w", err)
	}

	s.events.Publish(ctx, events.Event{Kind: events.TokensDeleted, Owner: target, Count: n, At: s.clock.Now()})
	return n, nil
}

// TokenDetails returns the ledger row of the current token.
func (s *AuthService) TokenDetails(ctx context.Context, id *ResolvedIdentity) (*models.Token, error) {
	if err := id.requireToken(); err != nil {
		return nil, err
	}
	t, err := s.repomanager.Tokens(s.db).Find(ctx, id.Claims.Locator)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenBlocked
		}
		return nil, fmt.Errorf("error reading token: %w", err)
	}
	return t, nil
}

func (s *AuthService) ListTokens(ctx context.Context, id *ResolvedIdentity, onlyValid *bool) ([]*models.Token, error) {
	return s.listTokens(ctx, id.ID, onlyValid)
}

// ListTokensFor lists target's tokens on behalf of caller. The caller's
// right to do so is checked by AccessService.
func (s *AuthService) ListTokensFor(ctx context.Context, caller *ResolvedIdentity, target identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error) {
	s.log.Debug(ctx, "listing tokens", "owner", target.UniversalID(), "by", caller.ID.UniversalID())
	return s.listTokens(ctx, target, onlyValid)
}

func (s *AuthService) listTokens(ctx context.Context, owner identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error) {
	list, err := s.repomanager.Tokens(s.db).ListByOwner(ctx, owner, onlyValid)
	if err != nil {
		return nil, fmt.Errorf("error listing tokens: %w", err)
	}
	return list, nil
}
