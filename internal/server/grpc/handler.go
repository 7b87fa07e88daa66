package grpc

import (
	"context"
	"net"
	"net/netip"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/dmitrijs2005/tenantguard/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// clientIP returns the peer address, or "" when it is not an IP.
func clientIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		host = p.Addr.String()
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// caller returns the authenticated identity once its tenant is known to be
// functional.
func (s *Server) caller(ctx context.Context) (*services.ResolvedIdentity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.access.RequireProjectFunctional(ctx, id.ID.TenantID); err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	return id, nil
}

// target reads the optional "user" field. ok is false when the request is
// about the caller itself.
func (s *Server) target(in *structpb.Struct, caller *services.ResolvedIdentity) (identity.ScopedUserID, bool, error) {
	raw := stringField(in, FieldUser)
	if raw == "" {
		return caller.ID, false, nil
	}
	id, err := identity.ParseUniversalID(raw)
	if err != nil {
		return identity.ScopedUserID{}, false, status.Error(codes.InvalidArgument, err.Error())
	}
	return id, id != caller.ID, nil
}

func tokenReply(token string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{FieldToken: token})
}

func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	tenant, err := int64Field(in, FieldTenantID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.auth.Authenticate(ctx, tenant, stringField(in, FieldIdentifier), stringField(in, FieldSecret))
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	if err := s.access.RequireProjectFunctional(ctx, id.ID.TenantID); err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}

	token, err := s.auth.IssueToken(ctx, id, optionalString(in, FieldOrigin), clientIP(ctx))
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}

	s.logger.Info(ctx, "Logged in", "user", id.ID.UniversalID())
	return tokenReply(token)
}

func (s *Server) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	token, err := s.auth.Refresh(ctx, id, clientIP(ctx))
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	return tokenReply(token)
}

func (s *Server) CreateStaticToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	token, err := s.auth.IssueStaticToken(ctx, id, optionalString(in, FieldOrigin), clientIP(ctx))
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	return tokenReply(token)
}

func (s *Server) CurrentToken(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.auth.TokenDetails(ctx, id)
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	return structpb.NewStruct(tokenFields(t, s.now()))
}

// ListTokens lists the caller's tokens, or another user's when "user" is set
// and the caller holds USER_READ_TOKEN over them.
func (s *Server) ListTokens(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target, other, err := s.target(in, id)
	if err != nil {
		return nil, err
	}
	onlyValid := optionalBool(in, FieldOnlyValid)

	var list []*models.Token
	if other {
		if err := s.access.Check(ctx, id, target, services.PrivilegeUserReadToken); err != nil {
			return nil, toStatus(ctx, s.logger, err)
		}
		list, err = s.auth.ListTokensFor(ctx, id, target, onlyValid)
	} else {
		list, err = s.auth.ListTokens(ctx, id, onlyValid)
	}
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}

	now := s.now()
	items := make([]any, 0, len(list))
	for _, t := range list {
		items = append(items, tokenFields(t, now))
	}
	return structpb.NewStruct(map[string]any{FieldTokens: items})
}

// Logout revokes the current token by default. "all" revokes every token of
// the caller, "locators" a selection of them, and "user" every token of
// another user (USER_WRITE_TOKEN).
func (s *Server) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	target, other, err := s.target(in, id)
	if err != nil {
		return nil, err
	}

	all := optionalBool(in, FieldAll)
	locators := stringList(in, FieldLocators)

	var n int64
	switch {
	case other:
		if err := s.access.Check(ctx, id, target, services.PrivilegeUserWriteToken); err != nil {
			return nil, toStatus(ctx, s.logger, err)
		}
		n, err = s.auth.RevokeAllFor(ctx, id, target)
	case len(locators) > 0:
		n, err = s.auth.RevokeTokens(ctx, id, locators)
	case all != nil && *all:
		n, err = s.auth.RevokeAll(ctx, id)
	default:
		err = s.auth.RevokeCurrent(ctx, id)
		if err == nil {
			n = 1
		}
	}
	if err != nil {
		return nil, toStatus(ctx, s.logger, err)
	}
	return structpb.NewStruct(map[string]any{FieldRevoked: float64(n)})
}
