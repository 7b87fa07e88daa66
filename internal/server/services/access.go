package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/metrics"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/repomanager"
)

type Privilege int

const (
	PrivilegeProjectRead Privilege = iota
	PrivilegeProjectWrite
	PrivilegeUserSearch
	PrivilegeUserReadToken
	PrivilegeUserReadData
	PrivilegeUserWriteToken
	PrivilegeUserWriteAuthority
	PrivilegeUserWriteData
	PrivilegeUserWriteSignature
	PrivilegeUserWriteVerification
	PrivilegeUserDelete
)

type privilegeRule struct {
	name  string
	level identity.Authority
	// self: the owner of the target may act on itself at DEFAULT level.
	self bool
	// project: the target is a tenant, not a user.
	project bool
}

var privilegeRules = map[Privilege]privilegeRule{
	PrivilegeProjectRead:           {name: "PROJECT_READ", level: identity.AuthorityOwner, project: true},
	PrivilegeProjectWrite:          {name: "PROJECT_WRITE", level: identity.AuthorityOwner, project: true},
	PrivilegeUserSearch:            {name: "USER_SEARCH", level: identity.AuthorityAdmin, self: true},
	PrivilegeUserReadToken:         {name: "USER_READ_TOKEN", level: identity.AuthorityAdmin, self: true},
	PrivilegeUserReadData:          {name: "USER_READ_DATA", level: identity.AuthorityModerator, self: true},
	PrivilegeUserWriteToken:        {name: "USER_WRITE_TOKEN", level: identity.AuthorityAdmin, self: true},
	PrivilegeUserWriteAuthority:    {name: "USER_WRITE_AUTHORITY", level: identity.AuthorityOwner},
	PrivilegeUserWriteData:         {name: "USER_WRITE_DATA", level: identity.AuthorityAdmin, self: true},
	PrivilegeUserWriteSignature:    {name: "USER_WRITE_SIGNATURE", level: identity.AuthorityAdmin, self: true},
	PrivilegeUserWriteVerification: {name: "USER_WRITE_VERIFICATION", level: identity.AuthorityAdmin},
	PrivilegeUserDelete:            {name: "USER_DELETE", level: identity.AuthorityOwner, self: true},
}

func (p Privilege) String() string {
	if r, ok := privilegeRules[p]; ok {
		return r.name
	}
	return fmt.Sprintf("Privilege(%d)", int(p))
}

// Level is the minimum authority needed to use p on someone else.
func (p Privilege) Level() identity.Authority {
	return privilegeRules[p].level
}

func (p Privilege) AllowsSelf() bool {
	return privilegeRules[p].self
}

func ParsePrivilege(name string) (Privilege, bool) {
	for p, r := range privilegeRules {
		if r.name == name {
			return p, true
		}
	}
	return 0, false
}

type PrivilegeRequest struct {
	Caller    *ResolvedIdentity
	Target    identity.ScopedUserID
	Privilege Privilege
	// Verified is the caller's stored verification flag.
	Verified bool
}

func (r PrivilegeRequest) static() bool {
	return r.Caller.Claims != nil && r.Caller.Claims.IsStatic
}

// Policy evaluates privilege requests. CreatorTenantID is the platform's own
// tenant; its owners may manage every other tenant and its users.
type Policy struct {
	CreatorTenantID int64
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrAccessDenied}, args...)...)
}

func levelDenied(level identity.Authority) error {
	return denied("only %s are authorized", level.GroupName())
}

const (
	errSameProject = "only requests within the same project are allowed"
	errNotVerified = "requester is not verified"
)

// crossesFromCreator reports whether caller is an owner of the creator tenant
// reaching into another tenant.
func (p Policy) crossesFromCreator(caller *ResolvedIdentity, tenantID int64) bool {
	return caller.ID.TenantID == p.CreatorTenantID &&
		tenantID != p.CreatorTenantID &&
		caller.Authority.AtLeast(identity.AuthorityOwner)
}

// Evaluate decides a user-targeted request. targetAuthority is nil when the
// target does not exist, which is denied the same way as a too-low caller.
//
// Secure properties (privileges without self access) can only be changed by
// someone else, even for owners. Static tokens skip the level checks inside
// their own tenant, but not when issued to creator-tenant staff.
func (p Policy) Evaluate(req PrivilegeRequest, targetAuthority *identity.Authority) error {
	rule, ok := privilegeRules[req.Privilege]
	if !ok || rule.project {
		return denied("privilege %s does not apply to users", req.Privilege)
	}
	caller := req.Caller
	if caller == nil {
		return denied("no caller")
	}

	if caller.ID == req.Target {
		if rule.self {
			return nil
		}
		return denied("only %s are authorized", caller.Authority.NextGroupName())
	}

	if p.crossesFromCreator(caller, req.Target.TenantID) {
		if targetAuthority == nil {
			return levelDenied(rule.level)
		}
		return nil
	}
	if caller.ID.TenantID != req.Target.TenantID {
		return denied(errSameProject)
	}
	if !req.Verified {
		return denied(errNotVerified)
	}
	if req.static() && caller.ID.TenantID != p.CreatorTenantID {
		if targetAuthority == nil {
			return levelDenied(rule.level)
		}
		return nil
	}

	if !caller.Authority.AtLeast(rule.level) {
		return levelDenied(rule.level)
	}
	if targetAuthority == nil {
		return levelDenied(rule.level)
	}
	if caller.Authority <= *targetAuthority {
		return denied("only %s are authorized", targetAuthority.NextGroupName())
	}
	return nil
}

// EvaluateProject decides a tenant-targeted request.
func (p Policy) EvaluateProject(caller *ResolvedIdentity, verified bool, projectID int64, privilege Privilege) error {
	rule, ok := privilegeRules[privilege]
	if !ok || !rule.project {
		return denied("privilege %s does not apply to projects", privilege)
	}
	if caller == nil {
		return denied("no caller")
	}
	if p.crossesFromCreator(caller, projectID) {
		return nil
	}
	if caller.ID.TenantID != projectID {
		return denied(errSameProject)
	}
	if !verified {
		return denied(errNotVerified)
	}
	if caller.Claims != nil && caller.Claims.IsStatic && caller.ID.TenantID != p.CreatorTenantID {
		return nil
	}
	if !caller.Authority.AtLeast(rule.level) {
		return levelDenied(rule.level)
	}
	return nil
}

// TokenResolver turns an authorization header into an identity.
type TokenResolver interface {
	Resolve(ctx context.Context, rawAuthHeader string) (*ResolvedIdentity, error)
}

// AccessService answers "may this caller do that to this target".
type AccessService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	resolver    TokenResolver
	policy      Policy
	metrics     metrics.Recorder
	log         logging.Logger
}

func NewAccessService(db *sql.DB, m repomanager.RepositoryManager, resolver TokenResolver, cfg *config.Config, log logging.Logger, rec metrics.Recorder) *AccessService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &AccessService{
		db:          db,
		repomanager: m,
		resolver:    resolver,
		policy:      Policy{CreatorTenantID: cfg.CreatorProjectID},
		metrics:     rec,
		log:         log.With("module", "access"),
	}
}

// Authorize resolves the caller and checks privilege against target.
func (s *AccessService) Authorize(ctx context.Context, rawAuthHeader string, target identity.ScopedUserID, privilege Privilege) (*ResolvedIdentity, error) {
	caller, err := s.resolver.Resolve(ctx, rawAuthHeader)
	if err != nil {
		return nil, err
	}
	if err := s.Check(ctx, caller, target, privilege); err != nil {
		return nil, err
	}
	return caller, nil
}

// Check is Authorize for an already resolved caller.
func (s *AccessService) Check(ctx context.Context, caller *ResolvedIdentity, target identity.ScopedUserID, privilege Privilege) error {
	if err := s.RequireProjectFunctional(ctx, target.TenantID); err != nil {
		s.metrics.Decision("authorize", metrics.OutcomeDenied)
		return err
	}

	req := PrivilegeRequest{Caller: caller, Target: target, Privilege: privilege}
	var targetAuthority *identity.Authority
	if caller.ID != target {
		verified, err := s.requesterVerified(ctx, caller)
		if err != nil {
			s.metrics.Decision("authorize", outcomeOf(err))
			return err
		}
		req.Verified = verified

		u, err := s.repomanager.Users(s.db).Find(ctx, target)
		switch {
		case err == nil:
			targetAuthority = &u.Authority
		case errors.Is(err, common.ErrorNotFound):
		default:
			s.metrics.Decision("authorize", metrics.OutcomeError)
			return fmt.Errorf("error reading target: %w", err)
		}
	}

	if err := s.policy.Evaluate(req, targetAuthority); err != nil {
		s.log.Info(ctx, "access denied", "caller", caller.ID.UniversalID(), "target", target.UniversalID(), "privilege", privilege.String(), "reason", err)
		s.metrics.Decision("authorize", metrics.OutcomeDenied)
		return err
	}

	s.metrics.Decision("authorize", metrics.OutcomeAllowed)
	return nil
}

// requesterVerified reads the caller's stored verification flag. A caller
// whose user row is gone is no longer authenticated.
func (s *AccessService) requesterVerified(ctx context.Context, caller *ResolvedIdentity) (bool, error) {
	u, err := s.repomanager.Users(s.db).Find(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, fmt.Errorf("requester %s: %w", caller.ID.UniversalID(), common.ErrUserNotFound)
		}
		return false, fmt.Errorf("error reading requester: %w", err)
	}
	return u.Verified, nil
}

func outcomeOf(err error) string {
	if errors.Is(err, common.ErrUserNotFound) {
		return metrics.OutcomeDenied
	}
	return metrics.OutcomeError
}

// AuthorizeProject resolves the caller and checks a project privilege. The
// project need not be functional; owners must be able to repair it.
func (s *AccessService) AuthorizeProject(ctx context.Context, rawAuthHeader string, projectID int64, privilege Privilege) (*ResolvedIdentity, error) {
	caller, err := s.resolver.Resolve(ctx, rawAuthHeader)
	if err != nil {
		return nil, err
	}

	if _, err := s.repomanager.Projects(s.db).Find(ctx, projectID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.Decision("authorize_project", metrics.OutcomeDenied)
			return nil, denied(errSameProject)
		}
		s.metrics.Decision("authorize_project", metrics.OutcomeError)
		return nil, fmt.Errorf("error reading project: %w", err)
	}

	verified, err := s.requesterVerified(ctx, caller)
	if err != nil {
		s.metrics.Decision("authorize_project", outcomeOf(err))
		return nil, err
	}

	if err := s.policy.EvaluateProject(caller, verified, projectID, privilege); err != nil {
		s.log.Info(ctx, "access denied", "caller", caller.ID.UniversalID(), "project", projectID, "privilege", privilege.String(), "reason", err)
		s.metrics.Decision("authorize_project", metrics.OutcomeDenied)
		return nil, err
	}

	s.metrics.Decision("authorize_project", metrics.OutcomeAllowed)
	return caller, nil
}

// RequireProjectFunctional fails unless the tenant is ACTIVE and not on hold.
func (s *AccessService) RequireProjectFunctional(ctx context.Context, tenantID int64) error {
	p, err := s.repomanager.Projects(s.db).Find(ctx, tenantID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: project not found", common.ErrProjectNotFunctional)
		}
		return fmt.Errorf("error reading project: %w", err)
	}
	if p.OnHold {
		return fmt.Errorf("%w: project is locked", common.ErrProjectNotFunctional)
	}
	if !p.Functional() {
		return fmt.Errorf("%w: project is %s", common.ErrProjectNotFunctional, p.Status)
	}
	return nil
}
