package services

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
)

// ResolvedIdentity is an authenticated caller. Claims is set when the
// identity came from a token and nil right after a password check.
type ResolvedIdentity struct {
	ID        identity.ScopedUserID
	Authority identity.Authority
	Claims    *auth.TokenClaims
}

func (r *ResolvedIdentity) requireToken() error {
	if r == nil || r.Claims == nil || r.Claims.Locator == "" {
		return fmt.Errorf("%w: identity carries no token", common.ErrMalformedToken)
	}
	return nil
}

// Clock is the time source for issuance and expiry checks.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
