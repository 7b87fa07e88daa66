// Package identity holds the value types shared by every auth component:
// tenant-scoped user ids and the ordered authority levels.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tenantguard/internal/common"
)

// UniversalDelimiter separates the local id from the tenant id in the
// universal form of a ScopedUserID.
const UniversalDelimiter = "$"

// ScopedUserID identifies a user inside a tenant (project). It is globally
// unique only as a pair.
type ScopedUserID struct {
	LocalID  string
	TenantID int64
}

// NewScopedUserID builds an id from its parts.
func NewScopedUserID(localID string, tenantID int64) ScopedUserID {
	return ScopedUserID{LocalID: localID, TenantID: tenantID}
}

// ParseUniversalID parses "localId$tenantId". The local id may itself contain
// the delimiter; the tenant id is whatever follows the last one.
func ParseUniversalID(universalID string) (ScopedUserID, error) {
	idx := strings.LastIndex(universalID, UniversalDelimiter)
	if idx < 0 {
		return ScopedUserID{}, fmt.Errorf("%w: missing %q delimiter", common.ErrMalformedIdentity, UniversalDelimiter)
	}

	localID := strings.TrimSpace(universalID[:idx])
	tenantRaw := strings.TrimSpace(universalID[idx+len(UniversalDelimiter):])
	if localID == "" || tenantRaw == "" {
		return ScopedUserID{}, fmt.Errorf("%w: id and tenant id can't be blank", common.ErrMalformedIdentity)
	}

	tenantID, err := strconv.ParseInt(tenantRaw, 10, 64)
	if err != nil {
		return ScopedUserID{}, fmt.Errorf("%w: tenant id %q is not numeric", common.ErrMalformedIdentity, tenantRaw)
	}

	return ScopedUserID{LocalID: localID, TenantID: tenantID}, nil
}

// UniversalID formats the id as "localId$tenantId".
func (id ScopedUserID) UniversalID() string {
	return id.LocalID + UniversalDelimiter + strconv.FormatInt(id.TenantID, 10)
}

func (id ScopedUserID) String() string {
	return id.UniversalID()
}

// IsZero reports whether the id carries no local id.
func (id ScopedUserID) IsZero() bool {
	return id.LocalID == ""
}
