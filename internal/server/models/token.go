// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
)

// Token is one row of the token ledger. Blocked only ever moves from false
// to true.
type Token struct {
	Locator   string
	Owner     identity.ScopedUserID
	Blocked   bool
	Origin    *string
	IPAddress *string
	Geo       *string
	IsStatic  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
