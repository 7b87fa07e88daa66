package models

import (
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
)

type User struct {
	ID            identity.ScopedUserID
	SignatureHash string
	Authority     identity.Authority
	Verified      bool
	CreatedAt     time.Time
}
