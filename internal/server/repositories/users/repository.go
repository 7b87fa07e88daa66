// Package users provides read access to the credential store consulted
// during authentication and privilege checks.
package users

import (
	"context"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
)

type Repository interface {
	// FindByTenantAndIdentifier returns common.ErrorNotFound when absent.
	FindByTenantAndIdentifier(ctx context.Context, tenantID int64, identifier string) (*models.User, error)
	Find(ctx context.Context, id identity.ScopedUserID) (*models.User, error)
}
