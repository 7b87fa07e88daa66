// Package tokens declares the token ledger: one row per issued token, keyed by
// its locator, recording whether the token has been revoked.
package tokens

import (
	"context"

	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
)

// Repository is the ledger contract.
type Repository interface {
	// Record inserts a fresh, unblocked row. A duplicate locator yields
	// common.ErrAlreadyExists.
	Record(ctx context.Context, t *models.Token) error

	// IsBlocked reports the block flag. A locator with no row counts as blocked.
	IsBlocked(ctx context.Context, locator string) (bool, error)

	// Find returns the row or common.ErrorNotFound.
	Find(ctx context.Context, locator string) (*models.Token, error)

	// Block marks one row blocked. Blocking twice is not an error.
	Block(ctx context.Context, locator string) error

	// BlockAll marks every row of owner blocked and returns how many changed.
	BlockAll(ctx context.Context, owner identity.ScopedUserID) (int64, error)

	// BlockMany blocks the listed locators that belong to owner; others are ignored.
	BlockMany(ctx context.Context, owner identity.ScopedUserID, locators []string) (int64, error)

	// ListByOwner lists rows of owner, newest first. onlyValid nil lists all,
	// true only unblocked rows, false only blocked rows.
	ListByOwner(ctx context.Context, owner identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error)

	// DeleteAllByOwner hard-deletes every row of owner.
	DeleteAllByOwner(ctx context.Context, owner identity.ScopedUserID) (int64, error)

	// LockOwner takes row locks on every row of owner until the surrounding
	// transaction ends.
	LockOwner(ctx context.Context, owner identity.ScopedUserID) error
}
