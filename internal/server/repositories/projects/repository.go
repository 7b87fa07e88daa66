// Package projects reads tenant (project) state used to gate access.
package projects

import (
	"context"

	"github.com/dmitrijs2005/tenantguard/internal/server/models"
)

type Repository interface {
	// Find returns common.ErrorNotFound when the project does not exist.
	Find(ctx context.Context, id int64) (*models.Project, error)
}
