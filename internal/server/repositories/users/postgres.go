package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByTenantAndIdentifier(ctx context.Context, tenantID int64, identifier string) (*models.User, error) {
	query :=
		`SELECT tenant_id, local_id, signature_hash, authority, verified, created_at FROM users
		 WHERE tenant_id = $1 AND local_id = $2
		 `

	var (
		user      models.User
		authority string
	)
	err := r.db.QueryRowContext(ctx, query, tenantID, identifier).Scan(
		&user.ID.TenantID, &user.ID.LocalID, &user.SignatureHash, &authority, &user.Verified, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Authority = identity.ParseAuthority(authority, identity.AuthorityDefault)
	return &user, nil
}

func (r *PostgresRepository) Find(ctx context.Context, id identity.ScopedUserID) (*models.User, error) {
	return r.FindByTenantAndIdentifier(ctx, id.TenantID, id.LocalID)
}
