package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Find(ctx context.Context, id int64) (*models.Project, error) {
	query :=
		`SELECT id, name, status, on_hold FROM projects
		 WHERE id = $1
		 `

	var (
		p      models.Project
		status string
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &status, &p.OnHold); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Status = models.ProjectStatus(status)
	return &p, nil
}
