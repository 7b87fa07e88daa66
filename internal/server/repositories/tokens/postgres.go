package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const tokenColumns = `locator, tenant_id, local_id, blocked, origin, ip_address, geo, is_static, created_at, expires_at`

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, t *models.Token) error {
	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.Locator, t.Owner.TenantID, t.Owner.LocalID,
		nullable(t.Origin), nullable(t.IPAddress), nullable(t.Geo),
		t.IsStatic, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("locator %s: %w", t.Locator, common.ErrAlreadyExists)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	t.Blocked = false
	return nil
}

func (r *PostgresRepository) IsBlocked(ctx context.Context, locator string) (bool, error) {
	query := `
		SELECT blocked
		FROM tokens
		WHERE locator = $1
	`
	var blocked bool
	if err := r.db.QueryRowContext(ctx, query, locator).Scan(&blocked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return true, fmt.Errorf("db error: %w", err)
	}
	return blocked, nil
}

func (r *PostgresRepository) Find(ctx context.Context, locator string) (*models.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE locator = $1
	`
	t, err := scanToken(r.db.QueryRowContext(ctx, query, locator))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Block(ctx context.Context, locator string) error {
	query := `
		UPDATE tokens
		SET blocked = TRUE
		WHERE locator = $1
	`
	if _, err := r.db.ExecContext(ctx, query, locator); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) BlockAll(ctx context.Context, owner identity.ScopedUserID) (int64, error) {
	query := `
		UPDATE tokens
		SET blocked = TRUE
		WHERE tenant_id = $1 AND local_id = $2 AND blocked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, owner.TenantID, owner.LocalID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) BlockMany(ctx context.Context, owner identity.ScopedUserID, locators []string) (int64, error) {
	if len(locators) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(locators)+2)
	args = append(args, owner.TenantID, owner.LocalID)
	placeholders := make([]string, len(locators))
	for i, l := range locators {
		args = append(args, l)
		placeholders[i] = fmt.Sprintf("$%d", i+3)
	}

	query := `
		UPDATE tokens
		SET blocked = TRUE
		WHERE tenant_id = $1 AND local_id = $2 AND blocked = FALSE
		  AND locator IN (` + strings.Join(placeholders, ", ") + `)
	`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE tenant_id = $1 AND local_id = $2`
	args := []any{owner.TenantID, owner.LocalID}
	if onlyValid != nil {
		query += ` AND blocked = $3`
		args = append(args, !*onlyValid)
	}
	query += `
		ORDER BY created_at DESC, locator
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteAllByOwner(ctx context.Context, owner identity.ScopedUserID) (int64, error) {
	query := `
		DELETE FROM tokens
		WHERE tenant_id = $1 AND local_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, owner.TenantID, owner.LocalID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) LockOwner(ctx context.Context, owner identity.ScopedUserID) error {
	query := `
		SELECT locator
		FROM tokens
		WHERE tenant_id = $1 AND local_id = $2
		FOR UPDATE
	`
	rows, err := r.db.QueryContext(ctx, query, owner.TenantID, owner.LocalID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	// the lock is held per fetched row, so drain the cursor
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*models.Token, error) {
	var (
		t               models.Token
		origin, ip, geo sql.NullString
	)
	err := s.Scan(&t.Locator, &t.Owner.TenantID, &t.Owner.LocalID, &t.Blocked,
		&origin, &ip, &geo, &t.IsStatic, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	t.Origin = fromNullable(origin)
	t.IPAddress = fromNullable(ip)
	t.Geo = fromNullable(geo)
	return &t, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
