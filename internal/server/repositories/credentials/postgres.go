// Package credentials provides the PostgreSQL-backed credential repository.
// Rows hold ciphertext only; encryption happens in the service layer.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

const selectColumns = `id, owner_id, application_name, username, email, ciphertext, created_at, updated_at`

// PostgresRepository implements credential storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new credential row. An unknown owner yields common.ErrorNotFound.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO credentials (id, owner_id, application_name, username, email, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.ApplicationName, c.Username, c.Email, c.Ciphertext, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a credential or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials WHERE id = $1`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// ListByOwner returns the owner's credentials, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Credential, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials
		WHERE owner_id = $1
		ORDER BY created_at DESC`
	return r.list(ctx, query, ownerID)
}

// ListAll returns every credential, newest first.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.Credential, error) {
	query := `SELECT ` + selectColumns + ` FROM credentials ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Credential, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select credentials: %w", err)
	}
	defer rows.Close()

	var result []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateCiphertext replaces the stored ciphertext (rotation).
func (r *PostgresRepository) UpdateCiphertext(ctx context.Context, id, ciphertext string, updatedAt time.Time) error {
	query := `UPDATE credentials SET ciphertext = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, ciphertext, updatedAt)
}

// UpdateDetails rewrites the descriptive columns of c. The ciphertext is
// left alone.
func (r *PostgresRepository) UpdateDetails(ctx context.Context, c *models.Credential) error {
	query := `UPDATE credentials SET application_name = $2, username = $3, email = $4, updated_at = $5 WHERE id = $1`
	return r.execOne(ctx, query, c.ID, c.ApplicationName, c.Username, c.Email, c.UpdatedAt)
}

// Delete removes the credential. Access requests go with it (ON DELETE CASCADE).
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM credentials WHERE id = $1`, id)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM credentials`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		c     models.Credential
		email sql.NullString
	)
	if err := s.Scan(&c.ID, &c.OwnerID, &c.ApplicationName, &c.Username, &email, &c.Ciphertext, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		c.Email = &email.String
	}
	return &c, nil
}
