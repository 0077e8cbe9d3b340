// Package accessrequests provides the PostgreSQL-backed access request repository.
package accessrequests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
)

const openPairConstraint = "access_requests_one_open_per_pair"

const selectColumns = `id, credential_id, requester_id, admin_id, status, requested_at, reviewed_at,
	expires_at, otp, otp_expires_at, reason, admin_notes, version`

type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new request. A second open request for the same pair
// violates the partial unique index and yields
// common.ErrDuplicatePendingRequest.
func (r *PostgresRepository) Create(ctx context.Context, req *models.AccessRequest) error {
	query := `
		INSERT INTO access_requests (id, credential_id, requester_id, status, requested_at, reason, admin_notes, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if req.Version == 0 {
		req.Version = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.CredentialID, req.RequesterID, string(req.Status), req.RequestedAt, req.Reason, req.AdminNotes, req.Version)
	if err != nil {
		switch {
		case dbx.IsUniqueViolation(err, openPairConstraint):
			return common.ErrDuplicatePendingRequest
		case dbx.IsForeignKeyViolation(err):
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM access_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

// Update writes req if its Version still matches the stored row and bumps
// the version. Otherwise it returns common.ErrStaleState.
func (r *PostgresRepository) Update(ctx context.Context, req *models.AccessRequest) error {
	query := `
		UPDATE access_requests
		SET admin_id = $3, status = $4, reviewed_at = $5, expires_at = $6,
			otp = $7, otp_expires_at = $8, admin_notes = $9, version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		req.ID, req.Version, req.AdminID, string(req.Status), req.ReviewedAt, req.ExpiresAt,
		req.OTP, req.OTPExpiresAt, req.AdminNotes)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrStaleState
	}
	req.Version++
	return nil
}

// FindLatestApproved returns the most recently reviewed approved request for
// the pair, or common.ErrorNotFound. Callers check the window with IsActive.
func (r *PostgresRepository) FindLatestApproved(ctx context.Context, credentialID, requesterID string) (*models.AccessRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM access_requests
		WHERE credential_id = $1 AND requester_id = $2 AND status = 'approved'
		ORDER BY expires_at DESC
		LIMIT 1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, credentialID, requesterID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

// List returns requests matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*models.AccessRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.RequesterID != "" {
		args = append(args, f.RequesterID)
		where = append(where, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM access_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY requested_at DESC`

	return r.list(ctx, query, args...)
}

// ListLapsed returns approved requests whose window ended before now.
func (r *PostgresRepository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.AccessRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM access_requests
		WHERE status = 'approved' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT count(*) FROM access_requests`)
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, s models.Status) (int64, error) {
	return r.count(ctx, `SELECT count(*) FROM access_requests WHERE status = $1`, string(s))
}

func (r *PostgresRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select access requests: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.AccessRequest, error) {
	var (
		req          models.AccessRequest
		status       string
		adminID      sql.NullString
		reviewedAt   sql.NullTime
		expiresAt    sql.NullTime
		otp          sql.NullString
		otpExpiresAt sql.NullTime
	)
	err := s.Scan(&req.ID, &req.CredentialID, &req.RequesterID, &adminID, &status, &req.RequestedAt,
		&reviewedAt, &expiresAt, &otp, &otpExpiresAt, &req.Reason, &req.AdminNotes, &req.Version)
	if err != nil {
		return nil, err
	}

	if req.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	req.AdminID = nullString(adminID)
	req.ReviewedAt = nullTime(reviewedAt)
	req.ExpiresAt = nullTime(expiresAt)
	req.OTP = nullString(otp)
	req.OTPExpiresAt = nullTime(otpExpiresAt)
	return &req, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
