package accessrequests

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	columns = []string{"id", "credential_id", "requester_id", "admin_id", "status", "requested_at", "reviewed_at",
		"expires_at", "otp", "otp_expires_at", "reason", "admin_notes", "version"}
	t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func pendingRequest() *models.AccessRequest {
	return &models.AccessRequest{
		ID: "r1", CredentialID: "c1", RequesterID: "u2",
		Status: models.StatusPending, RequestedAt: t0, Reason: "deploy",
	}
}

func TestCreate_SetsInitialVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO access_requests`).
		WithArgs("r1", "c1", "u2", "pending", t0, "deploy", "", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := pendingRequest()
	require.NoError(t, repo.Create(context.Background(), req))
	assert.Equal(t, int64(1), req.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_OpenPairConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO access_requests`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "access_requests_one_open_per_pair"})

	err := repo.Create(context.Background(), pendingRequest())
	assert.ErrorIs(t, err, common.ErrDuplicatePendingRequest)
}

func TestCreate_UnknownCredential(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT INTO access_requests`).WillReturnError(&pgconn.PgError{Code: "23503"})

	err := repo.Create(context.Background(), pendingRequest())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByID_MapsNullableColumns(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	exp := t0.Add(20 * time.Second)
	mock.ExpectQuery(`FROM access_requests WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "c1", "u2", "a1", "approved", t0, t0, exp, nil, nil, "deploy", "ok", int64(4)))

	got, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, got.AdminID)
	assert.Equal(t, "a1", *got.AdminID)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	assert.Nil(t, got.OTP)
	assert.Nil(t, got.OTPExpiresAt)
	assert.Equal(t, int64(4), got.Version)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM access_requests WHERE id`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByID_UnknownStatus(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM access_requests WHERE id`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "c1", "u2", nil, "bogus", t0, nil, nil, nil, nil, "", "", int64(1)))

	_, err := repo.GetByID(context.Background(), "r1")
	assert.ErrorContains(t, err, "unknown access request status")
}

func TestUpdate_BumpsVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	req := pendingRequest()
	req.Version = 2
	otp := "123456"
	otpExp := t0.Add(10 * time.Minute)
	req.Status, req.OTP, req.OTPExpiresAt = models.StatusOTPSent, &otp, &otpExp

	mock.ExpectExec(`(?s)UPDATE access_requests.*version = version \+ 1\s+WHERE id = \$1 AND version = \$2`).
		WithArgs("r1", int64(2), nil, "otp_sent", nil, nil, &otp, &otpExp, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), req))
	assert.Equal(t, int64(3), req.Version)
}

func TestUpdate_StaleVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE access_requests`).WillReturnResult(sqlmock.NewResult(0, 0))

	req := pendingRequest()
	req.Version = 1
	err := repo.Update(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrStaleState)
	assert.Equal(t, int64(1), req.Version)
}

func TestUpdate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE access_requests`).WillReturnError(errors.New("conn reset"))

	err := repo.Update(context.Background(), pendingRequest())
	assert.EqualError(t, err, "db error: conn reset")
}

func TestFindLatestApproved(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	exp := t0.Add(time.Minute)
	mock.ExpectQuery(`(?s)WHERE credential_id = \$1 AND requester_id = \$2 AND status = 'approved'.*LIMIT 1`).
		WithArgs("c1", "u2").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "c1", "u2", "a1", "approved", t0, t0, exp, nil, nil, "", "", int64(3)))

	got, err := repo.FindLatestApproved(context.Background(), "c1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	mock.ExpectQuery(`status = 'approved'`).WithArgs("c1", "u3").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindLatestApproved(context.Background(), "c1", "u3")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_BuildsFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		query  string
		args   []driver.Value
	}{
		{"all", Filter{}, `FROM access_requests ORDER BY requested_at DESC`, nil},
		{"requester", Filter{RequesterID: "u2"}, `WHERE requester_id = \$1 ORDER BY`, []driver.Value{"u2"}},
		{"status", Filter{Status: models.StatusPending}, `WHERE status = \$1 ORDER BY`, []driver.Value{"pending"}},
		{"both", Filter{RequesterID: "u2", Status: models.StatusApproved}, `WHERE requester_id = \$1 AND status = \$2`, []driver.Value{"u2", "approved"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			e := mock.ExpectQuery(tt.query)
			if tt.args != nil {
				e = e.WithArgs(tt.args...)
			}
			e.WillReturnRows(sqlmock.NewRows(columns).
				AddRow("r1", "c1", "u2", nil, "pending", t0, nil, nil, nil, nil, "", "", int64(1)))

			got, err := repo.List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListLapsed(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := t0.Add(time.Hour)
	mock.ExpectQuery(`(?s)WHERE status = 'approved' AND expires_at < \$1.*LIMIT \$2`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "c1", "u2", "a1", "approved", t0, t0, t0.Add(time.Minute), nil, nil, "", "", int64(3)).
			AddRow("r2", "c2", "u2", "a1", "approved", t0, t0, t0.Add(2*time.Minute), nil, nil, "", "", int64(3)))

	got, err := repo.ListLapsed(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Lapsed(now))
}

func TestListLapsed_QueryError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM access_requests`).WillReturnError(errors.New("timeout"))

	_, err := repo.ListLapsed(context.Background(), t0, 10)
	assert.EqualError(t, err, "failed to select access requests: timeout")
}

func TestCounts(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM access_requests$`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(9)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM access_requests WHERE status = \$1`).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(2)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	n, err = repo.CountByStatus(context.Background(), models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
