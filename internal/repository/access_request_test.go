package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"lifevault-emergency/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AccessRequestRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAccessRequestRepository(db, logger)

	return db, mock, repo
}

func requestRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"request_id", "owner_id", "triggered_by", "trigger_type", "status",
		"requested_access_level", "resolved_resources", "time_locked_until",
		"verification_required", "verification_complete", "metadata",
		"created_at", "activated_at", "resolved_at", "resolution_reason", "updated_at",
	})
}

func TestGetRequest_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	lockedUntil := now.Add(48 * time.Hour)

	rows := requestRows().AddRow(
		"req-1", "owner-1", "contact-1", models.TriggerFamilyRequest, models.StatusTimeLocked,
		models.LevelStandard, []byte(`[]`), lockedUntil,
		true, false, []byte(`{"trigger_reason":"hospitalized"}`),
		now, nil, nil, nil, now,
	)

	mock.ExpectQuery(`FROM emergency_access_requests`).
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := repo.GetRequest(context.Background(), "req-1")

	require.NoError(t, err)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, models.StatusTimeLocked, req.Status)
	require.NotNil(t, req.TimeLockedUntil)
	assert.WithinDuration(t, lockedUntil, *req.TimeLockedUntil, time.Second)
	assert.True(t, req.VerificationRequired)
	assert.Nil(t, req.ActivatedAt)

	meta, err := req.DecodeMetadata()
	require.NoError(t, err)
	assert.Equal(t, "hospitalized", meta.TriggerReason)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequest_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM emergency_access_requests`).
		WithArgs("req-missing").
		WillReturnRows(requestRows())

	req, err := repo.GetRequest(context.Background(), "req-missing")

	assert.Error(t, err)
	assert.Nil(t, req)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveRequest_None(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM emergency_access_requests`).
		WillReturnRows(requestRows())

	req, err := repo.GetActiveRequest(context.Background(), "owner-1")

	// 没有非终态请求时返回 nil 而不是错误
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_Applied(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE emergency_access_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.TransitionStatus(context.Background(), "req-1",
		[]string{models.StatusTimeLocked},
		models.StatusVerificationRequired, nil)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_AlreadyTransitioned(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	// 重复转换：条件不再满足，0 行受影响
	mock.ExpectExec(`UPDATE emergency_access_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.TransitionStatus(context.Background(), "req-1",
		[]string{models.StatusTimeLocked},
		models.StatusVerificationRequired, nil)

	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_DisallowedField(t *testing.T) {
	db, _, repo := setupMockDB(t)
	defer db.Close()

	_, err := repo.TransitionStatus(context.Background(), "req-1",
		[]string{models.StatusPending},
		models.StatusActive,
		map[string]interface{}{"owner_id": "other"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestCreateRequest_UniqueViolation(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	// uniq_requests_owner_nonterminal 拒绝同一所有者的第二个非终态请求
	mock.ExpectExec(`INSERT INTO emergency_access_requests`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uniq_requests_owner_nonterminal"})

	err := repo.CreateRequest(context.Background(), &models.EmergencyAccessRequest{
		RequestID: "req-2",
		OwnerID:   "owner-1",
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})

	assert.ErrorIs(t, err, ErrDuplicateActiveRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequest_Validation(t *testing.T) {
	db, _, repo := setupMockDB(t)
	defer db.Close()

	err := repo.CreateRequest(context.Background(), &models.EmergencyAccessRequest{
		RequestID: "req-1",
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "owner_id is required")
}
