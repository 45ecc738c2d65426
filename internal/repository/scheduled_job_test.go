package repository

import (
	"context"
	"testing"
	"time"

	"lifevault-emergency/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetDueJobs_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewScheduledJobRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"job_id", "request_id", "owner_id", "job_kind", "due_at",
		"status", "payload", "fired_at", "created_at",
	}).
		AddRow("job-1", "req-1", "owner-1", models.JobUnlock, now.Add(-time.Minute),
			models.JobPending, []byte(`{}`), nil, now.Add(-time.Hour)).
		AddRow("job-2", "req-1", "owner-1", models.JobNotificationStep, now,
			models.JobPending, []byte(`{"step_index":1}`), nil, now.Add(-time.Hour))

	mock.ExpectQuery(`FROM scheduled_jobs`).
		WithArgs(models.JobPending, sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	jobs, err := repo.GetDueJobs(context.Background(), now, 50)

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, models.JobUnlock, jobs[0].JobKind)

	payload, err := jobs[1].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, 1, payload.StepIndex)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFired_Applied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewScheduledJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE scheduled_jobs`).
		WithArgs("job-1", models.JobFired, models.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.MarkFired(context.Background(), "job-1")

	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFired_AlreadyFired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewScheduledJobRepository(db, zap.NewNop())

	// 并发轮询：另一端已拿到标记
	mock.ExpectExec(`UPDATE scheduled_jobs`).
		WithArgs("job-1", models.JobFired, models.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.MarkFired(context.Background(), "job-1")

	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelByRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewScheduledJobRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE scheduled_jobs`).
		WithArgs("req-1", models.JobCancelled, models.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err = repo.CancelByRequest(context.Background(), "req-1")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
