package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lifevault-emergency/internal/models"

	"go.uber.org/zap"
)

// ScheduledJobRepository 定时任务仓库（持久化调度存储）
// 到期时间与回调身份都落库；进程重启后轮询会继续触发未完成的任务
type ScheduledJobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewScheduledJobRepository 创建定时任务仓库
func NewScheduledJobRepository(db *sql.DB, logger *zap.Logger) *ScheduledJobRepository {
	return &ScheduledJobRepository{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
			job_id,
			request_id,
			owner_id,
			job_kind,
			due_at,
			status,
			payload,
			fired_at,
			created_at`

// scanJob 扫描单行任务记录
func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var requestID sql.NullString
	var firedAt sql.NullTime
	var payload []byte

	err := row.Scan(
		&j.JobID,
		&requestID,
		&j.OwnerID,
		&j.JobKind,
		&j.DueAt,
		&j.Status,
		&payload,
		&firedAt,
		&j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if requestID.Valid {
		j.RequestID = requestID.String
	}
	if firedAt.Valid {
		j.FiredAt = &firedAt.Time
	}
	if len(payload) > 0 {
		j.Payload = string(payload)
	} else {
		j.Payload = "{}"
	}

	return &j, nil
}

// CreateJob 创建定时任务
func (r *ScheduledJobRepository) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if job.JobKind == "" {
		return fmt.Errorf("job_kind is required")
	}
	if job.DueAt.IsZero() {
		return fmt.Errorf("due_at is required")
	}

	var requestID interface{}
	if job.RequestID != "" {
		requestID = job.RequestID
	}

	query := `
		INSERT INTO scheduled_jobs (
			job_id,
			request_id,
			owner_id,
			job_kind,
			due_at,
			status,
			payload,
			fired_at,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.JobID,
		requestID,
		job.OwnerID,
		job.JobKind,
		job.DueAt,
		job.Status,
		job.Payload,
		job.FiredAt,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}

	return nil
}

// GetDueJobs 获取已到期的待触发任务（按到期时间排序）
func (r *ScheduledJobRepository) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM scheduled_jobs
		WHERE status = $1
		  AND due_at <= $2
		ORDER BY due_at ASC
		LIMIT $3
	`, jobColumns)

	rows, err := r.db.QueryContext(ctx, query, models.JobPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ScheduledJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled jobs: %w", err)
	}

	return jobs, nil
}

// MarkFired 标记任务已触发（条件更新）
// 返回是否由本次调用完成标记；并发轮询下只有一个调用会拿到 true
func (r *ScheduledJobRepository) MarkFired(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("job_id is required")
	}

	query := `
		UPDATE scheduled_jobs
		SET status = $2,
		    fired_at = CURRENT_TIMESTAMP
		WHERE job_id = $1
		  AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, jobID, models.JobFired, models.JobPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark job fired: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// CancelByRequest 取消请求关联的全部待触发任务（尽力而为）
// 取消失败不致命：触发端会复查请求状态并静默跳过
func (r *ScheduledJobRepository) CancelByRequest(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("request_id is required")
	}

	query := `
		UPDATE scheduled_jobs
		SET status = $2
		WHERE request_id = $1
		  AND status = $3
	`

	if _, err := r.db.ExecContext(ctx, query, requestID, models.JobCancelled, models.JobPending); err != nil {
		return fmt.Errorf("failed to cancel jobs: %w", err)
	}

	return nil
}
