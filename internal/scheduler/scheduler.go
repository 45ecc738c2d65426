package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStore 任务持久化接口（由 repository.ScheduledJobRepository 实现）
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) error
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	MarkFired(ctx context.Context, jobID string) (bool, error)
	CancelByRequest(ctx context.Context, requestID string) error
}

// Handler 任务触发回调
// 回调必须自行复查请求状态：对已失效的任务静默跳过，而不是报错
type Handler func(ctx context.Context, job *models.ScheduledJob) error

// Scheduler 持久化时间锁调度器
// 任务落库（due_at + 任务类型 + 请求ID），轮询触发；触发即标记，
// 配合回调侧的状态复查，重复轮询或进程重启都不会产生重复效果
type Scheduler struct {
	config   *config.Config
	jobStore JobStore
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewScheduler 创建调度器
func NewScheduler(cfg *config.Config, jobStore JobStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:   cfg,
		jobStore: jobStore,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler 注册任务类型的触发回调
func (s *Scheduler) RegisterHandler(jobKind string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobKind] = handler
}

// Schedule 持久化一个定时任务
func (s *Scheduler) Schedule(ctx context.Context, ownerID, requestID, jobKind string, dueAt time.Time, payload *models.JobPayload) (*models.ScheduledJob, error) {
	if jobKind == "" {
		return nil, fmt.Errorf("job_kind is required")
	}

	job := &models.ScheduledJob{
		JobID:     uuid.New().String(),
		RequestID: requestID,
		OwnerID:   ownerID,
		JobKind:   jobKind,
		DueAt:     dueAt,
		Status:    models.JobPending,
		Payload:   models.EncodeJobPayload(payload),
		CreatedAt: time.Now(),
	}

	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}

	s.logger.Debug("Job scheduled",
		zap.String("job_id", job.JobID),
		zap.String("job_kind", jobKind),
		zap.String("request_id", requestID),
		zap.Time("due_at", dueAt),
	)

	return job, nil
}

// CancelByRequest 取消请求关联的待触发任务（尽力而为）
func (s *Scheduler) CancelByRequest(ctx context.Context, requestID string) error {
	return s.jobStore.CancelByRequest(ctx, requestID)
}

// Start 启动调度循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Int("poll_interval", s.config.Emergency.Scheduler.PollInterval),
	)

	ticker := time.NewTicker(time.Duration(s.config.Emergency.Scheduler.PollInterval) * time.Second)
	defer ticker.Stop()

	// 立即执行一次（补触发重启期间到期的任务）
	s.FireDueJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.FireDueJobs(ctx)
		}
	}
}

// FireDueJobs 触发所有到期任务
// 单个任务的失败只记日志，不中断其余任务
func (s *Scheduler) FireDueJobs(ctx context.Context) {
	jobs, err := s.jobStore.GetDueJobs(ctx, time.Now(), s.config.Emergency.Scheduler.BatchSize)
	if err != nil {
		s.logger.Error("Failed to get due jobs",
			zap.Error(err),
		)
		return
	}

	for _, job := range jobs {
		// 先标记后执行：并发触发下只有拿到标记的一方执行回调
		applied, err := s.jobStore.MarkFired(ctx, job.JobID)
		if err != nil {
			s.logger.Error("Failed to mark job fired",
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			continue // 已被其他轮询触发或已取消
		}

		s.mu.RLock()
		handler, ok := s.handlers[job.JobKind]
		s.mu.RUnlock()

		if !ok {
			s.logger.Warn("No handler registered for job kind",
				zap.String("job_id", job.JobID),
				zap.String("job_kind", job.JobKind),
			)
			continue
		}

		if err := handler(ctx, job); err != nil {
			s.logger.Error("Job handler failed",
				zap.String("job_id", job.JobID),
				zap.String("job_kind", job.JobKind),
				zap.String("request_id", job.RequestID),
				zap.Error(err),
			)
			// 继续处理其他任务，不中断
		}
	}
}
