package models

import (
	"encoding/json"
	"time"
)

// 调度任务类型
const (
	JobUnlock             = "unlock"
	JobNotificationStep   = "notification_step"
	JobVerificationExpiry = "verification_expiry"
	JobRequestExpiry      = "request_expiry"
)

// 调度任务状态
const (
	JobPending   = "pending"
	JobFired     = "fired"
	JobCancelled = "cancelled"
)

// ScheduledJob 持久化的定时任务（对应 scheduled_jobs 表）
// 时间锁和通知触发必须落库，进程重启不得丢失；触发端以状态复查保证幂等
type ScheduledJob struct {
	JobID     string     `json:"job_id" db:"job_id"`
	RequestID string     `json:"request_id" db:"request_id"`
	OwnerID   string     `json:"owner_id" db:"owner_id"`
	JobKind   string     `json:"job_kind" db:"job_kind"`
	DueAt     time.Time  `json:"due_at" db:"due_at"`
	Status    string     `json:"status" db:"status"`
	Payload   string     `json:"payload" db:"payload"` // JSONB
	FiredAt   *time.Time `json:"fired_at,omitempty" db:"fired_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// JobPayload 任务负载
type JobPayload struct {
	StepIndex      int    `json:"step_index,omitempty"`
	VerificationID string `json:"verification_id,omitempty"`
}

// DecodePayload 解码任务负载
func (j *ScheduledJob) DecodePayload() (*JobPayload, error) {
	payload := &JobPayload{}
	if j.Payload == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(j.Payload), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// EncodeJobPayload 编码任务负载
func EncodeJobPayload(payload *JobPayload) string {
	if payload == nil {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
