package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// 请求状态（状态机状态）
const (
	StatusPending              = "pending"
	StatusTimeLocked           = "time_locked"
	StatusVerificationRequired = "verification_required"
	StatusActive               = "active"
	StatusResolved             = "resolved"
	StatusDenied               = "denied"
	StatusExpired              = "expired"
)

// 触发类型
const (
	TriggerManualRequest     = "manual_request"
	TriggerInactivityTimeout = "inactivity_timeout"
	TriggerFamilyRequest     = "family_request"
	TriggerMedicalEmergency  = "medical_emergency"
	TriggerDeathCertificate  = "death_certificate"
	TriggerCourtOrder        = "court_order"
	TriggerAutomatic         = "automatic"
)

// 访问级别（序数，从低到高）
const (
	LevelBasic    = "basic"
	LevelStandard = "standard"
	LevelFull     = "full"
	LevelComplete = "complete"
)

// levelRank 访问级别的序数映射
var levelRank = map[string]int{
	LevelBasic:    0,
	LevelStandard: 1,
	LevelFull:     2,
	LevelComplete: 3,
}

// LevelRank 返回访问级别的序数（未知级别返回 -1）
func LevelRank(level string) int {
	if rank, ok := levelRank[level]; ok {
		return rank
	}
	return -1
}

// IsTerminalStatus 判断状态是否为终态
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusResolved, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// NonTerminalStatuses 全部非终态状态列表
func NonTerminalStatuses() []string {
	return []string{StatusPending, StatusTimeLocked, StatusVerificationRequired, StatusActive}
}

// EmergencyAccessRequest 紧急访问请求（对应 emergency_access_requests 表）
// 一次紧急访问事件的全部状态；终态后不可变
type EmergencyAccessRequest struct {
	RequestID            string     `json:"request_id" db:"request_id"`
	OwnerID              string     `json:"owner_id" db:"owner_id"`
	TriggeredBy          string     `json:"triggered_by" db:"triggered_by"`
	TriggerType          string     `json:"trigger_type" db:"trigger_type"`
	Status               string     `json:"status" db:"status"`
	RequestedAccessLevel string     `json:"requested_access_level" db:"requested_access_level"`
	ResolvedResources    string     `json:"resolved_resources" db:"resolved_resources"` // JSONB 数组
	TimeLockedUntil      *time.Time `json:"time_locked_until,omitempty" db:"time_locked_until"`
	VerificationRequired bool       `json:"verification_required" db:"verification_required"`
	VerificationComplete bool       `json:"verification_complete" db:"verification_complete"`
	Metadata             string     `json:"metadata" db:"metadata"` // JSONB
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	ActivatedAt          *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionReason     *string    `json:"resolution_reason,omitempty" db:"resolution_reason"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal 判断请求是否已到终态
func (r *EmergencyAccessRequest) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// ResolvedResourceIDs 解码已解析的资源集合
func (r *EmergencyAccessRequest) ResolvedResourceIDs() []string {
	var ids []string
	if r.ResolvedResources == "" {
		return ids
	}
	_ = json.Unmarshal([]byte(r.ResolvedResources), &ids)
	return ids
}

// ============================================
// metadata JSONB 结构
// ============================================

// ContactAttempt 通知投递记录（追加写，不可重写）
type ContactAttempt struct {
	StepIndex int       `json:"step_index"`
	ContactID string    `json:"contact_id"`
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// ContactResponse 联系人响应记录
type ContactResponse struct {
	StepIndex int       `json:"step_index"`
	ContactID string    `json:"contact_id"`
	Response  string    `json:"response"`
	RespondAt time.Time `json:"respond_at"`
}

// VerificationAttempt 验证尝试记录（追加写）
type VerificationAttempt struct {
	VerificationID string    `json:"verification_id"`
	VerifierID     string    `json:"verifier_id"`
	Method         string    `json:"method"`
	Outcome        string    `json:"outcome"` // passed, failed, pending
	Detail         string    `json:"detail,omitempty"`
	AttemptedAt    time.Time `json:"attempted_at"`
}

// AccessLogEntry 访问日志记录（追加写）
type AccessLogEntry struct {
	Action      string    `json:"action"`
	AccessLevel string    `json:"access_level,omitempty"`
	ResourceIDs []string  `json:"resource_ids,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RequestMetadata 请求的 metadata JSONB 结构
// 所有列表均为追加写（append-only），不允许重写或重排
type RequestMetadata struct {
	TriggerReason        string                `json:"trigger_reason,omitempty"`
	TriggerEvidence      string                `json:"trigger_evidence,omitempty"`
	Expedited            bool                  `json:"expedited,omitempty"`
	Urgency              string                `json:"urgency,omitempty"`
	Relationship         string                `json:"relationship,omitempty"`
	RequestedLevelRaw    string                `json:"requested_level_raw,omitempty"` // 代理请求被钳制前的原始级别
	ContactAttempts      []ContactAttempt      `json:"contact_attempts,omitempty"`
	ContactResponses     []ContactResponse     `json:"contact_responses,omitempty"`
	VerificationAttempts []VerificationAttempt `json:"verification_attempts,omitempty"`
	AccessLog            []AccessLogEntry      `json:"access_log,omitempty"`
	Notes                []string              `json:"notes,omitempty"`
}

// DecodeMetadata 解码 metadata JSONB
func (r *EmergencyAccessRequest) DecodeMetadata() (*RequestMetadata, error) {
	meta := &RequestMetadata{}
	if r.Metadata == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(r.Metadata), meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request metadata: %w", err)
	}
	return meta, nil
}

// EncodeMetadata 编码 metadata JSONB
func EncodeMetadata(meta *RequestMetadata) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request metadata: %w", err)
	}
	return string(data), nil
}
