package models

import (
	"time"
)

// 验证方法
const (
	MethodEmailCode = "email_code"
	MethodSMSCode   = "sms_code"
	MethodDocument  = "identity_document"
	MethodQuorum    = "multi_contact_quorum"
)

// 验证记录状态
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationFailed   = "failed"
	VerificationExpired  = "expired"
)

// EmergencyVerification 验证记录（对应 emergency_verifications 表）
// attempt_count 不得超过 max_attempts；终态后不再接受尝试，需新建记录
type EmergencyVerification struct {
	VerificationID string     `json:"verification_id" db:"verification_id"`
	RequestID      string     `json:"request_id" db:"request_id"`
	VerifierID     string     `json:"verifier_id" db:"verifier_id"`
	Method         string     `json:"method" db:"method"`
	Status         string     `json:"status" db:"status"`
	AttemptCount   int        `json:"attempt_count" db:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts" db:"max_attempts"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	Payload        string     `json:"payload" db:"payload"` // JSONB（方法相关的不透明负载）
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}

// IsTerminal 判断验证记录是否已到终态
func (v *EmergencyVerification) IsTerminal() bool {
	switch v.Status {
	case VerificationVerified, VerificationFailed, VerificationExpired:
		return true
	}
	return false
}
