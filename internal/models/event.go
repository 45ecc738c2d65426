package models

import "time"

// 引擎事件类型
const (
	EventTriggered           = "triggered"
	EventUnlocked            = "unlocked"
	EventNotificationSent    = "notification_sent"
	EventVerificationAttempt = "verification_attempt"
	EventActivated           = "activated"
	EventResolved            = "resolved"
	EventDenied              = "denied"
	EventExpired             = "expired"
)

// AccessEvent 引擎状态变更事件
// 同一请求内按转换顺序投递；跨请求不保证顺序
type AccessEvent struct {
	EventID    string                 `json:"event_id"`
	RequestID  string                 `json:"request_id"`
	OwnerID    string                 `json:"owner_id"`
	EventType  string                 `json:"event_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
