package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// 触发条件类型
const (
	ConditionInactivity = "inactivity"
	ConditionManual     = "manual"
	ConditionExternal   = "external"
)

// TriggerCondition 触发条件（协议 JSONB 结构）
type TriggerCondition struct {
	Type                  string `json:"type"` // inactivity, manual, external
	ThresholdHours        int    `json:"threshold_hours,omitempty"`
	ConfirmationsRequired int    `json:"confirmations_required,omitempty"`
}

// DelayEntry 延迟表条目：访问级别对应的时间锁
type DelayEntry struct {
	DelayHours            int      `json:"delay_hours"`
	Expeditable           bool     `json:"expeditable"`
	ExpediteRequirements  []string `json:"expedite_requirements,omitempty"`
}

// NotificationStep 通知序列步骤
// escalation_contact_ids 是升级时显式声明的扩展联系人（不做动态推断）
type NotificationStep struct {
	DelayHours           int      `json:"delay_hours"`
	ContactIDs           []string `json:"contact_ids"`
	EscalationContactIDs []string `json:"escalation_contact_ids,omitempty"`
	Channel              string   `json:"channel"` // mqtt, webhook
	MessageTemplate      string   `json:"message_template"`
	RequiresResponse     bool     `json:"requires_response"`
	EscalateOnNoResponse bool     `json:"escalate_on_no_response"`
}

// EmergencyProtocol 每个所有者的紧急访问协议（对应 emergency_protocols 表）
// 引擎只读；同一所有者以最近更新的协议为准
type EmergencyProtocol struct {
	ProtocolID             string    `json:"protocol_id" db:"protocol_id"`
	OwnerID                string    `json:"owner_id" db:"owner_id"`
	TriggerConditions      string    `json:"trigger_conditions" db:"trigger_conditions"`           // JSONB 数组
	DelayTable             string    `json:"delay_table" db:"delay_table"`                         // JSONB：level -> DelayEntry
	NotificationSequence   string    `json:"notification_sequence" db:"notification_sequence"`     // JSONB 数组
	VerificationRequired   bool      `json:"verification_required" db:"verification_required"`
	AutoActivation         bool      `json:"auto_activation" db:"auto_activation"`
	AccessCategories       string    `json:"access_categories" db:"access_categories"`             // JSONB：level -> 资源分类列表
	DenyOnExhaustedMethods bool      `json:"deny_on_exhausted_methods" db:"deny_on_exhausted_methods"`
	MethodMaxAttempts      string    `json:"method_max_attempts" db:"method_max_attempts"`         // JSONB：method -> 次数上限覆盖
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// DecodeTriggerConditions 解码触发条件
func (p *EmergencyProtocol) DecodeTriggerConditions() ([]TriggerCondition, error) {
	var conditions []TriggerCondition
	if p.TriggerConditions == "" {
		return conditions, nil
	}
	if err := json.Unmarshal([]byte(p.TriggerConditions), &conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger conditions: %w", err)
	}
	return conditions, nil
}

// DecodeDelayTable 解码延迟表
func (p *EmergencyProtocol) DecodeDelayTable() (map[string]DelayEntry, error) {
	table := map[string]DelayEntry{}
	if p.DelayTable == "" {
		return table, nil
	}
	if err := json.Unmarshal([]byte(p.DelayTable), &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delay table: %w", err)
	}
	return table, nil
}

// DecodeNotificationSequence 解码通知序列
func (p *EmergencyProtocol) DecodeNotificationSequence() ([]NotificationStep, error) {
	var steps []NotificationStep
	if p.NotificationSequence == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(p.NotificationSequence), &steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification sequence: %w", err)
	}
	return steps, nil
}

// DecodeAccessCategories 解码访问级别对应的资源分类
func (p *EmergencyProtocol) DecodeAccessCategories() (map[string][]string, error) {
	categories := map[string][]string{}
	if p.AccessCategories == "" {
		return categories, nil
	}
	if err := json.Unmarshal([]byte(p.AccessCategories), &categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access categories: %w", err)
	}
	return categories, nil
}

// DecodeMethodMaxAttempts 解码验证方法次数上限覆盖
func (p *EmergencyProtocol) DecodeMethodMaxAttempts() (map[string]int, error) {
	overrides := map[string]int{}
	if p.MethodMaxAttempts == "" {
		return overrides, nil
	}
	if err := json.Unmarshal([]byte(p.MethodMaxAttempts), &overrides); err != nil {
		return nil, fmt.Errorf("failed to unmarshal method max attempts: %w", err)
	}
	return overrides, nil
}

// InactivityCondition 返回协议中的 inactivity 触发条件（没有则返回 nil）
func (p *EmergencyProtocol) InactivityCondition() (*TriggerCondition, error) {
	conditions, err := p.DecodeTriggerConditions()
	if err != nil {
		return nil, err
	}
	for i := range conditions {
		if conditions[i].Type == ConditionInactivity {
			return &conditions[i], nil
		}
	}
	return nil, nil
}
