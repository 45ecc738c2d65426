package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EmergencyContact 紧急联系人（对应 emergency_contacts 表）
// 引擎只读；由所有者侧管理界面维护
type EmergencyContact struct {
	ContactID        string    `json:"contact_id" db:"contact_id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	Name             string    `json:"name" db:"name"`
	Channels         string    `json:"channels" db:"channels"` // JSONB：channel -> 地址（引擎不解释地址内容）
	Relationship     string    `json:"relationship" db:"relationship"`
	Priority         int       `json:"priority" db:"priority"` // 数字越小越先被联系；相同时按创建顺序
	CanRequestAccess bool      `json:"can_request_access" db:"can_request_access"`
	MaxAccessLevel   string    `json:"max_access_level" db:"max_access_level"`
	AllowedMethods   string    `json:"allowed_methods" db:"allowed_methods"` // JSONB 数组
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// DecodeChannels 解码联系渠道
func (c *EmergencyContact) DecodeChannels() (map[string]string, error) {
	channels := map[string]string{}
	if c.Channels == "" {
		return channels, nil
	}
	if err := json.Unmarshal([]byte(c.Channels), &channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact channels: %w", err)
	}
	return channels, nil
}

// DecodeAllowedMethods 解码允许的验证方法
func (c *EmergencyContact) DecodeAllowedMethods() ([]string, error) {
	var methods []string
	if c.AllowedMethods == "" {
		return methods, nil
	}
	if err := json.Unmarshal([]byte(c.AllowedMethods), &methods); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed methods: %w", err)
	}
	return methods, nil
}

// AllowsMethod 判断联系人是否允许使用某验证方法
func (c *EmergencyContact) AllowsMethod(method string) bool {
	methods, err := c.DecodeAllowedMethods()
	if err != nil {
		return false
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}
