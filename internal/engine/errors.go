package engine

import "errors"

// 前置条件错误：同步拒绝，调用方不应盲目重试
var (
	// ErrAlreadyActive 所有者已存在非终态请求
	ErrAlreadyActive = errors.New("owner already has an active emergency access request")
	// ErrNoProtocol 所有者没有配置紧急访问协议
	ErrNoProtocol = errors.New("owner has no emergency protocol configured")
	// ErrNotAuthorizedContact 请求方不是该所有者授权的可请求联系人
	ErrNotAuthorizedContact = errors.New("requester is not an authorized emergency contact")
	// ErrInvalidState 请求当前状态不允许该操作
	ErrInvalidState = errors.New("request is not in a valid state for this operation")
	// ErrMethodNotAllowed 协议或联系人不允许该验证方法
	ErrMethodNotAllowed = errors.New("verification method not allowed")
)

// 尝试耗尽类错误：对该验证记录终结，需新建验证
var (
	// ErrAttemptsExhausted 验证尝试次数已用尽
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrVerificationExpired 验证记录已过期
	ErrVerificationExpired = errors.New("verification expired")
)
