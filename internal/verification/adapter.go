package verification

import (
	"context"
	"fmt"
	"sync"

	"lifevault-emergency/internal/models"
)

// Result 验证结果
// Pending 表示本次提交尚不构成一次完整尝试（如法定人数未达标），
// 不消耗 attempt_count
type Result struct {
	Passed  bool
	Pending bool
	Detail  string
}

// Adapter 验证方法适配器契约
// 引擎对适配器是黑盒调用；适配器可以持有自己的短期挑战状态
// 新增方法只需注册，不需要改动状态机
type Adapter interface {
	// Method 返回方法标识
	Method() string
	// DefaultMaxAttempts 返回该方法的默认尝试次数上限（协议可覆盖）
	DefaultMaxAttempts() int
	// Validate 校验一次提交
	Validate(ctx context.Context, record *models.EmergencyVerification, verifierID string, payload map[string]interface{}) (Result, error)
}

// Registry 验证方法注册表（method -> Adapter）
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register 注册适配器（同名方法后注册者覆盖）
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Method()] = adapter
}

// Get 获取方法对应的适配器
func (r *Registry) Get(method string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for method: %s", method)
	}
	return adapter, nil
}

// Methods 返回已注册的方法列表
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.adapters))
	for m := range r.adapters {
		methods = append(methods, m)
	}
	return methods
}
