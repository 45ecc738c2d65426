package notifier

import (
	"context"
	"fmt"
	"sync"

	"lifevault-emergency/internal/models"
)

// Delivery 一次投递的结果
// 投递失败只记入请求 metadata，绝不影响状态机转换
type Delivery struct {
	Success bool
	Detail  string
}

// Notifier 通知渠道契约（实际送达由外部基础设施完成）
type Notifier interface {
	Send(ctx context.Context, contact *models.EmergencyContact, channel string, message string) (Delivery, error)
}

// Router 按渠道名分发的通知路由（channel -> Notifier）
type Router struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRouter 创建通知路由
func NewRouter() *Router {
	return &Router{
		notifiers: make(map[string]Notifier),
	}
}

// Register 注册渠道
func (r *Router) Register(channel string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[channel] = n
}

// Send 按渠道分发投递
func (r *Router) Send(ctx context.Context, contact *models.EmergencyContact, channel string, message string) (Delivery, error) {
	r.mu.RLock()
	n, ok := r.notifiers[channel]
	r.mu.RUnlock()

	if !ok {
		return Delivery{Success: false, Detail: fmt.Sprintf("no notifier for channel: %s", channel)}, nil
	}

	return n.Send(ctx, contact, channel, message)
}
