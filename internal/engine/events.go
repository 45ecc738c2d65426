package engine

import (
	"context"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifevault-emergency/common/redis"
	"lifevault-emergency/internal/models"
)

// Subscriber 事件订阅回调
// 回调在发布方的锁内同步执行，不应阻塞
type Subscriber func(event models.AccessEvent)

// Publisher 引擎事件发布器
// 进程内订阅者同步按序投递，另外按需写入 Redis Stream 供外部消费
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	redisClient *goredis.Client
	stream      string
	logger      *zap.Logger
}

// NewPublisher 创建事件发布器
// redisClient 为 nil 时仅做进程内投递
func NewPublisher(redisClient *goredis.Client, stream string, logger *zap.Logger) *Publisher {
	return &Publisher{
		subscribers: make(map[string]Subscriber),
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// Subscribe 注册订阅者，返回订阅 ID
func (p *Publisher) Subscribe(fn Subscriber) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	p.subscribers[id] = fn
	return id
}

// Unsubscribe 取消订阅
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.subscribers, id)
}

// Publish 发布事件
// 进程内投递失败不可能（同步调用）；Stream 写入失败仅记录日志
func (p *Publisher) Publish(ctx context.Context, requestID, ownerID, eventType string, payload map[string]interface{}) {
	event := models.AccessEvent{
		EventID:    uuid.New().String(),
		RequestID:  requestID,
		OwnerID:    ownerID,
		EventType:  eventType,
		Payload:    payload,
		OccurredAt: time.Now(),
	}

	p.mu.RLock()
	subs := make([]Subscriber, 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}

	if p.redisClient != nil {
		if _, err := redis.PublishJSONToStream(ctx, p.redisClient, p.stream, event); err != nil {
			p.logger.Warn("failed to publish event to stream",
				zap.String("event_type", eventType),
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}
}
