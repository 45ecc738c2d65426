package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ProtocolCache 协议/联系人读缓存
// 协议与联系人是读多写少的数据，短 TTL 缓存即可；未命中回源由调用方处理
type ProtocolCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewProtocolCache 创建协议缓存
func NewProtocolCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *ProtocolCache {
	return &ProtocolCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *ProtocolCache) protocolKey(ownerID string) string {
	return c.config.Emergency.Cache.ProtocolKeyPrefix + ownerID
}

func (c *ProtocolCache) contactsKey(ownerID string) string {
	return c.config.Emergency.Cache.ContactsKeyPrefix + ownerID
}

func (c *ProtocolCache) ttl() time.Duration {
	return time.Duration(c.config.Emergency.Cache.ProtocolTTL) * time.Second
}

// GetProtocol 读取缓存中的协议（未命中返回 nil）
func (c *ProtocolCache) GetProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error) {
	val, err := c.redisClient.Get(ctx, c.protocolKey(ownerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 缓存未命中
		}
		return nil, fmt.Errorf("failed to get protocol cache: %w", err)
	}

	var protocol models.EmergencyProtocol
	if err := json.Unmarshal([]byte(val), &protocol); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached protocol: %w", err)
	}

	return &protocol, nil
}

// SetProtocol 写入协议缓存（带 TTL）
func (c *ProtocolCache) SetProtocol(ctx context.Context, protocol *models.EmergencyProtocol) error {
	if protocol == nil {
		return fmt.Errorf("protocol is required")
	}

	jsonData, err := json.Marshal(protocol)
	if err != nil {
		return fmt.Errorf("failed to marshal protocol: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.protocolKey(protocol.OwnerID), jsonData, c.ttl()).Err(); err != nil {
		return fmt.Errorf("failed to set protocol cache: %w", err)
	}

	return nil
}

// GetContacts 读取缓存中的联系人列表（未命中返回 nil）
func (c *ProtocolCache) GetContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error) {
	val, err := c.redisClient.Get(ctx, c.contactsKey(ownerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contacts cache: %w", err)
	}

	var contacts []*models.EmergencyContact
	if err := json.Unmarshal([]byte(val), &contacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached contacts: %w", err)
	}

	return contacts, nil
}

// SetContacts 写入联系人列表缓存（带 TTL）
func (c *ProtocolCache) SetContacts(ctx context.Context, ownerID string, contacts []*models.EmergencyContact) error {
	jsonData, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.contactsKey(ownerID), jsonData, c.ttl()).Err(); err != nil {
		return fmt.Errorf("failed to set contacts cache: %w", err)
	}

	return nil
}

// Invalidate 删除所有者的协议与联系人缓存
func (c *ProtocolCache) Invalidate(ctx context.Context, ownerID string) error {
	if err := c.redisClient.Del(ctx, c.protocolKey(ownerID), c.contactsKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate protocol cache: %w", err)
	}
	return nil
}
