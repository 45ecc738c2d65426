package verification

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

// QuorumAdapter 多联系人法定人数方法（N-of-M）
// 需要 N 个不同联系人各自确认；确认集合存 Redis（TTL 与验证记录一致）。
// 未达标的确认返回 Pending，不消耗尝试次数；达标后整体作为一次尝试判定
type QuorumAdapter struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewQuorumAdapter 创建法定人数适配器
func NewQuorumAdapter(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *QuorumAdapter {
	return &QuorumAdapter{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Method 方法标识
func (a *QuorumAdapter) Method() string {
	return models.MethodQuorum
}

// DefaultMaxAttempts 法定人数方法整体只判一次
func (a *QuorumAdapter) DefaultMaxAttempts() int {
	return 1
}

func (a *QuorumAdapter) confirmationsKey(verificationID string) string {
	return fmt.Sprintf("%squorum:%s", a.config.Emergency.Cache.ChallengeKeyPrefix, verificationID)
}

// requiredConfirmations 从验证记录负载读取要求的确认数（默认 2）
func requiredConfirmations(record *models.EmergencyVerification) int {
	required := 2
	if record.Payload == "" {
		return required
	}
	var payload struct {
		RequiredConfirmations int `json:"required_confirmations"`
	}
	if err := json.Unmarshal([]byte(record.Payload), &payload); err == nil && payload.RequiredConfirmations > 0 {
		required = payload.RequiredConfirmations
	}
	return required
}

// Validate 记录一次联系人确认并判断是否达到法定人数
func (a *QuorumAdapter) Validate(ctx context.Context, record *models.EmergencyVerification, verifierID string, payload map[string]interface{}) (Result, error) {
	if verifierID == "" {
		return Result{Passed: false, Detail: "verifier_id is required"}, nil
	}

	// 拒绝或格式不符：不计入确认集合，也不构成一次完整尝试。
	// 整个法定人数流程只在确认数达标时作为一次尝试判定
	confirm, _ := payload["confirm"].(bool)
	if !confirm {
		return Result{Pending: true, Detail: "confirmation declined"}, nil
	}

	key := a.confirmationsKey(record.VerificationID)

	// 同一联系人重复确认只计一次（SADD 幂等）
	if err := a.redisClient.SAdd(ctx, key, verifierID).Err(); err != nil {
		return Result{}, fmt.Errorf("failed to record quorum confirmation: %w", err)
	}
	if ttl := time.Until(record.ExpiresAt); ttl > 0 {
		a.redisClient.Expire(ctx, key, ttl)
	}

	count, err := a.redisClient.SCard(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to count quorum confirmations: %w", err)
	}

	required := requiredConfirmations(record)
	if int(count) < required {
		return Result{
			Pending: true,
			Detail:  fmt.Sprintf("quorum pending: %d of %d confirmations", count, required),
		}, nil
	}

	return Result{
		Passed: true,
		Detail: fmt.Sprintf("quorum reached: %d of %d confirmations", count, required),
	}, nil
}
