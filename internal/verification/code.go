package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CodeAdapter 一次性验证码方法（email_code / sms_code 共用实现）
// 挑战状态（验证码的 bcrypt 哈希）存 Redis，TTL 与验证记录有效期一致；
// 明文验证码只在签发时返回一次，由通知链路送达联系人
type CodeAdapter struct {
	config      *config.Config
	method      string
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCodeAdapter 创建验证码适配器
func NewCodeAdapter(cfg *config.Config, method string, redisClient *redis.Client, logger *zap.Logger) *CodeAdapter {
	return &CodeAdapter{
		config:      cfg,
		method:      method,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Method 方法标识
func (a *CodeAdapter) Method() string {
	return a.method
}

// DefaultMaxAttempts 验证码方法默认 3 次
func (a *CodeAdapter) DefaultMaxAttempts() int {
	return 3
}

func (a *CodeAdapter) challengeKey(verificationID string) string {
	return fmt.Sprintf("%scode:%s", a.config.Emergency.Cache.ChallengeKeyPrefix, verificationID)
}

// IssueChallenge 签发一次性验证码并存储其哈希
// 返回明文验证码，调用方负责通过通知渠道送达
func (a *CodeAdapter) IssueChallenge(ctx context.Context, verificationID string, ttl time.Duration) (string, error) {
	if verificationID == "" {
		return "", fmt.Errorf("verification_id is required")
	}

	code, err := generateCode(6)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	if err := a.redisClient.Set(ctx, a.challengeKey(verificationID), string(hash), ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store code challenge: %w", err)
	}

	a.logger.Info("Verification code issued",
		zap.String("verification_id", verificationID),
		zap.String("method", a.method),
	)

	return code, nil
}

// Validate 校验提交的验证码
func (a *CodeAdapter) Validate(ctx context.Context, record *models.EmergencyVerification, verifierID string, payload map[string]interface{}) (Result, error) {
	code, _ := payload["code"].(string)
	if code == "" {
		return Result{Passed: false, Detail: "code is required"}, nil
	}

	hash, err := a.redisClient.Get(ctx, a.challengeKey(record.VerificationID)).Result()
	if err != nil {
		if err == redis.Nil {
			// 挑战不存在或已过期：按失败处理，由引擎层决定是否重新签发
			return Result{Passed: false, Detail: "no active code challenge"}, nil
		}
		return Result{}, fmt.Errorf("failed to load code challenge: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return Result{Passed: false, Detail: "code mismatch"}, nil
	}

	// 验证通过后销毁挑战，防止重放
	a.redisClient.Del(ctx, a.challengeKey(record.VerificationID))

	return Result{Passed: true, Detail: "code verified"}, nil
}

// generateCode 生成 n 位数字验证码
func generateCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
