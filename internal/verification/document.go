package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DocumentAdapter 身份证件方法
// 所有者预先登记证件指纹（类型+号码的摘要）；提交方需给出匹配的证件信息。
// 证件影像的采集与人工审核在引擎之外，这里只校验登记指纹
type DocumentAdapter struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewDocumentAdapter 创建证件适配器
func NewDocumentAdapter(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *DocumentAdapter {
	return &DocumentAdapter{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Method 方法标识
func (a *DocumentAdapter) Method() string {
	return models.MethodDocument
}

// DefaultMaxAttempts 证件方法默认 5 次
func (a *DocumentAdapter) DefaultMaxAttempts() int {
	return 5
}

func (a *DocumentAdapter) fingerprintKey(ownerID string) string {
	return fmt.Sprintf("%sdocument:%s", a.config.Emergency.Cache.ChallengeKeyPrefix, ownerID)
}

// fingerprint 计算证件指纹（归一化后摘要）
func fingerprint(documentType, documentNumber string) string {
	normalized := strings.ToLower(strings.TrimSpace(documentType)) + ":" +
		strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(documentNumber), " ", ""))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RegisterDocument 登记所有者的证件指纹
func (a *DocumentAdapter) RegisterDocument(ctx context.Context, ownerID, documentType, documentNumber string, ttl time.Duration) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if documentType == "" || documentNumber == "" {
		return fmt.Errorf("document_type and document_number are required")
	}

	if err := a.redisClient.SAdd(ctx, a.fingerprintKey(ownerID), fingerprint(documentType, documentNumber)).Err(); err != nil {
		return fmt.Errorf("failed to register document fingerprint: %w", err)
	}
	if ttl > 0 {
		a.redisClient.Expire(ctx, a.fingerprintKey(ownerID), ttl)
	}

	return nil
}

// Validate 校验提交的证件信息是否匹配登记指纹
func (a *DocumentAdapter) Validate(ctx context.Context, record *models.EmergencyVerification, verifierID string, payload map[string]interface{}) (Result, error) {
	documentType, _ := payload["document_type"].(string)
	documentNumber, _ := payload["document_number"].(string)
	ownerID, _ := payload["owner_id"].(string)

	if documentType == "" || documentNumber == "" {
		return Result{Passed: false, Detail: "document_type and document_number are required"}, nil
	}
	if ownerID == "" {
		return Result{Passed: false, Detail: "owner_id is required"}, nil
	}

	member, err := a.redisClient.SIsMember(ctx, a.fingerprintKey(ownerID), fingerprint(documentType, documentNumber)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to check document fingerprint: %w", err)
	}

	if !member {
		return Result{Passed: false, Detail: "document does not match registered fingerprint"}, nil
	}

	return Result{Passed: true, Detail: "document verified"}, nil
}
