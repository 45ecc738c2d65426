package verification

import (
	"context"
	"testing"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *config.Config) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Emergency.Cache.ChallengeKeyPrefix = "lifevault:emergency:challenge:"

	return mr, redisClient, cfg
}

func testRecord(method string) *models.EmergencyVerification {
	return &models.EmergencyVerification{
		VerificationID: "ver-1",
		RequestID:      "req-1",
		VerifierID:     "contact-1",
		Method:         method,
		Status:         models.VerificationPending,
		MaxAttempts:    3,
		ExpiresAt:      time.Now().Add(time.Hour),
		Payload:        "{}",
		CreatedAt:      time.Now(),
	}
}

// ============================================
// CodeAdapter
// ============================================

func TestCodeAdapter_IssueAndValidate(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewCodeAdapter(cfg, models.MethodEmailCode, redisClient, zap.NewNop())
	ctx := context.Background()

	code, err := adapter.IssueChallenge(ctx, "ver-1", time.Hour)
	require.NoError(t, err)
	require.Len(t, code, 6)

	result, err := adapter.Validate(ctx, testRecord(models.MethodEmailCode), "contact-1",
		map[string]interface{}{"code": code})

	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestCodeAdapter_WrongCode(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewCodeAdapter(cfg, models.MethodEmailCode, redisClient, zap.NewNop())
	ctx := context.Background()

	_, err := adapter.IssueChallenge(ctx, "ver-1", time.Hour)
	require.NoError(t, err)

	result, err := adapter.Validate(ctx, testRecord(models.MethodEmailCode), "contact-1",
		map[string]interface{}{"code": "000000"})

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "code mismatch", result.Detail)
}

func TestCodeAdapter_NoReplayAfterSuccess(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewCodeAdapter(cfg, models.MethodEmailCode, redisClient, zap.NewNop())
	ctx := context.Background()

	code, err := adapter.IssueChallenge(ctx, "ver-1", time.Hour)
	require.NoError(t, err)

	result, err := adapter.Validate(ctx, testRecord(models.MethodEmailCode), "contact-1",
		map[string]interface{}{"code": code})
	require.NoError(t, err)
	require.True(t, result.Passed)

	// 验证通过后挑战销毁，同一验证码不能二次使用
	result, err = adapter.Validate(ctx, testRecord(models.MethodEmailCode), "contact-1",
		map[string]interface{}{"code": code})
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestCodeAdapter_ChallengeExpired(t *testing.T) {
	mr, redisClient, cfg := setupTestRedis(t)
	adapter := NewCodeAdapter(cfg, models.MethodSMSCode, redisClient, zap.NewNop())
	ctx := context.Background()

	code, err := adapter.IssueChallenge(ctx, "ver-1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	result, err := adapter.Validate(ctx, testRecord(models.MethodSMSCode), "contact-1",
		map[string]interface{}{"code": code})

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "no active code challenge", result.Detail)
}

// ============================================
// DocumentAdapter
// ============================================

func TestDocumentAdapter_Validate(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewDocumentAdapter(cfg, redisClient, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, adapter.RegisterDocument(ctx, "owner-1", "passport", "AB 123456", 0))

	// 归一化：大小写和空格不影响匹配
	result, err := adapter.Validate(ctx, testRecord(models.MethodDocument), "contact-1",
		map[string]interface{}{
			"owner_id":        "owner-1",
			"document_type":   "Passport",
			"document_number": "ab123456",
		})

	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestDocumentAdapter_Mismatch(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewDocumentAdapter(cfg, redisClient, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, adapter.RegisterDocument(ctx, "owner-1", "passport", "AB123456", 0))

	result, err := adapter.Validate(ctx, testRecord(models.MethodDocument), "contact-1",
		map[string]interface{}{
			"owner_id":        "owner-1",
			"document_type":   "passport",
			"document_number": "XX999999",
		})

	require.NoError(t, err)
	assert.False(t, result.Passed)
}

// ============================================
// QuorumAdapter
// ============================================

func TestQuorumAdapter_PendingUntilThreshold(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewQuorumAdapter(cfg, redisClient, zap.NewNop())
	ctx := context.Background()

	record := testRecord(models.MethodQuorum)
	record.Payload = `{"required_confirmations": 2}`

	result, err := adapter.Validate(ctx, record, "contact-1", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.True(t, result.Pending)
	assert.False(t, result.Passed)

	result, err = adapter.Validate(ctx, record, "contact-2", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.False(t, result.Pending)
	assert.True(t, result.Passed)
}

func TestQuorumAdapter_DuplicateConfirmationsCountOnce(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewQuorumAdapter(cfg, redisClient, zap.NewNop())
	ctx := context.Background()

	record := testRecord(models.MethodQuorum)
	record.Payload = `{"required_confirmations": 2}`

	result, err := adapter.Validate(ctx, record, "contact-1", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.True(t, result.Pending)

	// 同一联系人重复确认不推进法定人数
	result, err = adapter.Validate(ctx, record, "contact-1", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.True(t, result.Pending)
}

func TestQuorumAdapter_DeclineDoesNotJudgeAttempt(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)
	adapter := NewQuorumAdapter(cfg, redisClient, zap.NewNop())
	ctx := context.Background()

	record := testRecord(models.MethodQuorum)
	record.Payload = `{"required_confirmations": 2}`

	// 拒绝不计入确认，也不作为一次完整尝试判定
	result, err := adapter.Validate(ctx, record, "contact-1", map[string]interface{}{"confirm": false})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.True(t, result.Pending)

	// 拒绝之后正常确认流程不受影响
	result, err = adapter.Validate(ctx, record, "contact-1", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.True(t, result.Pending)

	result, err = adapter.Validate(ctx, record, "contact-2", map[string]interface{}{"confirm": true})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

// ============================================
// Registry
// ============================================

func TestRegistry_GetUnknownMethod(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("retina_scan")
	assert.Error(t, err)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	_, redisClient, cfg := setupTestRedis(t)

	registry := NewRegistry()
	registry.Register(NewCodeAdapter(cfg, models.MethodEmailCode, redisClient, zap.NewNop()))
	registry.Register(NewQuorumAdapter(cfg, redisClient, zap.NewNop()))

	adapter, err := registry.Get(models.MethodEmailCode)
	require.NoError(t, err)
	assert.Equal(t, models.MethodEmailCode, adapter.Method())
	assert.Equal(t, 3, adapter.DefaultMaxAttempts())

	adapter, err = registry.Get(models.MethodQuorum)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.DefaultMaxAttempts())

	assert.Len(t, registry.Methods(), 2)
}
