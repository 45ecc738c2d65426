package engine

import (
	"context"
	"fmt"
	"time"

	"lifevault-emergency/internal/models"
	"lifevault-emergency/internal/verification"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChallengeIssuer 可签发一次性挑战的适配器（验证码类方法实现）
type ChallengeIssuer interface {
	IssueChallenge(ctx context.Context, verificationID string, ttl time.Duration) (string, error)
}

// authorizeMethod 校验验证方法与验证人资格
// 注册联系人必须在 allowed_methods 中声明该方法；
// 非联系人仅允许请求发起方本人（如凭文书验证身份的外部请求人）
func (e *Engine) authorizeMethod(ctx context.Context, req *models.EmergencyAccessRequest, verifierID, method string) (verification.Adapter, error) {
	adapter, err := e.registry.Get(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
	}

	contacts, err := e.loadContacts(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	contact := findContact(contacts, verifierID)
	if contact != nil {
		if !contact.AllowsMethod(method) {
			return nil, fmt.Errorf("%w: contact %s does not allow method %s", ErrMethodNotAllowed, verifierID, method)
		}
		return adapter, nil
	}

	if verifierID != req.TriggeredBy {
		return nil, fmt.Errorf("%w: verifier %s is not a registered contact", ErrMethodNotAllowed, verifierID)
	}
	return adapter, nil
}

// maxAttemptsFor 方法尝试上限（协议覆盖优先，否则用适配器默认值）
func maxAttemptsFor(protocol *models.EmergencyProtocol, adapter verification.Adapter) int {
	overrides, err := protocol.DecodeMethodMaxAttempts()
	if err == nil {
		if n, ok := overrides[adapter.Method()]; ok && n > 0 {
			return n
		}
	}
	return adapter.DefaultMaxAttempts()
}

// quorumPayload 法定人数方法的记录负载（协议声明的确认数）
func quorumPayload(protocol *models.EmergencyProtocol) string {
	conditions, err := protocol.DecodeTriggerConditions()
	if err != nil {
		return "{}"
	}
	for _, c := range conditions {
		if c.ConfirmationsRequired > 0 {
			return fmt.Sprintf(`{"required_confirmations": %d}`, c.ConfirmationsRequired)
		}
	}
	return "{}"
}

// newVerification 创建新的验证记录并调度过期任务
func (e *Engine) newVerification(ctx context.Context, req *models.EmergencyAccessRequest, protocol *models.EmergencyProtocol, verifierID string, adapter verification.Adapter) (*models.EmergencyVerification, error) {
	now := time.Now()
	record := &models.EmergencyVerification{
		VerificationID: uuid.New().String(),
		RequestID:      req.RequestID,
		VerifierID:     verifierID,
		Method:         adapter.Method(),
		Status:         models.VerificationPending,
		AttemptCount:   0,
		MaxAttempts:    maxAttemptsFor(protocol, adapter),
		ExpiresAt:      now.Add(time.Duration(e.config.Emergency.Verification.TTLHours) * time.Hour),
		Payload:        "{}",
		CreatedAt:      now,
	}
	if adapter.Method() == models.MethodQuorum {
		record.Payload = quorumPayload(protocol)
	}

	if err := e.verifications.CreateVerification(ctx, record); err != nil {
		return nil, err
	}

	if _, err := e.scheduler.Schedule(ctx, req.OwnerID, req.RequestID, models.JobVerificationExpiry, record.ExpiresAt, &models.JobPayload{VerificationID: record.VerificationID}); err != nil {
		e.logger.Warn("failed to schedule verification expiry",
			zap.String("verification_id", record.VerificationID),
			zap.Error(err))
	}

	e.logger.Info("Verification started",
		zap.String("verification_id", record.VerificationID),
		zap.String("request_id", req.RequestID),
		zap.String("method", record.Method),
		zap.Int("max_attempts", record.MaxAttempts),
	)

	return record, nil
}

// appendVerificationAttempt 追加验证尝试到请求 metadata（失败只记日志）
func (e *Engine) appendVerificationAttempt(ctx context.Context, req *models.EmergencyAccessRequest, entry models.VerificationAttempt) {
	meta, err := req.DecodeMetadata()
	if err != nil {
		e.logger.Warn("failed to decode request metadata",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}
	meta.VerificationAttempts = append(meta.VerificationAttempts, entry)

	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return
	}
	if err := e.requests.UpdateMetadata(ctx, req.RequestID, encoded); err != nil {
		e.logger.Warn("failed to record verification attempt",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}
	req.Metadata = encoded
}

// StartVerification 显式开启一次验证
// 已有未终结记录时复用该记录；验证码类方法随之（重新）签发挑战
// 返回记录与挑战明文（非验证码方法为空串，挑战经通知渠道送达由外围负责）
func (e *Engine) StartVerification(ctx context.Context, requestID, verifierID, method string) (*models.EmergencyVerification, string, error) {
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, "", err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	if req.Status != models.StatusVerificationRequired {
		return nil, "", fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	adapter, err := e.authorizeMethod(ctx, req, verifierID, method)
	if err != nil {
		return nil, "", err
	}

	protocol, err := e.loadProtocol(ctx, req.OwnerID)
	if err != nil {
		return nil, "", err
	}
	if protocol == nil {
		return nil, "", fmt.Errorf("%w: owner_id=%s", ErrNoProtocol, req.OwnerID)
	}

	record, err := e.verifications.GetLatestVerification(ctx, requestID, method)
	if err != nil {
		return nil, "", err
	}

	switch {
	case record == nil:
		record, err = e.newVerification(ctx, req, protocol, verifierID, adapter)
	case record.Status == models.VerificationFailed:
		return nil, "", fmt.Errorf("%w: method %s", ErrAttemptsExhausted, method)
	case record.Status == models.VerificationExpired:
		record, err = e.newVerification(ctx, req, protocol, verifierID, adapter)
	case record.IsTerminal():
		return nil, "", fmt.Errorf("%w: verification already %s", ErrInvalidState, record.Status)
	case time.Now().After(record.ExpiresAt):
		e.verifications.MarkStatus(ctx, record.VerificationID, models.VerificationExpired)
		record, err = e.newVerification(ctx, req, protocol, verifierID, adapter)
	}
	if err != nil {
		return nil, "", err
	}

	challenge := ""
	if issuer, ok := adapter.(ChallengeIssuer); ok {
		challenge, err = issuer.IssueChallenge(ctx, record.VerificationID, time.Until(record.ExpiresAt))
		if err != nil {
			return nil, "", fmt.Errorf("failed to issue challenge: %w", err)
		}
	}

	return record, challenge, nil
}

// Verify 提交一次验证尝试
// 每次提交消耗一次 attempt（法定人数未达标的中间确认除外）；
// 通过即激活请求，耗尽按协议决定是否硬拒绝
func (e *Engine) Verify(ctx context.Context, requestID, verifierID, method string, payload map[string]interface{}) (bool, error) {
	if verifierID == "" {
		return false, fmt.Errorf("verifier_id is required")
	}

	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req.Status != models.StatusVerificationRequired {
		return false, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	adapter, err := e.authorizeMethod(ctx, req, verifierID, method)
	if err != nil {
		return false, err
	}

	protocol, err := e.loadProtocol(ctx, req.OwnerID)
	if err != nil {
		return false, err
	}
	if protocol == nil {
		return false, fmt.Errorf("%w: owner_id=%s", ErrNoProtocol, req.OwnerID)
	}

	record, err := e.verifications.GetLatestVerification(ctx, requestID, method)
	if err != nil {
		return false, err
	}

	switch {
	case record == nil:
		record, err = e.newVerification(ctx, req, protocol, verifierID, adapter)
		if err != nil {
			return false, err
		}
	case record.Status == models.VerificationFailed:
		return false, fmt.Errorf("%w: method %s", ErrAttemptsExhausted, method)
	case record.Status == models.VerificationExpired:
		record, err = e.newVerification(ctx, req, protocol, verifierID, adapter)
		if err != nil {
			return false, err
		}
	case record.IsTerminal():
		return false, fmt.Errorf("%w: verification already %s", ErrInvalidState, record.Status)
	case time.Now().After(record.ExpiresAt):
		e.verifications.MarkStatus(ctx, record.VerificationID, models.VerificationExpired)
		return false, fmt.Errorf("%w: verification_id=%s", ErrVerificationExpired, record.VerificationID)
	}

	// 适配器按需读取所有者标识（如证件指纹校验）
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["owner_id"]; !ok {
		payload["owner_id"] = req.OwnerID
	}

	result, err := adapter.Validate(ctx, record, verifierID, payload)
	if err != nil {
		// 基础设施故障不消耗尝试次数
		return false, fmt.Errorf("verification adapter failed: %w", err)
	}

	if result.Pending {
		e.appendVerificationAttempt(ctx, req, models.VerificationAttempt{
			VerificationID: record.VerificationID,
			VerifierID:     verifierID,
			Method:         method,
			Outcome:        "pending",
			Detail:         result.Detail,
			AttemptedAt:    time.Now(),
		})
		e.publisher.Publish(ctx, requestID, req.OwnerID, models.EventVerificationAttempt, map[string]interface{}{
			"method":   method,
			"verifier": verifierID,
			"outcome":  "pending",
		})
		return false, nil
	}

	applied, err := e.verifications.IncrementAttempt(ctx, record.VerificationID)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, fmt.Errorf("%w: method %s", ErrAttemptsExhausted, method)
	}
	record.AttemptCount++

	outcome := "failed"
	if result.Passed {
		outcome = "passed"
	}
	e.appendVerificationAttempt(ctx, req, models.VerificationAttempt{
		VerificationID: record.VerificationID,
		VerifierID:     verifierID,
		Method:         method,
		Outcome:        outcome,
		Detail:         result.Detail,
		AttemptedAt:    time.Now(),
	})
	e.publisher.Publish(ctx, requestID, req.OwnerID, models.EventVerificationAttempt, map[string]interface{}{
		"method":   method,
		"verifier": verifierID,
		"outcome":  outcome,
		"attempt":  record.AttemptCount,
	})

	if result.Passed {
		if _, err := e.verifications.MarkStatus(ctx, record.VerificationID, models.VerificationVerified); err != nil {
			return false, err
		}
		if _, err := e.activate(ctx, req, []string{models.StatusVerificationRequired}, true); err != nil {
			return false, err
		}
		return true, nil
	}

	e.logger.Info("Verification attempt failed",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.Int("attempt", record.AttemptCount),
		zap.Int("max_attempts", record.MaxAttempts),
	)

	if record.AttemptCount >= record.MaxAttempts {
		if _, err := e.verifications.MarkStatus(ctx, record.VerificationID, models.VerificationFailed); err != nil {
			return false, err
		}
		if protocol.DenyOnExhaustedMethods {
			if err := e.denyIfExhausted(ctx, req, protocol); err != nil {
				return false, err
			}
		}
	}

	return false, nil
}

// denyIfExhausted 所有可用方法都已硬失败时拒绝请求
// 过期的记录不算耗尽（可以重新开启）
func (e *Engine) denyIfExhausted(ctx context.Context, req *models.EmergencyAccessRequest, protocol *models.EmergencyProtocol) error {
	contacts, err := e.loadContacts(ctx, req.OwnerID)
	if err != nil {
		return err
	}

	// 请求可用的方法：任一联系人声明允许的已注册方法；
	// 没有联系人时视为全部已注册方法可用
	available := make(map[string]bool)
	if len(contacts) == 0 {
		for _, m := range e.registry.Methods() {
			available[m] = true
		}
	} else {
		for _, contact := range contacts {
			methods, err := contact.DecodeAllowedMethods()
			if err != nil {
				continue
			}
			for _, m := range methods {
				if _, err := e.registry.Get(m); err == nil {
					available[m] = true
				}
			}
		}
	}

	for method := range available {
		latest, err := e.verifications.GetLatestVerification(ctx, req.RequestID, method)
		if err != nil {
			return err
		}
		if latest == nil || latest.Status != models.VerificationFailed {
			return nil // 仍有方法可用
		}
	}

	now := time.Now()
	applied, err := e.transition(ctx, req.RequestID,
		[]string{models.StatusVerificationRequired},
		models.StatusDenied,
		map[string]interface{}{
			"resolved_at":       now,
			"resolution_reason": "all verification methods exhausted",
		})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := e.scheduler.CancelByRequest(ctx, req.RequestID); err != nil {
		e.logger.Warn("failed to cancel scheduled jobs",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}

	e.logger.Warn("Emergency access request denied",
		zap.String("request_id", req.RequestID),
		zap.String("owner_id", req.OwnerID),
	)

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventDenied, map[string]interface{}{
		"reason": "all verification methods exhausted",
	})

	return nil
}
