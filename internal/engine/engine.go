package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/models"
	"lifevault-emergency/internal/notifier"
	"lifevault-emergency/internal/repository"
	"lifevault-emergency/internal/scheduler"
	"lifevault-emergency/internal/verification"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================
// 依赖接口（由 repository / scheduler / cache 实现）
// ============================================

// RequestStore 访问请求持久化接口
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.EmergencyAccessRequest) error
	GetRequest(ctx context.Context, requestID string) (*models.EmergencyAccessRequest, error)
	GetActiveRequest(ctx context.Context, ownerID string) (*models.EmergencyAccessRequest, error)
	TransitionStatus(ctx context.Context, requestID string, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error)
	UpdateMetadata(ctx context.Context, requestID string, metadata string) error
}

// ProtocolStore 协议持久化接口
type ProtocolStore interface {
	GetProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error)
	GetProtocolByID(ctx context.Context, protocolID string) (*models.EmergencyProtocol, error)
	ListInactivityProtocols(ctx context.Context) ([]*models.EmergencyProtocol, error)
	RecordOwnerActivity(ctx context.Context, ownerID string, at time.Time) error
	GetOwnerActivity(ctx context.Context, ownerID string) (*time.Time, error)
}

// ContactStore 联系人持久化接口
type ContactStore interface {
	ListContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error)
	GetContact(ctx context.Context, ownerID, contactID string) (*models.EmergencyContact, error)
}

// VerificationStore 验证记录持久化接口
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *models.EmergencyVerification) error
	GetVerification(ctx context.Context, verificationID string) (*models.EmergencyVerification, error)
	GetLatestVerification(ctx context.Context, requestID, method string) (*models.EmergencyVerification, error)
	ListVerifications(ctx context.Context, requestID string) ([]*models.EmergencyVerification, error)
	IncrementAttempt(ctx context.Context, verificationID string) (bool, error)
	MarkStatus(ctx context.Context, verificationID, toStatus string) (bool, error)
}

// JobScheduler 定时任务调度接口
type JobScheduler interface {
	RegisterHandler(jobKind string, handler scheduler.Handler)
	Schedule(ctx context.Context, ownerID, requestID, jobKind string, dueAt time.Time, payload *models.JobPayload) (*models.ScheduledJob, error)
	CancelByRequest(ctx context.Context, requestID string) error
}

// ResourceResolver 资源解析接口（由外围保管库服务实现）
// 解析失败不得影响状态机，只记日志并留空资源集合
type ResourceResolver interface {
	Resolve(ctx context.Context, ownerID, accessLevel string) ([]string, error)
}

// ProtocolCacher 协议/联系人读缓存接口（可为 nil，nil 时直连仓库）
type ProtocolCacher interface {
	GetProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error)
	SetProtocol(ctx context.Context, protocol *models.EmergencyProtocol) error
	GetContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error)
	SetContacts(ctx context.Context, ownerID string, contacts []*models.EmergencyContact) error
}

// Dependencies 引擎依赖集合
type Dependencies struct {
	Requests      RequestStore
	Protocols     ProtocolStore
	Contacts      ContactStore
	Verifications VerificationStore
	Scheduler     JobScheduler
	Registry      *verification.Registry
	Router        *notifier.Router
	Resolver      ResourceResolver
	Cache         ProtocolCacher
	Publisher     *Publisher
}

// Engine 紧急访问协议引擎门面
// 所有状态变更入口都在这里：按所有者加锁串行化，
// 数据库条件更新作为并发下的最终防线
type Engine struct {
	config        *config.Config
	logger        *zap.Logger
	requests      RequestStore
	protocols     ProtocolStore
	contacts      ContactStore
	verifications VerificationStore
	scheduler     JobScheduler
	registry      *verification.Registry
	router        *notifier.Router
	resolver      ResourceResolver
	cache         ProtocolCacher
	publisher     *Publisher
	locks         *ownerLocks
}

// NewEngine 创建引擎并注册调度回调
func NewEngine(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Engine {
	e := &Engine{
		config:        cfg,
		logger:        logger,
		requests:      deps.Requests,
		protocols:     deps.Protocols,
		contacts:      deps.Contacts,
		verifications: deps.Verifications,
		scheduler:     deps.Scheduler,
		registry:      deps.Registry,
		router:        deps.Router,
		resolver:      deps.Resolver,
		cache:         deps.Cache,
		publisher:     deps.Publisher,
		locks:         newOwnerLocks(),
	}

	e.scheduler.RegisterHandler(models.JobUnlock, e.handleUnlock)
	e.scheduler.RegisterHandler(models.JobNotificationStep, e.handleNotificationStep)
	e.scheduler.RegisterHandler(models.JobVerificationExpiry, e.handleVerificationExpiry)
	e.scheduler.RegisterHandler(models.JobRequestExpiry, e.handleRequestExpiry)

	return e
}

// Subscribe 订阅引擎事件
func (e *Engine) Subscribe(fn Subscriber) string {
	return e.publisher.Subscribe(fn)
}

// Unsubscribe 取消事件订阅
func (e *Engine) Unsubscribe(id string) {
	e.publisher.Unsubscribe(id)
}

// ============================================
// 协议 / 联系人加载（缓存优先）
// ============================================

func (e *Engine) loadProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error) {
	if e.cache != nil {
		protocol, err := e.cache.GetProtocol(ctx, ownerID)
		if err != nil {
			e.logger.Warn("protocol cache read failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		} else if protocol != nil {
			return protocol, nil
		}
	}

	protocol, err := e.protocols.GetProtocol(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if protocol == nil {
		return nil, nil
	}

	if e.cache != nil {
		if err := e.cache.SetProtocol(ctx, protocol); err != nil {
			e.logger.Warn("protocol cache write failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return protocol, nil
}

func (e *Engine) loadContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error) {
	if e.cache != nil {
		contacts, err := e.cache.GetContacts(ctx, ownerID)
		if err != nil {
			e.logger.Warn("contacts cache read failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		} else if contacts != nil {
			return contacts, nil
		}
	}

	contacts, err := e.contacts.ListContacts(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetContacts(ctx, ownerID, contacts); err != nil {
			e.logger.Warn("contacts cache write failed",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
	}

	return contacts, nil
}

func findContact(contacts []*models.EmergencyContact, contactID string) *models.EmergencyContact {
	for _, c := range contacts {
		if c.ContactID == contactID {
			return c
		}
	}
	return nil
}

// ============================================
// 触发
// ============================================

// TriggerInput 触发请求的输入
type TriggerInput struct {
	OwnerID      string
	TriggeredBy  string
	TriggerType  string
	AccessLevel  string
	Reason       string
	Evidence     string
	Expedite     bool
	Urgency      string
	Relationship string

	// 代理请求被钳制前的原始级别（仅 RequestAsProxy 填写）
	requestedLevelRaw string
}

// Trigger 触发一次紧急访问请求
// 同一所有者同一时刻至多一个非终态请求
func (e *Engine) Trigger(ctx context.Context, input TriggerInput) (*models.EmergencyAccessRequest, error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if input.TriggeredBy == "" {
		return nil, fmt.Errorf("triggered_by is required")
	}
	if models.LevelRank(input.AccessLevel) < 0 {
		return nil, fmt.Errorf("unknown access level: %s", input.AccessLevel)
	}

	unlock := e.locks.Lock(input.OwnerID)
	defer unlock()

	active, err := e.requests.GetActiveRequest(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: request_id=%s", ErrAlreadyActive, active.RequestID)
	}

	protocol, err := e.loadProtocol(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if protocol == nil {
		return nil, fmt.Errorf("%w: owner_id=%s", ErrNoProtocol, input.OwnerID)
	}

	delayTable, err := protocol.DecodeDelayTable()
	if err != nil {
		return nil, err
	}
	entry, ok := delayTable[input.AccessLevel]
	if !ok {
		return nil, fmt.Errorf("%w: delay table has no entry for level %s", ErrNoProtocol, input.AccessLevel)
	}

	delayHours := computeDelayHours(entry, input.Expedite)
	now := time.Now()

	meta := &models.RequestMetadata{
		TriggerReason:     input.Reason,
		TriggerEvidence:   input.Evidence,
		Expedited:         input.Expedite,
		Urgency:           input.Urgency,
		Relationship:      input.Relationship,
		RequestedLevelRaw: input.requestedLevelRaw,
	}
	// 触发时先记录协议授予的资源分类，激活时再做最终解析
	categories, err := protocol.DecodeAccessCategories()
	if err != nil {
		return nil, err
	}
	meta.AccessLog = append(meta.AccessLog, models.AccessLogEntry{
		Action:      "categories_resolved",
		AccessLevel: input.AccessLevel,
		ResourceIDs: categories[input.AccessLevel],
		OccurredAt:  now,
	})

	req := &models.EmergencyAccessRequest{
		RequestID:            uuid.New().String(),
		OwnerID:              input.OwnerID,
		TriggeredBy:          input.TriggeredBy,
		TriggerType:          input.TriggerType,
		RequestedAccessLevel: input.AccessLevel,
		ResolvedResources:    "[]",
		VerificationRequired: protocol.VerificationRequired,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	switch {
	case delayHours > 0:
		lockedUntil := now.Add(time.Duration(delayHours) * time.Hour)
		req.Status = models.StatusTimeLocked
		req.TimeLockedUntil = &lockedUntil
	case protocol.VerificationRequired:
		req.Status = models.StatusVerificationRequired
	default:
		// 无延迟且免验证：立即激活
		req.Status = models.StatusActive
		req.ActivatedAt = &now
		req.ResolvedResources = e.resolveResources(ctx, input.OwnerID, input.AccessLevel)
		meta.AccessLog = append(meta.AccessLog, models.AccessLogEntry{
			Action:      "activated",
			AccessLevel: input.AccessLevel,
			OccurredAt:  now,
		})
	}

	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	req.Metadata = encoded

	if err := e.requests.CreateRequest(ctx, req); err != nil {
		// 多进程部署下，所有者互斥锁之外还有唯一索引兜底
		if errors.Is(err, repository.ErrDuplicateActiveRequest) {
			return nil, fmt.Errorf("%w: owner_id=%s", ErrAlreadyActive, input.OwnerID)
		}
		return nil, err
	}

	// 调度时间锁、通知序列与请求过期
	if req.Status == models.StatusTimeLocked {
		if _, err := e.scheduler.Schedule(ctx, req.OwnerID, req.RequestID, models.JobUnlock, *req.TimeLockedUntil, nil); err != nil {
			return nil, fmt.Errorf("failed to schedule unlock: %w", err)
		}
	}

	steps, err := protocol.DecodeNotificationSequence()
	if err != nil {
		return nil, err
	}
	for i, step := range steps {
		dueAt := now.Add(time.Duration(step.DelayHours) * time.Hour)
		if _, err := e.scheduler.Schedule(ctx, req.OwnerID, req.RequestID, models.JobNotificationStep, dueAt, &models.JobPayload{StepIndex: i}); err != nil {
			return nil, fmt.Errorf("failed to schedule notification step %d: %w", i, err)
		}
	}

	expiryAt := now.Add(time.Duration(e.config.Emergency.RequestLifetimeHours) * time.Hour)
	if _, err := e.scheduler.Schedule(ctx, req.OwnerID, req.RequestID, models.JobRequestExpiry, expiryAt, nil); err != nil {
		return nil, fmt.Errorf("failed to schedule request expiry: %w", err)
	}

	e.logger.Info("Emergency access request triggered",
		zap.String("request_id", req.RequestID),
		zap.String("owner_id", req.OwnerID),
		zap.String("trigger_type", req.TriggerType),
		zap.String("status", req.Status),
		zap.String("access_level", req.RequestedAccessLevel),
		zap.Bool("expedited", input.Expedite),
	)

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventTriggered, map[string]interface{}{
		"status":       req.Status,
		"trigger_type": req.TriggerType,
		"access_level": req.RequestedAccessLevel,
		"expedited":    input.Expedite,
	})
	if req.Status == models.StatusActive {
		e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventActivated, map[string]interface{}{
			"access_level": req.RequestedAccessLevel,
		})
	}

	return req, nil
}

// RequestAsProxy 授权联系人代理发起请求
// 请求级别不超过联系人的 max_access_level（超出时钳制并记录原始级别）
func (e *Engine) RequestAsProxy(ctx context.Context, ownerID, requesterID, accessLevel, reason, relationship, urgency, evidence string) (*models.EmergencyAccessRequest, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("requester_id is required")
	}

	contact, err := e.contacts.GetContact(ctx, ownerID, requesterID)
	if err != nil {
		return nil, err
	}
	if contact == nil || !contact.CanRequestAccess {
		return nil, fmt.Errorf("%w: contact_id=%s", ErrNotAuthorizedContact, requesterID)
	}

	input := TriggerInput{
		OwnerID:      ownerID,
		TriggeredBy:  requesterID,
		TriggerType:  models.TriggerFamilyRequest,
		AccessLevel:  accessLevel,
		Reason:       reason,
		Evidence:     evidence,
		Urgency:      urgency,
		Relationship: relationship,
		Expedite:     urgency == "high" || urgency == "critical",
	}
	if models.LevelRank(accessLevel) > models.LevelRank(contact.MaxAccessLevel) {
		input.AccessLevel = contact.MaxAccessLevel
		input.requestedLevelRaw = accessLevel
	}

	return e.Trigger(ctx, input)
}

// ============================================
// 激活 / 解除
// ============================================

// resolveResources 调用资源解析器并编码为 JSONB 数组
// 解析失败只记日志，返回空集合
func (e *Engine) resolveResources(ctx context.Context, ownerID, accessLevel string) string {
	resources := []string{}
	if e.resolver != nil {
		resolved, err := e.resolver.Resolve(ctx, ownerID, accessLevel)
		if err != nil {
			e.logger.Error("resource resolver failed",
				zap.String("owner_id", ownerID),
				zap.String("access_level", accessLevel),
				zap.Error(err))
		} else if resolved != nil {
			resources = resolved
		}
	}

	data, err := json.Marshal(resources)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// activate 将请求转为 active（条件转换，幂等）
func (e *Engine) activate(ctx context.Context, req *models.EmergencyAccessRequest, fromStatuses []string, markVerified bool) (bool, error) {
	now := time.Now()
	resolved := e.resolveResources(ctx, req.OwnerID, req.RequestedAccessLevel)

	meta, err := req.DecodeMetadata()
	if err != nil {
		return false, err
	}
	meta.AccessLog = append(meta.AccessLog, models.AccessLogEntry{
		Action:      "activated",
		AccessLevel: req.RequestedAccessLevel,
		OccurredAt:  now,
	})
	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		"resolved_resources": resolved,
		"activated_at":       now,
		"metadata":           encoded,
	}
	if markVerified {
		updates["verification_complete"] = true
	}

	applied, err := e.transition(ctx, req.RequestID, fromStatuses, models.StatusActive, updates)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	e.logger.Info("Emergency access request activated",
		zap.String("request_id", req.RequestID),
		zap.String("owner_id", req.OwnerID),
		zap.String("access_level", req.RequestedAccessLevel),
	)

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventActivated, map[string]interface{}{
		"access_level": req.RequestedAccessLevel,
	})

	return true, nil
}

// Resolve 解除请求（任意非终态均可）
// 取消未触发任务，尽力通知联系人
func (e *Engine) Resolve(ctx context.Context, requestID, resolvedBy, reason string) error {
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	// 锁内重读，避免基于过期快照做转换
	req, err = e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() {
		return fmt.Errorf("%w: request already %s", ErrInvalidState, req.Status)
	}

	now := time.Now()
	meta, err := req.DecodeMetadata()
	if err != nil {
		return err
	}
	meta.AccessLog = append(meta.AccessLog, models.AccessLogEntry{
		Action:     "resolved",
		OccurredAt: now,
	})
	if resolvedBy != "" {
		meta.Notes = append(meta.Notes, fmt.Sprintf("resolved by %s", resolvedBy))
	}
	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return err
	}

	applied, err := e.transition(ctx, requestID, models.NonTerminalStatuses(), models.StatusResolved, map[string]interface{}{
		"resolved_at":       now,
		"resolution_reason": reason,
		"metadata":          encoded,
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: request already terminal", ErrInvalidState)
	}

	if err := e.scheduler.CancelByRequest(ctx, requestID); err != nil {
		e.logger.Warn("failed to cancel scheduled jobs",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	// 解除通知尽力而为，失败不回滚
	e.notifyResolution(ctx, req, reason)

	e.logger.Info("Emergency access request resolved",
		zap.String("request_id", requestID),
		zap.String("owner_id", req.OwnerID),
		zap.String("reason", reason),
	)

	e.publisher.Publish(ctx, requestID, req.OwnerID, models.EventResolved, map[string]interface{}{
		"reason": reason,
	})

	return nil
}

func (e *Engine) notifyResolution(ctx context.Context, req *models.EmergencyAccessRequest, reason string) {
	contacts, err := e.loadContacts(ctx, req.OwnerID)
	if err != nil {
		e.logger.Warn("failed to load contacts for resolution notice",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return
	}

	message := notifier.RenderMessage(
		"Emergency access request {{request_id}} has been resolved: {{reason}}",
		map[string]string{
			"request_id": req.RequestID,
			"reason":     reason,
		},
	)

	for _, contact := range contacts {
		channels, err := contact.DecodeChannels()
		if err != nil {
			continue
		}
		for channel := range channels {
			delivery, err := e.router.Send(ctx, contact, channel, message)
			if err != nil || !delivery.Success {
				e.logger.Warn("resolution notice delivery failed",
					zap.String("request_id", req.RequestID),
					zap.String("contact_id", contact.ContactID),
					zap.String("channel", channel),
					zap.Error(err))
			}
		}
	}
}

// ============================================
// 查询 / 记录
// ============================================

// GetRequest 查询请求
func (e *Engine) GetRequest(ctx context.Context, requestID string) (*models.EmergencyAccessRequest, error) {
	return e.requests.GetRequest(ctx, requestID)
}

// GetActiveRequest 查询所有者当前的非终态请求（没有则返回 nil）
func (e *Engine) GetActiveRequest(ctx context.Context, ownerID string) (*models.EmergencyAccessRequest, error) {
	return e.requests.GetActiveRequest(ctx, ownerID)
}

// GetVerificationStatus 查询请求的全部验证记录
func (e *Engine) GetVerificationStatus(ctx context.Context, requestID string) ([]*models.EmergencyVerification, error) {
	return e.verifications.ListVerifications(ctx, requestID)
}

// ListContacts 查询所有者的联系人（按优先级排序）
func (e *Engine) ListContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error) {
	return e.loadContacts(ctx, ownerID)
}

// RecordActivity 记录所有者活跃时间（重置 inactivity 计时）
func (e *Engine) RecordActivity(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	return e.protocols.RecordOwnerActivity(ctx, ownerID, time.Now())
}

// RecordContactResponse 记录联系人对通知的响应
// 响应会抑制上一通知步骤的升级扩散
func (e *Engine) RecordContactResponse(ctx context.Context, requestID, contactID, response string) error {
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}

	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() {
		return fmt.Errorf("%w: request already %s", ErrInvalidState, req.Status)
	}

	meta, err := req.DecodeMetadata()
	if err != nil {
		return err
	}

	// 响应归属到最近已投递的通知步骤
	stepIndex := 0
	for _, attempt := range meta.ContactAttempts {
		if attempt.StepIndex > stepIndex {
			stepIndex = attempt.StepIndex
		}
	}

	meta.ContactResponses = append(meta.ContactResponses, models.ContactResponse{
		StepIndex: stepIndex,
		ContactID: contactID,
		Response:  response,
		RespondAt: time.Now(),
	})

	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	return e.requests.UpdateMetadata(ctx, requestID, encoded)
}

// ============================================
// 协议演练
// ============================================

// TestProtocol 演练协议的通知序列
// 按真实模板渲染并投递测试消息，不落请求、不发事件
// 返回是否全部送达
func (e *Engine) TestProtocol(ctx context.Context, protocolID string) (bool, error) {
	protocol, err := e.protocols.GetProtocolByID(ctx, protocolID)
	if err != nil {
		return false, err
	}

	steps, err := protocol.DecodeNotificationSequence()
	if err != nil {
		return false, err
	}
	contacts, err := e.loadContacts(ctx, protocol.OwnerID)
	if err != nil {
		return false, err
	}

	byID := make(map[string]*models.EmergencyContact, len(contacts))
	for _, c := range contacts {
		byID[c.ContactID] = c
	}

	allDelivered := true
	for i, step := range steps {
		for _, contactID := range step.ContactIDs {
			contact, ok := byID[contactID]
			if !ok {
				e.logger.Warn("protocol test: unknown contact in notification step",
					zap.String("protocol_id", protocolID),
					zap.Int("step_index", i),
					zap.String("contact_id", contactID))
				allDelivered = false
				continue
			}

			message := "[TEST] " + notifier.RenderMessage(step.MessageTemplate, map[string]string{
				"contact_name": contact.Name,
				"owner_id":     protocol.OwnerID,
				"step":         fmt.Sprintf("%d", i),
			})

			delivery, err := e.router.Send(ctx, contact, step.Channel, message)
			if err != nil || !delivery.Success {
				allDelivered = false
				e.logger.Warn("protocol test delivery failed",
					zap.String("protocol_id", protocolID),
					zap.Int("step_index", i),
					zap.String("contact_id", contactID),
					zap.String("channel", step.Channel),
					zap.Error(err))
			}
		}
	}

	return allDelivered, nil
}
