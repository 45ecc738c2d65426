package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lifevault-emergency/internal/models"
	"lifevault-emergency/internal/notifier"

	"go.uber.org/zap"
)

// ============================================
// 调度任务回调
// 任务触发即标记，这里必须复查请求状态：
// 对已失效的任务静默跳过而不是报错
// ============================================

// handleUnlock 时间锁到期
func (e *Engine) handleUnlock(ctx context.Context, job *models.ScheduledJob) error {
	req, err := e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusTimeLocked {
		e.logger.Debug("unlock skipped: request no longer time locked",
			zap.String("request_id", req.RequestID),
			zap.String("status", req.Status))
		return nil
	}

	if req.VerificationRequired {
		applied, err := e.transition(ctx, req.RequestID,
			[]string{models.StatusTimeLocked},
			models.StatusVerificationRequired, nil)
		if err != nil {
			return err
		}
		if applied {
			e.logger.Info("Time lock expired, verification required",
				zap.String("request_id", req.RequestID),
				zap.String("owner_id", req.OwnerID))
			e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventUnlocked, map[string]interface{}{
				"next_status": models.StatusVerificationRequired,
			})
		}
		return nil
	}

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventUnlocked, map[string]interface{}{
		"next_status": models.StatusActive,
	})
	_, err = e.activate(ctx, req, []string{models.StatusTimeLocked}, false)
	return err
}

// handleNotificationStep 通知序列步骤到期
func (e *Engine) handleNotificationStep(ctx context.Context, job *models.ScheduledJob) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}

	req, err := e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() {
		return nil
	}

	protocol, err := e.loadProtocol(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	if protocol == nil {
		e.logger.Warn("notification step skipped: protocol missing",
			zap.String("request_id", req.RequestID))
		return nil
	}

	steps, err := protocol.DecodeNotificationSequence()
	if err != nil {
		return err
	}
	if payload.StepIndex < 0 || payload.StepIndex >= len(steps) {
		e.logger.Warn("notification step skipped: step index out of range",
			zap.String("request_id", req.RequestID),
			zap.Int("step_index", payload.StepIndex))
		return nil
	}
	step := steps[payload.StepIndex]

	meta, err := req.DecodeMetadata()
	if err != nil {
		return err
	}

	// 上一步要求响应且无人响应时，扩展到升级联系人
	targetIDs := append([]string{}, step.ContactIDs...)
	if payload.StepIndex > 0 {
		prev := steps[payload.StepIndex-1]
		if prev.RequiresResponse && prev.EscalateOnNoResponse && !hasResponseForStep(meta, payload.StepIndex-1) {
			targetIDs = appendUnique(targetIDs, prev.EscalationContactIDs)
			e.logger.Info("Notification step escalated",
				zap.String("request_id", req.RequestID),
				zap.Int("step_index", payload.StepIndex),
				zap.Strings("escalation_contacts", prev.EscalationContactIDs))
		}
	}

	contacts, err := e.loadContacts(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.EmergencyContact, len(contacts))
	for _, c := range contacts {
		byID[c.ContactID] = c
	}

	now := time.Now()
	for _, contactID := range targetIDs {
		contact, ok := byID[contactID]
		if !ok {
			e.logger.Warn("notification step: unknown contact",
				zap.String("request_id", req.RequestID),
				zap.String("contact_id", contactID))
			continue
		}

		message := notifier.RenderMessage(step.MessageTemplate, map[string]string{
			"contact_name": contact.Name,
			"owner_id":     req.OwnerID,
			"request_id":   req.RequestID,
			"status":       req.Status,
			"access_level": req.RequestedAccessLevel,
			"trigger_type": req.TriggerType,
			"step":         fmt.Sprintf("%d", payload.StepIndex),
		})

		delivery, err := e.router.Send(ctx, contact, step.Channel, message)
		detail := delivery.Detail
		if err != nil {
			detail = err.Error()
		}
		meta.ContactAttempts = append(meta.ContactAttempts, models.ContactAttempt{
			StepIndex: payload.StepIndex,
			ContactID: contactID,
			Channel:   step.Channel,
			Success:   err == nil && delivery.Success,
			Detail:    detail,
			SentAt:    now,
		})
	}

	encoded, err := models.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	if err := e.requests.UpdateMetadata(ctx, req.RequestID, encoded); err != nil {
		return err
	}

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventNotificationSent, map[string]interface{}{
		"step_index":  payload.StepIndex,
		"channel":     step.Channel,
		"contact_ids": targetIDs,
	})

	return nil
}

func hasResponseForStep(meta *models.RequestMetadata, stepIndex int) bool {
	for _, resp := range meta.ContactResponses {
		if resp.StepIndex == stepIndex {
			return true
		}
	}
	return false
}

func appendUnique(ids []string, extra []string) []string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range extra {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	return ids
}

// handleVerificationExpiry 验证记录有效期到期
func (e *Engine) handleVerificationExpiry(ctx context.Context, job *models.ScheduledJob) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}
	if payload.VerificationID == "" {
		return nil
	}

	record, err := e.verifications.GetVerification(ctx, payload.VerificationID)
	if err != nil {
		return err
	}
	if record.Status != models.VerificationPending {
		return nil
	}

	applied, err := e.verifications.MarkStatus(ctx, record.VerificationID, models.VerificationExpired)
	if err != nil {
		return err
	}
	if applied {
		e.logger.Info("Verification expired",
			zap.String("verification_id", record.VerificationID),
			zap.String("request_id", record.RequestID),
			zap.String("method", record.Method))
	}
	return nil
}

// handleRequestExpiry 请求最大生存期到期
// 已激活的请求不自动过期，由所有者或外围显式解除
func (e *Engine) handleRequestExpiry(ctx context.Context, job *models.ScheduledJob) error {
	req, err := e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(req.OwnerID)
	defer unlock()

	req, err = e.requests.GetRequest(ctx, job.RequestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() || req.Status == models.StatusActive {
		return nil
	}

	now := time.Now()
	applied, err := e.transition(ctx, req.RequestID,
		[]string{models.StatusPending, models.StatusTimeLocked, models.StatusVerificationRequired},
		models.StatusExpired,
		map[string]interface{}{
			"resolved_at":       now,
			"resolution_reason": "request lifetime exceeded",
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

	e.logger.Info("Emergency access request expired",
		zap.String("request_id", req.RequestID),
		zap.String("owner_id", req.OwnerID))

	e.publisher.Publish(ctx, req.RequestID, req.OwnerID, models.EventExpired, map[string]interface{}{
		"reason": "request lifetime exceeded",
	})

	return nil
}

// ============================================
// inactivity 监测
// 周期性扫描，不走持久化任务（服务重启后循环自然恢复，
// 落库反而会在重启时累积重复任务链）
// ============================================

// StartInactivityMonitor 启动 inactivity 扫描循环（阻塞直到 ctx 取消）
func (e *Engine) StartInactivityMonitor(ctx context.Context) error {
	interval := time.Duration(e.config.Emergency.InactivitySweepHours) * time.Hour

	e.logger.Info("Inactivity monitor started",
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.ProcessInactivity(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Inactivity monitor stopped")
			return nil
		case <-ticker.C:
			e.ProcessInactivity(ctx)
		}
	}
}

// ProcessInactivity 扫描所有带 inactivity 条件的协议
// 超过阈值：auto_activation 协议触发请求，否则只向联系人发预警
func (e *Engine) ProcessInactivity(ctx context.Context) {
	protocols, err := e.protocols.ListInactivityProtocols(ctx)
	if err != nil {
		e.logger.Error("failed to list inactivity protocols",
			zap.Error(err))
		return
	}

	now := time.Now()
	for _, protocol := range protocols {
		condition, err := protocol.InactivityCondition()
		if err != nil || condition == nil || condition.ThresholdHours <= 0 {
			continue
		}

		lastActivity, err := e.protocols.GetOwnerActivity(ctx, protocol.OwnerID)
		if err != nil {
			e.logger.Warn("failed to get owner activity",
				zap.String("owner_id", protocol.OwnerID),
				zap.Error(err))
			continue
		}
		if lastActivity == nil {
			// 没有活跃基线，不触发
			continue
		}

		threshold := time.Duration(condition.ThresholdHours) * time.Hour
		if now.Sub(*lastActivity) < threshold {
			continue
		}

		if protocol.AutoActivation {
			e.triggerInactivity(ctx, protocol)
		} else {
			e.warnInactivity(ctx, protocol)
		}
	}
}

func (e *Engine) triggerInactivity(ctx context.Context, protocol *models.EmergencyProtocol) {
	table, err := protocol.DecodeDelayTable()
	if err != nil || len(table) == 0 {
		e.logger.Warn("inactivity trigger skipped: delay table missing",
			zap.String("owner_id", protocol.OwnerID))
		return
	}

	// 自动触发取协议声明的最低访问级别
	level := ""
	for l := range table {
		if level == "" || models.LevelRank(l) < models.LevelRank(level) {
			level = l
		}
	}

	_, err = e.Trigger(ctx, TriggerInput{
		OwnerID:     protocol.OwnerID,
		TriggeredBy: "system",
		TriggerType: models.TriggerInactivityTimeout,
		AccessLevel: level,
		Reason:      "owner inactivity threshold exceeded",
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return // 已有进行中的请求
		}
		e.logger.Error("inactivity trigger failed",
			zap.String("owner_id", protocol.OwnerID),
			zap.Error(err))
		return
	}

	e.logger.Warn("Inactivity threshold exceeded, request triggered",
		zap.String("owner_id", protocol.OwnerID),
		zap.String("access_level", level))
}

func (e *Engine) warnInactivity(ctx context.Context, protocol *models.EmergencyProtocol) {
	// 已有请求在途时不再重复预警
	active, err := e.requests.GetActiveRequest(ctx, protocol.OwnerID)
	if err != nil || active != nil {
		return
	}

	steps, err := protocol.DecodeNotificationSequence()
	if err != nil || len(steps) == 0 {
		return
	}
	first := steps[0]

	contacts, err := e.loadContacts(ctx, protocol.OwnerID)
	if err != nil {
		return
	}
	byID := make(map[string]*models.EmergencyContact, len(contacts))
	for _, c := range contacts {
		byID[c.ContactID] = c
	}

	message := notifier.RenderMessage(
		"Owner {{owner_id}} has been inactive beyond the configured threshold",
		map[string]string{"owner_id": protocol.OwnerID},
	)

	for _, contactID := range first.ContactIDs {
		contact, ok := byID[contactID]
		if !ok {
			continue
		}
		if _, err := e.router.Send(ctx, contact, first.Channel, message); err != nil {
			e.logger.Warn("inactivity warning delivery failed",
				zap.String("owner_id", protocol.OwnerID),
				zap.String("contact_id", contactID),
				zap.Error(err))
		}
	}
}
