package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lifevault-emergency/internal/models"
	"lifevault-emergency/internal/scheduler"

	"github.com/google/uuid"
)

// ============================================
// 内存版存储与调度器（仅测试使用）
// ============================================

type fakeRequestStore struct {
	mu   sync.Mutex
	byID map[string]*models.EmergencyAccessRequest

	// createErr 注入 CreateRequest 失败（模拟数据库层拒绝）
	createErr error
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{byID: make(map[string]*models.EmergencyAccessRequest)}
}

func (s *fakeRequestStore) CreateRequest(ctx context.Context, req *models.EmergencyAccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *req
	s.byID[req.RequestID] = &copied
	return nil
}

func (s *fakeRequestStore) GetRequest(ctx context.Context, requestID string) (*models.EmergencyAccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[requestID]
	if !ok {
		return nil, fmt.Errorf("access request not found: request_id=%s", requestID)
	}
	copied := *req
	return &copied, nil
}

func (s *fakeRequestStore) GetActiveRequest(ctx context.Context, ownerID string) (*models.EmergencyAccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.byID {
		if req.OwnerID == ownerID && !req.IsTerminal() {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeRequestStore) TransitionStatus(ctx context.Context, requestID string, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byID[requestID]
	if !ok {
		return false, fmt.Errorf("access request not found: request_id=%s", requestID)
	}

	matched := false
	for _, from := range fromStatuses {
		if req.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	req.Status = toStatus
	for field, value := range updates {
		switch field {
		case "time_locked_until":
			if ts, ok := value.(time.Time); ok {
				req.TimeLockedUntil = &ts
			}
		case "verification_complete":
			req.VerificationComplete, _ = value.(bool)
		case "resolved_resources":
			req.ResolvedResources, _ = value.(string)
		case "activated_at":
			if ts, ok := value.(time.Time); ok {
				req.ActivatedAt = &ts
			}
		case "resolved_at":
			if ts, ok := value.(time.Time); ok {
				req.ResolvedAt = &ts
			}
		case "resolution_reason":
			if reason, ok := value.(string); ok {
				req.ResolutionReason = &reason
			}
		case "metadata":
			req.Metadata, _ = value.(string)
		default:
			return false, fmt.Errorf("field '%s' is not allowed to update on transition", field)
		}
	}
	req.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeRequestStore) UpdateMetadata(ctx context.Context, requestID string, metadata string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byID[requestID]
	if !ok {
		return fmt.Errorf("access request not found: request_id=%s", requestID)
	}
	req.Metadata = metadata
	return nil
}

type fakeProtocolStore struct {
	mu       sync.Mutex
	byOwner  map[string]*models.EmergencyProtocol
	activity map[string]time.Time
}

func newFakeProtocolStore() *fakeProtocolStore {
	return &fakeProtocolStore{
		byOwner:  make(map[string]*models.EmergencyProtocol),
		activity: make(map[string]time.Time),
	}
}

func (s *fakeProtocolStore) GetProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byOwner[ownerID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakeProtocolStore) GetProtocolByID(ctx context.Context, protocolID string) (*models.EmergencyProtocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byOwner {
		if p.ProtocolID == protocolID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("protocol not found: protocol_id=%s", protocolID)
}

func (s *fakeProtocolStore) ListInactivityProtocols(ctx context.Context) ([]*models.EmergencyProtocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.EmergencyProtocol{}
	for _, p := range s.byOwner {
		condition, err := p.InactivityCondition()
		if err == nil && condition != nil {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeProtocolStore) RecordOwnerActivity(ctx context.Context, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[ownerID] = at
	return nil
}

func (s *fakeProtocolStore) GetOwnerActivity(ctx context.Context, ownerID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.activity[ownerID]
	if !ok {
		return nil, nil
	}
	copied := at
	return &copied, nil
}

type fakeContactStore struct {
	mu      sync.Mutex
	byOwner map[string][]*models.EmergencyContact
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{byOwner: make(map[string][]*models.EmergencyContact)}
}

func (s *fakeContactStore) ListContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.EmergencyContact{}
	for _, c := range s.byOwner[ownerID] {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeContactStore) GetContact(ctx context.Context, ownerID, contactID string) (*models.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byOwner[ownerID] {
		if c.ContactID == contactID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeVerificationStore struct {
	mu      sync.Mutex
	records []*models.EmergencyVerification
}

func newFakeVerificationStore() *fakeVerificationStore {
	return &fakeVerificationStore{}
}

func (s *fakeVerificationStore) CreateVerification(ctx context.Context, v *models.EmergencyVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *v
	s.records = append(s.records, &copied)
	return nil
}

func (s *fakeVerificationStore) GetVerification(ctx context.Context, verificationID string) (*models.EmergencyVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.VerificationID == verificationID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("verification not found: verification_id=%s", verificationID)
}

func (s *fakeVerificationStore) GetLatestVerification(ctx context.Context, requestID, method string) (*models.EmergencyVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.RequestID == requestID && r.Method == method {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeVerificationStore) ListVerifications(ctx context.Context, requestID string) ([]*models.EmergencyVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.EmergencyVerification{}
	for _, r := range s.records {
		if r.RequestID == requestID {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeVerificationStore) IncrementAttempt(ctx context.Context, verificationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.VerificationID == verificationID {
			if r.Status != models.VerificationPending || r.AttemptCount >= r.MaxAttempts {
				return false, nil
			}
			r.AttemptCount++
			return true, nil
		}
	}
	return false, fmt.Errorf("verification not found: verification_id=%s", verificationID)
}

func (s *fakeVerificationStore) MarkStatus(ctx context.Context, verificationID, toStatus string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.VerificationID == verificationID {
			if r.Status != models.VerificationPending {
				return false, nil
			}
			r.Status = toStatus
			if toStatus == models.VerificationVerified {
				now := time.Now()
				r.VerifiedAt = &now
			}
			return true, nil
		}
	}
	return false, fmt.Errorf("verification not found: verification_id=%s", verificationID)
}

// fakeScheduler 记录任务并支持按类型手动触发
type fakeScheduler struct {
	mu       sync.Mutex
	jobs     []*models.ScheduledJob
	handlers map[string]scheduler.Handler
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{handlers: make(map[string]scheduler.Handler)}
}

func (s *fakeScheduler) RegisterHandler(jobKind string, handler scheduler.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobKind] = handler
}

func (s *fakeScheduler) Schedule(ctx context.Context, ownerID, requestID, jobKind string, dueAt time.Time, payload *models.JobPayload) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &models.ScheduledJob{
		JobID:     uuid.New().String(),
		RequestID: requestID,
		OwnerID:   ownerID,
		JobKind:   jobKind,
		DueAt:     dueAt,
		Status:    models.JobPending,
		Payload:   models.EncodeJobPayload(payload),
		CreatedAt: time.Now(),
	}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *fakeScheduler) CancelByRequest(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.RequestID == requestID && j.Status == models.JobPending {
			j.Status = models.JobCancelled
		}
	}
	return nil
}

// fireKind 触发指定类型的全部待触发任务（忽略到期时间，测试直接推进）
func (s *fakeScheduler) fireKind(ctx context.Context, jobKind string) error {
	s.mu.Lock()
	due := []*models.ScheduledJob{}
	for _, j := range s.jobs {
		if j.JobKind == jobKind && j.Status == models.JobPending {
			j.Status = models.JobFired
			copied := *j
			due = append(due, &copied)
		}
	}
	handler := s.handlers[jobKind]
	s.mu.Unlock()

	for _, j := range due {
		if err := handler(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// fireStep 触发指定步骤的通知任务
func (s *fakeScheduler) fireStep(ctx context.Context, stepIndex int) error {
	s.mu.Lock()
	due := []*models.ScheduledJob{}
	for _, j := range s.jobs {
		if j.JobKind != models.JobNotificationStep || j.Status != models.JobPending {
			continue
		}
		payload, err := j.DecodePayload()
		if err != nil || payload.StepIndex != stepIndex {
			continue
		}
		j.Status = models.JobFired
		copied := *j
		due = append(due, &copied)
	}
	handler := s.handlers[models.JobNotificationStep]
	s.mu.Unlock()

	for _, j := range due {
		if err := handler(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeScheduler) pendingKinds(requestID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := []string{}
	for _, j := range s.jobs {
		if j.RequestID == requestID && j.Status == models.JobPending {
			kinds = append(kinds, j.JobKind)
		}
	}
	return kinds
}

// fakeResolver 固定返回资源集合
type fakeResolver struct {
	resources []string
	err       error
}

func (r *fakeResolver) Resolve(ctx context.Context, ownerID, accessLevel string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.resources, nil
}
