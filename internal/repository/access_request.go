package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lifevault-emergency/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrDuplicateActiveRequest 唯一索引拒绝了第二个非终态请求
// （uniq_requests_owner_nonterminal：跨进程并发触发的最终防线）
var ErrDuplicateActiveRequest = errors.New("owner already has a non-terminal access request")

// AccessRequestRepository 紧急访问请求仓库
// 状态转换一律使用条件更新（WHERE status IN ...），保证重复投递下的幂等
type AccessRequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAccessRequestRepository 创建访问请求仓库
func NewAccessRequestRepository(db *sql.DB, logger *zap.Logger) *AccessRequestRepository {
	return &AccessRequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
			request_id,
			owner_id,
			triggered_by,
			trigger_type,
			status,
			requested_access_level,
			resolved_resources,
			time_locked_until,
			verification_required,
			verification_complete,
			metadata,
			created_at,
			activated_at,
			resolved_at,
			resolution_reason,
			updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRequest 扫描单行请求记录（处理可空字段与 JSONB 默认值）
func scanRequest(row rowScanner) (*models.EmergencyAccessRequest, error) {
	var req models.EmergencyAccessRequest
	var timeLockedUntil, activatedAt, resolvedAt sql.NullTime
	var resolutionReason sql.NullString
	var resolvedResources, metadata []byte

	err := row.Scan(
		&req.RequestID,
		&req.OwnerID,
		&req.TriggeredBy,
		&req.TriggerType,
		&req.Status,
		&req.RequestedAccessLevel,
		&resolvedResources,
		&timeLockedUntil,
		&req.VerificationRequired,
		&req.VerificationComplete,
		&metadata,
		&req.CreatedAt,
		&activatedAt,
		&resolvedAt,
		&resolutionReason,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if timeLockedUntil.Valid {
		req.TimeLockedUntil = &timeLockedUntil.Time
	}
	if activatedAt.Valid {
		req.ActivatedAt = &activatedAt.Time
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	if resolutionReason.Valid {
		req.ResolutionReason = &resolutionReason.String
	}

	if len(resolvedResources) > 0 {
		req.ResolvedResources = string(resolvedResources)
	} else {
		req.ResolvedResources = "[]"
	}
	if len(metadata) > 0 {
		req.Metadata = string(metadata)
	} else {
		req.Metadata = "{}"
	}

	return &req, nil
}

// CreateRequest 创建访问请求
func (r *AccessRequestRepository) CreateRequest(ctx context.Context, req *models.EmergencyAccessRequest) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if req.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	query := `
		INSERT INTO emergency_access_requests (
			request_id,
			owner_id,
			triggered_by,
			trigger_type,
			status,
			requested_access_level,
			resolved_resources,
			time_locked_until,
			verification_required,
			verification_complete,
			metadata,
			created_at,
			activated_at,
			resolved_at,
			resolution_reason,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		req.RequestID,
		req.OwnerID,
		req.TriggeredBy,
		req.TriggerType,
		req.Status,
		req.RequestedAccessLevel,
		req.ResolvedResources,
		req.TimeLockedUntil,
		req.VerificationRequired,
		req.VerificationComplete,
		req.Metadata,
		req.CreatedAt,
		req.ActivatedAt,
		req.ResolvedAt,
		req.ResolutionReason,
		req.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: owner_id=%s", ErrDuplicateActiveRequest, req.OwnerID)
		}
		return fmt.Errorf("failed to create access request: %w", err)
	}

	return nil
}

// GetRequest 根据 request_id 获取访问请求
func (r *AccessRequestRepository) GetRequest(ctx context.Context, requestID string) (*models.EmergencyAccessRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_access_requests
		WHERE request_id = $1
	`, requestColumns)

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("access request not found: request_id=%s", requestID)
		}
		return nil, fmt.Errorf("failed to get access request: %w", err)
	}

	return req, nil
}

// GetActiveRequest 获取所有者当前的非终态请求（没有则返回 nil）
func (r *AccessRequestRepository) GetActiveRequest(ctx context.Context, ownerID string) (*models.EmergencyAccessRequest, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	statuses := models.NonTerminalStatuses()
	placeholders := make([]string, len(statuses))
	args := []interface{}{ownerID}
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_access_requests
		WHERE owner_id = $1
		  AND status IN (%s)
		ORDER BY created_at DESC
		LIMIT 1
	`, requestColumns, strings.Join(placeholders, ", "))

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 没有活动请求
		}
		return nil, fmt.Errorf("failed to get active request: %w", err)
	}

	return req, nil
}

// TransitionStatus 条件状态转换（from 状态集合 -> to 状态，可附带字段更新）
// 返回是否实际发生了转换；重复触发同一转换会返回 false 而非错误
func (r *AccessRequestRepository) TransitionStatus(
	ctx context.Context,
	requestID string,
	fromStatuses []string,
	toStatus string,
	updates map[string]interface{},
) (bool, error) {
	if requestID == "" {
		return false, fmt.Errorf("request_id is required")
	}
	if len(fromStatuses) == 0 {
		return false, fmt.Errorf("from statuses are required")
	}
	if toStatus == "" {
		return false, fmt.Errorf("to status is required")
	}

	// 允许随转换一并更新的字段
	allowedFields := map[string]bool{
		"time_locked_until":     true,
		"verification_complete": true,
		"resolved_resources":    true,
		"activated_at":          true,
		"resolved_at":           true,
		"resolution_reason":     true,
		"metadata":              true,
	}

	setParts := []string{"status = $1"}
	args := []interface{}{toStatus}
	argN := 2

	for field, value := range updates {
		if !allowedFields[field] {
			return false, fmt.Errorf("field '%s' is not allowed to update on transition", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}
	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	placeholders := make([]string, len(fromStatuses))
	args = append(args, requestID)
	requestArg := argN
	argN++
	for i, s := range fromStatuses {
		placeholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, s)
		argN++
	}

	query := fmt.Sprintf(`
		UPDATE emergency_access_requests
		SET %s
		WHERE request_id = $%d
		  AND status IN (%s)
	`, strings.Join(setParts, ", "), requestArg, strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition request status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// UpdateMetadata 覆盖写 metadata JSONB
// 追加语义由调用方在所有者锁内维护（读取-追加-写回）
func (r *AccessRequestRepository) UpdateMetadata(ctx context.Context, requestID string, metadata string) error {
	if requestID == "" {
		return fmt.Errorf("request_id is required")
	}

	query := `
		UPDATE emergency_access_requests
		SET metadata = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE request_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, metadata, requestID)
	if err != nil {
		return fmt.Errorf("failed to update request metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("access request not found: request_id=%s", requestID)
	}

	return nil
}
