package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lifevault-emergency/internal/models"

	"go.uber.org/zap"
)

// VerificationRepository 验证记录仓库
// attempt_count 的递增与终态标记都走条件更新，保证 attempt_count <= max_attempts 不变量
type VerificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVerificationRepository 创建验证记录仓库
func NewVerificationRepository(db *sql.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger,
	}
}

const verificationColumns = `
			verification_id,
			request_id,
			verifier_id,
			method,
			status,
			attempt_count,
			max_attempts,
			expires_at,
			payload,
			created_at,
			verified_at`

// scanVerification 扫描单行验证记录
func scanVerification(row rowScanner) (*models.EmergencyVerification, error) {
	var v models.EmergencyVerification
	var verifiedAt sql.NullTime
	var payload []byte

	err := row.Scan(
		&v.VerificationID,
		&v.RequestID,
		&v.VerifierID,
		&v.Method,
		&v.Status,
		&v.AttemptCount,
		&v.MaxAttempts,
		&v.ExpiresAt,
		&payload,
		&v.CreatedAt,
		&verifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.Time
	}
	if len(payload) > 0 {
		v.Payload = string(payload)
	} else {
		v.Payload = "{}"
	}

	return &v, nil
}

// CreateVerification 创建验证记录
func (r *VerificationRepository) CreateVerification(ctx context.Context, v *models.EmergencyVerification) error {
	if v == nil {
		return fmt.Errorf("verification is required")
	}
	if v.VerificationID == "" {
		return fmt.Errorf("verification_id is required")
	}
	if v.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if v.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}

	query := `
		INSERT INTO emergency_verifications (
			verification_id,
			request_id,
			verifier_id,
			method,
			status,
			attempt_count,
			max_attempts,
			expires_at,
			payload,
			created_at,
			verified_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		v.VerificationID,
		v.RequestID,
		v.VerifierID,
		v.Method,
		v.Status,
		v.AttemptCount,
		v.MaxAttempts,
		v.ExpiresAt,
		v.Payload,
		v.CreatedAt,
		v.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}

	return nil
}

// GetVerification 根据 verification_id 获取验证记录
func (r *VerificationRepository) GetVerification(ctx context.Context, verificationID string) (*models.EmergencyVerification, error) {
	if verificationID == "" {
		return nil, fmt.Errorf("verification_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_verifications
		WHERE verification_id = $1
	`, verificationColumns)

	v, err := scanVerification(r.db.QueryRowContext(ctx, query, verificationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("verification not found: verification_id=%s", verificationID)
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	return v, nil
}

// GetLatestVerification 获取请求在某方法下最近的验证记录（没有则返回 nil）
func (r *VerificationRepository) GetLatestVerification(ctx context.Context, requestID, method string) (*models.EmergencyVerification, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_verifications
		WHERE request_id = $1
		  AND method = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, verificationColumns)

	v, err := scanVerification(r.db.QueryRowContext(ctx, query, requestID, method))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest verification: %w", err)
	}

	return v, nil
}

// ListVerifications 获取请求的全部验证记录（创建顺序）
func (r *VerificationRepository) ListVerifications(ctx context.Context, requestID string) ([]*models.EmergencyVerification, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_verifications
		WHERE request_id = $1
		ORDER BY created_at ASC
	`, verificationColumns)

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	verifications := []*models.EmergencyVerification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		verifications = append(verifications, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verifications: %w", err)
	}

	return verifications, nil
}

// IncrementAttempt 递增尝试次数（条件更新）
// 仅当记录仍为 pending 且 attempt_count < max_attempts 时生效；返回是否生效
func (r *VerificationRepository) IncrementAttempt(ctx context.Context, verificationID string) (bool, error) {
	if verificationID == "" {
		return false, fmt.Errorf("verification_id is required")
	}

	query := `
		UPDATE emergency_verifications
		SET attempt_count = attempt_count + 1
		WHERE verification_id = $1
		  AND status = $2
		  AND attempt_count < max_attempts
	`

	result, err := r.db.ExecContext(ctx, query, verificationID, models.VerificationPending)
	if err != nil {
		return false, fmt.Errorf("failed to increment attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkStatus 标记验证记录状态（条件更新：仅 pending 可进入终态）
func (r *VerificationRepository) MarkStatus(ctx context.Context, verificationID, toStatus string) (bool, error) {
	if verificationID == "" {
		return false, fmt.Errorf("verification_id is required")
	}
	if toStatus == "" {
		return false, fmt.Errorf("to status is required")
	}

	var query string
	if toStatus == models.VerificationVerified {
		query = `
			UPDATE emergency_verifications
			SET status = $2,
			    verified_at = CURRENT_TIMESTAMP
			WHERE verification_id = $1
			  AND status = $3
		`
	} else {
		query = `
			UPDATE emergency_verifications
			SET status = $2
			WHERE verification_id = $1
			  AND status = $3
		`
	}

	result, err := r.db.ExecContext(ctx, query, verificationID, toStatus, models.VerificationPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark verification status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
