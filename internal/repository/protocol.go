package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lifevault-emergency/internal/models"

	"go.uber.org/zap"
)

// ProtocolRepository 紧急访问协议仓库（引擎侧只读）
// 同一所有者可能有多条历史协议，引擎总是读取最近更新的一条
type ProtocolRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProtocolRepository 创建协议仓库
func NewProtocolRepository(db *sql.DB, logger *zap.Logger) *ProtocolRepository {
	return &ProtocolRepository{
		db:     db,
		logger: logger,
	}
}

const protocolColumns = `
			protocol_id,
			owner_id,
			trigger_conditions,
			delay_table,
			notification_sequence,
			verification_required,
			auto_activation,
			access_categories,
			deny_on_exhausted_methods,
			method_max_attempts,
			created_at,
			updated_at`

// scanProtocol 扫描单行协议记录
func scanProtocol(row rowScanner) (*models.EmergencyProtocol, error) {
	var p models.EmergencyProtocol
	var triggerConditions, delayTable, notificationSequence, accessCategories, methodMaxAttempts []byte

	err := row.Scan(
		&p.ProtocolID,
		&p.OwnerID,
		&triggerConditions,
		&delayTable,
		&notificationSequence,
		&p.VerificationRequired,
		&p.AutoActivation,
		&accessCategories,
		&p.DenyOnExhaustedMethods,
		&methodMaxAttempts,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerConditions) > 0 {
		p.TriggerConditions = string(triggerConditions)
	} else {
		p.TriggerConditions = "[]"
	}
	if len(delayTable) > 0 {
		p.DelayTable = string(delayTable)
	} else {
		p.DelayTable = "{}"
	}
	if len(notificationSequence) > 0 {
		p.NotificationSequence = string(notificationSequence)
	} else {
		p.NotificationSequence = "[]"
	}
	if len(accessCategories) > 0 {
		p.AccessCategories = string(accessCategories)
	} else {
		p.AccessCategories = "{}"
	}
	if len(methodMaxAttempts) > 0 {
		p.MethodMaxAttempts = string(methodMaxAttempts)
	} else {
		p.MethodMaxAttempts = "{}"
	}

	return &p, nil
}

// GetProtocol 获取所有者当前生效的协议（最近更新优先；没有则返回 nil）
func (r *ProtocolRepository) GetProtocol(ctx context.Context, ownerID string) (*models.EmergencyProtocol, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_protocols
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, protocolColumns)

	p, err := scanProtocol(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 没有配置协议
		}
		return nil, fmt.Errorf("failed to get protocol: %w", err)
	}

	return p, nil
}

// GetProtocolByID 根据 protocol_id 获取协议（testProtocol 等诊断操作使用）
func (r *ProtocolRepository) GetProtocolByID(ctx context.Context, protocolID string) (*models.EmergencyProtocol, error) {
	if protocolID == "" {
		return nil, fmt.Errorf("protocol_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_protocols
		WHERE protocol_id = $1
	`, protocolColumns)

	p, err := scanProtocol(r.db.QueryRowContext(ctx, query, protocolID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("protocol not found: protocol_id=%s", protocolID)
		}
		return nil, fmt.Errorf("failed to get protocol: %w", err)
	}

	return p, nil
}

// ListInactivityProtocols 列出声明了 inactivity 触发条件的生效协议（inactivity 扫描使用）
// 每个所有者只取最近更新的一条
func (r *ProtocolRepository) ListInactivityProtocols(ctx context.Context) ([]*models.EmergencyProtocol, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (owner_id) %s
		FROM emergency_protocols
		WHERE trigger_conditions @> '[{"type": "inactivity"}]'
		ORDER BY owner_id, updated_at DESC
	`, protocolColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactivity protocols: %w", err)
	}
	defer rows.Close()

	protocols := []*models.EmergencyProtocol{}
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan protocol: %w", err)
		}
		protocols = append(protocols, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate protocols: %w", err)
	}

	return protocols, nil
}

// ============================================
// 所有者活跃记录（dead-man-switch 输入）
// ============================================

// RecordOwnerActivity 记录所有者活跃时间（upsert）
func (r *ProtocolRepository) RecordOwnerActivity(ctx context.Context, ownerID string, at time.Time) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	query := `
		INSERT INTO owner_activity (owner_id, last_activity_at)
		VALUES ($1, $2)
		ON CONFLICT (owner_id)
		DO UPDATE SET last_activity_at = EXCLUDED.last_activity_at
	`

	if _, err := r.db.ExecContext(ctx, query, ownerID, at); err != nil {
		return fmt.Errorf("failed to record owner activity: %w", err)
	}

	return nil
}

// GetOwnerActivity 获取所有者最近活跃时间（没有记录返回 nil）
func (r *ProtocolRepository) GetOwnerActivity(ctx context.Context, ownerID string) (*time.Time, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	var at time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_activity_at FROM owner_activity WHERE owner_id = $1`,
		ownerID,
	).Scan(&at)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get owner activity: %w", err)
	}

	return &at, nil
}
