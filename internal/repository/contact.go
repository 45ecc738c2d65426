package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lifevault-emergency/internal/models"

	"go.uber.org/zap"
)

// ContactRepository 紧急联系人仓库（引擎侧只读）
type ContactRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactRepository 创建联系人仓库
func NewContactRepository(db *sql.DB, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

const contactColumns = `
			contact_id,
			owner_id,
			name,
			channels,
			relationship,
			priority,
			can_request_access,
			max_access_level,
			allowed_methods,
			created_at,
			updated_at`

// scanContact 扫描单行联系人记录
func scanContact(row rowScanner) (*models.EmergencyContact, error) {
	var c models.EmergencyContact
	var channels, allowedMethods []byte

	err := row.Scan(
		&c.ContactID,
		&c.OwnerID,
		&c.Name,
		&channels,
		&c.Relationship,
		&c.Priority,
		&c.CanRequestAccess,
		&c.MaxAccessLevel,
		&allowedMethods,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(channels) > 0 {
		c.Channels = string(channels)
	} else {
		c.Channels = "{}"
	}
	if len(allowedMethods) > 0 {
		c.AllowedMethods = string(allowedMethods)
	} else {
		c.AllowedMethods = "[]"
	}

	return &c, nil
}

// ListContacts 获取所有者的联系人列表
// 排序规则：priority 升序（数字小的先联系），相同 priority 按创建顺序，保证稳定确定
func (r *ContactRepository) ListContacts(ctx context.Context, ownerID string) ([]*models.EmergencyContact, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_contacts
		WHERE owner_id = $1
		ORDER BY priority ASC, created_at ASC, contact_id ASC
	`, contactColumns)

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*models.EmergencyContact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	return contacts, nil
}

// GetContact 获取单个联系人（必须属于指定所有者，不存在时返回 nil）
func (r *ContactRepository) GetContact(ctx context.Context, ownerID, contactID string) (*models.EmergencyContact, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if contactID == "" {
		return nil, fmt.Errorf("contact_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM emergency_contacts
		WHERE contact_id = $1
		  AND owner_id = $2
	`, contactColumns)

	c, err := scanContact(r.db.QueryRowContext(ctx, query, contactID, ownerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return c, nil
}
