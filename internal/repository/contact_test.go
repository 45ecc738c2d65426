package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"lifevault-emergency/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func contactRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"contact_id", "owner_id", "name", "channels", "relationship", "priority",
		"can_request_access", "max_access_level", "allowed_methods",
		"created_at", "updated_at",
	})
}

func TestGetContact_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewContactRepository(db, zap.NewNop())

	now := time.Now()
	rows := contactRows().AddRow(
		"contact-1", "owner-1", "Ada", []byte(`{"webhook":"https://example.com/hook"}`), "daughter", 1,
		true, models.LevelStandard, []byte(`["email_code"]`),
		now, now,
	)

	mock.ExpectQuery(`FROM emergency_contacts`).
		WithArgs("contact-1", "owner-1").
		WillReturnRows(rows)

	contact, err := repo.GetContact(context.Background(), "owner-1", "contact-1")

	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Ada", contact.Name)
	assert.True(t, contact.CanRequestAccess)
	assert.True(t, contact.AllowsMethod(models.MethodEmailCode))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContact_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewContactRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM emergency_contacts`).
		WithArgs("contact-x", "owner-1").
		WillReturnError(sql.ErrNoRows)

	contact, err := repo.GetContact(context.Background(), "owner-1", "contact-x")

	// 不存在不是错误，返回 nil 由调用方判定授权
	require.NoError(t, err)
	assert.Nil(t, contact)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListContacts_OrderedByPriority(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewContactRepository(db, zap.NewNop())

	now := time.Now()
	rows := contactRows().
		AddRow("contact-1", "owner-1", "Ada", []byte(`{}`), "daughter", 1,
			true, models.LevelStandard, []byte(`[]`), now, now).
		AddRow("contact-2", "owner-1", "Ben", []byte(`{}`), "friend", 2,
			false, models.LevelBasic, []byte(`[]`), now, now)

	mock.ExpectQuery(`ORDER BY priority ASC`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	contacts, err := repo.ListContacts(context.Background(), "owner-1")

	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "contact-1", contacts[0].ContactID)
	assert.Equal(t, "contact-2", contacts[1].ContactID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
