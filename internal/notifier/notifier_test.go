package notifier

import (
	"context"
	"testing"

	"lifevault-emergency/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMessage(t *testing.T) {
	message := RenderMessage(
		"Emergency access to {{owner_id}} requested at level {{access_level}}",
		map[string]string{
			"owner_id":     "owner-1",
			"access_level": "standard",
		},
	)

	assert.Equal(t, "Emergency access to owner-1 requested at level standard", message)
}

func TestRenderMessage_UnknownPlaceholderKept(t *testing.T) {
	message := RenderMessage("Hello {{contact_name}}", map[string]string{"owner_id": "owner-1"})

	// 未提供的占位符原样保留，方便排查模板配置错误
	assert.Equal(t, "Hello {{contact_name}}", message)
}

func TestRouter_DispatchByChannel(t *testing.T) {
	router := NewRouter()
	recorder := NewRecordingNotifier()
	router.Register("mqtt", recorder)

	contact := &models.EmergencyContact{ContactID: "contact-1", Name: "Ada"}

	delivery, err := router.Send(context.Background(), contact, "mqtt", "hello")
	require.NoError(t, err)
	assert.True(t, delivery.Success)

	messages := recorder.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "contact-1", messages[0].ContactID)
	assert.Equal(t, "hello", messages[0].Message)
}

func TestRouter_UnknownChannel(t *testing.T) {
	router := NewRouter()

	contact := &models.EmergencyContact{ContactID: "contact-1"}

	// 未注册渠道按投递失败处理，不报错（失败只计入 metadata）
	delivery, err := router.Send(context.Background(), contact, "pigeon", "hello")
	require.NoError(t, err)
	assert.False(t, delivery.Success)
	assert.Contains(t, delivery.Detail, "no notifier for channel")
}

func TestRecordingNotifier_FailNext(t *testing.T) {
	recorder := NewRecordingNotifier()
	recorder.FailNext = true

	contact := &models.EmergencyContact{ContactID: "contact-1"}

	delivery, err := recorder.Send(context.Background(), contact, "mqtt", "first")
	require.NoError(t, err)
	assert.False(t, delivery.Success)

	delivery, err = recorder.Send(context.Background(), contact, "mqtt", "second")
	require.NoError(t, err)
	assert.True(t, delivery.Success)
}
