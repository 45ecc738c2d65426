package notifier

import (
	"context"
	"fmt"
	"time"

	"lifevault-emergency/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier Webhook 通知渠道
// 将渲染后的消息 POST 到联系人 channels 中登记的 webhook 地址
type WebhookNotifier struct {
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知渠道
func NewWebhookNotifier(logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(0) // 重试由调用方/调度器负责，投递本身不自动重试

	return &WebhookNotifier{
		client: client,
		logger: logger,
	}
}

// webhookPayload Webhook 通知负载
type webhookPayload struct {
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name"`
	Message     string `json:"message"`
	SentAt      int64  `json:"sent_at"`
}

// Send 投递通知
func (n *WebhookNotifier) Send(ctx context.Context, contact *models.EmergencyContact, channel string, message string) (Delivery, error) {
	if contact == nil {
		return Delivery{Success: false, Detail: "contact is required"}, fmt.Errorf("contact is required")
	}

	channels, err := contact.DecodeChannels()
	if err != nil {
		return Delivery{Success: false, Detail: "invalid contact channels"}, nil
	}

	endpoint, ok := channels["webhook"]
	if !ok || endpoint == "" {
		return Delivery{Success: false, Detail: "contact has no webhook endpoint"}, nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{
			ContactID:   contact.ContactID,
			ContactName: contact.Name,
			Message:     message,
			SentAt:      time.Now().Unix(),
		}).
		Post(endpoint)
	if err != nil {
		n.logger.Warn("Webhook notification failed",
			zap.String("contact_id", contact.ContactID),
			zap.Error(err),
		)
		return Delivery{Success: false, Detail: err.Error()}, nil
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return Delivery{
			Success: false,
			Detail:  fmt.Sprintf("webhook returned status %d", resp.StatusCode()),
		}, nil
	}

	return Delivery{Success: true, Detail: fmt.Sprintf("webhook accepted (status %d)", resp.StatusCode())}, nil
}
