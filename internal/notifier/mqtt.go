package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lifevault-emergency/common/mqtt"
	"lifevault-emergency/internal/models"

	"go.uber.org/zap"
)

// MQTTNotifier MQTT 通知渠道
// 向每个联系人的主题发布渲染后的消息；下游送达（App推送/网关转发）由订阅方负责
type MQTTNotifier struct {
	client    *mqtt.Client
	topicBase string
	qos       byte
	logger    *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知渠道
func NewMQTTNotifier(client *mqtt.Client, topicBase string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client:    client,
		topicBase: topicBase,
		qos:       qos,
		logger:    logger,
	}
}

// mqttMessage MQTT 通知负载
type mqttMessage struct {
	ContactID string `json:"contact_id"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	SentAt    int64  `json:"sent_at"`
}

// Send 发布通知消息
func (n *MQTTNotifier) Send(ctx context.Context, contact *models.EmergencyContact, channel string, message string) (Delivery, error) {
	if contact == nil {
		return Delivery{Success: false, Detail: "contact is required"}, fmt.Errorf("contact is required")
	}

	payload, err := json.Marshal(mqttMessage{
		ContactID: contact.ContactID,
		Channel:   channel,
		Message:   message,
		SentAt:    time.Now().Unix(),
	})
	if err != nil {
		return Delivery{Success: false, Detail: err.Error()}, fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := n.topicBase + contact.ContactID

	if err := n.client.Publish(topic, n.qos, false, payload); err != nil {
		n.logger.Warn("MQTT notification failed",
			zap.String("contact_id", contact.ContactID),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return Delivery{Success: false, Detail: err.Error()}, nil
	}

	return Delivery{Success: true, Detail: "published to " + topic}, nil
}
