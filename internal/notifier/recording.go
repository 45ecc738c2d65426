package notifier

import (
	"context"
	"sync"

	"lifevault-emergency/internal/models"
)

// RecordedMessage 录制的通知
type RecordedMessage struct {
	ContactID string
	Channel   string
	Message   string
}

// RecordingNotifier 只录制不投递的通知渠道（测试与协议演练使用）
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []RecordedMessage

	// FailNext 为 true 时下一次投递返回失败（测试传输失败路径）
	FailNext bool
}

// NewRecordingNotifier 创建录制通知渠道
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Send 录制一条通知
func (n *RecordingNotifier) Send(ctx context.Context, contact *models.EmergencyContact, channel string, message string) (Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, RecordedMessage{
		ContactID: contact.ContactID,
		Channel:   channel,
		Message:   message,
	})

	if n.FailNext {
		n.FailNext = false
		return Delivery{Success: false, Detail: "simulated transport failure"}, nil
	}

	return Delivery{Success: true, Detail: "recorded"}, nil
}

// Messages 返回录制的全部通知
func (n *RecordingNotifier) Messages() []RecordedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]RecordedMessage, len(n.messages))
	copy(out, n.messages)
	return out
}
