package engine

import (
	"context"
	"fmt"

	"lifevault-emergency/internal/models"
)

// validTransitions 请求状态机合法转换表
// 终态（resolved/denied/expired）没有出边
var validTransitions = map[string][]string{
	models.StatusPending: {
		models.StatusTimeLocked,
		models.StatusVerificationRequired,
		models.StatusActive,
		models.StatusResolved,
		models.StatusExpired,
	},
	models.StatusTimeLocked: {
		models.StatusVerificationRequired,
		models.StatusActive,
		models.StatusResolved,
		models.StatusExpired,
	},
	models.StatusVerificationRequired: {
		models.StatusActive,
		models.StatusDenied,
		models.StatusResolved,
		models.StatusExpired,
	},
	models.StatusActive: {
		models.StatusResolved,
	},
}

// canTransition 判断状态转换是否合法
func canTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition 执行条件状态转换
// 所有写路径都从这里走转换表；仓库的条件更新只负责并发下的幂等
func (e *Engine) transition(ctx context.Context, requestID string, fromStatuses []string, toStatus string, updates map[string]interface{}) (bool, error) {
	for _, from := range fromStatuses {
		if !canTransition(from, toStatus) {
			return false, fmt.Errorf("illegal transition: %s -> %s", from, toStatus)
		}
	}
	return e.requests.TransitionStatus(ctx, requestID, fromStatuses, toStatus, updates)
}

// computeDelayHours 计算生效的时间锁延迟（小时）
// 加急且该级别允许加急时延迟减半（向下取整）
func computeDelayHours(entry models.DelayEntry, expedite bool) int {
	delay := entry.DelayHours
	if delay < 0 {
		delay = 0
	}
	if expedite && entry.Expeditable {
		delay = delay / 2
	}
	return delay
}
