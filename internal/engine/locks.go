package engine

import "sync"

// ownerLocks 按所有者串行化状态变更
// 同一所有者的触发、验证、解除、到期处理互斥执行
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock 获取所有者锁（不存在时创建）
func (o *ownerLocks) Lock(ownerID string) func() {
	o.mu.Lock()
	lock, ok := o.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[ownerID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
