// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 实体级锁管理器：文档、项目、补丁集各自按ID串行化写入
type LockManager struct {
	locks      map[string]*lockInfo
	globalLock sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type lockInfo struct {
	mutex    *sync.RWMutex
	lastUsed time.Time
}

// NewLockManager 创建锁管理器并启动闲置锁清理
func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:       make(map[string]*lockInfo),
		stopCleanup: make(chan struct{}),
	}
	lm.startCleanup()
	return lm
}

// GetLock 获取实体锁，不存在则创建
func (lm *LockManager) GetLock(entityID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if info, exists := lm.locks[entityID]; exists {
		lm.globalLock.RUnlock()
		info.lastUsed = time.Now()
		return info.mutex
	}
	lm.globalLock.RUnlock()

	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查，升级写锁期间可能已有人创建
	if info, exists := lm.locks[entityID]; exists {
		info.lastUsed = time.Now()
		return info.mutex
	}

	info := &lockInfo{mutex: &sync.RWMutex{}, lastUsed: time.Now()}
	lm.locks[entityID] = info
	return info.mutex
}

// WithLock 在实体写锁保护下执行操作
func (lm *LockManager) WithLock(entityID string, fn func() error) error {
	lock := lm.GetLock(entityID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// WithReadLock 在实体读锁保护下执行操作
func (lm *LockManager) WithReadLock(entityID string, fn func() error) error {
	lock := lm.GetLock(entityID)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// Stop 停止后台清理协程
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stopCleanup)
	})
}

func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		defer lm.cleanupTicker.Stop()
		for {
			select {
			case <-lm.stopCleanup:
				return
			case <-lm.cleanupTicker.C:
				lm.cleanupIdleLocks()
			}
		}
	}()
}

func (lm *LockManager) cleanupIdleLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const idleTimeout = 30 * time.Minute

	// 锁数量可控时不清理，避免把正被等待的锁从表里摘掉
	if len(lm.locks) <= maxLocks {
		return
	}

	now := time.Now()
	for entityID, info := range lm.locks {
		if now.Sub(info.lastUsed) > idleTimeout {
			delete(lm.locks, entityID)
		}
	}
}
