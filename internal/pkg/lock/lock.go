// Package lock provides per-bankroll locking for concurrent wagering
// operations. The database transaction is the correctness boundary; this lock
// keeps a user's concurrent placements from ever racing to the row lock.
package lock

import (
	"sync"
)

// keyMutex wraps a mutex stored per bankroll key.
type keyMutex struct {
	mu sync.Mutex
}

// BankrollLock provides per-key locking so that two placements against the
// same bankroll serialize in-process before hitting the database.
type BankrollLock struct {
	locks sync.Map // map[string]*keyMutex
}

// NewBankrollLock creates a new BankrollLock instance.
func NewBankrollLock() *BankrollLock {
	return &BankrollLock{}
}

// getLock retrieves or creates a mutex for the given bankroll key.
func (bl *BankrollLock) getLock(key string) *keyMutex {
	if v, ok := bl.locks.Load(key); ok {
		return v.(*keyMutex)
	}
	actual, _ := bl.locks.LoadOrStore(key, &keyMutex{})
	return actual.(*keyMutex)
}

// Lock acquires the lock for a bankroll key.
func (bl *BankrollLock) Lock(key string) {
	bl.getLock(key).mu.Lock()
}

// Unlock releases the lock for a bankroll key.
func (bl *BankrollLock) Unlock(key string) {
	if v, ok := bl.locks.Load(key); ok {
		v.(*keyMutex).mu.Unlock()
	}
}

// WithLock executes fn while holding the bankroll key's lock.
func (bl *BankrollLock) WithLock(key string, fn func() error) error {
	bl.Lock(key)
	defer bl.Unlock(key)
	return fn()
}
