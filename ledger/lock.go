package ledger

import (
	"context"
	"sync"
)

// Locker serializes mutations of one customer's account.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CustomerLockKey is the lock key for a customer account.
func CustomerLockKey(id CustomerID) string {
	return "customer:" + string(id)
}

// KeyedMutex is an in-process Locker with one slot per key. Idle keys are
// dropped so the map does not grow with the customer base.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}
