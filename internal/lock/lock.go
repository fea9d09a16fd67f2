// Package lock provides per-key mutual exclusion for recalculations, either
// inside one process or shared across replicas through Redis.
package lock

import (
	"context"
	"sync"
)

// Locker acquires a key without waiting. When ok is false the key is held
// elsewhere and release is nil.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

func (l *KeyedLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
