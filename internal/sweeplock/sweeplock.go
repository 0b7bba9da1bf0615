// Package sweeplock keeps a named job from running twice at once.
package sweeplock

import (
	"context"
	"sync"
)

// Guard hands out at most one holder per key. ok is false when the key is
// already held; err is set only when the guard itself could not be asked.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Local guards keys within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently held.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
