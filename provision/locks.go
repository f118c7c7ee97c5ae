package provision

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedLocks hands out one binary semaphore per exclusive resource key.
type keyedLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{sems: make(map[string]*semaphore.Weighted)}
}

func (l *keyedLocks) get(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	return sem
}

// acquire takes every key in the given order; keys must be sorted so that two callers never wait
// on each other. On error nothing is held. The returned func releases all keys.
func (l *keyedLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	held := make([]*semaphore.Weighted, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, key := range keys {
		sem := l.get(key)
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("waiting for exclusive resource %s: %w", key, err)
		}
		held = append(held, sem)
	}
	return release, nil
}
