package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// workflowLocker serializes mutations per workflow id. Entries are
// reference counted and dropped once nobody holds or waits for them.
type workflowLocker struct {
	mu    sync.Mutex
	locks map[string]*workflowLock
}

type workflowLock struct {
	sem  chan struct{}
	refs int
}

func newWorkflowLocker() *workflowLocker {
	return &workflowLocker{locks: make(map[string]*workflowLock)}
}

// lock blocks until the workflow lock is held or ctx is done.
// The returned unlock must be called exactly once.
func (l *workflowLocker) lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	wl, ok := l.locks[id]
	if !ok {
		wl = &workflowLock{sem: make(chan struct{}, 1)}
		l.locks[id] = wl
	}
	wl.refs++
	l.mu.Unlock()

	select {
	case wl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-wl.sem
				l.release(id, wl)
			})
		}, nil
	case <-ctx.Done():
		l.release(id, wl)
		return nil, fmt.Errorf("workflow lock %s: %w", id, ctx.Err())
	}
}

func (l *workflowLocker) release(id string, wl *workflowLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wl.refs--
	if wl.refs == 0 {
		delete(l.locks, id)
	}
}

// active returns the number of workflows with held or pending locks.
func (l *workflowLocker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
