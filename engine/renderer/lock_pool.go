package renderer

import "sync"

type LockGroup string

const (
	StateManagement    LockGroup = "state_management"
	ResourceManagement LockGroup = "resource_management"
	PipelineManagement LockGroup = "pipeline_management"
	SubmitManagement   LockGroup = "submit_management"
)

// Mutex pool
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the locks map
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

// Get or create the mutex of a group
func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	l, exists := lp.locks[group]
	if !exists {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	lp.mu.Unlock()

	l.Lock()
	return l
}

// SafeCall runs fn while holding the group lock. Calls for different groups
// run concurrently; fn must not take the lock of its own group again.
func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	defer l.Unlock()

	return fn()
}
