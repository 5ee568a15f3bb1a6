package rhi

import "sync"

type LockGroup string

const (
	ResourceManagement LockGroup = "resource_management"
	QueueManagement    LockGroup = "queue_management"
	PipelineManagement LockGroup = "pipeline_management"
)

// LockPool hands out one mutex per group. The render thread owns the
// descriptor table and destruction queue; the pool serialises the few entry
// points (wrapper Release) that may be reached from other goroutines.
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex

	queueMutexes map[uint32]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, ok := lp.locks[group]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

func (lp *LockPool) queueLock(family uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	l, ok := lp.queueMutexes[family]
	if !ok {
		l = &sync.Mutex{}
		lp.queueMutexes[family] = l
	}
	return l
}

// SafeQueueCall serialises access to one queue family.
func (lp *LockPool) SafeQueueCall(family uint32, fn func() error) error {
	l := lp.queueLock(family)
	l.Lock()
	defer l.Unlock()

	return fn()
}
