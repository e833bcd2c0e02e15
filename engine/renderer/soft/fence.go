package soft

import (
	gomath "math"
	"sync"
	"time"
)

// fence is a closable-channel synchronization point. Signaling closes the
// channel so any number of waiters wake; resetting swaps in a fresh one.
type fence struct {
	mu       sync.Mutex
	done     chan struct{}
	signaled bool
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f
}

func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

// wait blocks until the fence signals or timeoutNs elapses. Timeouts beyond
// the representable duration range wait forever.
func (f *fence) wait(timeoutNs uint64) bool {
	f.mu.Lock()
	ch := f.done
	f.mu.Unlock()

	if timeoutNs >= gomath.MaxInt64 {
		<-ch
		return true
	}

	timer := time.NewTimer(time.Duration(timeoutNs))
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
