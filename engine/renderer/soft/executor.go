package soft

import (
	"sync"

	"github.com/spaghettifunk/halcyon/engine/containers"
	"github.com/spaghettifunk/halcyon/engine/core"
)

// workItem is one queued unit: a slot execution, a bare fence signal, or
// both. Items execute strictly in submission order, which is what makes a
// submitted fence a queue-ordered signal point.
type workItem struct {
	run   func()
	fence *fence
}

// executor is the device's single consumer goroutine. Submissions block
// while the ring is full; that is the only backpressure below the command
// buffer's own fence wait.
type executor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    *containers.RingQueue[workItem]
	inFlight int
	closed   bool
	finished chan struct{}

	// hook runs before each slot execution. Tests use it to stall the
	// queue and observe rotation backpressure.
	hook func()
}

func newExecutor(depth int) *executor {
	e := &executor{
		queue:    containers.NewRingQueue[workItem](depth),
		finished: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

func (e *executor) submit(item workItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.queue.IsFull() && !e.closed {
		e.cond.Wait()
	}
	if e.closed {
		return core.Errorf("soft device: submit after shutdown")
	}
	if err := e.queue.Enqueue(item); err != nil {
		return core.Errorf("soft device: submission queue rejected work: %w", err)
	}
	e.inFlight++
	e.cond.Broadcast()
	return nil
}

func (e *executor) run() {
	for {
		e.mu.Lock()
		for e.queue.IsEmpty() && !e.closed {
			e.cond.Wait()
		}
		if e.queue.IsEmpty() && e.closed {
			e.mu.Unlock()
			close(e.finished)
			return
		}
		item, _ := e.queue.Dequeue()
		hook := e.hook
		e.mu.Unlock()

		// Execute outside the lock so submissions keep flowing, and so a
		// stalled hook only stalls the queue, not the submitters' enqueue
		// path until the ring fills up.
		if item.run != nil {
			if hook != nil {
				hook()
			}
			item.run()
		}
		if item.fence != nil {
			item.fence.signal()
		}

		e.mu.Lock()
		e.inFlight--
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

// waitIdle blocks until everything submitted so far has executed.
func (e *executor) waitIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.inFlight > 0 {
		e.cond.Wait()
	}
}

func (e *executor) setHook(h func()) {
	e.mu.Lock()
	e.hook = h
	e.mu.Unlock()
}

// close drains outstanding work and stops the goroutine.
func (e *executor) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.finished
}
