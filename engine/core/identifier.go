package core

import "sync"

// IDPool hands out dense uint32 identifiers and recycles released ones.
// Backends use one pool per native object table so handles stay small and
// reusable as slice indices.
type IDPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIDPool() *IDPool {
	return &IDPool{}
}

// Acquire reserves the lowest free identifier and records its owner.
func (p *IDPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.owners {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}

	// No free slot, push a new id.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

// Owner returns the value registered for id, or nil for released/unknown ids.
func (p *IDPool) Owner(id uint32) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id >= uint32(len(p.owners)) {
		return nil
	}
	return p.owners[id]
}

// Release frees an identifier for reuse.
func (p *IDPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id >= uint32(len(p.owners)) {
		return Errorf("id pool release: id '%d' out of range (max=%d), nothing was done", id, len(p.owners))
	}
	p.owners[id] = nil
	return nil
}

// InUse reports how many identifiers are currently acquired.
func (p *IDPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := range p.owners {
		if p.owners[i] != nil {
			n++
		}
	}
	return n
}
