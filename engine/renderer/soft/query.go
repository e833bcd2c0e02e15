package soft

import (
	"sync"
	"time"

	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// queryPool is the backing store of one metadata.QueryPool. The executor
// goroutine writes during execution and callers poll results concurrently,
// so every access locks.
type queryPool struct {
	typ metadata.QueryType

	mu      sync.Mutex
	queries []query
}

type query struct {
	value   uint64
	counts  [metadata.PipelineStatCounters]uint64
	active  bool
	precise bool
	ready   bool
	started time.Time
}

func newQueryPool(typ metadata.QueryType, count uint32) *queryPool {
	return &queryPool{typ: typ, queries: make([]query, count)}
}

func (qp *queryPool) valid(index uint32) bool {
	return index < uint32(len(qp.queries))
}

// begin rearms the query. A previous result is discarded, matching native
// query objects that reset on begin.
func (qp *queryPool) begin(index uint32, precise bool) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	qp.queries[index] = query{active: true, precise: precise, started: time.Now()}
}

// end finalizes the result and flips it ready. Conservative occlusion
// queries collapse their count to a zero-or-one answer.
func (qp *queryPool) end(index uint32) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	q := &qp.queries[index]
	switch qp.typ {
	case metadata.QueryTypeTimeElapsed:
		q.value = uint64(time.Since(q.started).Nanoseconds())
	case metadata.QueryTypeSamplesPassed, metadata.QueryTypeAnySamplesPassed:
		if !q.precise && q.value > 0 {
			q.value = 1
		}
	}
	q.active = false
	q.ready = true
}

func (qp *queryPool) addSamples(index uint32, samples uint64) {
	qp.mu.Lock()
	qp.queries[index].value += samples
	qp.mu.Unlock()
}

func (qp *queryPool) addCounts(index uint32, counts *[metadata.PipelineStatCounters]uint64) {
	qp.mu.Lock()
	for i, c := range counts {
		qp.queries[index].counts[i] += c
	}
	qp.mu.Unlock()
}

func (qp *queryPool) result(index uint32) (uint64, bool, error) {
	if !qp.valid(index) {
		return 0, false, core.Errorf("soft device: query index %d out of range (%d allocated)", index, len(qp.queries))
	}
	qp.mu.Lock()
	defer qp.mu.Unlock()
	q := qp.queries[index]
	if !q.ready {
		return 0, false, nil
	}
	return q.value, true, nil
}

func (qp *queryPool) statistics(index uint32) ([]uint64, bool, error) {
	if !qp.valid(index) {
		return nil, false, core.Errorf("soft device: query index %d out of range (%d allocated)", index, len(qp.queries))
	}
	qp.mu.Lock()
	defer qp.mu.Unlock()
	q := qp.queries[index]
	if !q.ready {
		return nil, false, nil
	}
	out := make([]uint64, metadata.PipelineStatCounters)
	copy(out, q.counts[:])
	return out, true, nil
}

// Raw counter indices, in the order the native counter vector is reported.
const (
	counterVerticesSubmitted = iota
	counterPrimitivesSubmitted
	counterVertexInvocations
	counterGeometryInvocations
	counterGeometryPrimitives
	counterClippingInput
	counterClippingOutput
	counterFragmentInvocations
	counterTessControlInvocations
	counterTessEvaluationInvocations
	counterComputeInvocations
)
