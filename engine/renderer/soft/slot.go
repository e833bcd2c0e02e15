package soft

import (
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// commandSlot is one recording unit. In explicit mode every command becomes
// a closure on the op list and runs when the executor consumes the slot; in
// immediate mode the closure runs on the spot. Closures read and write the
// slot's execState, so recorded parameters resolve against the state as it
// stands at execution, exactly like a replayed native command list.
type commandSlot struct {
	dev   *Device
	name  string
	fence *fence

	ops  []func()
	exec execState
}

// execState is the mutable machine the op closures drive.
type execState struct {
	fb       *framebuffer
	pipeline *metadata.Pipeline

	vertexData []byte
	indexData  []byte
	indexSize  metadata.IndexElementSize

	viewport metadata.Viewport
	scissor  metadata.ScissorRect

	active []activeQuery
}

type activeQuery struct {
	pool  *queryPool
	index uint32
}

func (s *commandSlot) record(op func()) {
	if s.dev.immediate {
		op()
		return
	}
	s.ops = append(s.ops, op)
}

// execute replays the op list against a fresh state. Called by the executor
// goroutine, one slot at a time.
func (s *commandSlot) execute() {
	s.exec = execState{}
	for _, op := range s.ops {
		op()
	}
}

func (s *commandSlot) Begin() error {
	s.dev.counts.slotBegins.Add(1)
	s.ops = s.ops[:0]
	if s.dev.immediate {
		s.exec = execState{}
	}
	return nil
}

func (s *commandSlot) End() error {
	s.dev.counts.slotEnds.Add(1)
	return nil
}

func (s *commandSlot) Fence() device.Fence {
	return s.fence
}

func (s *commandSlot) BeginPass(fb device.Framebuffer, extent metadata.Extent2D) error {
	sfb, ok := fb.(*framebuffer)
	if !ok || sfb == nil {
		return core.Errorf("soft slot %s: framebuffer from another backend", s.name)
	}
	s.dev.counts.passBegins.Add(1)
	s.record(func() {
		s.exec.fb = sfb
		full := metadata.ScissorRect{Width: int32(extent.Width), Height: int32(extent.Height)}
		s.exec.scissor = full
		s.exec.viewport = metadata.Viewport{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MaxDepth: 1,
		}
	})
	return nil
}

func (s *commandSlot) EndPass() error {
	s.dev.counts.passEnds.Add(1)
	s.record(func() {
		s.exec.fb = nil
	})
	return nil
}

func (s *commandSlot) BindPipeline(p *metadata.Pipeline) error {
	s.dev.counts.pipelineBinds.Add(1)
	s.record(func() {
		s.exec.pipeline = p
	})
	return nil
}

// BindVertexBuffers resolves buffer storage at record time; software
// buffers are immutable after creation so the bytes cannot go stale. Only
// input slot zero feeds the rasterizer.
func (s *commandSlot) BindVertexBuffers(first uint32, buffers []*metadata.Buffer) error {
	s.dev.counts.vertexBufferBinds.Add(1)
	if first != 0 || len(buffers) == 0 {
		return nil
	}
	data, err := s.dev.bufferBytes(buffers[0])
	if err != nil {
		return err
	}
	s.record(func() {
		s.exec.vertexData = data
	})
	return nil
}

func (s *commandSlot) BindIndexBuffer(b *metadata.Buffer) error {
	s.dev.counts.indexBufferBinds.Add(1)
	data, err := s.dev.bufferBytes(b)
	if err != nil {
		return err
	}
	size := b.IndexElementSize
	s.record(func() {
		s.exec.indexData = data
		s.exec.indexSize = size
	})
	return nil
}

// BindResourceGroups only counts; the software pipeline has no shader
// resources to plug the groups into.
func (s *commandSlot) BindResourceGroups(heap *metadata.ResourceHeap, firstSet uint32, compute bool) error {
	s.dev.counts.resourceHeapBinds.Add(1)
	return nil
}

func (s *commandSlot) SetViewports(first uint32, viewports []metadata.Viewport) error {
	s.dev.counts.viewportCalls.Add(1)
	if first != 0 || len(viewports) == 0 {
		return nil
	}
	vp := viewports[0]
	s.record(func() {
		s.exec.viewport = vp
	})
	return nil
}

func (s *commandSlot) SetScissors(first uint32, rects []metadata.ScissorRect) error {
	s.dev.counts.scissorCalls.Add(1)
	if first != 0 || len(rects) == 0 {
		return nil
	}
	r := rects[0]
	s.record(func() {
		s.exec.scissor = r
	})
	return nil
}

func (s *commandSlot) ClearAttachments(entries []device.ClearEntry) error {
	s.dev.counts.clearCalls.Add(1)
	s.dev.counts.clearEntries.Add(uint64(len(entries)))
	cleared := make([]device.ClearEntry, len(entries))
	copy(cleared, entries)
	s.record(func() {
		fb := s.exec.fb
		if fb == nil {
			return
		}
		for _, e := range cleared {
			if e.Aspect.IsColour() {
				if surf := fb.colour[int(e.ColourIndex)]; surf != nil {
					surf.clearColour(s.exec.scissor, e.Value.Colour)
				}
				continue
			}
			if fb.depthStencil == nil {
				continue
			}
			if e.Aspect&metadata.ATTACHMENT_TYPE_DEPTH != 0 {
				fb.depthStencil.clearDepth(s.exec.scissor, e.Value.Depth)
			}
			if e.Aspect&metadata.ATTACHMENT_TYPE_STENCIL != 0 {
				fb.depthStencil.clearStencil(s.exec.scissor, e.Value.Stencil)
			}
		}
	})
	return nil
}

func (s *commandSlot) Draw(args device.DrawArgs) error {
	s.dev.counts.draws.Add(1)
	s.record(func() {
		executeDraw(&s.exec, args)
	})
	return nil
}

func (s *commandSlot) Dispatch(x, y, z uint32) error {
	s.dev.counts.dispatches.Add(1)
	s.record(func() {
		var counts [metadata.PipelineStatCounters]uint64
		counts[counterComputeInvocations] = uint64(x) * uint64(y) * uint64(z)
		s.exec.accumulate(0, &counts)
	})
	return nil
}

func (s *commandSlot) BeginQuery(pool *metadata.QueryPool, index uint32, precise bool) error {
	qp, err := s.dev.queryStorage(pool)
	if err != nil {
		return err
	}
	if !qp.valid(index) {
		return core.Errorf("soft slot %s: query index %d out of range on %s", s.name, index, pool.Name)
	}
	s.dev.counts.queryBegins.Add(1)
	s.record(func() {
		qp.begin(index, precise)
		s.exec.active = append(s.exec.active, activeQuery{pool: qp, index: index})
	})
	return nil
}

func (s *commandSlot) EndQuery(pool *metadata.QueryPool, index uint32) error {
	qp, err := s.dev.queryStorage(pool)
	if err != nil {
		return err
	}
	if !qp.valid(index) {
		return core.Errorf("soft slot %s: query index %d out of range on %s", s.name, index, pool.Name)
	}
	s.dev.counts.queryEnds.Add(1)
	s.record(func() {
		qp.end(index)
		for i, aq := range s.exec.active {
			if aq.pool == qp && aq.index == index {
				s.exec.active = append(s.exec.active[:i], s.exec.active[i+1:]...)
				break
			}
		}
	})
	return nil
}

// accumulate feeds a draw or dispatch's sample count and raw counters into
// every query open at this point of execution.
func (st *execState) accumulate(samples uint64, counts *[metadata.PipelineStatCounters]uint64) {
	for _, aq := range st.active {
		switch aq.pool.typ {
		case metadata.QueryTypeSamplesPassed, metadata.QueryTypeAnySamplesPassed:
			aq.pool.addSamples(aq.index, samples)
		case metadata.QueryTypePipelineStatistics:
			aq.pool.addCounts(aq.index, counts)
		}
	}
}
