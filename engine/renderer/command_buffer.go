package renderer

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

type CommandBufferState int

const (
	// Ready to begin a new recording.
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	// A slot is open and accepting commands outside a render pass.
	COMMAND_BUFFER_STATE_RECORDING
	// A render pass is active; draws and attachment clears are valid.
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	// The recording is closed and can be submitted.
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	// The recording was handed to a queue.
	COMMAND_BUFFER_STATE_SUBMITTED
)

// CommandBuffer records drawing, compute, binding and render-pass commands
// into native slots. Explicit backends rotate through several slots, each
// guarded by a completion fence; immediate backends use one implicit slot
// and execute commands as they are issued. Recording is single-threaded:
// one goroutine per buffer, one buffer per goroutine.
type CommandBuffer struct {
	ID uuid.UUID

	dev  device.Device
	caps device.Caps

	slots   []device.CommandSlot
	current int
	state   CommandBufferState

	// Dynamic state tracked for the current render pass.
	target                    *RenderTarget
	framebufferExtent         metadata.Extent2D
	scissorEnabled            bool
	scissorRectInvalidated    bool
	numColourAttachments      int
	hasDepthStencilAttachment bool

	graphicsPipeline *metadata.Pipeline
	computePipeline  *metadata.Pipeline

	clearColour  math.Vec4
	clearDepth   float32
	clearStencil uint32

	validate  *atomic.Bool
	debugName string
}

// NewCommandBuffer allocates the native recording slots and primes their
// fences through an empty queue submission, so the first Begin on each slot
// does not block.
func NewCommandBuffer(dev device.Device, cfg *metadata.CommandBufferConfig, validate *atomic.Bool) (*CommandBuffer, error) {
	caps := dev.Caps()

	slots := cfg.Slots
	if slots < 1 {
		slots = 1
	}
	if !caps.RequiresRecording {
		// Immediate backends have exactly one implicit slot.
		slots = 1
	}

	name := cfg.DebugName
	if name == "" {
		name = "commandbuffer"
	}

	nativeSlots, err := dev.CreateCommandSlots(slots, name)
	if err != nil {
		return nil, core.Errorf("failed to allocate %d command slots for %s: %w", slots, name, err)
	}

	cb := &CommandBuffer{
		ID:           uuid.New(),
		dev:          dev,
		caps:         caps,
		slots:        nativeSlots,
		current:      len(nativeSlots) - 1,
		state:        COMMAND_BUFFER_STATE_READY,
		clearDepth:   1.0,
		clearStencil: 0,
		validate:     validate,
		debugName:    name,
	}

	// Slot fences are created unsignaled. Submitting each one puts a signal
	// at the head of queue order, which marks every slot as consumable.
	if caps.RequiresRecording {
		for _, slot := range nativeSlots {
			if err := dev.SubmitFence(slot.Fence()); err != nil {
				return nil, core.Errorf("failed to prime slot fence for %s: %w", name, err)
			}
		}
	}

	core.LogDebug("command buffer %s created with %d slot(s)", name, len(nativeSlots))
	return cb, nil
}

// Begin opens the next recording slot. On explicit backends this advances
// the slot index, blocks until the slot's previous contents have been
// consumed by the GPU, and recycles the slot fence; this is the
// backpressure that bounds how far the CPU can run ahead.
func (cb *CommandBuffer) Begin() error {
	switch cb.state {
	case COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return core.Errorf("command buffer %s: Begin while already recording", cb.debugName)
	}

	cb.current = (cb.current + 1) % len(cb.slots)
	slot := cb.slots[cb.current]

	if cb.caps.RequiresRecording {
		if !cb.dev.WaitForFence(slot.Fence(), TimeoutInfinite) {
			return core.Errorf("command buffer %s: wait on slot %d fence failed", cb.debugName, cb.current)
		}
		if err := cb.dev.ResetFence(slot.Fence()); err != nil {
			return core.Errorf("command buffer %s: failed to reset slot %d fence: %w", cb.debugName, cb.current, err)
		}
	}

	if err := slot.Begin(); err != nil {
		return core.Errorf("command buffer %s: failed to begin slot %d: %w", cb.debugName, cb.current, err)
	}

	cb.state = COMMAND_BUFFER_STATE_RECORDING
	cb.target = nil
	cb.graphicsPipeline = nil
	cb.computePipeline = nil
	cb.scissorEnabled = false
	cb.scissorRectInvalidated = true
	return nil
}

// End closes the recording, implicitly ending an active render pass first.
func (cb *CommandBuffer) End() error {
	switch cb.state {
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		if err := cb.endRenderPass(); err != nil {
			return err
		}
	case COMMAND_BUFFER_STATE_RECORDING:
	default:
		return core.Errorf("command buffer %s: End without Begin", cb.debugName)
	}

	if err := cb.slots[cb.current].End(); err != nil {
		return core.Errorf("command buffer %s: failed to end slot %d: %w", cb.debugName, cb.current, err)
	}
	cb.state = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// BeginRenderPass binds target and opens a render pass on it. If no
// recording is active one is begun first. If a different pass is already
// active it is ended exactly once before the new one begins; passes never
// nest. Re-binding the target of the active pass is a no-op.
func (cb *CommandBuffer) BeginRenderPass(target *RenderTarget) error {
	if target == nil {
		return core.Errorf("command buffer %s: BeginRenderPass with nil target", cb.debugName)
	}

	switch cb.state {
	case COMMAND_BUFFER_STATE_READY, COMMAND_BUFFER_STATE_RECORDING_ENDED, COMMAND_BUFFER_STATE_SUBMITTED:
		if err := cb.Begin(); err != nil {
			return err
		}
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		if cb.target == target {
			return nil
		}
		if err := cb.endRenderPass(); err != nil {
			return err
		}
	}

	slot := cb.slots[cb.current]
	if err := slot.BeginPass(target.renderFramebuffer(), target.Extent()); err != nil {
		return core.Errorf("command buffer %s: failed to begin render pass on %s: %w", cb.debugName, target.debugName, err)
	}

	cb.target = target
	cb.framebufferExtent = target.Extent()
	cb.numColourAttachments = target.NumColourAttachments()
	cb.hasDepthStencilAttachment = target.HasDepthAttachment() || target.HasStencilAttachment()
	// A pass transition invalidates the scissor rectangle; the next pipeline
	// bind may synthesize a full-extent default.
	cb.scissorRectInvalidated = true
	cb.state = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return nil
}

// EndRenderPass ends the active pass. Outside a pass it is a no-op, logged
// when validation is on.
func (cb *CommandBuffer) EndRenderPass() error {
	if cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		if cb.validating() {
			core.LogWarn("command buffer %s: EndRenderPass without an active pass", cb.debugName)
		}
		return nil
	}
	return cb.endRenderPass()
}

func (cb *CommandBuffer) endRenderPass() error {
	if err := cb.slots[cb.current].EndPass(); err != nil {
		return core.Errorf("command buffer %s: failed to end render pass: %w", cb.debugName, err)
	}
	cb.target = nil
	cb.state = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

// SetViewport sets a single viewport.
func (cb *CommandBuffer) SetViewport(viewport metadata.Viewport) error {
	return cb.SetViewports([]metadata.Viewport{viewport})
}

// SetViewports sets any number of viewports, chunking the input into native
// calls of at most the device's per-call cap while preserving order and
// first-index offsets.
func (cb *CommandBuffer) SetViewports(viewports []metadata.Viewport) error {
	if err := cb.requireRecording("SetViewports"); err != nil {
		return err
	}
	slot := cb.slots[cb.current]
	for first := 0; first < len(viewports); first += cb.viewportCap() {
		end := min(first+cb.viewportCap(), len(viewports))
		if err := slot.SetViewports(uint32(first), viewports[first:end]); err != nil {
			return core.Errorf("command buffer %s: failed to set viewports [%d,%d): %w", cb.debugName, first, end, err)
		}
	}
	return nil
}

// SetScissor sets a single scissor rectangle.
func (cb *CommandBuffer) SetScissor(rect metadata.ScissorRect) error {
	return cb.SetScissors([]metadata.ScissorRect{rect})
}

// SetScissors sets any number of scissor rectangles with the same chunking
// rule as SetViewports. Dropped while the bound pipeline has scissor
// testing disabled, because the synthesized full-extent rectangle already
// emulates the disabled test.
func (cb *CommandBuffer) SetScissors(rects []metadata.ScissorRect) error {
	if err := cb.requireRecording("SetScissors"); err != nil {
		return err
	}
	if cb.graphicsPipeline != nil && !cb.scissorEnabled {
		if cb.validating() {
			core.LogDebug("command buffer %s: SetScissors ignored, scissor test disabled by pipeline %s", cb.debugName, cb.graphicsPipeline.Name)
		}
		return nil
	}
	slot := cb.slots[cb.current]
	for first := 0; first < len(rects); first += cb.viewportCap() {
		end := min(first+cb.viewportCap(), len(rects))
		if err := slot.SetScissors(uint32(first), rects[first:end]); err != nil {
			return core.Errorf("command buffer %s: failed to set scissors [%d,%d): %w", cb.debugName, first, end, err)
		}
	}
	return nil
}

func (cb *CommandBuffer) viewportCap() int {
	if cb.caps.MaxViewportsPerCall > 0 {
		return cb.caps.MaxViewportsPerCall
	}
	return metadata.MAX_VIEWPORTS_PER_CALL
}

// SetClearColour caches the colour applied by Clear.
func (cb *CommandBuffer) SetClearColour(colour math.Vec4) {
	cb.clearColour = colour
}

// SetClearDepth caches the depth value applied by Clear.
func (cb *CommandBuffer) SetClearDepth(depth float32) {
	cb.clearDepth = depth
}

// SetClearStencil caches the stencil value applied by Clear.
func (cb *CommandBuffer) SetClearStencil(stencil uint32) {
	cb.clearStencil = stencil
}

// Clear clears the aspects selected by flags across everything the active
// pass has bound: every colour attachment when the colour bit is set, and
// the depth/stencil attachment for the depth and stencil bits. Uses the
// cached clear values. Clearing with no pass active is a documented
// precondition violation and does nothing.
func (cb *CommandBuffer) Clear(flags metadata.ClearFlag) error {
	if cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		if cb.validating() {
			core.LogWarn("command buffer %s: Clear without an active render pass does nothing", cb.debugName)
		}
		return nil
	}

	entries := make([]device.ClearEntry, 0, cb.numColourAttachments+1)
	if flags&metadata.CLEAR_FLAG_COLOUR != 0 {
		for i := 0; i < cb.numColourAttachments; i++ {
			entries = append(entries, device.ClearEntry{
				Aspect:      metadata.ATTACHMENT_TYPE_COLOUR,
				ColourIndex: uint32(i),
				Value:       metadata.ClearValue{Colour: cb.clearColour},
			})
		}
	}

	var dsAspect metadata.AttachmentType
	if flags&metadata.CLEAR_FLAG_DEPTH != 0 && cb.target.HasDepthAttachment() {
		dsAspect |= metadata.ATTACHMENT_TYPE_DEPTH
	}
	if flags&metadata.CLEAR_FLAG_STENCIL != 0 && cb.target.HasStencilAttachment() {
		dsAspect |= metadata.ATTACHMENT_TYPE_STENCIL
	}
	if dsAspect != 0 {
		entries = append(entries, device.ClearEntry{
			Aspect: dsAspect,
			Value:  metadata.ClearValue{Depth: cb.clearDepth, Stencil: cb.clearStencil},
		})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := cb.slots[cb.current].ClearAttachments(entries); err != nil {
		return core.Errorf("command buffer %s: clear failed: %w", cb.debugName, err)
	}
	return nil
}

// ClearAttachments clears an explicit list of attachments, each entry with
// its own value, without disturbing bound pipeline or resource state.
// Colour entries must name a valid colour attachment index; depth/stencil
// entries are dropped when the pass has no depth/stencil attachment.
func (cb *CommandBuffer) ClearAttachments(clears []metadata.AttachmentClear) error {
	if cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		if cb.validating() {
			core.LogWarn("command buffer %s: ClearAttachments without an active render pass does nothing", cb.debugName)
		}
		return nil
	}

	entries := make([]device.ClearEntry, 0, len(clears))
	for _, clear := range clears {
		if clear.Flags&metadata.CLEAR_FLAG_COLOUR != 0 {
			if int(clear.ColourAttachment) >= cb.numColourAttachments {
				if cb.validating() {
					core.LogWarn("command buffer %s: clear entry for colour attachment %d out of range (%d bound)", cb.debugName, clear.ColourAttachment, cb.numColourAttachments)
				}
				continue
			}
			entries = append(entries, device.ClearEntry{
				Aspect:      metadata.ATTACHMENT_TYPE_COLOUR,
				ColourIndex: clear.ColourAttachment,
				Value:       clear.Value,
			})
			continue
		}

		var dsAspect metadata.AttachmentType
		if clear.Flags&metadata.CLEAR_FLAG_DEPTH != 0 && cb.target.HasDepthAttachment() {
			dsAspect |= metadata.ATTACHMENT_TYPE_DEPTH
		}
		if clear.Flags&metadata.CLEAR_FLAG_STENCIL != 0 && cb.target.HasStencilAttachment() {
			dsAspect |= metadata.ATTACHMENT_TYPE_STENCIL
		}
		if dsAspect != 0 {
			entries = append(entries, device.ClearEntry{
				Aspect: dsAspect,
				Value:  clear.Value,
			})
		}
	}

	if len(entries) == 0 {
		return nil
	}
	if err := cb.slots[cb.current].ClearAttachments(entries); err != nil {
		return core.Errorf("command buffer %s: clear attachments failed: %w", cb.debugName, err)
	}
	return nil
}

// SetVertexBuffer binds a single input-assembly source. Takes effect at the
// next draw.
func (cb *CommandBuffer) SetVertexBuffer(buffer *metadata.Buffer) error {
	return cb.SetVertexBufferArray([]*metadata.Buffer{buffer})
}

// SetVertexBufferArray binds several vertex buffers starting at input slot
// zero.
func (cb *CommandBuffer) SetVertexBufferArray(buffers []*metadata.Buffer) error {
	if err := cb.requireRecording("SetVertexBufferArray"); err != nil {
		return err
	}
	if err := cb.slots[cb.current].BindVertexBuffers(0, buffers); err != nil {
		return core.Errorf("command buffer %s: failed to bind vertex buffers: %w", cb.debugName, err)
	}
	return nil
}

// SetIndexBuffer binds the index source for indexed draws.
func (cb *CommandBuffer) SetIndexBuffer(buffer *metadata.Buffer) error {
	if err := cb.requireRecording("SetIndexBuffer"); err != nil {
		return err
	}
	switch buffer.IndexElementSize {
	case metadata.IndexElementSizeUint16, metadata.IndexElementSizeUint32:
	default:
		return core.Errorf("command buffer %s: buffer %s has no valid index element size", cb.debugName, buffer.Name)
	}
	if err := cb.slots[cb.current].BindIndexBuffer(buffer); err != nil {
		return core.Errorf("command buffer %s: failed to bind index buffer: %w", cb.debugName, err)
	}
	return nil
}

// SetGraphicsPipeline binds a graphics pipeline and re-derives the scissor
// state from it. When the pipeline disables scissor testing but declares it
// dynamic, and no scissor has been established for this pass yet, a
// full-framebuffer scissor is synthesized exactly once so the disabled test
// behaves identically on backends where scissor is always on.
func (cb *CommandBuffer) SetGraphicsPipeline(pipeline *metadata.Pipeline) error {
	if err := cb.requireRecording("SetGraphicsPipeline"); err != nil {
		return err
	}
	if pipeline.Compute {
		return core.Errorf("command buffer %s: pipeline %s is not a graphics pipeline", cb.debugName, pipeline.Name)
	}

	slot := cb.slots[cb.current]
	if err := slot.BindPipeline(pipeline); err != nil {
		return core.Errorf("command buffer %s: failed to bind pipeline %s: %w", cb.debugName, pipeline.Name, err)
	}
	cb.graphicsPipeline = pipeline
	cb.scissorEnabled = pipeline.ScissorTestEnabled

	if !pipeline.ScissorTestEnabled && pipeline.DynamicScissor && cb.scissorRectInvalidated {
		full := cb.framebufferExtent.FullScissor()
		if err := slot.SetScissors(0, []metadata.ScissorRect{full}); err != nil {
			return core.Errorf("command buffer %s: failed to set default scissor: %w", cb.debugName, err)
		}
		cb.scissorRectInvalidated = false
	}
	return nil
}

// SetComputePipeline binds a compute pipeline for subsequent dispatches.
func (cb *CommandBuffer) SetComputePipeline(pipeline *metadata.Pipeline) error {
	if err := cb.requireRecording("SetComputePipeline"); err != nil {
		return err
	}
	if !pipeline.Compute {
		return core.Errorf("command buffer %s: pipeline %s is not a compute pipeline", cb.debugName, pipeline.Name)
	}
	if err := cb.slots[cb.current].BindPipeline(pipeline); err != nil {
		return core.Errorf("command buffer %s: failed to bind pipeline %s: %w", cb.debugName, pipeline.Name, err)
	}
	cb.computePipeline = pipeline
	return nil
}

// SetGraphicsResourceHeap binds the heap's binding groups for graphics
// use, starting at logical set index firstSet. All groups bind in one call.
func (cb *CommandBuffer) SetGraphicsResourceHeap(heap *metadata.ResourceHeap, firstSet uint32) error {
	return cb.setResourceHeap(heap, firstSet, false)
}

// SetComputeResourceHeap binds the heap's binding groups for compute use.
func (cb *CommandBuffer) SetComputeResourceHeap(heap *metadata.ResourceHeap, firstSet uint32) error {
	return cb.setResourceHeap(heap, firstSet, true)
}

func (cb *CommandBuffer) setResourceHeap(heap *metadata.ResourceHeap, firstSet uint32, compute bool) error {
	if err := cb.requireRecording("SetResourceHeap"); err != nil {
		return err
	}
	if heap == nil || len(heap.GroupIDs) == 0 {
		return core.Errorf("command buffer %s: resource heap with no binding groups", cb.debugName)
	}
	if err := cb.slots[cb.current].BindResourceGroups(heap, firstSet, compute); err != nil {
		return core.Errorf("command buffer %s: failed to bind resource heap %s: %w", cb.debugName, heap.Name, err)
	}
	return nil
}

// Draw renders numVertices vertices starting at firstVertex.
func (cb *CommandBuffer) Draw(numVertices, firstVertex uint32) error {
	return cb.draw(device.DrawArgs{
		Count:         numVertices,
		First:         firstVertex,
		InstanceCount: 1,
	})
}

// DrawInstanced renders numInstances instances of the vertex range.
func (cb *CommandBuffer) DrawInstanced(numVertices, firstVertex, numInstances, firstInstance uint32) error {
	return cb.draw(device.DrawArgs{
		Count:         numVertices,
		First:         firstVertex,
		InstanceCount: numInstances,
		FirstInstance: firstInstance,
	})
}

// DrawIndexed renders numIndices indices starting at firstIndex, adding
// vertexOffset to every index value.
func (cb *CommandBuffer) DrawIndexed(numIndices, firstIndex uint32, vertexOffset int32) error {
	return cb.draw(device.DrawArgs{
		Indexed:       true,
		Count:         numIndices,
		First:         firstIndex,
		VertexOffset:  vertexOffset,
		InstanceCount: 1,
	})
}

// DrawIndexedInstanced renders numInstances instances of the index range.
func (cb *CommandBuffer) DrawIndexedInstanced(numIndices, firstIndex uint32, vertexOffset int32, numInstances, firstInstance uint32) error {
	return cb.draw(device.DrawArgs{
		Indexed:       true,
		Count:         numIndices,
		First:         firstIndex,
		VertexOffset:  vertexOffset,
		InstanceCount: numInstances,
		FirstInstance: firstInstance,
	})
}

func (cb *CommandBuffer) draw(args device.DrawArgs) error {
	if err := cb.requirePass("Draw"); err != nil {
		return err
	}
	if cb.graphicsPipeline == nil {
		return core.Errorf("command buffer %s: draw with no graphics pipeline bound", cb.debugName)
	}
	if err := cb.slots[cb.current].Draw(args); err != nil {
		return core.Errorf("command buffer %s: draw failed: %w", cb.debugName, err)
	}
	return nil
}

// Dispatch issues a compute dispatch with the three group counts. Requires
// a bound compute pipeline; on backends with explicit recording it must not
// run inside a render pass.
func (cb *CommandBuffer) Dispatch(groupsX, groupsY, groupsZ uint32) error {
	if err := cb.requireRecording("Dispatch"); err != nil {
		return err
	}
	if cb.computePipeline == nil {
		return core.Errorf("command buffer %s: dispatch with no compute pipeline bound", cb.debugName)
	}
	if cb.state == COMMAND_BUFFER_STATE_IN_RENDER_PASS && cb.caps.RequiresRecording {
		return core.Errorf("command buffer %s: dispatch inside a render pass", cb.debugName)
	}
	if err := cb.slots[cb.current].Dispatch(groupsX, groupsY, groupsZ); err != nil {
		return core.Errorf("command buffer %s: dispatch failed: %w", cb.debugName, err)
	}
	return nil
}

// BeginQuery opens a query region. SamplesPassed queries request precise
// counting from the native query object; AnySamplesPassed requests the
// cheaper conservative mode.
func (cb *CommandBuffer) BeginQuery(pool *metadata.QueryPool, query uint32) error {
	if err := cb.requireRecording("BeginQuery"); err != nil {
		return err
	}
	if err := cb.slots[cb.current].BeginQuery(pool, query, pool.Type.Precise()); err != nil {
		return core.Errorf("command buffer %s: failed to begin query %d on %s: %w", cb.debugName, query, pool.Name, err)
	}
	return nil
}

// EndQuery closes a query region.
func (cb *CommandBuffer) EndQuery(pool *metadata.QueryPool, query uint32) error {
	if err := cb.requireRecording("EndQuery"); err != nil {
		return err
	}
	if err := cb.slots[cb.current].EndQuery(pool, query); err != nil {
		return core.Errorf("command buffer %s: failed to end query %d on %s: %w", cb.debugName, query, pool.Name, err)
	}
	return nil
}

// QueryResult fetches a single 64-bit query result. The second return is
// false while the GPU has not produced the value yet; poll again later.
// Only genuine device failures return an error.
func (cb *CommandBuffer) QueryResult(pool *metadata.QueryPool, query uint32) (uint64, bool, error) {
	value, ready, err := cb.dev.QueryResult(pool, query)
	if err != nil {
		return 0, false, core.Errorf("failed to fetch result of query %d on %s: %w", query, pool.Name, err)
	}
	return value, ready, nil
}

// QueryPipelineStatisticsResult fetches the native counter vector and maps
// it into the backend-independent statistics layout.
func (cb *CommandBuffer) QueryPipelineStatisticsResult(pool *metadata.QueryPool, query uint32) (*metadata.PipelineStatistics, bool, error) {
	if pool.Type != metadata.QueryTypePipelineStatistics {
		return nil, false, core.Errorf("query pool %s does not hold pipeline statistics", pool.Name)
	}
	raw, ready, err := cb.dev.QueryPipelineStatistics(pool, query)
	if err != nil {
		return nil, false, core.Errorf("failed to fetch statistics of query %d on %s: %w", query, pool.Name, err)
	}
	if !ready {
		return nil, false, nil
	}
	return metadata.StatisticsFromCounters(raw), true, nil
}

func (cb *CommandBuffer) requireRecording(op string) error {
	switch cb.state {
	case COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return nil
	}
	return core.Errorf("command buffer %s: %s outside Begin/End", cb.debugName, op)
}

func (cb *CommandBuffer) requirePass(op string) error {
	if cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return core.Errorf("command buffer %s: %s requires an active render pass", cb.debugName, op)
	}
	return nil
}

func (cb *CommandBuffer) validating() bool {
	return cb.validate != nil && cb.validate.Load()
}

// State returns the recording state.
func (cb *CommandBuffer) State() CommandBufferState {
	return cb.state
}

// CurrentSlot returns the index of the slot commands record into.
func (cb *CommandBuffer) CurrentSlot() int {
	return cb.current
}

// SlotCount returns how many native slots the buffer rotates through.
func (cb *CommandBuffer) SlotCount() int {
	return len(cb.slots)
}

// Target returns the render target of the active pass, or nil.
func (cb *CommandBuffer) Target() *RenderTarget {
	return cb.target
}

// Release frees the native slots. The buffer must not be submitted or
// recording.
func (cb *CommandBuffer) Release() {
	cb.slots = nil
	cb.state = COMMAND_BUFFER_STATE_READY
}
