package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

/**
 * @brief One native recording slot: a primary command buffer with its
 * completion fence. The recording core rotates between slots and waits on
 * the fence before reuse, so a slot never re-records while in flight.
 */
type commandSlot struct {
	dev    *Device
	name   string
	handle vk.CommandBuffer
	fence  *vulkanFence

	recording  bool
	inPass     bool
	fb         *vulkanFramebuffer
	passExtent metadata.Extent2D
}

func newCommandSlot(dev *Device, name string) (*commandSlot, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        dev.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(dev.ctx.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return nil, core.Errorf("failed to allocate command buffer %s: %s", name, VulkanResultString(res, true))
	}

	fence, err := newVulkanFence(dev.ctx, false)
	if err != nil {
		vk.FreeCommandBuffers(dev.ctx.LogicalDevice, dev.commandPool, 1, handles)
		return nil, err
	}

	return &commandSlot{
		dev:    dev,
		name:   name,
		handle: handles[0],
		fence:  fence,
	}, nil
}

func (s *commandSlot) destroy() {
	if s.handle != nil {
		vk.FreeCommandBuffers(s.dev.ctx.LogicalDevice, s.dev.commandPool, 1, []vk.CommandBuffer{s.handle})
		s.handle = nil
	}
	s.fence.destroy(s.dev.ctx)
}

func (s *commandSlot) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		// Slots re-record every cycle, the pool resets the buffer here.
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(s.handle, &beginInfo); res != vk.Success {
		return core.Errorf("failed to begin command buffer %s: %s", s.name, VulkanResultString(res, true))
	}
	s.recording = true
	s.inPass = false
	s.fb = nil
	return nil
}

func (s *commandSlot) End() error {
	if res := vk.EndCommandBuffer(s.handle); res != vk.Success {
		return core.Errorf("failed to end command buffer %s: %s", s.name, VulkanResultString(res, true))
	}
	s.recording = false
	return nil
}

func (s *commandSlot) Fence() device.Fence {
	return s.fence
}

func (s *commandSlot) BeginPass(fb device.Framebuffer, extent metadata.Extent2D) error {
	vfb, ok := fb.(*vulkanFramebuffer)
	if !ok {
		return core.Errorf("framebuffer comes from another backend")
	}
	if !vfb.complete {
		return core.Errorf("framebuffer was not validated before use")
	}
	s.fb = vfb
	s.passExtent = extent
	s.beginNativePass()
	return nil
}

// beginNativePass (re)enters the stored render pass. Attachments use load
// operations, so re-entering preserves their contents; query resets lean on
// this to split a pass without losing pixels.
func (s *commandSlot) beginNativePass() {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  s.fb.renderPass,
		Framebuffer: s.fb.handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  s.passExtent.Width,
				Height: s.passExtent.Height,
			},
		},
	}
	beginInfo.Deref()
	vk.CmdBeginRenderPass(s.handle, &beginInfo, vk.SubpassContentsInline)
	s.inPass = true
}

func (s *commandSlot) EndPass() error {
	if !s.inPass {
		return core.Errorf("slot %s has no render pass to end", s.name)
	}
	vk.CmdEndRenderPass(s.handle)
	s.inPass = false
	s.fb = nil
	return nil
}

func (s *commandSlot) BindPipeline(p *metadata.Pipeline) error {
	native, err := s.dev.pipelineFor(p)
	if err != nil {
		return err
	}
	bindPoint := vk.PipelineBindPointGraphics
	if p.Compute {
		bindPoint = vk.PipelineBindPointCompute
	}
	vk.CmdBindPipeline(s.handle, bindPoint, native.handle)
	return nil
}

func (s *commandSlot) BindVertexBuffers(first uint32, buffers []*metadata.Buffer) error {
	handles := make([]vk.Buffer, len(buffers))
	offsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		native, err := s.dev.bufferFor(b)
		if err != nil {
			return err
		}
		handles[i] = native.Handle
	}
	vk.CmdBindVertexBuffers(s.handle, first, uint32(len(handles)), handles, offsets)
	return nil
}

func (s *commandSlot) BindIndexBuffer(b *metadata.Buffer) error {
	native, err := s.dev.bufferFor(b)
	if err != nil {
		return err
	}
	indexType := vk.IndexTypeUint32
	if b.IndexElementSize == metadata.IndexElementSizeUint16 {
		indexType = vk.IndexTypeUint16
	}
	vk.CmdBindIndexBuffer(s.handle, native.Handle, 0, indexType)
	return nil
}

func (s *commandSlot) BindResourceGroups(heap *metadata.ResourceHeap, firstSet uint32, compute bool) error {
	sets, layout, err := s.dev.heapFor(heap)
	if err != nil {
		return err
	}
	bindPoint := vk.PipelineBindPointGraphics
	if compute {
		bindPoint = vk.PipelineBindPointCompute
	}
	vk.CmdBindDescriptorSets(s.handle, bindPoint, layout, firstSet, uint32(len(sets)), sets, 0, nil)
	return nil
}

func (s *commandSlot) SetViewports(first uint32, viewports []metadata.Viewport) error {
	native := make([]vk.Viewport, len(viewports))
	for i, vp := range viewports {
		native[i] = vk.Viewport{
			X:        vp.X,
			Y:        vp.Y,
			Width:    vp.Width,
			Height:   vp.Height,
			MinDepth: vp.MinDepth,
			MaxDepth: vp.MaxDepth,
		}
	}
	vk.CmdSetViewport(s.handle, first, uint32(len(native)), native)
	return nil
}

func (s *commandSlot) SetScissors(first uint32, rects []metadata.ScissorRect) error {
	native := make([]vk.Rect2D, len(rects))
	for i, r := range rects {
		native[i] = vulkanRect(r)
	}
	vk.CmdSetScissor(s.handle, first, uint32(len(native)), native)
	return nil
}

// vulkanRect clamps a scissor into the non-negative offsets the native call
// demands, shrinking the extent by whatever was cut off.
func vulkanRect(r metadata.ScissorRect) vk.Rect2D {
	x, y := r.X, r.Y
	w, h := r.Width, r.Height
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	return vk.Rect2D{
		Offset: vk.Offset2D{X: x, Y: y},
		Extent: vk.Extent2D{Width: uint32(max(w, 0)), Height: uint32(max(h, 0))},
	}
}

func (s *commandSlot) ClearAttachments(entries []device.ClearEntry) error {
	if !s.inPass {
		return core.Errorf("slot %s cannot clear attachments outside a render pass", s.name)
	}
	attachments := make([]vk.ClearAttachment, 0, len(entries))
	for _, entry := range entries {
		var attachment vk.ClearAttachment
		if entry.Aspect.IsColour() {
			attachment.AspectMask = vk.ImageAspectFlags(vk.ImageAspectColorBit)
			attachment.ColorAttachment = entry.ColourIndex
			colour := entry.Value.Colour
			attachment.ClearValue.SetColor([]float32{colour.X, colour.Y, colour.Z, colour.W})
		} else {
			if entry.Aspect&metadata.ATTACHMENT_TYPE_DEPTH != 0 {
				attachment.AspectMask |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
			}
			if entry.Aspect&metadata.ATTACHMENT_TYPE_STENCIL != 0 {
				attachment.AspectMask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
			}
			attachment.ClearValue.SetDepthStencil(entry.Value.Depth, entry.Value.Stencil)
		}
		attachments = append(attachments, attachment)
	}
	rects := []vk.ClearRect{{
		Rect: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: s.passExtent.Width, Height: s.passExtent.Height},
		},
		BaseArrayLayer: 0,
		LayerCount:     1,
	}}
	vk.CmdClearAttachments(s.handle, uint32(len(attachments)), attachments, 1, rects)
	return nil
}

func (s *commandSlot) Draw(args device.DrawArgs) error {
	if !s.inPass {
		return core.Errorf("slot %s cannot draw outside a render pass", s.name)
	}
	if args.Indexed {
		vk.CmdDrawIndexed(s.handle, args.Count, args.InstanceCount, args.First, args.VertexOffset, args.FirstInstance)
	} else {
		vk.CmdDraw(s.handle, args.Count, args.InstanceCount, args.First, args.FirstInstance)
	}
	return nil
}

func (s *commandSlot) Dispatch(x, y, z uint32) error {
	if s.inPass {
		return core.Errorf("slot %s cannot dispatch inside a render pass", s.name)
	}
	vk.CmdDispatch(s.handle, x, y, z)
	return nil
}

func (s *commandSlot) BeginQuery(pool *metadata.QueryPool, query uint32, precise bool) error {
	qp, err := s.dev.queryPoolFor(pool)
	if err != nil {
		return err
	}
	first, count := qp.nativeRange(query)

	// Query slots must be reset before reuse and resets are forbidden
	// inside a render pass, so split the pass around the reset.
	if s.inPass {
		vk.CmdEndRenderPass(s.handle)
		vk.CmdResetQueryPool(s.handle, qp.handle, first, count)
		s.beginNativePass()
	} else {
		vk.CmdResetQueryPool(s.handle, qp.handle, first, count)
	}

	if pool.Type == metadata.QueryTypeTimeElapsed {
		vk.CmdWriteTimestamp(s.handle, vk.PipelineStageTopOfPipeBit, qp.handle, first)
		return nil
	}
	var flags vk.QueryControlFlags
	if precise {
		flags = vk.QueryControlFlags(vk.QueryControlPreciseBit)
	}
	vk.CmdBeginQuery(s.handle, qp.handle, query, flags)
	return nil
}

func (s *commandSlot) EndQuery(pool *metadata.QueryPool, query uint32) error {
	qp, err := s.dev.queryPoolFor(pool)
	if err != nil {
		return err
	}
	if pool.Type == metadata.QueryTypeTimeElapsed {
		vk.CmdWriteTimestamp(s.handle, vk.PipelineStageBottomOfPipeBit, qp.handle, query*2+1)
		return nil
	}
	vk.CmdEndQuery(s.handle, qp.handle, query)
	return nil
}

func (s *commandSlot) String() string {
	return fmt.Sprintf("slot %s", s.name)
}
