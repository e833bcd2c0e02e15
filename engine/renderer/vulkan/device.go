// Package vulkan adapts externally owned Vulkan handles to the device
// contract. The embedding application creates the instance, picks the
// physical device and builds the logical device and queue; this package
// records command buffers, runs the attachment and query machinery and
// submits. Pipelines and descriptor sets are compiled outside and imported.
package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

type Device struct {
	ctx   *Context
	caps  device.Caps
	locks *VulkanLockPool

	commandPool     vk.CommandPool
	timestampPeriod float32

	handles *core.IDPool
	slots   []*commandSlot
	closed  bool
}

// New wraps an externally created Vulkan context. The adapter allocates its
// own command pool on the context's queue family and derives capabilities
// from the physical device limits.
func New(ctx *Context) (*Device, error) {
	if ctx == nil {
		return nil, core.Errorf("vulkan device needs a context")
	}
	if err := ctx.validate(); err != nil {
		return nil, err
	}

	properties := vk.PhysicalDeviceProperties{}
	vk.GetPhysicalDeviceProperties(ctx.PhysicalDevice, &properties)
	properties.Deref()
	properties.Limits.Deref()

	caps := device.Caps{
		Name:                 "vulkan",
		MaxColourAttachments: int(properties.Limits.MaxColorAttachments),
		MaxViewportsPerCall:  int(properties.Limits.MaxViewports),
		RequiresRecording:    true,
		// Resolving happens through the secondary framebuffer path, the
		// render pass carries no resolve attachments.
		HasNoAttachmentFramebuffer: false,
		CanResolveIntoTextures:     false,
		MaxSamples:                 maxSampleCount(vk.SampleCountFlagBits(properties.Limits.FramebufferColorSampleCounts)),
	}
	if caps.MaxColourAttachments > metadata.MAX_COLOUR_ATTACHMENTS {
		caps.MaxColourAttachments = metadata.MAX_COLOUR_ATTACHMENTS
	}
	if caps.MaxViewportsPerCall < 1 {
		caps.MaxViewportsPerCall = 1
	}
	if caps.MaxViewportsPerCall > metadata.MAX_VIEWPORTS_PER_CALL {
		caps.MaxViewportsPerCall = metadata.MAX_VIEWPORTS_PER_CALL
	}

	locks := NewVulkanLockPool()
	locks.SetQueueFamily(ctx.QueueFamilyIndex)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.QueueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if res := vk.CreateCommandPool(ctx.LogicalDevice, &poolCreateInfo, ctx.Allocator, &commandPool); res != vk.Success {
		return nil, core.Errorf("failed to create command pool: %s", VulkanResultString(res, true))
	}

	d := &Device{
		ctx:             ctx,
		caps:            caps,
		locks:           locks,
		commandPool:     commandPool,
		timestampPeriod: properties.Limits.TimestampPeriod,
		handles:         core.NewIDPool(),
	}
	core.LogInfo("vulkan device ready on '%s', %d colour attachments, %dx MSAA",
		vk.ToString(properties.DeviceName[:]), caps.MaxColourAttachments, caps.MaxSamples)
	return d, nil
}

func maxSampleCount(flags vk.SampleCountFlagBits) uint32 {
	for _, bit := range []vk.SampleCountFlagBits{
		vk.SampleCount64Bit, vk.SampleCount32Bit, vk.SampleCount16Bit,
		vk.SampleCount8Bit, vk.SampleCount4Bit, vk.SampleCount2Bit,
	} {
		if flags&bit != 0 {
			return uint32(bit)
		}
	}
	return 1
}

func (d *Device) Caps() device.Caps {
	return d.caps
}

func (d *Device) CreateCommandSlots(count int, debugName string) ([]device.CommandSlot, error) {
	if count < 1 {
		count = 1
	}
	slots := make([]device.CommandSlot, 0, count)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		for i := 0; i < count; i++ {
			slot, err := newCommandSlot(d, fmt.Sprintf("%s[%d]", debugName, i))
			if err != nil {
				return err
			}
			d.slots = append(d.slots, slot)
			slots = append(slots, slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	return newVulkanFence(d.ctx, signaled)
}

func (d *Device) DestroyFence(f device.Fence) {
	if vf, ok := f.(*vulkanFence); ok {
		vf.destroy(d.ctx)
	}
}

func (d *Device) WaitForFence(f device.Fence, timeoutNs uint64) bool {
	vf, ok := f.(*vulkanFence)
	if !ok {
		core.LogWarn("fence comes from another backend, not waiting")
		return false
	}
	return vf.wait(d.ctx, timeoutNs)
}

func (d *Device) ResetFence(f device.Fence) error {
	vf, ok := f.(*vulkanFence)
	if !ok {
		return core.Errorf("fence comes from another backend")
	}
	return vf.reset(d.ctx)
}

func (d *Device) SubmitSlot(slot device.CommandSlot) error {
	s, ok := slot.(*commandSlot)
	if !ok {
		return core.Errorf("slot comes from another backend")
	}
	return d.locks.SafeQueueCall(d.ctx.QueueFamilyIndex, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    []vk.CommandBuffer{s.handle},
		}
		if res := vk.QueueSubmit(d.ctx.Queue, 1, []vk.SubmitInfo{submitInfo}, s.fence.handle); res != vk.Success {
			if res == vk.ErrorDeviceLost {
				return core.Errorf("queue submit of %s: %w", s.name, device.ErrDeviceLost)
			}
			return core.Errorf("queue submit of %s failed: %s", s.name, VulkanResultString(res, true))
		}
		return nil
	})
}

// SubmitFence inserts a queue-ordered signal point by submitting no work
// with the fence attached.
func (d *Device) SubmitFence(f device.Fence) error {
	vf, ok := f.(*vulkanFence)
	if !ok {
		return core.Errorf("fence comes from another backend")
	}
	return d.locks.SafeQueueCall(d.ctx.QueueFamilyIndex, func() error {
		if res := vk.QueueSubmit(d.ctx.Queue, 0, nil, vf.handle); res != vk.Success {
			return core.Errorf("fence-only submit failed: %s", VulkanResultString(res, true))
		}
		return nil
	})
}

func (d *Device) QueueWaitIdle() error {
	return d.locks.SafeQueueCall(d.ctx.QueueFamilyIndex, func() error {
		if res := vk.QueueWaitIdle(d.ctx.Queue); res != vk.Success {
			if res == vk.ErrorDeviceLost {
				return core.Errorf("queue idle wait: %w", device.ErrDeviceLost)
			}
			return core.Errorf("queue idle wait failed: %s", VulkanResultString(res, true))
		}
		return nil
	})
}

func (d *Device) CreateFramebuffer(extent metadata.Extent2D) (device.Framebuffer, error) {
	fb := newVulkanFramebuffer(d, extent)
	fb.id = d.handles.Acquire(fb)
	return fb, nil
}

func (d *Device) CreateRenderbuffer(format metadata.Format, extent metadata.Extent2D, samples uint32) (device.Renderbuffer, error) {
	if format == metadata.FormatUnknown {
		return nil, core.Errorf("vulkan device: renderbuffer needs a concrete format")
	}
	textureType := metadata.TextureType2d
	if samples > 1 {
		textureType = metadata.TextureType2dMultisample
	}
	img, err := newVulkanImage(d.ctx, &metadata.TextureConfig{
		Type:    textureType,
		Format:  format,
		Width:   extent.Width,
		Height:  extent.Height,
		Samples: samples,
		Name:    "renderbuffer",
	})
	if err != nil {
		return nil, err
	}
	if err := d.prepareAttachmentImage(img); err != nil {
		img.destroy(d.ctx)
		return nil, err
	}
	rb := &vulkanRenderbuffer{dev: d, image: img}
	rb.id = d.handles.Acquire(rb)
	return rb, nil
}

func (d *Device) Blit(dst device.Framebuffer, src device.Framebuffer, colourIndex int, extent metadata.Extent2D, aspects metadata.AttachmentType) error {
	if aspects == 0 {
		return nil
	}
	source, ok := src.(*vulkanFramebuffer)
	if !ok {
		return core.Errorf("source framebuffer comes from another backend")
	}
	if dst == nil {
		// The presentation surface belongs to the embedding application.
		return device.ErrNotSupported
	}
	target, ok := dst.(*vulkanFramebuffer)
	if !ok {
		return core.Errorf("destination framebuffer comes from another backend")
	}

	return d.singleUse(func(cmd vk.CommandBuffer) error {
		if aspects.IsColour() {
			srcAtt := source.colour[colourIndex]
			dstAtt := target.colour[colourIndex]
			if srcAtt == nil || dstAtt == nil {
				return core.Errorf("blit needs colour attachment %d on both framebuffers", colourIndex)
			}
			if err := copyColour(cmd, srcAtt.image, dstAtt.image, extent); err != nil {
				return err
			}
		}
		dsAspects := aspects & metadata.ATTACHMENT_TYPE_DEPTH_STENCIL
		if dsAspects != 0 && source.depthStencil != nil && target.depthStencil != nil {
			copyDepthStencil(cmd, source.depthStencil.image, target.depthStencil.image, extent)
		}
		return nil
	})
}

// copyColour moves one colour plane between attachment images, resolving
// when the source is multisampled.
func copyColour(cmd vk.CommandBuffer, src, dst *vulkanImage, extent metadata.Extent2D) error {
	imageBarrier(cmd, src, vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal)
	imageBarrier(cmd, dst, vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferDstOptimal)
	defer func() {
		imageBarrier(cmd, src, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutColorAttachmentOptimal)
		imageBarrier(cmd, dst, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutColorAttachmentOptimal)
	}()

	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	size := vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1}

	switch {
	case src.Samples != vk.SampleCount1Bit && dst.Samples == vk.SampleCount1Bit:
		region := vk.ImageResolve{
			SrcSubresource: layers,
			DstSubresource: layers,
			Extent:         size,
		}
		vk.CmdResolveImage(cmd, src.Handle, vk.ImageLayoutTransferSrcOptimal, dst.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageResolve{region})
	case src.Samples == dst.Samples:
		region := vk.ImageCopy{
			SrcSubresource: layers,
			DstSubresource: layers,
			Extent:         size,
		}
		vk.CmdCopyImage(cmd, src.Handle, vk.ImageLayoutTransferSrcOptimal, dst.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{region})
	default:
		return core.Errorf("cannot blit %dx samples into %dx samples", src.Samples, dst.Samples)
	}
	return nil
}

func copyDepthStencil(cmd vk.CommandBuffer, src, dst *vulkanImage, extent metadata.Extent2D) {
	shared := src.Aspects & dst.Aspects
	if shared == 0 || src.Samples != dst.Samples {
		// Mismatched attachments simply keep their contents.
		return
	}
	imageBarrier(cmd, src, vk.ImageLayoutDepthStencilAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal)
	imageBarrier(cmd, dst, vk.ImageLayoutDepthStencilAttachmentOptimal, vk.ImageLayoutTransferDstOptimal)
	layers := vk.ImageSubresourceLayers{AspectMask: shared, LayerCount: 1}
	region := vk.ImageCopy{
		SrcSubresource: layers,
		DstSubresource: layers,
		Extent:         vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}
	vk.CmdCopyImage(cmd, src.Handle, vk.ImageLayoutTransferSrcOptimal, dst.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{region})
	imageBarrier(cmd, src, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutDepthStencilAttachmentOptimal)
	imageBarrier(cmd, dst, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutDepthStencilAttachmentOptimal)
}

func (d *Device) QueryResult(pool *metadata.QueryPool, query uint32) (uint64, bool, error) {
	qp, err := d.queryPoolFor(pool)
	if err != nil {
		return 0, false, err
	}
	if qp.typ == metadata.QueryTypePipelineStatistics {
		return 0, false, core.Errorf("vulkan device: %s holds pipeline statistics, not a single value", pool.Name)
	}

	if qp.typ == metadata.QueryTypeTimeElapsed {
		results := make([]uint64, 2)
		res := vk.GetQueryPoolResults(d.ctx.LogicalDevice, qp.handle, query*2, 2,
			16, unsafe.Pointer(&results[0]), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
		if res == vk.NotReady {
			return 0, false, nil
		}
		if res != vk.Success {
			return 0, false, core.Errorf("query readback failed: %s", VulkanResultString(res, true))
		}
		elapsed := uint64(float64(results[1]-results[0]) * float64(d.timestampPeriod))
		return elapsed, true, nil
	}

	var value uint64
	res := vk.GetQueryPoolResults(d.ctx.LogicalDevice, qp.handle, query, 1,
		8, unsafe.Pointer(&value), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
	if res == vk.NotReady {
		return 0, false, nil
	}
	if res != vk.Success {
		return 0, false, core.Errorf("query readback failed: %s", VulkanResultString(res, true))
	}
	return value, true, nil
}

func (d *Device) QueryPipelineStatistics(pool *metadata.QueryPool, query uint32) ([]uint64, bool, error) {
	qp, err := d.queryPoolFor(pool)
	if err != nil {
		return nil, false, err
	}
	if qp.typ != metadata.QueryTypePipelineStatistics {
		return nil, false, core.Errorf("vulkan device: %s does not hold pipeline statistics", pool.Name)
	}
	results := make([]uint64, metadata.PipelineStatCounters)
	res := vk.GetQueryPoolResults(d.ctx.LogicalDevice, qp.handle, query, 1,
		uint64(8*metadata.PipelineStatCounters), unsafe.Pointer(&results[0]),
		vk.DeviceSize(8*metadata.PipelineStatCounters), vk.QueryResultFlags(vk.QueryResult64Bit))
	if res == vk.NotReady {
		return nil, false, nil
	}
	if res != vk.Success {
		return nil, false, core.Errorf("statistics readback failed: %s", VulkanResultString(res, true))
	}
	return results, true, nil
}

func (d *Device) CreateTexture(cfg *metadata.TextureConfig) (*metadata.Texture, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, core.Errorf("vulkan device: texture %s has zero extent", cfg.Name)
	}
	if cfg.Format == metadata.FormatUnknown {
		return nil, core.Errorf("vulkan device: texture %s needs a concrete format", cfg.Name)
	}
	samples := cfg.Samples
	if samples == 0 {
		samples = 1
	}
	if samples > d.caps.MaxSamples {
		samples = d.caps.MaxSamples
	}

	normalized := *cfg
	normalized.Samples = samples
	normalized.Layers = max(cfg.Layers, 1)
	normalized.MipLevels = max(cfg.MipLevels, 1)

	img, err := newVulkanImage(d.ctx, &normalized)
	if err != nil {
		return nil, err
	}
	if err := d.prepareAttachmentImage(img); err != nil {
		img.destroy(d.ctx)
		return nil, err
	}

	return &metadata.Texture{
		ID:          d.handles.Acquire(img),
		TextureType: cfg.Type,
		Format:      cfg.Format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Layers:      normalized.Layers,
		MipLevels:   normalized.MipLevels,
		Samples:     samples,
		Name:        cfg.Name,
	}, nil
}

func (d *Device) DestroyTexture(tex *metadata.Texture) {
	if tex == nil {
		return
	}
	if img, ok := d.handles.Owner(tex.ID).(*vulkanImage); ok {
		img.destroy(d.ctx)
	}
	if err := d.handles.Release(tex.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	tex.ID = metadata.InvalidID
}

func (d *Device) CreateBuffer(cfg *metadata.BufferConfig) (*metadata.Buffer, error) {
	size := cfg.Size
	if size < uint64(len(cfg.Data)) {
		size = uint64(len(cfg.Data))
	}
	if size == 0 {
		return nil, core.Errorf("vulkan device: buffer %s has zero size", cfg.Name)
	}
	usage := vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit | vk.BufferUsageTransferDstBit
	buf, err := newVulkanBuffer(d.ctx, size, usage, cfg.Data)
	if err != nil {
		return nil, err
	}
	return &metadata.Buffer{
		ID:               d.handles.Acquire(buf),
		Size:             size,
		IndexElementSize: cfg.IndexElementSize,
		Name:             cfg.Name,
	}, nil
}

func (d *Device) DestroyBuffer(b *metadata.Buffer) {
	if b == nil {
		return
	}
	if buf, ok := d.handles.Owner(b.ID).(*vulkanBuffer); ok {
		buf.destroy(d.ctx)
	}
	if err := d.handles.Release(b.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	b.ID = metadata.InvalidID
}

// CreatePipeline always fails: pipelines need shader modules, which belong
// to the embedding application. Use ImportPipeline with an externally built
// pipeline instead.
func (d *Device) CreatePipeline(cfg *metadata.PipelineConfig) (*metadata.Pipeline, error) {
	return nil, device.ErrNotSupported
}

// importedPipeline pairs an externally compiled pipeline with its layout.
// Both handles stay owned by whoever built them.
type importedPipeline struct {
	handle vk.Pipeline
	layout vk.PipelineLayout
}

// ImportPipeline registers an externally built pipeline so the recording
// core can bind it. The adapter never destroys the handle.
func (d *Device) ImportPipeline(handle vk.Pipeline, layout vk.PipelineLayout, cfg *metadata.PipelineConfig) (*metadata.Pipeline, error) {
	if handle == nil {
		return nil, core.Errorf("vulkan device: cannot import a nil pipeline")
	}
	p := &metadata.Pipeline{
		Compute:            cfg.Compute,
		ScissorTestEnabled: cfg.ScissorTestEnabled,
		DynamicScissor:     cfg.DynamicScissor,
		Name:               cfg.Name,
	}
	p.ID = d.handles.Acquire(&importedPipeline{handle: handle, layout: layout})
	return p, nil
}

func (d *Device) DestroyPipeline(p *metadata.Pipeline) {
	if p == nil {
		return
	}
	// Imported handles are externally owned, only the registration goes.
	if err := d.handles.Release(p.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	p.ID = metadata.InvalidID
}

// importedHeap is an externally built descriptor set group with the layout
// it was allocated against.
type importedHeap struct {
	layout vk.PipelineLayout
	sets   []vk.DescriptorSet
}

// ImportResourceHeap registers externally allocated descriptor sets, in set
// order, so BindResourceGroups can bind them.
func (d *Device) ImportResourceHeap(layout vk.PipelineLayout, sets []vk.DescriptorSet, name string) (*metadata.ResourceHeap, error) {
	if len(sets) == 0 {
		return nil, core.Errorf("vulkan device: resource heap %s has no descriptor sets", name)
	}
	heap := &importedHeap{layout: layout, sets: sets}
	groupIDs := make([]uint32, len(sets))
	for i := range sets {
		groupIDs[i] = uint32(i)
	}
	return &metadata.ResourceHeap{
		ID:       d.handles.Acquire(heap),
		GroupIDs: groupIDs,
		Name:     name,
	}, nil
}

// ReleaseResourceHeap drops the registration. The descriptor sets stay
// owned by their pool.
func (d *Device) ReleaseResourceHeap(heap *metadata.ResourceHeap) {
	if heap == nil {
		return
	}
	if err := d.handles.Release(heap.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	heap.ID = metadata.InvalidID
}

// vulkanQueryPool wraps the native pool. Time-elapsed pools allocate two
// timestamp slots per query.
type vulkanQueryPool struct {
	handle vk.QueryPool
	typ    metadata.QueryType
	count  uint32
}

func (qp *vulkanQueryPool) nativeRange(query uint32) (uint32, uint32) {
	if qp.typ == metadata.QueryTypeTimeElapsed {
		return query * 2, 2
	}
	return query, 1
}

func (qp *vulkanQueryPool) destroy(ctx *Context) {
	if qp.handle != nil {
		vk.DestroyQueryPool(ctx.LogicalDevice, qp.handle, ctx.Allocator)
		qp.handle = nil
	}
}

// allPipelineStatistics enables every counter the statistics mapping
// consumes. The bit order fixes the result vector order.
const allPipelineStatistics = vk.QueryPipelineStatisticInputAssemblyVerticesBit |
	vk.QueryPipelineStatisticInputAssemblyPrimitivesBit |
	vk.QueryPipelineStatisticVertexShaderInvocationsBit |
	vk.QueryPipelineStatisticGeometryShaderInvocationsBit |
	vk.QueryPipelineStatisticGeometryShaderPrimitivesBit |
	vk.QueryPipelineStatisticClippingInvocationsBit |
	vk.QueryPipelineStatisticClippingPrimitivesBit |
	vk.QueryPipelineStatisticFragmentShaderInvocationsBit |
	vk.QueryPipelineStatisticTessellationControlShaderPatchesBit |
	vk.QueryPipelineStatisticTessellationEvaluationShaderInvocationsBit |
	vk.QueryPipelineStatisticComputeShaderInvocationsBit

func (d *Device) CreateQueryPool(t metadata.QueryType, count uint32) (*metadata.QueryPool, error) {
	if count == 0 {
		return nil, core.Errorf("vulkan device: query pool needs at least one query")
	}

	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryCount: count,
	}
	switch t {
	case metadata.QueryTypeSamplesPassed, metadata.QueryTypeAnySamplesPassed:
		createInfo.QueryType = vk.QueryTypeOcclusion
	case metadata.QueryTypeTimeElapsed:
		createInfo.QueryType = vk.QueryTypeTimestamp
		createInfo.QueryCount = count * 2
	case metadata.QueryTypePipelineStatistics:
		createInfo.QueryType = vk.QueryTypePipelineStatistics
		createInfo.PipelineStatistics = vk.QueryPipelineStatisticFlags(allPipelineStatistics)
	default:
		return nil, core.Errorf("vulkan device: unknown query type %d", t)
	}

	var handle vk.QueryPool
	if res := vk.CreateQueryPool(d.ctx.LogicalDevice, &createInfo, d.ctx.Allocator, &handle); res != vk.Success {
		return nil, core.Errorf("failed to create query pool: %s", VulkanResultString(res, true))
	}
	qp := &vulkanQueryPool{handle: handle, typ: t, count: count}
	return &metadata.QueryPool{
		ID:    d.handles.Acquire(qp),
		Type:  t,
		Count: count,
		Name:  t.String(),
	}, nil
}

func (d *Device) DestroyQueryPool(pool *metadata.QueryPool) {
	if pool == nil {
		return
	}
	if qp, ok := d.handles.Owner(pool.ID).(*vulkanQueryPool); ok {
		qp.destroy(d.ctx)
	}
	if err := d.handles.Release(pool.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	pool.ID = metadata.InvalidID
}

func (d *Device) Shutdown() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.QueueWaitIdle(); err != nil {
		core.LogWarn("queue not idle at shutdown: %s", err.Error())
	}
	d.locks.SafeCall(CommandPoolManagement, func() error {
		for _, slot := range d.slots {
			slot.destroy()
		}
		d.slots = nil
		vk.DestroyCommandPool(d.ctx.LogicalDevice, d.commandPool, d.ctx.Allocator)
		d.commandPool = nil
		return nil
	})
	if alive := d.handles.InUse(); alive > 0 {
		core.LogWarn("vulkan device shut down with %d objects still alive", alive)
	}
	core.LogInfo("vulkan device shut down")
	return nil
}

// prepareAttachmentImage moves a fresh image into the layout the render
// pass expects attachments to stay in.
func (d *Device) prepareAttachmentImage(img *vulkanImage) error {
	target := vk.ImageLayoutColorAttachmentOptimal
	if img.Aspects&vk.ImageAspectFlags(vk.ImageAspectColorBit) == 0 {
		target = vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return d.singleUse(func(cmd vk.CommandBuffer) error {
		imageBarrier(cmd, img, vk.ImageLayoutUndefined, target)
		return nil
	})
}

// singleUse records and synchronously executes a short command buffer, for
// layout transitions and transfer work outside the frame loop.
func (d *Device) singleUse(record func(cmd vk.CommandBuffer) error) error {
	var handle vk.CommandBuffer
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		allocateInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.commandPool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		handles := make([]vk.CommandBuffer, 1)
		if res := vk.AllocateCommandBuffers(d.ctx.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return core.Errorf("failed to allocate single-use command buffer: %s", VulkanResultString(res, true))
		}
		handle = handles[0]
		return nil
	})
	if err != nil {
		return err
	}
	defer d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.ctx.LogicalDevice, d.commandPool, 1, []vk.CommandBuffer{handle})
		return nil
	})

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(handle, &beginInfo); res != vk.Success {
		return core.Errorf("failed to begin single-use command buffer: %s", VulkanResultString(res, true))
	}
	if err := record(handle); err != nil {
		return err
	}
	if res := vk.EndCommandBuffer(handle); res != vk.Success {
		return core.Errorf("failed to end single-use command buffer: %s", VulkanResultString(res, true))
	}

	return d.locks.SafeQueueCall(d.ctx.QueueFamilyIndex, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    []vk.CommandBuffer{handle},
		}
		if res := vk.QueueSubmit(d.ctx.Queue, 1, []vk.SubmitInfo{submitInfo}, nil); res != vk.Success {
			return core.Errorf("single-use submit failed: %s", VulkanResultString(res, true))
		}
		if res := vk.QueueWaitIdle(d.ctx.Queue); res != vk.Success {
			return core.Errorf("single-use wait failed: %s", VulkanResultString(res, true))
		}
		return nil
	})
}

// imageBarrier issues a blunt full-pipeline transition. Precision matters
// less than correctness here, transfers happen outside the frame loop.
func imageBarrier(cmd vk.CommandBuffer, img *vulkanImage, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: img.Aspects,
			LevelCount: vk.RemainingMipLevels,
			LayerCount: vk.RemainingArrayLayers,
		},
	}
	barrier.Deref()
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	img.Layout = newLayout
}

// readImagePixels copies a region of a colour image into host memory as
// tightly packed RGBA8 rows.
func (d *Device) readImagePixels(img *vulkanImage, x, y, w, h uint32) ([]uint8, error) {
	if img.Format != vk.FormatR8g8b8a8Unorm && img.Format != vk.FormatB8g8r8a8Unorm {
		return nil, device.ErrNotSupported
	}
	if x+w > img.Width || y+h > img.Height {
		return nil, core.Errorf("read region %dx%d+%d+%d exceeds image %dx%d", w, h, x, y, img.Width, img.Height)
	}

	size := uint64(w) * uint64(h) * 4
	staging, err := newVulkanBuffer(d.ctx, size, vk.BufferUsageTransferDstBit, nil)
	if err != nil {
		return nil, err
	}
	defer staging.destroy(d.ctx)

	err = d.singleUse(func(cmd vk.CommandBuffer) error {
		imageBarrier(cmd, img, vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal)
		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageOffset: vk.Offset3D{X: int32(x), Y: int32(y)},
			ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
		}
		vk.CmdCopyImageToBuffer(cmd, img.Handle, vk.ImageLayoutTransferSrcOptimal, staging.Handle, 1, []vk.BufferImageCopy{region})
		imageBarrier(cmd, img, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutColorAttachmentOptimal)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var pData unsafe.Pointer
	if res := vk.MapMemory(d.ctx.LogicalDevice, staging.Memory, 0, vk.DeviceSize(size), 0, &pData); res != vk.Success {
		return nil, core.Errorf("failed to map readback buffer: %s", VulkanResultString(res, true))
	}
	out := make([]uint8, size)
	copy(out, unsafe.Slice((*uint8)(pData), size))
	vk.UnmapMemory(d.ctx.LogicalDevice, staging.Memory)

	if img.Format == vk.FormatB8g8r8a8Unorm {
		for i := 0; i < len(out); i += 4 {
			out[i], out[i+2] = out[i+2], out[i]
		}
	}
	return out, nil
}

func (d *Device) textureImage(tex *metadata.Texture) (*vulkanImage, error) {
	if tex == nil {
		return nil, core.Errorf("vulkan device: nil texture")
	}
	img, ok := d.handles.Owner(tex.ID).(*vulkanImage)
	if !ok {
		return nil, core.Errorf("vulkan device: texture %s (id %d) is not alive", tex.Name, tex.ID)
	}
	return img, nil
}

func (d *Device) bufferFor(b *metadata.Buffer) (*vulkanBuffer, error) {
	if b == nil {
		return nil, core.Errorf("vulkan device: nil buffer")
	}
	buf, ok := d.handles.Owner(b.ID).(*vulkanBuffer)
	if !ok {
		return nil, core.Errorf("vulkan device: buffer %s (id %d) is not alive", b.Name, b.ID)
	}
	return buf, nil
}

func (d *Device) pipelineFor(p *metadata.Pipeline) (*importedPipeline, error) {
	if p == nil {
		return nil, core.Errorf("vulkan device: nil pipeline")
	}
	native, ok := d.handles.Owner(p.ID).(*importedPipeline)
	if !ok {
		return nil, core.Errorf("vulkan device: pipeline %s (id %d) is not alive", p.Name, p.ID)
	}
	return native, nil
}

func (d *Device) heapFor(heap *metadata.ResourceHeap) ([]vk.DescriptorSet, vk.PipelineLayout, error) {
	if heap == nil {
		return nil, nil, core.Errorf("vulkan device: nil resource heap")
	}
	h, ok := d.handles.Owner(heap.ID).(*importedHeap)
	if !ok {
		return nil, nil, core.Errorf("vulkan device: resource heap %s (id %d) is not alive", heap.Name, heap.ID)
	}
	return h.sets, h.layout, nil
}

func (d *Device) queryPoolFor(pool *metadata.QueryPool) (*vulkanQueryPool, error) {
	if pool == nil {
		return nil, core.Errorf("vulkan device: nil query pool")
	}
	qp, ok := d.handles.Owner(pool.ID).(*vulkanQueryPool)
	if !ok {
		return nil, core.Errorf("vulkan device: query pool %s (id %d) is not alive", pool.Name, pool.ID)
	}
	return qp, nil
}

func init() {
	device.Register("vulkan", func(opts device.Options) (device.Device, error) {
		ctx, ok := opts.Native.(*Context)
		if !ok {
			return nil, core.Errorf("vulkan backend needs Options.Native to carry a *vulkan.Context")
		}
		return New(ctx)
	})
}
