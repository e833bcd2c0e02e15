package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// vulkanAttachment is one collected binding. Views created for a specific
// subresource belong to the framebuffer; renderbuffer views do not.
type vulkanAttachment struct {
	image    *vulkanImage
	view     vk.ImageView
	ownsView bool
}

/**
 * @brief A native framebuffer under construction. Attach calls collect
 * views; Validate derives a render pass from the collected formats and
 * builds the VkFramebuffer. Attachment slot order is colours by index, then
 * depth/stencil, which keeps clear-entry colour indices aligned with the
 * subpass references.
 */
type vulkanFramebuffer struct {
	dev          *Device
	id           uint32
	extent       metadata.Extent2D
	colour       map[int]*vulkanAttachment
	depthStencil *vulkanAttachment
	drawBuffers  int

	renderPass vk.RenderPass
	handle     vk.Framebuffer
	complete   bool
	released   bool
}

func newVulkanFramebuffer(dev *Device, extent metadata.Extent2D) *vulkanFramebuffer {
	return &vulkanFramebuffer{
		dev:    dev,
		extent: extent,
		colour: make(map[int]*vulkanAttachment),
	}
}

func (fb *vulkanFramebuffer) attach(binding device.AttachmentBinding, att *vulkanAttachment) error {
	if fb.complete {
		return core.Errorf("cannot attach to a validated framebuffer")
	}
	if binding.Aspect.IsColour() {
		if previous := fb.colour[binding.Index]; previous != nil && previous.ownsView {
			vk.DestroyImageView(fb.dev.ctx.LogicalDevice, previous.view, fb.dev.ctx.Allocator)
		}
		fb.colour[binding.Index] = att
		return nil
	}
	if previous := fb.depthStencil; previous != nil && previous.ownsView {
		vk.DestroyImageView(fb.dev.ctx.LogicalDevice, previous.view, fb.dev.ctx.Allocator)
	}
	fb.depthStencil = att
	return nil
}

func (fb *vulkanFramebuffer) AttachRenderbuffer(binding device.AttachmentBinding, rb device.Renderbuffer) error {
	vrb, ok := rb.(*vulkanRenderbuffer)
	if !ok {
		return core.Errorf("renderbuffer comes from another backend")
	}
	return fb.attach(binding, &vulkanAttachment{image: vrb.image, view: vrb.image.View})
}

func (fb *vulkanFramebuffer) attachTexture(binding device.AttachmentBinding, tex *metadata.Texture, viewType vk.ImageViewType, mipLevel, baseLayer uint32) error {
	img, err := fb.dev.textureImage(tex)
	if err != nil {
		return err
	}
	view, err := img.subView(fb.dev.ctx, viewType, mipLevel, baseLayer, 1)
	if err != nil {
		return err
	}
	return fb.attach(binding, &vulkanAttachment{image: img, view: view, ownsView: true})
}

func (fb *vulkanFramebuffer) AttachTexture1D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel uint32) error {
	return fb.attachTexture(binding, tex, vk.ImageViewType1d, mipLevel, 0)
}

func (fb *vulkanFramebuffer) AttachTexture2D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel uint32, multisample bool) error {
	// The sample count rides on the image, no view-level distinction.
	return fb.attachTexture(binding, tex, vk.ImageViewType2d, mipLevel, 0)
}

func (fb *vulkanFramebuffer) AttachTexture3D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, zSlice uint32) error {
	// Volume images carry Image2dArrayCompatible, so a slice is a layer.
	return fb.attachTexture(binding, tex, vk.ImageViewType2d, mipLevel, zSlice)
}

func (fb *vulkanFramebuffer) AttachTextureCube(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, face uint32) error {
	return fb.attachTexture(binding, tex, vk.ImageViewType2d, mipLevel, face)
}

func (fb *vulkanFramebuffer) AttachTextureLayer(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, layer uint32) error {
	return fb.attachTexture(binding, tex, vk.ImageViewType2d, mipLevel, layer)
}

func (fb *vulkanFramebuffer) SetNoAttachmentExtent(extent metadata.Extent2D) error {
	return device.ErrNotSupported
}

func (fb *vulkanFramebuffer) SetDrawBuffers(count int) error {
	if count < 0 || count > len(fb.colour) {
		return core.Errorf("draw buffer count %d does not match %d colour attachments", count, len(fb.colour))
	}
	fb.drawBuffers = count
	return nil
}

func (fb *vulkanFramebuffer) Validate() error {
	if fb.released {
		return core.Errorf("framebuffer already released")
	}
	if fb.complete {
		return nil
	}

	numColour := len(fb.colour)
	if numColour == 0 && fb.depthStencil == nil {
		return core.Errorf("framebuffer incomplete: no attachments")
	}

	attachmentCount := numColour
	if fb.depthStencil != nil {
		attachmentCount++
	}
	descriptions := make([]vk.AttachmentDescription, 0, attachmentCount)
	views := make([]vk.ImageView, 0, attachmentCount)
	colourReferences := make([]vk.AttachmentReference, 0, numColour)

	samples := vk.SampleCountFlagBits(0)
	note := func(att *vulkanAttachment) error {
		if att.image.Width != fb.extent.Width || att.image.Height != fb.extent.Height {
			return core.Errorf("framebuffer incomplete: attachment is %dx%d, framebuffer is %dx%d",
				att.image.Width, att.image.Height, fb.extent.Width, fb.extent.Height)
		}
		if samples == 0 {
			samples = att.image.Samples
		} else if samples != att.image.Samples {
			return core.Errorf("framebuffer incomplete: attachments disagree on sample count")
		}
		return nil
	}

	for i := 0; i < numColour; i++ {
		att := fb.colour[i]
		if att == nil {
			return core.Errorf("framebuffer incomplete: colour attachment %d missing", i)
		}
		if err := note(att); err != nil {
			return err
		}
		// Attachments live in the optimal layout for their whole life, so
		// loads observe prior contents and clears are explicit commands.
		description := vk.AttachmentDescription{
			Format:         att.image.Format,
			Samples:        att.image.Samples,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		}
		description.Deref()
		descriptions = append(descriptions, description)
		views = append(views, att.view)
		colourReferences = append(colourReferences, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(numColour),
		PColorAttachments:    colourReferences,
	}

	if ds := fb.depthStencil; ds != nil {
		if err := note(ds); err != nil {
			return err
		}
		description := vk.AttachmentDescription{
			Format:         ds.image.Format,
			Samples:        ds.image.Samples,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		description.Deref()
		descriptions = append(descriptions, description)
		views = append(views, ds.view)

		depthStencilReference := vk.AttachmentReference{
			Attachment: uint32(numColour),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		depthStencilReference.Deref()
		subpass.PDepthStencilAttachment = &depthStencilReference
	}
	subpass.Deref()

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}
	if fb.depthStencil != nil {
		fragmentTests := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
		dependency.SrcStageMask |= fragmentTests
		dependency.DstStageMask |= fragmentTests
		dependency.DstAccessMask |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}
	dependency.Deref()

	renderPassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	renderPassCreateInfo.Deref()

	var renderPass vk.RenderPass
	if res := vk.CreateRenderPass(fb.dev.ctx.LogicalDevice, &renderPassCreateInfo, fb.dev.ctx.Allocator, &renderPass); res != vk.Success {
		return core.Errorf("failed to create render pass: %s", VulkanResultString(res, true))
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           fb.extent.Width,
		Height:          fb.extent.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(fb.dev.ctx.LogicalDevice, &framebufferCreateInfo, fb.dev.ctx.Allocator, &handle); res != vk.Success {
		vk.DestroyRenderPass(fb.dev.ctx.LogicalDevice, renderPass, fb.dev.ctx.Allocator)
		return core.Errorf("failed to create framebuffer: %s", VulkanResultString(res, true))
	}

	fb.renderPass = renderPass
	fb.handle = handle
	fb.complete = true
	return nil
}

func (fb *vulkanFramebuffer) ReadPixels(colourIndex int, x, y, w, h uint32) ([]uint8, error) {
	att := fb.colour[colourIndex]
	if att == nil {
		return nil, core.Errorf("no colour attachment at index %d", colourIndex)
	}
	if att.image.Samples != vk.SampleCount1Bit {
		return nil, core.Errorf("cannot read back a multisampled attachment, resolve it first")
	}
	return fb.dev.readImagePixels(att.image, x, y, w, h)
}

func (fb *vulkanFramebuffer) Release() {
	if fb.released {
		return
	}
	fb.released = true
	if fb.handle != nil {
		vk.DestroyFramebuffer(fb.dev.ctx.LogicalDevice, fb.handle, fb.dev.ctx.Allocator)
		fb.handle = nil
	}
	if fb.renderPass != nil {
		vk.DestroyRenderPass(fb.dev.ctx.LogicalDevice, fb.renderPass, fb.dev.ctx.Allocator)
		fb.renderPass = nil
	}
	for _, att := range fb.colour {
		if att.ownsView {
			vk.DestroyImageView(fb.dev.ctx.LogicalDevice, att.view, fb.dev.ctx.Allocator)
		}
	}
	if fb.depthStencil != nil && fb.depthStencil.ownsView {
		vk.DestroyImageView(fb.dev.ctx.LogicalDevice, fb.depthStencil.view, fb.dev.ctx.Allocator)
	}
	fb.colour = nil
	fb.depthStencil = nil
	if err := fb.dev.handles.Release(fb.id); err != nil {
		core.LogWarn("%s", err.Error())
	}
}

// vulkanRenderbuffer owns an attachment image created without a user
// texture, such as the multisample planes behind a resolve target.
type vulkanRenderbuffer struct {
	dev      *Device
	id       uint32
	image    *vulkanImage
	released bool
}

func (rb *vulkanRenderbuffer) Release() {
	if rb.released {
		return
	}
	rb.released = true
	rb.image.destroy(rb.dev.ctx)
	if err := rb.dev.handles.Release(rb.id); err != nil {
		core.LogWarn("%s", err.Error())
	}
}
