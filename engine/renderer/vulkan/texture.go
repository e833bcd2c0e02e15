package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

func vulkanFormat(format metadata.Format) (vk.Format, error) {
	switch format {
	case metadata.FormatRGBA8:
		return vk.FormatR8g8b8a8Unorm, nil
	case metadata.FormatBGRA8:
		return vk.FormatB8g8r8a8Unorm, nil
	case metadata.FormatRGBA16F:
		return vk.FormatR16g16b16a16Sfloat, nil
	case metadata.FormatRGBA32F:
		return vk.FormatR32g32b32a32Sfloat, nil
	case metadata.FormatD32F:
		return vk.FormatD32Sfloat, nil
	case metadata.FormatD24S8:
		return vk.FormatD24UnormS8Uint, nil
	case metadata.FormatS8:
		return vk.FormatS8Uint, nil
	default:
		return vk.FormatUndefined, core.Errorf("format %d has no vulkan equivalent", format)
	}
}

func vulkanAspectMask(format metadata.Format) vk.ImageAspectFlags {
	var mask vk.ImageAspectFlags
	if format.IsColour() {
		mask |= vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if format.HasDepth() {
		mask |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if format.HasStencil() {
		mask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return mask
}

func vulkanSampleCount(samples uint32) vk.SampleCountFlagBits {
	switch {
	case samples >= 64:
		return vk.SampleCount64Bit
	case samples >= 32:
		return vk.SampleCount32Bit
	case samples >= 16:
		return vk.SampleCount16Bit
	case samples >= 8:
		return vk.SampleCount8Bit
	case samples >= 4:
		return vk.SampleCount4Bit
	case samples >= 2:
		return vk.SampleCount2Bit
	default:
		return vk.SampleCount1Bit
	}
}

func vulkanImageType(textureType metadata.TextureType) vk.ImageType {
	switch textureType {
	case metadata.TextureType1d, metadata.TextureType1dArray:
		return vk.ImageType1d
	case metadata.TextureType3d:
		return vk.ImageType3d
	default:
		return vk.ImageType2d
	}
}

func vulkanViewType(textureType metadata.TextureType) vk.ImageViewType {
	switch textureType {
	case metadata.TextureType1d:
		return vk.ImageViewType1d
	case metadata.TextureType1dArray:
		return vk.ImageViewType1dArray
	case metadata.TextureType3d:
		return vk.ImageViewType3d
	case metadata.TextureTypeCube:
		return vk.ImageViewTypeCube
	case metadata.TextureTypeCubeArray:
		return vk.ImageViewTypeCubeArray
	case metadata.TextureType2dArray, metadata.TextureType2dMultisampleArray:
		return vk.ImageViewType2dArray
	default:
		return vk.ImageViewType2d
	}
}

/**
 * @brief A device-local image with its memory and default view. Backs both
 * user textures and attachment renderbuffers.
 */
type vulkanImage struct {
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	Format  vk.Format
	Aspects vk.ImageAspectFlags
	Width   uint32
	Height  uint32
	Layers  uint32
	Samples vk.SampleCountFlagBits
	// Layout tracks the transitions issued by the transfer helpers.
	Layout vk.ImageLayout
}

func newVulkanImage(ctx *Context, cfg *metadata.TextureConfig) (*vulkanImage, error) {
	format, err := vulkanFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	if cfg.Format.IsColour() {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit)
	} else {
		usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}

	depth := uint32(1)
	layers := max(cfg.Layers, 1)
	var flags vk.ImageCreateFlags
	switch cfg.Type {
	case metadata.TextureType3d:
		// Volume depth travels in the Layers field. Slices must be
		// attachable as 2D views.
		depth = layers
		layers = 1
		flags = vk.ImageCreateFlags(vk.ImageCreate2dArrayCompatibleBit)
	case metadata.TextureTypeCube:
		layers = 6
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	case metadata.TextureTypeCubeArray:
		layers *= 6
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: vulkanImageType(cfg.Type),
		Format:    format,
		Extent: vk.Extent3D{
			Width:  cfg.Width,
			Height: cfg.Height,
			Depth:  depth,
		},
		MipLevels:     max(cfg.MipLevels, 1),
		ArrayLayers:   layers,
		Samples:       vulkanSampleCount(cfg.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var handle vk.Image
	if res := vk.CreateImage(ctx.LogicalDevice, &imageCreateInfo, ctx.Allocator, &handle); res != vk.Success {
		return nil, core.Errorf("failed to create image %s: %s", cfg.Name, VulkanResultString(res, true))
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.LogicalDevice, handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := ctx.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryType < 0 {
		vk.DestroyImage(ctx.LogicalDevice, handle, ctx.Allocator)
		return nil, core.Errorf("no device-local memory type for image %s", cfg.Name)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.LogicalDevice, &allocateInfo, ctx.Allocator, &memory); res != vk.Success {
		vk.DestroyImage(ctx.LogicalDevice, handle, ctx.Allocator)
		return nil, core.Errorf("failed to allocate image memory for %s: %s", cfg.Name, VulkanResultString(res, true))
	}
	vk.BindImageMemory(ctx.LogicalDevice, handle, memory, 0)

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vulkanViewType(cfg.Type),
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vulkanAspectMask(cfg.Format),
			BaseMipLevel:   0,
			LevelCount:     max(cfg.MipLevels, 1),
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(ctx.LogicalDevice, &viewCreateInfo, ctx.Allocator, &view); res != vk.Success {
		vk.FreeMemory(ctx.LogicalDevice, memory, ctx.Allocator)
		vk.DestroyImage(ctx.LogicalDevice, handle, ctx.Allocator)
		return nil, core.Errorf("failed to create image view for %s: %s", cfg.Name, VulkanResultString(res, true))
	}

	return &vulkanImage{
		Handle:  handle,
		Memory:  memory,
		View:    view,
		Format:  format,
		Aspects: vulkanAspectMask(cfg.Format),
		Width:   cfg.Width,
		Height:  cfg.Height,
		Layers:  layers,
		Samples: vulkanSampleCount(cfg.Samples),
		Layout:  vk.ImageLayoutUndefined,
	}, nil
}

// subView builds a single-subresource view for framebuffer attachment. The
// caller owns the returned view and must destroy it with the framebuffer.
func (img *vulkanImage) subView(ctx *Context, viewType vk.ImageViewType, mipLevel, baseLayer, layerCount uint32) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: viewType,
		Format:   img.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     img.Aspects,
			BaseMipLevel:   mipLevel,
			LevelCount:     1,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(ctx.LogicalDevice, &viewCreateInfo, ctx.Allocator, &view); res != vk.Success {
		return nil, core.Errorf("failed to create attachment view: %s", VulkanResultString(res, true))
	}
	return view, nil
}

func (img *vulkanImage) destroy(ctx *Context) {
	if img.View != nil {
		vk.DestroyImageView(ctx.LogicalDevice, img.View, ctx.Allocator)
		img.View = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(ctx.LogicalDevice, img.Handle, ctx.Allocator)
		img.Handle = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(ctx.LogicalDevice, img.Memory, ctx.Allocator)
		img.Memory = nil
	}
}

/**
 * @brief A host-visible buffer. Vertex and index data for this adapter stay
 * host-visible so uploads are a map and a copy, no staging pass.
 */
type vulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
}

func newVulkanBuffer(ctx *Context, size uint64, usage vk.BufferUsageFlagBits, data []byte) (*vulkanBuffer, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(ctx.LogicalDevice, &bufferCreateInfo, ctx.Allocator, &handle); res != vk.Success {
		return nil, core.Errorf("failed to create buffer: %s", VulkanResultString(res, true))
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.LogicalDevice, handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := ctx.FindMemoryIndex(memoryRequirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryType < 0 {
		vk.DestroyBuffer(ctx.LogicalDevice, handle, ctx.Allocator)
		return nil, core.Errorf("no host-visible memory type for buffer")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.LogicalDevice, &allocateInfo, ctx.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(ctx.LogicalDevice, handle, ctx.Allocator)
		return nil, core.Errorf("failed to allocate buffer memory: %s", VulkanResultString(res, true))
	}
	vk.BindBufferMemory(ctx.LogicalDevice, handle, memory, 0)

	buffer := &vulkanBuffer{Handle: handle, Memory: memory, Size: size}
	if len(data) > 0 {
		if err := buffer.upload(ctx, 0, data); err != nil {
			buffer.destroy(ctx)
			return nil, err
		}
	}
	return buffer, nil
}

func (b *vulkanBuffer) upload(ctx *Context, offset uint64, data []byte) error {
	var pData unsafe.Pointer
	if res := vk.MapMemory(ctx.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &pData); res != vk.Success {
		return core.Errorf("failed to map buffer memory: %s", VulkanResultString(res, true))
	}
	n := vk.Memcopy(pData, data)
	vk.UnmapMemory(ctx.LogicalDevice, b.Memory)
	if n != len(data) {
		return core.Errorf("short buffer upload, copied %d of %d bytes", n, len(data))
	}
	return nil
}

func (b *vulkanBuffer) destroy(ctx *Context) {
	if b.Handle != nil {
		vk.DestroyBuffer(ctx.LogicalDevice, b.Handle, ctx.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(ctx.LogicalDevice, b.Memory, ctx.Allocator)
		b.Memory = nil
	}
}
