package renderer

import (
	"github.com/google/uuid"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// RenderTarget is an offscreen surface render passes draw into. The primary
// framebuffer holds the attachment textures; when multisampling is enabled
// on a device that cannot resolve directly into textures, an extra
// multisample framebuffer with one renderbuffer per colour attachment is
// rendered into instead, and Resolve copies it back out.
type RenderTarget struct {
	ID uuid.UUID

	dev  device.Device
	caps device.Caps

	extent  metadata.Extent2D
	samples uint32

	primary     device.Framebuffer
	multisample device.Framebuffer

	// Owned surfaces released with the target: per-colour multisample
	// renderbuffers, the dummy colour buffer of headless targets, and the
	// depth/stencil renderbuffer of texture-less depth/stencil attachments.
	colourRenderbuffers      []device.Renderbuffer
	depthStencilRenderbuffer device.Renderbuffer

	numColourAttachments int
	hasDepth             bool
	hasStencil           bool

	// Aspects with content worth copying out, accumulated while attaching.
	blitMask metadata.AttachmentType

	debugName string
}

// NewRenderTarget builds a render target from cfg. The attachment list is
// counted and checked against the device limits before anything native is
// allocated, so an oversized or malformed list fails without leaking. Any
// failure after allocation starts releases everything created so far.
func NewRenderTarget(dev device.Device, cfg *metadata.RenderTargetConfig) (*RenderTarget, error) {
	caps := dev.Caps()

	name := cfg.DebugName
	if name == "" {
		name = "rendertarget"
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, core.Errorf("render target %s: resolution %dx%d is not renderable", name, cfg.Width, cfg.Height)
	}

	// Count before allocating.
	numColour := 0
	numDepthStencil := 0
	for i, att := range cfg.Attachments {
		if att == nil {
			return nil, core.Errorf("render target %s: attachment %d is nil", name, i)
		}
		switch {
		case att.Type == metadata.ATTACHMENT_TYPE_COLOUR:
			if att.Texture == nil {
				return nil, core.Errorf("render target %s: colour attachment %d has no texture", name, i)
			}
			numColour++
		case att.Type.IsDepthStencil() && !att.Type.IsColour():
			numDepthStencil++
		default:
			return nil, core.Errorf("render target %s: attachment %d mixes colour and depth/stencil aspects", name, i)
		}
	}

	limit := caps.MaxColourAttachments
	if limit <= 0 || limit > metadata.MAX_COLOUR_ATTACHMENTS {
		limit = metadata.MAX_COLOUR_ATTACHMENTS
	}
	if numColour > limit {
		return nil, core.Errorf("render target %s: %d colour attachments exceed the device limit of %d", name, numColour, limit)
	}
	if numDepthStencil > 1 {
		return nil, core.Errorf("render target %s: %d depth/stencil attachments, at most one is allowed", name, numDepthStencil)
	}

	samples := cfg.Samples
	if samples == 0 {
		samples = 1
	}
	if caps.MaxSamples > 0 && samples > caps.MaxSamples {
		core.LogWarn("render target %s: %d samples clamped to the device maximum of %d", name, samples, caps.MaxSamples)
		samples = caps.MaxSamples
	}

	rt := &RenderTarget{
		ID:        uuid.New(),
		dev:       dev,
		caps:      caps,
		extent:    metadata.Extent2D{Width: cfg.Width, Height: cfg.Height},
		samples:   samples,
		debugName: name,
	}

	primary, err := dev.CreateFramebuffer(rt.extent)
	if err != nil {
		return nil, core.Errorf("render target %s: failed to create framebuffer: %w", name, err)
	}
	rt.primary = primary

	if len(cfg.Attachments) == 0 {
		if err := rt.buildHeadless(); err != nil {
			rt.Release()
			return nil, err
		}
		core.LogDebug("render target %s created headless at %dx%d", name, cfg.Width, cfg.Height)
		return rt, nil
	}

	if err := rt.buildAttachments(cfg.Attachments, numColour); err != nil {
		rt.Release()
		return nil, err
	}

	core.LogDebug("render target %s created with %d colour attachment(s), depth=%t stencil=%t, %d sample(s)",
		name, rt.numColourAttachments, rt.hasDepth, rt.hasStencil, rt.samples)
	return rt, nil
}

// buildHeadless configures a target with no attachments. Devices with
// no-attachment framebuffers just take the extent; everything else gets a
// dummy colour renderbuffer so the framebuffer is complete, with zero draw
// buffers so fragment output is discarded.
func (rt *RenderTarget) buildHeadless() error {
	if rt.caps.HasNoAttachmentFramebuffer {
		if err := rt.primary.SetNoAttachmentExtent(rt.extent); err != nil {
			return core.Errorf("render target %s: failed to size no-attachment framebuffer: %w", rt.debugName, err)
		}
	} else {
		dummy, err := rt.dev.CreateRenderbuffer(metadata.FormatRGBA8, rt.extent, rt.samples)
		if err != nil {
			return core.Errorf("render target %s: failed to create dummy colour buffer: %w", rt.debugName, err)
		}
		rt.colourRenderbuffers = append(rt.colourRenderbuffers, dummy)
		binding := device.AttachmentBinding{Aspect: metadata.ATTACHMENT_TYPE_COLOUR, Index: 0}
		if err := rt.primary.AttachRenderbuffer(binding, dummy); err != nil {
			return core.Errorf("render target %s: failed to attach dummy colour buffer: %w", rt.debugName, err)
		}
	}
	if err := rt.primary.SetDrawBuffers(0); err != nil {
		return core.Errorf("render target %s: failed to configure draw buffers: %w", rt.debugName, err)
	}
	if err := rt.primary.Validate(); err != nil {
		return core.Errorf("render target %s: headless framebuffer incomplete: %w", rt.debugName, err)
	}
	return nil
}

func (rt *RenderTarget) buildAttachments(attachments []*metadata.AttachmentConfig, numColour int) error {
	// The multisample framebuffer exists before anything attaches, because
	// the depth/stencil surface must land on whichever framebuffer is
	// rendered into.
	if rt.samples > 1 && !rt.caps.CanResolveIntoTextures && numColour > 0 {
		ms, err := rt.dev.CreateFramebuffer(rt.extent)
		if err != nil {
			return core.Errorf("render target %s: failed to create multisample framebuffer: %w", rt.debugName, err)
		}
		rt.multisample = ms
	}

	// Depth/stencil first. Attach order matters to devices that derive
	// framebuffer properties from the first attachment they see.
	for _, att := range attachments {
		if att.Type.IsColour() {
			continue
		}
		if err := rt.attachDepthStencil(att); err != nil {
			return err
		}
	}

	colourIndex := 0
	for _, att := range attachments {
		if !att.Type.IsColour() {
			continue
		}
		if err := rt.attachColour(att, colourIndex); err != nil {
			return err
		}
		colourIndex++
	}
	rt.numColourAttachments = numColour
	if numColour > 0 {
		rt.blitMask |= metadata.ATTACHMENT_TYPE_COLOUR
	}

	if err := rt.primary.SetDrawBuffers(numColour); err != nil {
		return core.Errorf("render target %s: failed to configure draw buffers: %w", rt.debugName, err)
	}
	if err := rt.primary.Validate(); err != nil {
		return core.Errorf("render target %s: framebuffer incomplete: %w", rt.debugName, err)
	}

	if rt.multisample != nil {
		if err := rt.multisample.SetDrawBuffers(numColour); err != nil {
			return core.Errorf("render target %s: failed to configure multisample draw buffers: %w", rt.debugName, err)
		}
		if err := rt.multisample.Validate(); err != nil {
			return core.Errorf("render target %s: multisample framebuffer incomplete: %w", rt.debugName, err)
		}
	}
	return nil
}

// attachDepthStencil puts the depth/stencil surface on the framebuffer
// rendering happens into. Without a texture an owned renderbuffer is
// created, defaulting its format from the requested aspects.
func (rt *RenderTarget) attachDepthStencil(att *metadata.AttachmentConfig) error {
	binding := device.AttachmentBinding{Aspect: att.Type}
	fb := rt.renderFramebuffer()

	if att.Texture == nil {
		format := att.Format
		if format == metadata.FormatUnknown {
			switch att.Type {
			case metadata.ATTACHMENT_TYPE_DEPTH:
				format = metadata.FormatD32F
			case metadata.ATTACHMENT_TYPE_STENCIL:
				format = metadata.FormatS8
			default:
				format = metadata.FormatD24S8
			}
		}
		rb, err := rt.dev.CreateRenderbuffer(format, rt.extent, rt.samples)
		if err != nil {
			return core.Errorf("render target %s: failed to create depth/stencil buffer: %w", rt.debugName, err)
		}
		rt.depthStencilRenderbuffer = rb
		if err := fb.AttachRenderbuffer(binding, rb); err != nil {
			return core.Errorf("render target %s: failed to attach depth/stencil buffer: %w", rt.debugName, err)
		}
		rt.noteDepthStencil(att.Type, format)
		return nil
	}

	if err := rt.attachTexture(fb, binding, att); err != nil {
		return err
	}
	rt.noteDepthStencil(att.Type, att.Texture.Format)
	return nil
}

func (rt *RenderTarget) noteDepthStencil(aspect metadata.AttachmentType, format metadata.Format) {
	if aspect&metadata.ATTACHMENT_TYPE_DEPTH != 0 && format.HasDepth() {
		rt.hasDepth = true
		rt.blitMask |= metadata.ATTACHMENT_TYPE_DEPTH
	}
	if aspect&metadata.ATTACHMENT_TYPE_STENCIL != 0 && format.HasStencil() {
		rt.hasStencil = true
		rt.blitMask |= metadata.ATTACHMENT_TYPE_STENCIL
	}
}

// attachColour binds the attachment texture to the primary framebuffer and,
// when a multisample framebuffer exists, pairs it with a fresh multisample
// renderbuffer of the same format there.
func (rt *RenderTarget) attachColour(att *metadata.AttachmentConfig, index int) error {
	binding := device.AttachmentBinding{Aspect: metadata.ATTACHMENT_TYPE_COLOUR, Index: index}

	if err := rt.attachTexture(rt.primary, binding, att); err != nil {
		return err
	}

	if rt.multisample != nil {
		rb, err := rt.dev.CreateRenderbuffer(att.Texture.Format, rt.extent, rt.samples)
		if err != nil {
			return core.Errorf("render target %s: failed to create multisample buffer for colour attachment %d: %w", rt.debugName, index, err)
		}
		rt.colourRenderbuffers = append(rt.colourRenderbuffers, rb)
		if err := rt.multisample.AttachRenderbuffer(binding, rb); err != nil {
			return core.Errorf("render target %s: failed to attach multisample buffer for colour attachment %d: %w", rt.debugName, index, err)
		}
	}
	return nil
}

// attachTexture routes to the attach call matching the texture
// dimensionality.
func (rt *RenderTarget) attachTexture(fb device.Framebuffer, binding device.AttachmentBinding, att *metadata.AttachmentConfig) error {
	tex := att.Texture
	var err error
	switch tex.TextureType {
	case metadata.TextureType1d:
		err = fb.AttachTexture1D(binding, tex, att.MipLevel)
	case metadata.TextureType2d:
		err = fb.AttachTexture2D(binding, tex, att.MipLevel, false)
	case metadata.TextureType2dMultisample:
		err = fb.AttachTexture2D(binding, tex, att.MipLevel, true)
	case metadata.TextureType3d:
		err = fb.AttachTexture3D(binding, tex, att.MipLevel, att.Layer)
	case metadata.TextureTypeCube:
		err = fb.AttachTextureCube(binding, tex, att.MipLevel, att.Layer)
	case metadata.TextureType1dArray, metadata.TextureType2dArray,
		metadata.TextureTypeCubeArray, metadata.TextureType2dMultisampleArray:
		err = fb.AttachTextureLayer(binding, tex, att.MipLevel, att.Layer)
	default:
		return core.Errorf("render target %s: texture %s has unknown type %d", rt.debugName, tex.Name, tex.TextureType)
	}
	if err != nil {
		return core.Errorf("render target %s: failed to attach texture %s: %w", rt.debugName, tex.Name, err)
	}
	return nil
}

// renderFramebuffer returns the framebuffer render passes draw into.
func (rt *RenderTarget) renderFramebuffer() device.Framebuffer {
	if rt.multisample != nil {
		return rt.multisample
	}
	return rt.primary
}

// Resolve copies multisampled colour content into the attachment textures,
// one blit per colour attachment. Self-contained: it touches no command
// buffer and can run at any point after the pass ends. A no-op on targets
// without a multisample framebuffer.
func (rt *RenderTarget) Resolve() error {
	if rt.multisample == nil {
		return nil
	}
	for i := 0; i < rt.numColourAttachments; i++ {
		if err := rt.dev.Blit(rt.primary, rt.multisample, i, rt.extent, metadata.ATTACHMENT_TYPE_COLOUR); err != nil {
			return core.Errorf("render target %s: failed to resolve colour attachment %d: %w", rt.debugName, i, err)
		}
	}
	return nil
}

// BlitToScreen copies the first colour attachment, and whatever else the
// blit mask carries, onto the display back buffer.
func (rt *RenderTarget) BlitToScreen() error {
	if err := rt.dev.Blit(nil, rt.renderFramebuffer(), 0, rt.extent, rt.blitMask); err != nil {
		return core.Errorf("render target %s: failed to blit to screen: %w", rt.debugName, err)
	}
	return nil
}

// ReadPixels returns the full contents of a colour attachment as tightly
// packed RGBA8 rows. Multisampled targets are resolved first so the read
// sees single-sample data. Devices without a readback path return
// device.ErrNotSupported.
func (rt *RenderTarget) ReadPixels(colourIndex int) ([]uint8, error) {
	if colourIndex < 0 || colourIndex >= rt.numColourAttachments {
		return nil, core.Errorf("render target %s: colour attachment %d out of range (%d bound)", rt.debugName, colourIndex, rt.numColourAttachments)
	}
	if err := rt.Resolve(); err != nil {
		return nil, err
	}
	pixels, err := rt.primary.ReadPixels(colourIndex, 0, 0, rt.extent.Width, rt.extent.Height)
	if err != nil {
		return nil, core.Errorf("render target %s: failed to read colour attachment %d: %w", rt.debugName, colourIndex, err)
	}
	return pixels, nil
}

// NumColourAttachments returns how many colour attachments are bound. The
// dummy buffer of headless targets does not count.
func (rt *RenderTarget) NumColourAttachments() int {
	return rt.numColourAttachments
}

// HasDepthAttachment reports whether the target carries a depth aspect.
func (rt *RenderTarget) HasDepthAttachment() bool {
	return rt.hasDepth
}

// HasStencilAttachment reports whether the target carries a stencil aspect.
func (rt *RenderTarget) HasStencilAttachment() bool {
	return rt.hasStencil
}

// Extent returns the target resolution.
func (rt *RenderTarget) Extent() metadata.Extent2D {
	return rt.extent
}

// Samples returns the effective sample count after clamping.
func (rt *RenderTarget) Samples() uint32 {
	return rt.samples
}

// Release frees the framebuffers and every owned renderbuffer. Safe on
// partially constructed targets and safe to call twice.
func (rt *RenderTarget) Release() {
	for _, rb := range rt.colourRenderbuffers {
		rb.Release()
	}
	rt.colourRenderbuffers = nil
	if rt.depthStencilRenderbuffer != nil {
		rt.depthStencilRenderbuffer.Release()
		rt.depthStencilRenderbuffer = nil
	}
	if rt.multisample != nil {
		rt.multisample.Release()
		rt.multisample = nil
	}
	if rt.primary != nil {
		rt.primary.Release()
		rt.primary = nil
	}
}
