package soft

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// surface is one plane of pixel storage. Multisampling is modelled as a
// supersampled grid: a surface with sample factors (sx, sy) stores sx*sy
// samples per logical pixel, laid out as an image of w*sx by h*sy.
type surface struct {
	w, h   uint32
	sx, sy int

	img     *image.RGBA
	depth   []float32
	stencil []uint8
}

// sampleGrid maps a sample count onto grid factors. Counts between the
// supported steps round down.
func sampleGrid(samples uint32) (int, int) {
	switch {
	case samples >= 8:
		return 4, 2
	case samples >= 4:
		return 2, 2
	case samples >= 2:
		return 2, 1
	}
	return 1, 1
}

func newSurface(format metadata.Format, extent metadata.Extent2D, samples uint32) *surface {
	sx, sy := sampleGrid(samples)
	s := &surface{w: extent.Width, h: extent.Height, sx: sx, sy: sy}
	pixels := int(extent.Width) * sx * int(extent.Height) * sy
	if format.IsColour() {
		s.img = image.NewRGBA(image.Rect(0, 0, int(extent.Width)*sx, int(extent.Height)*sy))
	}
	if format.HasDepth() {
		s.depth = make([]float32, pixels)
		for i := range s.depth {
			s.depth[i] = 1.0
		}
	}
	if format.HasStencil() {
		s.stencil = make([]uint8, pixels)
	}
	return s
}

func (s *surface) pixelWidth() int  { return int(s.w) * s.sx }
func (s *surface) pixelHeight() int { return int(s.h) * s.sy }

func (s *surface) multisampled() bool { return s.sx != 1 || s.sy != 1 }

// physicalRect scales a logical rectangle by the sample factors and clamps
// it to the surface.
func (s *surface) physicalRect(r metadata.ScissorRect) image.Rectangle {
	scaled := image.Rect(
		int(r.X)*s.sx,
		int(r.Y)*s.sy,
		(int(r.X)+int(r.Width))*s.sx,
		(int(r.Y)+int(r.Height))*s.sy,
	)
	return scaled.Intersect(image.Rect(0, 0, s.pixelWidth(), s.pixelHeight()))
}

func colourToRGBA(c math.Vec4) color.RGBA {
	clamp := func(v float32) uint8 {
		if v <= 0 {
			return 0
		}
		if v >= 1 {
			return 255
		}
		return uint8(v*255 + 0.5)
	}
	return color.RGBA{R: clamp(c.X), G: clamp(c.Y), B: clamp(c.Z), A: clamp(c.W)}
}

func (s *surface) clearColour(r metadata.ScissorRect, c math.Vec4) {
	if s.img == nil {
		return
	}
	rect := s.physicalRect(r)
	rgba := colourToRGBA(c)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			s.img.SetRGBA(x, y, rgba)
		}
	}
}

func (s *surface) clearDepth(r metadata.ScissorRect, d float32) {
	if s.depth == nil {
		return
	}
	rect := s.physicalRect(r)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := y * s.pixelWidth()
		for x := rect.Min.X; x < rect.Max.X; x++ {
			s.depth[row+x] = d
		}
	}
}

func (s *surface) clearStencil(r metadata.ScissorRect, v uint32) {
	if s.stencil == nil {
		return
	}
	rect := s.physicalRect(r)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := y * s.pixelWidth()
		for x := rect.Min.X; x < rect.Max.X; x++ {
			s.stencil[row+x] = uint8(v)
		}
	}
}

func (s *surface) writePixel(x, y int, c math.Vec4) {
	if s.img == nil {
		return
	}
	s.img.SetRGBA(x, y, colourToRGBA(c))
}

// readPacked returns tightly packed RGBA8 rows of the region. Only valid on
// single-sample surfaces.
func (s *surface) readPacked(x, y, w, h uint32) []uint8 {
	out := make([]uint8, w*h*4)
	for row := uint32(0); row < h; row++ {
		for col := uint32(0); col < w; col++ {
			c := s.img.RGBAAt(int(x+col), int(y+row))
			i := (row*w + col) * 4
			out[i+0] = c.R
			out[i+1] = c.G
			out[i+2] = c.B
			out[i+3] = c.A
		}
	}
	return out
}

// blitColour copies src's colour plane onto dst. Matching dimensions copy
// straight through; a multisampled source is scaled down with a bilinear
// kernel, which for the 2x grids used here is an exact box average.
func blitColour(dst, src *surface) {
	if dst.img == nil || src.img == nil {
		return
	}
	if dst.img.Bounds() == src.img.Bounds() {
		draw.Copy(dst.img, image.Point{}, src.img, src.img.Bounds(), draw.Src, nil)
		return
	}
	draw.BiLinear.Scale(dst.img, dst.img.Bounds(), src.img, src.img.Bounds(), draw.Src, nil)
}

// blitDepthStencil copies the requested aspects, taking the first sample of
// each grid cell when the source is multisampled.
func blitDepthStencil(dst, src *surface, aspects metadata.AttachmentType) {
	for y := 0; y < dst.pixelHeight(); y++ {
		for x := 0; x < dst.pixelWidth(); x++ {
			sx := min(x*src.sx/dst.sx, src.pixelWidth()-1)
			sy := min(y*src.sy/dst.sy, src.pixelHeight()-1)
			di := y*dst.pixelWidth() + x
			si := sy*src.pixelWidth() + sx
			if aspects&metadata.ATTACHMENT_TYPE_DEPTH != 0 && dst.depth != nil && src.depth != nil {
				dst.depth[di] = src.depth[si]
			}
			if aspects&metadata.ATTACHMENT_TYPE_STENCIL != 0 && dst.stencil != nil && src.stencil != nil {
				dst.stencil[di] = src.stencil[si]
			}
		}
	}
}

// framebuffer is the software attachment container. Attached surfaces are
// shared with their owning texture or renderbuffer, not copied.
type framebuffer struct {
	dev    *Device
	id     uint32
	extent metadata.Extent2D

	colour       map[int]*surface
	depthStencil *surface
	dsAspect     metadata.AttachmentType

	drawBuffers int
	noAttach    bool
	released    bool
}

// sampleFactors returns the shared sample grid of the attached surfaces.
// Validate guarantees they agree; a framebuffer with no attachments is
// single-sample.
func (fb *framebuffer) sampleFactors() (int, int) {
	for i := 0; i < metadata.MAX_COLOUR_ATTACHMENTS; i++ {
		if s := fb.colour[i]; s != nil {
			return s.sx, s.sy
		}
	}
	if fb.depthStencil != nil {
		return fb.depthStencil.sx, fb.depthStencil.sy
	}
	return 1, 1
}

func (fb *framebuffer) place(binding device.AttachmentBinding, surf *surface) error {
	if binding.Aspect.IsColour() {
		if binding.Index < 0 || binding.Index >= metadata.MAX_COLOUR_ATTACHMENTS {
			return core.Errorf("soft framebuffer: colour binding %d out of range", binding.Index)
		}
		fb.colour[binding.Index] = surf
		return nil
	}
	fb.depthStencil = surf
	fb.dsAspect |= binding.Aspect
	return nil
}

func (fb *framebuffer) AttachRenderbuffer(binding device.AttachmentBinding, rb device.Renderbuffer) error {
	srb, ok := rb.(*renderbuffer)
	if !ok {
		return core.Errorf("soft framebuffer: renderbuffer from another backend")
	}
	return fb.place(binding, srb.surf)
}

func (fb *framebuffer) attachTexture(binding device.AttachmentBinding, tex *metadata.Texture) error {
	surf, err := fb.dev.textureSurface(tex)
	if err != nil {
		return err
	}
	return fb.place(binding, surf)
}

// Software textures hold a single plane, so layer, face and slice selectors
// all collapse onto it.

func (fb *framebuffer) AttachTexture1D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel uint32) error {
	return fb.attachTexture(binding, tex)
}

func (fb *framebuffer) AttachTexture2D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel uint32, multisample bool) error {
	return fb.attachTexture(binding, tex)
}

func (fb *framebuffer) AttachTexture3D(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, zSlice uint32) error {
	return fb.attachTexture(binding, tex)
}

func (fb *framebuffer) AttachTextureCube(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, face uint32) error {
	return fb.attachTexture(binding, tex)
}

func (fb *framebuffer) AttachTextureLayer(binding device.AttachmentBinding, tex *metadata.Texture, mipLevel, layer uint32) error {
	return fb.attachTexture(binding, tex)
}

func (fb *framebuffer) SetNoAttachmentExtent(extent metadata.Extent2D) error {
	if !fb.dev.caps.HasNoAttachmentFramebuffer {
		return device.ErrNotSupported
	}
	fb.extent = extent
	fb.noAttach = true
	return nil
}

func (fb *framebuffer) SetDrawBuffers(count int) error {
	if count < 0 || count > metadata.MAX_COLOUR_ATTACHMENTS {
		return core.Errorf("soft framebuffer: draw buffer count %d out of range", count)
	}
	fb.drawBuffers = count
	return nil
}

// Validate mirrors native completeness checks: something must be attached
// (or the no-attachment extent set), every draw buffer must resolve to an
// attachment, and all attached surfaces must agree on extent and sample
// grid.
func (fb *framebuffer) Validate() error {
	if len(fb.colour) == 0 && fb.depthStencil == nil && !fb.noAttach {
		return core.Errorf("soft framebuffer: incomplete, no attachments")
	}
	for i := 0; i < fb.drawBuffers; i++ {
		if fb.colour[i] == nil {
			return core.Errorf("soft framebuffer: incomplete, draw buffer %d has no attachment", i)
		}
	}
	sx, sy := 0, 0
	check := func(s *surface) error {
		if s.w != fb.extent.Width || s.h != fb.extent.Height {
			return core.Errorf("soft framebuffer: incomplete, attachment is %dx%d but framebuffer is %dx%d", s.w, s.h, fb.extent.Width, fb.extent.Height)
		}
		if sx == 0 {
			sx, sy = s.sx, s.sy
		} else if s.sx != sx || s.sy != sy {
			return core.Errorf("soft framebuffer: incomplete, attachments disagree on sample count")
		}
		return nil
	}
	for _, s := range fb.colour {
		if err := check(s); err != nil {
			return err
		}
	}
	if fb.depthStencil != nil {
		if err := check(fb.depthStencil); err != nil {
			return err
		}
	}
	return nil
}

func (fb *framebuffer) ReadPixels(colourIndex int, x, y, w, h uint32) ([]uint8, error) {
	surf := fb.colour[colourIndex]
	if surf == nil || surf.img == nil {
		return nil, core.Errorf("soft framebuffer: no colour attachment %d to read", colourIndex)
	}
	if surf.multisampled() {
		return nil, core.Errorf("soft framebuffer: colour attachment %d is multisampled, resolve before reading", colourIndex)
	}
	if x+w > surf.w || y+h > surf.h {
		return nil, core.Errorf("soft framebuffer: read region %dx%d at (%d,%d) exceeds %dx%d", w, h, x, y, surf.w, surf.h)
	}
	return surf.readPacked(x, y, w, h), nil
}

func (fb *framebuffer) Release() {
	if fb.released {
		return
	}
	fb.released = true
	fb.colour = nil
	fb.depthStencil = nil
	if err := fb.dev.handles.Release(fb.id); err != nil {
		core.LogWarn("%s", err.Error())
	}
}

// renderbuffer owns a single surface with no texture behind it.
type renderbuffer struct {
	dev      *Device
	id       uint32
	surf     *surface
	released bool
}

func (rb *renderbuffer) Release() {
	if rb.released {
		return
	}
	rb.released = true
	rb.surf = nil
	if err := rb.dev.handles.Release(rb.id); err != nil {
		core.LogWarn("%s", err.Error())
	}
}
