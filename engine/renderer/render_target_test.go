package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
	"github.com/spaghettifunk/halcyon/engine/renderer/soft"
)

func testTexture(t *testing.T, r *Renderer, width, height uint32) *metadata.Texture {
	t.Helper()
	tex, err := r.Device().CreateTexture(&metadata.TextureConfig{
		Type:   metadata.TextureType2d,
		Format: metadata.FormatRGBA8,
		Width:  width,
		Height: height,
		Name:   "target-colour",
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Device().DestroyTexture(tex) })
	return tex
}

func TestRenderTargetRejectsBadConfigsWithoutResidue(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{MaxColourAttachments: 2})

	colours := []*metadata.AttachmentConfig{
		{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: testTexture(t, r, 16, 16)},
		{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: testTexture(t, r, 16, 16)},
		{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: testTexture(t, r, 16, 16)},
	}

	baseline := dev.AllocationCount()

	_, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Attachments: colours,
	})
	assert.Error(t, err, "three colour attachments exceed the device limit of two")
	assert.Equal(t, baseline, dev.AllocationCount(), "a rejected list must not leak native objects")

	_, err = r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_DEPTH_STENCIL},
			{Type: metadata.ATTACHMENT_TYPE_DEPTH},
		},
	})
	assert.Error(t, err, "at most one depth/stencil attachment")
	assert.Equal(t, baseline, dev.AllocationCount())

	_, err = r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR},
		},
	})
	assert.Error(t, err, "colour attachments need a texture")
	assert.Equal(t, baseline, dev.AllocationCount())

	_, err = r.CreateRenderTarget(&metadata.RenderTargetConfig{Width: 0, Height: 16})
	assert.Error(t, err, "zero extent is not renderable")
	assert.Equal(t, baseline, dev.AllocationCount())
}

func TestHeadlessTargetWithDummyColourBuffer(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})

	baseline := dev.AllocationCount()
	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 32, Height: 32,
		DebugName: "headless",
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	// Framebuffer plus the dummy colour renderbuffer keeping it complete.
	assert.Equal(t, baseline+2, dev.AllocationCount())
	assert.Equal(t, 0, rt.NumColourAttachments())
	assert.False(t, rt.HasDepthAttachment())

	_, err = rt.ReadPixels(0)
	assert.Error(t, err, "the dummy buffer is not a readable attachment")
}

func TestHeadlessTargetWithNoAttachmentExtent(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{NoAttachmentFramebuffers: true})

	baseline := dev.AllocationCount()
	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 32, Height: 32,
		DebugName: "headless",
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	// The extent-only framebuffer needs no dummy buffer.
	assert.Equal(t, baseline+1, dev.AllocationCount())
	assert.Equal(t, 0, rt.NumColourAttachments())
}

func TestMultisampleTargetTopology(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	tex := testTexture(t, r, 16, 16)

	baseline := dev.AllocationCount()
	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Samples: 4,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
			{Type: metadata.ATTACHMENT_TYPE_DEPTH_STENCIL},
		},
		DebugName: "msaa",
	})
	require.NoError(t, err)

	// Primary framebuffer, multisample framebuffer, one multisample colour
	// renderbuffer and the depth/stencil renderbuffer.
	assert.Equal(t, baseline+4, dev.AllocationCount())
	assert.Equal(t, uint32(4), rt.Samples())
	assert.Equal(t, 1, rt.NumColourAttachments())
	assert.True(t, rt.HasDepthAttachment())
	assert.True(t, rt.HasStencilAttachment())

	rt.Release()
	assert.Equal(t, baseline, dev.AllocationCount(), "release frees every owned object")
}

func TestMultisampleTargetResolvingIntoTextures(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{ResolveIntoTextures: true})
	tex := testTexture(t, r, 16, 16)

	baseline := dev.AllocationCount()
	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Samples: 4,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
			{Type: metadata.ATTACHMENT_TYPE_DEPTH_STENCIL},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	// Direct resolve removes the multisample framebuffer and its colour
	// renderbuffer: only the primary and the depth/stencil buffer remain.
	assert.Equal(t, baseline+2, dev.AllocationCount())

	before := dev.Counts()
	require.NoError(t, rt.Resolve())
	assert.Equal(t, before.Blits, dev.Counts().Blits, "nothing to resolve without a multisample framebuffer")
}

func TestSampleCountClampedToDeviceMaximum(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{MaxSamples: 4})
	tex := testTexture(t, r, 16, 16)

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Samples: 8,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	assert.Equal(t, uint32(4), rt.Samples())
}

func TestResolveBlitsEachColourAttachment(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	texA := testTexture(t, r, 16, 16)
	texB := testTexture(t, r, 16, 16)

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 16, Height: 16,
		Samples: 4,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: texA},
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: texB},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	assert.Equal(t, 2, rt.NumColourAttachments())

	before := dev.Counts()
	require.NoError(t, rt.Resolve())
	assert.Equal(t, before.Blits+2, dev.Counts().Blits, "one blit per colour attachment")
}

func TestReadPixelsResolvesMultisampledContent(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	tex := testTexture(t, r, 8, 8)

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 8, Height: 8,
		Samples: 4,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(rt))
	cb.SetClearColour(math.Vec4{X: 1, W: 1})
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_COLOUR))
	require.NoError(t, cb.End())
	require.NoError(t, r.Queue().Submit(cb))
	require.NoError(t, r.WaitIdle())

	before := dev.Counts()
	pixels, err := rt.ReadPixels(0)
	require.NoError(t, err)
	assert.Equal(t, before.Blits+1, dev.Counts().Blits, "the read resolved first")
	assert.Equal(t, uint8(255), pixels[0])
	assert.Equal(t, uint8(0), pixels[1])
	assert.Equal(t, uint8(255), pixels[3])
}

func TestBlitToScreen(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{Extent: metadata.Extent2D{Width: 8, Height: 8}})
	tex := testTexture(t, r, 8, 8)

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 8, Height: 8,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(rt))
	cb.SetClearColour(math.Vec4{Y: 1, W: 1})
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_COLOUR))
	require.NoError(t, cb.End())
	require.NoError(t, r.Queue().Submit(cb))
	require.NoError(t, r.WaitIdle())

	require.NoError(t, rt.BlitToScreen())
	screen := dev.Screen()
	require.NotNil(t, screen)
	c := screen.RGBAAt(3, 3)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.G)
}

func TestBlitToScreenWithoutSurfaceFails(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{})
	tex := testTexture(t, r, 8, 8)

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width: 8, Height: 8,
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex},
		},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)

	assert.Error(t, rt.BlitToScreen(), "headless devices have no presentation surface")
}
