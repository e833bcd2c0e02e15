package soft

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// newRasterRig opens an immediate device with one validated colour
// framebuffer and a recording slot. Immediate mode runs every command on
// the spot, so tests read results right after issuing.
func newRasterRig(t *testing.T, width, height, samples uint32) (*Device, device.Framebuffer, device.CommandSlot) {
	t.Helper()
	d, err := New(Options{Immediate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown() })

	tex, err := d.CreateTexture(&metadata.TextureConfig{
		Type:    metadata.TextureType2d,
		Format:  metadata.FormatRGBA8,
		Width:   width,
		Height:  height,
		Samples: samples,
		Name:    "raster-colour",
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyTexture(tex) })

	extent := metadata.Extent2D{Width: width, Height: height}
	fb, err := d.CreateFramebuffer(extent)
	require.NoError(t, err)
	t.Cleanup(fb.Release)
	binding := device.AttachmentBinding{Aspect: metadata.ATTACHMENT_TYPE_COLOUR, Index: 0}
	require.NoError(t, fb.AttachTexture2D(binding, tex, 0, samples > 1))
	require.NoError(t, fb.SetDrawBuffers(1))
	require.NoError(t, fb.Validate())

	slots, err := d.CreateCommandSlots(1, "raster-test")
	require.NoError(t, err)
	return d, fb, slots[0]
}

func rasterPipeline(t *testing.T, d *Device) *metadata.Pipeline {
	t.Helper()
	p, err := d.CreatePipeline(&metadata.PipelineConfig{Name: "raster"})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyPipeline(p) })
	return p
}

func vertexBuffer(t *testing.T, d *Device, verts []math.Vertex2D) *metadata.Buffer {
	t.Helper()
	data := make([]byte, 0, len(verts)*vertexStride)
	for _, v := range verts {
		for _, f := range []float32{v.Position.X, v.Position.Y, v.Colour.X, v.Colour.Y, v.Colour.Z, v.Colour.W} {
			data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(f))
		}
	}
	buf, err := d.CreateBuffer(&metadata.BufferConfig{Data: data, Name: "raster-verts"})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyBuffer(buf) })
	return buf
}

// coveringTriangle spans far past the clip volume so every pixel centre of
// any viewport lies inside it.
func coveringTriangle(colour math.Vec4) []math.Vertex2D {
	return []math.Vertex2D{
		{Position: math.Vec2{X: -4, Y: -4}, Colour: colour},
		{Position: math.Vec2{X: 4, Y: -4}, Colour: colour},
		{Position: math.Vec2{X: 0, Y: 4}, Colour: colour},
	}
}

func beginFrame(t *testing.T, slot device.CommandSlot, fb device.Framebuffer, extent metadata.Extent2D) {
	t.Helper()
	require.NoError(t, slot.Begin())
	require.NoError(t, slot.BeginPass(fb, extent))
}

func TestDrawCoversEveryPixel(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	red := math.Vec4{X: 1, W: 1}
	buf := vertexBuffer(t, d, coveringTriangle(red))

	pool, err := d.CreateQueryPool(metadata.QueryTypeSamplesPassed, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 8, Height: 8})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.BeginQuery(pool, 0, true))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	samples, ready, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(64), samples, "every pixel centre of an 8x8 target is inside")

	pixels, err := fb.ReadPixels(0, 0, 0, 8, 8)
	require.NoError(t, err)
	for _, i := range []int{0, 7 * 4, 56 * 4, 63 * 4} {
		assert.Equal(t, uint8(255), pixels[i], "pixel at byte %d should be red", i)
	}
}

func TestScissorLimitsCoverage(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	buf := vertexBuffer(t, d, coveringTriangle(math.Vec4{X: 1, W: 1}))

	pool, err := d.CreateQueryPool(metadata.QueryTypeSamplesPassed, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 8, Height: 8})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.SetScissors(0, []metadata.ScissorRect{{X: 0, Y: 0, Width: 4, Height: 8}}))
	require.NoError(t, slot.BeginQuery(pool, 0, true))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	samples, ready, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(32), samples, "the scissor keeps the left half only")

	pixels, err := fb.ReadPixels(0, 0, 0, 8, 8)
	require.NoError(t, err)
	left := (3*8 + 1) * 4
	right := (3*8 + 6) * 4
	assert.Equal(t, uint8(255), pixels[left])
	assert.Equal(t, uint8(0), pixels[right], "pixels outside the scissor stay untouched")
}

func TestAnySamplesPassedClampsToOne(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	buf := vertexBuffer(t, d, coveringTriangle(math.Vec4{X: 1, W: 1}))

	pool, err := d.CreateQueryPool(metadata.QueryTypeAnySamplesPassed, 2)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	extent := metadata.Extent2D{Width: 8, Height: 8}
	beginFrame(t, slot, fb, extent)
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))

	require.NoError(t, slot.BeginQuery(pool, 0, false))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))

	// Second query with an empty scissor: nothing passes.
	require.NoError(t, slot.SetScissors(0, []metadata.ScissorRect{{Width: 0, Height: 0}}))
	require.NoError(t, slot.BeginQuery(pool, 1, false))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 1))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	covered, ready, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(1), covered, "conservative queries collapse the count to one")

	empty, ready, err := d.QueryResult(pool, 1)
	require.NoError(t, err)
	require.True(t, ready, "a zero result is still a ready result")
	assert.Zero(t, empty)
}

func TestPipelineStatisticsCounterOrder(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	buf := vertexBuffer(t, d, coveringTriangle(math.Vec4{X: 1, W: 1}))

	pool, err := d.CreateQueryPool(metadata.QueryTypePipelineStatistics, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 8, Height: 8})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.BeginQuery(pool, 0, false))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	raw, ready, err := d.QueryPipelineStatistics(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)

	want := []uint64{
		3,  // vertices submitted
		1,  // primitives submitted
		3,  // vertex invocations
		0,  // geometry invocations
		0,  // geometry primitives
		1,  // clipping input
		1,  // clipping output
		64, // fragment invocations
		0,  // tessellation control
		0,  // tessellation evaluation
		0,  // compute
	}
	assert.Equal(t, want, raw)
}

func TestDegenerateTriangleIsCulled(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	collinear := []math.Vertex2D{
		{Position: math.Vec2{X: -1, Y: -1}},
		{Position: math.Vec2{X: 0, Y: 0}},
		{Position: math.Vec2{X: 1, Y: 1}},
	}
	buf := vertexBuffer(t, d, collinear)

	pool, err := d.CreateQueryPool(metadata.QueryTypePipelineStatistics, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 8, Height: 8})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.BeginQuery(pool, 0, false))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	raw, ready, err := d.QueryPipelineStatistics(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(1), raw[counterClippingInput])
	assert.Zero(t, raw[counterClippingOutput], "a zero-area triangle never survives clipping")
	assert.Zero(t, raw[counterFragmentInvocations])
}

func TestVertexPlacementTopLeftOrigin(t *testing.T) {
	d, fb, slot := newRasterRig(t, 4, 4, 1)
	pipeline := rasterPipeline(t, d)
	// A triangle tight around NDC (-0.25, -0.25), which is pixel (1, 1) on
	// a 4x4 target with y growing downwards.
	tiny := []math.Vertex2D{
		{Position: math.Vec2{X: -0.375, Y: -0.375}, Colour: math.Vec4{X: 1, W: 1}},
		{Position: math.Vec2{X: -0.125, Y: -0.375}, Colour: math.Vec4{X: 1, W: 1}},
		{Position: math.Vec2{X: -0.25, Y: -0.125}, Colour: math.Vec4{X: 1, W: 1}},
	}
	buf := vertexBuffer(t, d, tiny)

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 4, Height: 4})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	pixels, err := fb.ReadPixels(0, 0, 0, 4, 4)
	require.NoError(t, err)
	at := func(x, y int) uint8 { return pixels[(y*4+x)*4] }
	assert.Equal(t, uint8(255), at(1, 1))
	assert.Zero(t, at(0, 0))
	assert.Zero(t, at(2, 2))
	assert.Zero(t, at(1, 2))
}

func TestIndexedDrawWithVertexOffset(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)

	// A padding vertex ahead of the real triangle; the vertex offset must
	// skip it.
	verts := append([]math.Vertex2D{{}}, coveringTriangle(math.Vec4{X: 1, W: 1})...)
	buf := vertexBuffer(t, d, verts)

	indices := make([]byte, 0, 6)
	for _, idx := range []uint16{0, 1, 2} {
		indices = binary.LittleEndian.AppendUint16(indices, idx)
	}
	ibuf, err := d.CreateBuffer(&metadata.BufferConfig{
		Data:             indices,
		IndexElementSize: metadata.IndexElementSizeUint16,
		Name:             "raster-indices",
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyBuffer(ibuf) })

	pool, err := d.CreateQueryPool(metadata.QueryTypeSamplesPassed, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	beginFrame(t, slot, fb, metadata.Extent2D{Width: 8, Height: 8})
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.BindIndexBuffer(ibuf))
	require.NoError(t, slot.BeginQuery(pool, 0, true))
	require.NoError(t, slot.Draw(device.DrawArgs{Indexed: true, Count: 3, VertexOffset: 1}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	samples, ready, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(64), samples)
}

func TestQueryBeginDiscardsPreviousResult(t *testing.T) {
	d, fb, slot := newRasterRig(t, 8, 8, 1)
	pipeline := rasterPipeline(t, d)
	buf := vertexBuffer(t, d, coveringTriangle(math.Vec4{X: 1, W: 1}))

	pool, err := d.CreateQueryPool(metadata.QueryTypeSamplesPassed, 1)
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyQueryPool(pool) })

	extent := metadata.Extent2D{Width: 8, Height: 8}
	beginFrame(t, slot, fb, extent)
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.BeginQuery(pool, 0, true))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	samples, _, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), samples)

	// Rearming resets the count; an empty region yields zero.
	beginFrame(t, slot, fb, extent)
	require.NoError(t, slot.BeginQuery(pool, 0, true))
	require.NoError(t, slot.EndQuery(pool, 0))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())

	samples, ready, err := d.QueryResult(pool, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Zero(t, samples)
}

func TestMultisampleResolveAveragesSamples(t *testing.T) {
	d, err := New(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown() })

	extent := metadata.Extent2D{Width: 1, Height: 1}
	src, err := d.CreateRenderbuffer(metadata.FormatRGBA8, extent, 4)
	require.NoError(t, err)
	t.Cleanup(src.Release)
	msFB, err := d.CreateFramebuffer(extent)
	require.NoError(t, err)
	t.Cleanup(msFB.Release)
	binding := device.AttachmentBinding{Aspect: metadata.ATTACHMENT_TYPE_COLOUR, Index: 0}
	require.NoError(t, msFB.AttachRenderbuffer(binding, src))
	require.NoError(t, msFB.SetDrawBuffers(1))
	require.NoError(t, msFB.Validate())

	dstTex, err := d.CreateTexture(&metadata.TextureConfig{
		Type: metadata.TextureType2d, Format: metadata.FormatRGBA8,
		Width: 1, Height: 1, Name: "resolve-dst",
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyTexture(dstTex) })
	dstFB, err := d.CreateFramebuffer(extent)
	require.NoError(t, err)
	t.Cleanup(dstFB.Release)
	require.NoError(t, dstFB.AttachTexture2D(binding, dstTex, 0, false))

	pipeline, err := d.CreatePipeline(&metadata.PipelineConfig{Name: "resolve"})
	require.NoError(t, err)
	t.Cleanup(func() { d.DestroyPipeline(pipeline) })

	// White geometry covering exactly the left half of the 2x2 sample
	// grid over a black background.
	half := []math.Vertex2D{
		{Position: math.Vec2{X: -5, Y: -5}, Colour: math.Vec4{X: 1, Y: 1, Z: 1, W: 1}},
		{Position: math.Vec2{X: 0, Y: -5}, Colour: math.Vec4{X: 1, Y: 1, Z: 1, W: 1}},
		{Position: math.Vec2{X: 0, Y: 5}, Colour: math.Vec4{X: 1, Y: 1, Z: 1, W: 1}},
	}
	buf := vertexBuffer(t, d, half)

	slots, err := d.CreateCommandSlots(1, "resolve-test")
	require.NoError(t, err)
	slot := slots[0]
	require.NoError(t, slot.Begin())
	require.NoError(t, slot.BeginPass(msFB, extent))
	require.NoError(t, slot.ClearAttachments([]device.ClearEntry{{
		Aspect: metadata.ATTACHMENT_TYPE_COLOUR,
		Value:  metadata.ClearValue{Colour: math.Vec4{W: 1}},
	}}))
	require.NoError(t, slot.BindPipeline(pipeline))
	require.NoError(t, slot.BindVertexBuffers(0, []*metadata.Buffer{buf}))
	require.NoError(t, slot.Draw(device.DrawArgs{Count: 3}))
	require.NoError(t, slot.EndPass())
	require.NoError(t, slot.End())
	require.NoError(t, d.SubmitSlot(slot))
	require.NoError(t, d.QueueWaitIdle())

	require.NoError(t, d.Blit(dstFB, msFB, 0, extent, metadata.ATTACHMENT_TYPE_COLOUR))

	pixels, err := dstFB.ReadPixels(0, 0, 0, 1, 1)
	require.NoError(t, err)
	// Two of four samples are white, so the resolved pixel averages to
	// mid-grey with full alpha.
	assert.InDelta(t, 127.5, float64(pixels[0]), 1.0)
	assert.InDelta(t, 127.5, float64(pixels[1]), 1.0)
	assert.InDelta(t, 127.5, float64(pixels[2]), 1.0)
	assert.Equal(t, uint8(255), pixels[3])
}
