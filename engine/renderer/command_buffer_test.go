package renderer

import (
	"encoding/binary"
	gomath "math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/halcyon/engine/config"
	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
	"github.com/spaghettifunk/halcyon/engine/renderer/soft"
)

func newTestRenderer(t *testing.T, opts soft.Options) (*soft.Device, *Renderer) {
	t.Helper()
	dev, err := soft.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Shutdown() })

	r, err := New(dev, config.Default())
	require.NoError(t, err)
	return dev, r
}

func newColourTarget(t *testing.T, r *Renderer, numColour int, withDepthStencil bool, samples uint32) *RenderTarget {
	t.Helper()
	dev := r.Device()

	attachments := make([]*metadata.AttachmentConfig, 0, numColour+1)
	if withDepthStencil {
		attachments = append(attachments, &metadata.AttachmentConfig{Type: metadata.ATTACHMENT_TYPE_DEPTH_STENCIL})
	}
	for i := 0; i < numColour; i++ {
		tex, err := dev.CreateTexture(&metadata.TextureConfig{
			Type:   metadata.TextureType2d,
			Format: metadata.FormatRGBA8,
			Width:  16,
			Height: 16,
			Name:   "test-colour",
		})
		require.NoError(t, err)
		t.Cleanup(func() { dev.DestroyTexture(tex) })
		attachments = append(attachments, &metadata.AttachmentConfig{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: tex})
	}

	rt, err := r.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width:       16,
		Height:      16,
		Samples:     samples,
		Attachments: attachments,
		DebugName:   "test-target",
	})
	require.NoError(t, err)
	t.Cleanup(rt.Release)
	return rt
}

func testPipeline(t *testing.T, r *Renderer, scissorEnabled, dynamicScissor bool) *metadata.Pipeline {
	t.Helper()
	p, err := r.Device().CreatePipeline(&metadata.PipelineConfig{
		ScissorTestEnabled: scissorEnabled,
		DynamicScissor:     dynamicScissor,
		Name:               "test-pipeline",
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Device().DestroyPipeline(p) })
	return p
}

func TestRenderPassSwitchEndsPreviousPassOnce(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	first := newColourTarget(t, r, 1, false, 1)
	second := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)

	before := dev.Counts()
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.BeginRenderPass(first))
	require.NoError(t, cb.BeginRenderPass(second))

	mid := dev.Counts()
	assert.Equal(t, before.PassBegins+2, mid.PassBegins)
	assert.Equal(t, before.PassEnds+1, mid.PassEnds, "switching targets must end the previous pass exactly once")

	// Re-binding the target of the active pass does nothing.
	require.NoError(t, cb.BeginRenderPass(second))
	assert.Equal(t, mid, dev.Counts())
	assert.Same(t, second, cb.Target())

	require.NoError(t, cb.End())
	after := dev.Counts()
	assert.Equal(t, mid.PassEnds+1, after.PassEnds, "End must close the active pass implicitly")
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING_ENDED, cb.State())
}

func TestBeginRenderPassStartsRecordingImplicitly(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)

	require.NoError(t, cb.BeginRenderPass(target))
	assert.Equal(t, COMMAND_BUFFER_STATE_IN_RENDER_PASS, cb.State())
	require.NoError(t, cb.End())
}

func TestEndRenderPassOutsidePassIsHarmless(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)

	require.NoError(t, cb.Begin())
	before := dev.Counts()
	require.NoError(t, cb.EndRenderPass())
	assert.Equal(t, before.PassEnds, dev.Counts().PassEnds)
	require.NoError(t, cb.End())
}

func TestViewportChunking(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	viewports := make([]metadata.Viewport, 20)
	for i := range viewports {
		viewports[i] = metadata.Viewport{Width: 16, Height: 16, MaxDepth: 1}
	}

	before := dev.Counts()
	require.NoError(t, cb.SetViewports(viewports))
	after := dev.Counts()
	assert.Equal(t, before.ViewportCalls+2, after.ViewportCalls,
		"20 viewports must split into native calls of at most %d", metadata.MAX_VIEWPORTS_PER_CALL)

	require.NoError(t, cb.SetViewport(metadata.Viewport{Width: 16, Height: 16, MaxDepth: 1}))
	assert.Equal(t, after.ViewportCalls+1, dev.Counts().ViewportCalls)
	require.NoError(t, cb.End())
}

func TestScissorChunking(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)
	pipeline := testPipeline(t, r, true, true)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))
	require.NoError(t, cb.SetGraphicsPipeline(pipeline))

	rects := make([]metadata.ScissorRect, 33)
	for i := range rects {
		rects[i] = metadata.ScissorRect{Width: 16, Height: 16}
	}

	before := dev.Counts()
	require.NoError(t, cb.SetScissors(rects))
	assert.Equal(t, before.ScissorCalls+3, dev.Counts().ScissorCalls)
	require.NoError(t, cb.End())
}

func TestScissorSynthesizedOncePerPass(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)
	other := newColourTarget(t, r, 1, false, 1)
	// Scissor test disabled but declared dynamic: the recording core must
	// pin the rectangle to the full framebuffer itself.
	pipeline := testPipeline(t, r, false, true)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	before := dev.Counts()
	require.NoError(t, cb.SetGraphicsPipeline(pipeline))
	assert.Equal(t, before.ScissorCalls+1, dev.Counts().ScissorCalls, "first bind must synthesize the default scissor")

	require.NoError(t, cb.SetGraphicsPipeline(pipeline))
	assert.Equal(t, before.ScissorCalls+1, dev.Counts().ScissorCalls, "re-binding in the same pass must not synthesize again")

	// A pass transition invalidates the rectangle, the next bind re-emits it.
	require.NoError(t, cb.BeginRenderPass(other))
	require.NoError(t, cb.SetGraphicsPipeline(pipeline))
	assert.Equal(t, before.ScissorCalls+2, dev.Counts().ScissorCalls)
	require.NoError(t, cb.End())
}

func TestNoScissorSynthesisWhenStaticOrEnabled(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	enabled := testPipeline(t, r, true, true)
	static := testPipeline(t, r, false, false)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	before := dev.Counts()
	require.NoError(t, cb.SetGraphicsPipeline(enabled))
	require.NoError(t, cb.SetGraphicsPipeline(static))
	assert.Equal(t, before.ScissorCalls, dev.Counts().ScissorCalls)
	require.NoError(t, cb.End())
}

func TestScissorDroppedWhileTestDisabled(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)
	disabled := testPipeline(t, r, false, true)
	enabled := testPipeline(t, r, true, true)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))
	require.NoError(t, cb.SetGraphicsPipeline(disabled))

	before := dev.Counts()
	require.NoError(t, cb.SetScissor(metadata.ScissorRect{Width: 4, Height: 4}))
	assert.Equal(t, before.ScissorCalls, dev.Counts().ScissorCalls,
		"application scissors are dropped while the pipeline disables the test")

	require.NoError(t, cb.SetGraphicsPipeline(enabled))
	require.NoError(t, cb.SetScissor(metadata.ScissorRect{Width: 4, Height: 4}))
	assert.Equal(t, before.ScissorCalls+1, dev.Counts().ScissorCalls)
	require.NoError(t, cb.End())
}

func TestClearTargetsEverythingBound(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 3, true, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))
	cb.SetClearColour(math.Vec4{X: 1, W: 1})

	before := dev.Counts()
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_ALL))
	after := dev.Counts()
	assert.Equal(t, before.ClearCalls+1, after.ClearCalls, "one native call for the whole clear")
	assert.Equal(t, before.ClearEntries+4, after.ClearEntries, "three colour entries plus one combined depth/stencil entry")

	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_COLOUR))
	assert.Equal(t, after.ClearEntries+3, dev.Counts().ClearEntries)

	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_DEPTH|metadata.CLEAR_FLAG_STENCIL))
	assert.Equal(t, after.ClearEntries+4, dev.Counts().ClearEntries, "depth and stencil collapse into one entry")

	require.NoError(t, cb.End())
}

func TestClearSkipsUnboundAspects(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	before := dev.Counts()
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_DEPTH|metadata.CLEAR_FLAG_STENCIL))
	assert.Equal(t, before.ClearCalls, dev.Counts().ClearCalls, "no depth/stencil attachment, nothing to clear")

	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_NONE))
	assert.Equal(t, before.ClearCalls, dev.Counts().ClearCalls)
	require.NoError(t, cb.End())
}

func TestClearOutsidePassDoesNothing(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())

	before := dev.Counts()
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_ALL))
	assert.Equal(t, before.ClearCalls, dev.Counts().ClearCalls)
	require.NoError(t, cb.End())
}

func TestClearAttachmentsTagsEntriesByAspect(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, true, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	before := dev.Counts()
	require.NoError(t, cb.ClearAttachments([]metadata.AttachmentClear{
		{
			Flags:            metadata.CLEAR_FLAG_COLOUR,
			ColourAttachment: 0,
			Value:            metadata.ClearValue{Colour: math.Vec4{X: 1, W: 1}},
		},
		{
			Flags: metadata.CLEAR_FLAG_DEPTH,
			Value: metadata.ClearValue{Depth: 0.5},
		},
	}))
	after := dev.Counts()
	assert.Equal(t, before.ClearCalls+1, after.ClearCalls, "both entries share one native call")
	assert.Equal(t, before.ClearEntries+2, after.ClearEntries)
	require.NoError(t, cb.End())
}

func TestClearAttachmentsValidatesEntries(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 2, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))

	before := dev.Counts()
	require.NoError(t, cb.ClearAttachments([]metadata.AttachmentClear{
		{Flags: metadata.CLEAR_FLAG_COLOUR, ColourAttachment: 0},
		{Flags: metadata.CLEAR_FLAG_COLOUR, ColourAttachment: 7},
		{Flags: metadata.CLEAR_FLAG_DEPTH},
	}))
	after := dev.Counts()
	assert.Equal(t, before.ClearCalls+1, after.ClearCalls)
	assert.Equal(t, before.ClearEntries+1, after.ClearEntries,
		"the out-of-range colour entry and the unbound depth entry are dropped")

	// Nothing valid left: the native call is skipped entirely.
	require.NoError(t, cb.ClearAttachments([]metadata.AttachmentClear{
		{Flags: metadata.CLEAR_FLAG_COLOUR, ColourAttachment: 9},
		{Flags: metadata.CLEAR_FLAG_STENCIL},
	}))
	assert.Equal(t, after.ClearCalls, dev.Counts().ClearCalls)
	require.NoError(t, cb.End())
}

func TestRecordingStateGuards(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)
	pipeline := testPipeline(t, r, true, true)
	compute, err := r.Device().CreatePipeline(&metadata.PipelineConfig{Compute: true, Name: "test-compute"})
	require.NoError(t, err)
	t.Cleanup(func() { r.Device().DestroyPipeline(compute) })

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)

	assert.Error(t, cb.End(), "End before Begin")
	assert.Error(t, cb.SetViewport(metadata.Viewport{}), "dynamic state before Begin")

	require.NoError(t, cb.Begin())
	assert.Error(t, cb.Begin(), "Begin while recording")
	assert.Error(t, cb.Draw(3, 0), "draw outside a render pass")

	require.NoError(t, cb.BeginRenderPass(target))
	assert.Error(t, cb.Draw(3, 0), "draw with no pipeline bound")
	assert.Error(t, cb.SetGraphicsPipeline(compute), "compute pipeline on the graphics bind point")

	require.NoError(t, cb.SetGraphicsPipeline(pipeline))
	assert.Error(t, cb.SetComputePipeline(pipeline), "graphics pipeline on the compute bind point")

	require.NoError(t, cb.SetComputePipeline(compute))
	assert.Error(t, cb.Dispatch(1, 1, 1), "dispatch inside a render pass on a recording backend")

	require.NoError(t, cb.EndRenderPass())
	require.NoError(t, cb.Dispatch(1, 1, 1))
	require.NoError(t, cb.End())
}

func TestSubmitRequiresClosedRecording(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)

	assert.Error(t, r.Queue().Submit(cb), "submit before any recording")

	require.NoError(t, cb.BeginRenderPass(target))
	assert.Error(t, r.Queue().Submit(cb), "submit while still recording")

	require.NoError(t, cb.End())
	require.NoError(t, r.Queue().Submit(cb))
	assert.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, cb.State())

	assert.Error(t, r.Queue().Submit(cb), "submit twice without re-recording")
	require.NoError(t, r.WaitIdle())
}

func TestSlotRotationBackpressure(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(&metadata.CommandBufferConfig{Slots: 2, DebugName: "rotation"})
	require.NoError(t, err)
	assert.Equal(t, 2, cb.SlotCount())

	// Stall the executor so submitted slots keep their fences unsignaled.
	release := make(chan struct{})
	dev.SetExecuteHook(func() { <-release })
	defer dev.SetExecuteHook(nil)

	submitFrame := func() {
		require.NoError(t, cb.BeginRenderPass(target))
		require.NoError(t, cb.End())
		require.NoError(t, r.Queue().Submit(cb))
	}
	submitFrame()
	submitFrame()

	// Both slots are in flight now; the third Begin must block until the
	// first slot's fence signals.
	unblocked := make(chan struct{})
	go func() {
		_ = cb.Begin()
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Begin must block while every slot is still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Begin did not wake after the slot fence signaled")
	}

	require.NoError(t, cb.End())
	require.NoError(t, r.Queue().Submit(cb))
	require.NoError(t, r.WaitIdle())
}

func TestImmediateBackendUsesOneSlot(t *testing.T) {
	dev, r := newTestRenderer(t, soft.Options{Immediate: true})
	target := newColourTarget(t, r, 1, false, 1)

	cb, err := r.CreateCommandBuffer(&metadata.CommandBufferConfig{Slots: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, cb.SlotCount(), "immediate backends collapse to one implicit slot")

	require.NoError(t, cb.BeginRenderPass(target))
	cb.SetClearColour(math.Vec4{X: 1, W: 1})
	require.NoError(t, cb.Clear(metadata.CLEAR_FLAG_COLOUR))
	require.NoError(t, cb.End())

	// Commands ran at record time; the pixels are red before any submit.
	pixels, err := target.ReadPixels(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), pixels[0])
	assert.Equal(t, uint8(0), pixels[1])

	before := dev.Counts()
	require.NoError(t, r.Queue().Submit(cb))
	assert.Equal(t, before.SlotSubmissions, dev.Counts().SlotSubmissions, "immediate submit is a queue no-op")
	assert.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, cb.State())
}

func TestQueryRecordingAndResults(t *testing.T) {
	_, r := newTestRenderer(t, soft.Options{})
	dev := r.Device()
	target := newColourTarget(t, r, 1, false, 1)
	pipeline := testPipeline(t, r, false, true)

	buf, err := dev.CreateBuffer(&metadata.BufferConfig{Data: fullCoverTriangle(), Name: "tri"})
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyBuffer(buf) })

	occlusion, err := dev.CreateQueryPool(metadata.QueryTypeSamplesPassed, 2)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyQueryPool(occlusion) })
	stats, err := dev.CreateQueryPool(metadata.QueryTypePipelineStatistics, 1)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyQueryPool(stats) })

	cb, err := r.CreateCommandBuffer(nil)
	require.NoError(t, err)
	require.NoError(t, cb.BeginRenderPass(target))
	require.NoError(t, cb.SetGraphicsPipeline(pipeline))
	require.NoError(t, cb.SetVertexBuffer(buf))
	require.NoError(t, cb.BeginQuery(occlusion, 0))
	require.NoError(t, cb.BeginQuery(stats, 0))
	assert.Error(t, cb.BeginQuery(occlusion, 5), "query index beyond the pool count")
	require.NoError(t, cb.Draw(3, 0))
	require.NoError(t, cb.EndQuery(stats, 0))
	require.NoError(t, cb.EndQuery(occlusion, 0))
	require.NoError(t, cb.End())

	// Not executed yet: results report not-ready without an error.
	_, ready, err := cb.QueryResult(occlusion, 0)
	require.NoError(t, err)
	assert.False(t, ready, "result must stay pending until the slot executes")

	require.NoError(t, r.Queue().Submit(cb))
	require.NoError(t, r.WaitIdle())

	samples, ready, err := cb.QueryResult(occlusion, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(16*16), samples, "the triangle covers the whole 16x16 target")

	result, ready, err := cb.QueryPipelineStatisticsResult(stats, 0)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint64(3), result.VerticesSubmitted)
	assert.Equal(t, uint64(1), result.PrimitivesSubmitted)
	assert.Equal(t, uint64(1), result.ClippingInputPrimitives)
	assert.Equal(t, uint64(1), result.ClippingOutputPrimitives)
	assert.Equal(t, uint64(16*16), result.FragmentShaderInvocations)
	assert.Zero(t, result.PrimitivesGenerated, "pre-clip primitive counting is not wired to a native counter")

	// The statistics pool refuses the single-value accessor and vice versa.
	_, _, err = cb.QueryResult(stats, 0)
	assert.Error(t, err)
	_, _, err = cb.QueryPipelineStatisticsResult(occlusion, 0)
	assert.Error(t, err)
}

// encodeVertices packs vertices in the layout the software rasterizer
// consumes: position then colour, little-endian float32.
func encodeVertices(vertices []math.Vertex2D) []byte {
	data := make([]byte, 0, len(vertices)*24)
	for _, v := range vertices {
		for _, f := range []float32{v.Position.X, v.Position.Y, v.Colour.X, v.Colour.Y, v.Colour.Z, v.Colour.W} {
			data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(f))
		}
	}
	return data
}

// fullCoverTriangle returns one triangle big enough that every pixel centre
// of a render target lies inside it.
func fullCoverTriangle() []byte {
	return encodeVertices([]math.Vertex2D{
		{Position: math.Vec2{X: -4, Y: -4}, Colour: math.Vec4{X: 1, W: 1}},
		{Position: math.Vec2{X: 4, Y: -4}, Colour: math.Vec4{X: 1, W: 1}},
		{Position: math.Vec2{X: 0, Y: 4}, Colour: math.Vec4{X: 1, W: 1}},
	})
}
