package testbed

import (
	"encoding/binary"
	"image"
	"image/png"
	gomath "math"
	"os"

	"github.com/spaghettifunk/halcyon/engine"
	"github.com/spaghettifunk/halcyon/engine/config"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// Frames rendered before the headless run takes its screenshot and quits.
// More than the slot count, so the command buffer wraps through its rotation
// at least once.
const headlessFrames = 6

// TestGame renders the smoke-test scene: a cleared target with a colour
// triangle drawn through an animated scissor window, wrapped in occlusion,
// statistics and timing queries. Headless runs finish with a PNG screenshot.
type TestGame struct {
	cfg      *config.Config
	renderer *renderer.Renderer

	colour   *metadata.Texture
	target   *renderer.RenderTarget
	cb       *renderer.CommandBuffer
	triangle *metadata.Buffer
	pipeline *metadata.Pipeline

	occlusion  *metadata.QueryPool
	statistics *metadata.QueryPool
	timing     *metadata.QueryPool

	frame       uint64
	scissorTime float64
}

func New() *TestGame {
	return &TestGame{}
}

func (g *TestGame) Initialize(app *engine.App) error {
	g.cfg = app.Config()
	g.renderer = app.Renderer()
	dev := g.renderer.Device()

	if err := g.createTarget(g.cfg.Width, g.cfg.Height); err != nil {
		return err
	}

	cb, err := g.renderer.CreateCommandBuffer(&metadata.CommandBufferConfig{DebugName: "testbed"})
	if err != nil {
		return err
	}
	g.cb = cb

	buf, err := dev.CreateBuffer(&metadata.BufferConfig{
		Data: triangleVertices(),
		Name: "testbed-triangle",
	})
	if err != nil {
		return err
	}
	g.triangle = buf

	pipeline, err := dev.CreatePipeline(&metadata.PipelineConfig{
		ScissorTestEnabled: true,
		DynamicScissor:     true,
		Name:               "testbed-triangle",
	})
	if err != nil {
		return err
	}
	g.pipeline = pipeline

	if g.occlusion, err = dev.CreateQueryPool(metadata.QueryTypeSamplesPassed, 1); err != nil {
		return err
	}
	if g.statistics, err = dev.CreateQueryPool(metadata.QueryTypePipelineStatistics, 1); err != nil {
		return err
	}
	if g.timing, err = dev.CreateQueryPool(metadata.QueryTypeTimeElapsed, 1); err != nil {
		return err
	}

	core.LogInfo("testbed ready at %dx%d with %d sample(s) on the %s backend",
		g.cfg.Width, g.cfg.Height, g.target.Samples(), dev.Caps().Name)
	return nil
}

// createTarget builds the offscreen target: one RGBA8 colour texture plus an
// owned depth/stencil buffer, multisampled when the config asks for it.
func (g *TestGame) createTarget(width, height uint32) error {
	dev := g.renderer.Device()

	colour, err := dev.CreateTexture(&metadata.TextureConfig{
		Type:   metadata.TextureType2d,
		Format: metadata.FormatRGBA8,
		Width:  width,
		Height: height,
		Name:   "testbed-colour",
	})
	if err != nil {
		return err
	}

	target, err := g.renderer.CreateRenderTarget(&metadata.RenderTargetConfig{
		Width:   width,
		Height:  height,
		Samples: uint32(g.cfg.Samples),
		Attachments: []*metadata.AttachmentConfig{
			{Type: metadata.ATTACHMENT_TYPE_COLOUR, Texture: colour},
			{Type: metadata.ATTACHMENT_TYPE_DEPTH_STENCIL},
		},
		DebugName: "testbed",
	})
	if err != nil {
		dev.DestroyTexture(colour)
		return err
	}

	g.colour = colour
	g.target = target
	return nil
}

func (g *TestGame) releaseTarget() {
	if g.target != nil {
		g.target.Release()
		g.target = nil
	}
	if g.colour != nil {
		g.renderer.Device().DestroyTexture(g.colour)
		g.colour = nil
	}
}

func (g *TestGame) Update(deltaTime float64) error {
	g.scissorTime += deltaTime
	return nil
}

func (g *TestGame) Render(app *engine.App, deltaTime float64) error {
	g.frame++
	extent := g.target.Extent()

	if err := g.cb.Begin(); err != nil {
		return err
	}
	if err := g.cb.BeginQuery(g.timing, 0); err != nil {
		return err
	}

	if err := g.cb.BeginRenderPass(g.target); err != nil {
		return err
	}
	if err := g.cb.SetViewport(metadata.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}); err != nil {
		return err
	}

	g.cb.SetClearColour(math.Vec4{X: 0.05, Y: 0.05, Z: 0.12, W: 1.0})
	g.cb.SetClearDepth(1.0)
	g.cb.SetClearStencil(0)
	if err := g.cb.Clear(metadata.CLEAR_FLAG_ALL); err != nil {
		return err
	}

	if err := g.cb.SetGraphicsPipeline(g.pipeline); err != nil {
		return err
	}
	if err := g.cb.SetScissor(g.scissorWindow(extent)); err != nil {
		return err
	}
	if err := g.cb.SetVertexBuffer(g.triangle); err != nil {
		return err
	}

	if err := g.cb.BeginQuery(g.occlusion, 0); err != nil {
		return err
	}
	if err := g.cb.BeginQuery(g.statistics, 0); err != nil {
		return err
	}
	if err := g.cb.Draw(3, 0); err != nil {
		return err
	}
	if err := g.cb.EndQuery(g.statistics, 0); err != nil {
		return err
	}
	if err := g.cb.EndQuery(g.occlusion, 0); err != nil {
		return err
	}

	if err := g.cb.EndRenderPass(); err != nil {
		return err
	}
	if err := g.cb.EndQuery(g.timing, 0); err != nil {
		return err
	}
	if err := g.cb.End(); err != nil {
		return err
	}
	if err := g.renderer.Queue().Submit(g.cb); err != nil {
		return err
	}

	if g.cfg.Headless {
		if g.frame < headlessFrames {
			return nil
		}
		if err := g.renderer.WaitIdle(); err != nil {
			return err
		}
		g.logQueries()
		if err := g.writeScreenshot(); err != nil {
			return err
		}
		return engine.ErrQuit
	}

	if err := g.target.BlitToScreen(); err != nil {
		return err
	}
	if g.frame%240 == 0 {
		fps, frameMS := core.MetricsFrame()
		core.LogInfo("frame %d: %.0f fps, %.2f ms avg", g.frame, fps, frameMS)
		g.logQueries()
	}
	return nil
}

// scissorWindow slides a half-width scissor rectangle back and forth so the
// triangle is visibly cropped differently over time.
func (g *TestGame) scissorWindow(extent metadata.Extent2D) metadata.ScissorRect {
	w := int32(extent.Width)
	h := int32(extent.Height)
	span := float64(w) / 2
	offset := (gomath.Sin(g.scissorTime) + 1) / 2

	return metadata.ScissorRect{
		X:      int32(offset * span),
		Y:      h / 8,
		Width:  w / 2,
		Height: h - h/4,
	}
}

func (g *TestGame) logQueries() {
	if samples, ready, err := g.cb.QueryResult(g.occlusion, 0); err != nil {
		core.LogWarn("occlusion query failed: %s", err.Error())
	} else if ready {
		core.LogInfo("occlusion: %d samples passed", samples)
	}

	if stats, ready, err := g.cb.QueryPipelineStatisticsResult(g.statistics, 0); err != nil {
		core.LogWarn("statistics query failed: %s", err.Error())
	} else if ready {
		core.LogInfo("statistics: %d vertices, %d primitives in, %d clipped through, %d fragment invocations",
			stats.VerticesSubmitted, stats.PrimitivesSubmitted, stats.ClippingOutputPrimitives, stats.FragmentShaderInvocations)
	}

	if elapsed, ready, err := g.cb.QueryResult(g.timing, 0); err != nil {
		core.LogWarn("timing query failed: %s", err.Error())
	} else if ready {
		core.LogInfo("gpu frame time: %.3f ms", float64(elapsed)/1e6)
	}
}

// writeScreenshot resolves the target and encodes its first colour
// attachment as a PNG.
func (g *TestGame) writeScreenshot() error {
	pixels, err := g.target.ReadPixels(0)
	if err != nil {
		return err
	}

	extent := g.target.Extent()
	img := image.NewRGBA(image.Rect(0, 0, int(extent.Width), int(extent.Height)))
	copy(img.Pix, pixels)

	f, err := os.Create(g.cfg.ScreenshotPath)
	if err != nil {
		return core.Errorf("failed to create screenshot file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return core.Errorf("failed to encode screenshot: %w", err)
	}
	core.LogInfo("screenshot written to %s", g.cfg.ScreenshotPath)
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	if g.target == nil {
		return nil
	}
	core.LogInfo("testbed resizing to %dx%d", width, height)

	// In-flight frames still reference the old target.
	if err := g.renderer.WaitIdle(); err != nil {
		return err
	}
	g.releaseTarget()
	return g.createTarget(width, height)
}

func (g *TestGame) Shutdown() error {
	if g.renderer == nil {
		return nil
	}
	if err := g.renderer.WaitIdle(); err != nil {
		core.LogWarn("queue did not drain before testbed shutdown: %s", err.Error())
	}

	dev := g.renderer.Device()
	if g.cb != nil {
		g.cb.Release()
	}
	g.releaseTarget()
	if g.triangle != nil {
		dev.DestroyBuffer(g.triangle)
	}
	if g.pipeline != nil {
		dev.DestroyPipeline(g.pipeline)
	}
	if g.occlusion != nil {
		dev.DestroyQueryPool(g.occlusion)
	}
	if g.statistics != nil {
		dev.DestroyQueryPool(g.statistics)
	}
	if g.timing != nil {
		dev.DestroyQueryPool(g.timing)
	}
	return nil
}

// triangleVertices encodes one upward-pointing triangle in the interleaved
// position/colour layout the vertex fetch expects: six little-endian
// float32s per vertex.
func triangleVertices() []byte {
	vertices := []math.Vertex2D{
		{Position: math.Vec2{X: 0.0, Y: -0.6}, Colour: math.Vec4{X: 1, Y: 0.2, Z: 0.2, W: 1}},
		{Position: math.Vec2{X: -0.6, Y: 0.6}, Colour: math.Vec4{X: 0.2, Y: 1, Z: 0.2, W: 1}},
		{Position: math.Vec2{X: 0.6, Y: 0.6}, Colour: math.Vec4{X: 0.2, Y: 0.2, Z: 1, W: 1}},
	}

	data := make([]byte, 0, len(vertices)*24)
	put := func(v float32) {
		data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(v))
	}
	for _, v := range vertices {
		put(v.Position.X)
		put(v.Position.Y)
		put(v.Colour.X)
		put(v.Colour.Y)
		put(v.Colour.Z)
		put(v.Colour.W)
	}
	return data
}
