// Package soft is a pure software rendering device. It implements the full
// device contract with an in-process executor goroutine, channel fences and
// a scanline triangle rasterizer, which makes it the reference backend for
// tests and headless tools: every recording behaviour observable on a GPU
// backend is observable here, without a GPU.
package soft

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

const (
	defaultMaxColourAttachments = 8
	defaultMaxSamples           = 8
	defaultQueueDepth           = 64
)

// Options tunes the software device. The zero value gives an explicit
// device with conservative capabilities: no no-attachment framebuffers and
// no direct resolve, so construction takes the dummy-renderbuffer and
// secondary-framebuffer paths a baseline GL device would.
type Options struct {
	// Extent of the presentation surface blits to a nil destination land
	// on. Zero means headless with no such surface.
	Extent metadata.Extent2D
	// Immediate switches to immediate mode: one implicit slot, commands
	// execute as issued, submits are no-ops.
	Immediate bool
	// MaxColourAttachments caps one target's attachment list; 0 defaults
	// to 8.
	MaxColourAttachments int
	// MaxSamples caps multisampling; 0 defaults to 8.
	MaxSamples uint32
	// NoAttachmentFramebuffers enables extent-only framebuffers.
	NoAttachmentFramebuffers bool
	// ResolveIntoTextures reports multisample resolve happening directly
	// into attachment textures, removing the secondary framebuffer.
	ResolveIntoTextures bool
	// QueueDepth bounds the executor ring; 0 defaults to 64.
	QueueDepth int
}

// Device is the software implementation of the device contract.
type Device struct {
	caps      device.Caps
	immediate bool

	// handles maps every live native object, so InUse doubles as a leak
	// detector.
	handles *core.IDPool

	exec   *executor
	screen *surface
	counts counters
	closed atomic.Bool
}

type textureStorage struct {
	surf *surface
}

type bufferStorage struct {
	data []byte
}

func New(opts Options) (*Device, error) {
	maxColour := opts.MaxColourAttachments
	if maxColour <= 0 || maxColour > metadata.MAX_COLOUR_ATTACHMENTS {
		maxColour = defaultMaxColourAttachments
	}
	maxSamples := opts.MaxSamples
	if maxSamples == 0 {
		maxSamples = defaultMaxSamples
	}
	queueDepth := opts.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}

	d := &Device{
		immediate: opts.Immediate,
		handles:   core.NewIDPool(),
	}
	d.caps = device.Caps{
		Name:                       "soft",
		MaxColourAttachments:       maxColour,
		MaxViewportsPerCall:        metadata.MAX_VIEWPORTS_PER_CALL,
		RequiresRecording:          !opts.Immediate,
		HasNoAttachmentFramebuffer: opts.NoAttachmentFramebuffers,
		CanResolveIntoTextures:     opts.ResolveIntoTextures,
		MaxSamples:                 maxSamples,
	}
	if opts.Extent.Width > 0 && opts.Extent.Height > 0 {
		d.screen = newSurface(metadata.FormatRGBA8, opts.Extent, 1)
	}
	if !opts.Immediate {
		d.exec = newExecutor(queueDepth)
	}

	core.LogInfo("software device opened (immediate=%t, %d colour attachments, %d samples max)",
		opts.Immediate, maxColour, maxSamples)
	return d, nil
}

func (d *Device) Caps() device.Caps {
	return d.caps
}

func (d *Device) CreateCommandSlots(count int, debugName string) ([]device.CommandSlot, error) {
	if count < 1 || d.immediate {
		count = 1
	}
	slots := make([]device.CommandSlot, count)
	for i := range slots {
		slots[i] = &commandSlot{
			dev:   d,
			name:  fmt.Sprintf("%s[%d]", debugName, i),
			fence: newFence(false),
		}
	}
	core.LogDebug("software device allocated %d slot(s) for %s", count, debugName)
	return slots, nil
}

func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	return newFence(signaled), nil
}

func (d *Device) DestroyFence(f device.Fence) {
}

func (d *Device) WaitForFence(f device.Fence, timeoutNs uint64) bool {
	sf, ok := f.(*fence)
	if !ok {
		core.LogWarn("software device asked to wait on a foreign fence")
		return false
	}
	return sf.wait(timeoutNs)
}

func (d *Device) ResetFence(f device.Fence) error {
	sf, ok := f.(*fence)
	if !ok {
		return core.Errorf("software device asked to reset a foreign fence")
	}
	sf.reset()
	return nil
}

func (d *Device) SubmitSlot(slot device.CommandSlot) error {
	if d.immediate {
		// Commands already ran when they were issued.
		return nil
	}
	s, ok := slot.(*commandSlot)
	if !ok {
		return core.Errorf("software device asked to submit a foreign slot")
	}
	d.counts.slotSubmissions.Add(1)
	return d.exec.submit(workItem{run: s.execute, fence: s.fence})
}

func (d *Device) SubmitFence(f device.Fence) error {
	sf, ok := f.(*fence)
	if !ok {
		return core.Errorf("software device asked to submit a foreign fence")
	}
	d.counts.fenceSubmissions.Add(1)
	if d.immediate {
		sf.signal()
		return nil
	}
	return d.exec.submit(workItem{fence: sf})
}

func (d *Device) QueueWaitIdle() error {
	if d.exec != nil {
		d.exec.waitIdle()
	}
	return nil
}

func (d *Device) CreateFramebuffer(extent metadata.Extent2D) (device.Framebuffer, error) {
	fb := &framebuffer{
		dev:    d,
		extent: extent,
		colour: make(map[int]*surface),
	}
	fb.id = d.handles.Acquire(fb)
	return fb, nil
}

func (d *Device) CreateRenderbuffer(format metadata.Format, extent metadata.Extent2D, samples uint32) (device.Renderbuffer, error) {
	if format == metadata.FormatUnknown {
		return nil, core.Errorf("software device: renderbuffer needs a concrete format")
	}
	rb := &renderbuffer{
		dev:  d,
		surf: newSurface(format, extent, samples),
	}
	rb.id = d.handles.Acquire(rb)
	return rb, nil
}

func (d *Device) Blit(dst device.Framebuffer, src device.Framebuffer, colourIndex int, extent metadata.Extent2D, aspects metadata.AttachmentType) error {
	if aspects == 0 {
		return nil
	}
	d.counts.blits.Add(1)

	srcFB, ok := src.(*framebuffer)
	if !ok || srcFB == nil {
		return core.Errorf("software device: blit source from another backend")
	}

	if dst == nil {
		if d.screen == nil {
			return core.Errorf("software device: no presentation surface to blit to")
		}
		if aspects&metadata.ATTACHMENT_TYPE_COLOUR != 0 {
			surf := srcFB.colour[colourIndex]
			if surf == nil {
				return core.Errorf("software device: blit source has no colour attachment %d", colourIndex)
			}
			blitColour(d.screen, surf)
		}
		return nil
	}

	dstFB, ok := dst.(*framebuffer)
	if !ok {
		return core.Errorf("software device: blit destination from another backend")
	}
	if aspects&metadata.ATTACHMENT_TYPE_COLOUR != 0 {
		srcSurf := srcFB.colour[colourIndex]
		dstSurf := dstFB.colour[colourIndex]
		if srcSurf == nil || dstSurf == nil {
			return core.Errorf("software device: blit endpoints missing colour attachment %d", colourIndex)
		}
		blitColour(dstSurf, srcSurf)
	}
	if aspects&(metadata.ATTACHMENT_TYPE_DEPTH|metadata.ATTACHMENT_TYPE_STENCIL) != 0 {
		if srcFB.depthStencil != nil && dstFB.depthStencil != nil {
			blitDepthStencil(dstFB.depthStencil, srcFB.depthStencil, aspects)
		}
	}
	return nil
}

func (d *Device) QueryResult(pool *metadata.QueryPool, index uint32) (uint64, bool, error) {
	qp, err := d.queryStorage(pool)
	if err != nil {
		return 0, false, err
	}
	if qp.typ == metadata.QueryTypePipelineStatistics {
		return 0, false, core.Errorf("software device: %s holds pipeline statistics, not a single value", pool.Name)
	}
	return qp.result(index)
}

func (d *Device) QueryPipelineStatistics(pool *metadata.QueryPool, index uint32) ([]uint64, bool, error) {
	qp, err := d.queryStorage(pool)
	if err != nil {
		return nil, false, err
	}
	if qp.typ != metadata.QueryTypePipelineStatistics {
		return nil, false, core.Errorf("software device: %s does not hold pipeline statistics", pool.Name)
	}
	return qp.statistics(index)
}

func (d *Device) CreateTexture(cfg *metadata.TextureConfig) (*metadata.Texture, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, core.Errorf("software device: texture %s has zero extent", cfg.Name)
	}
	if cfg.Format == metadata.FormatUnknown {
		return nil, core.Errorf("software device: texture %s needs a concrete format", cfg.Name)
	}
	samples := cfg.Samples
	if samples == 0 {
		samples = 1
	}
	if samples > d.caps.MaxSamples {
		samples = d.caps.MaxSamples
	}

	stor := &textureStorage{
		surf: newSurface(cfg.Format, metadata.Extent2D{Width: cfg.Width, Height: cfg.Height}, samples),
	}
	tex := &metadata.Texture{
		ID:          d.handles.Acquire(stor),
		TextureType: cfg.Type,
		Format:      cfg.Format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Layers:      max(cfg.Layers, 1),
		MipLevels:   max(cfg.MipLevels, 1),
		Samples:     samples,
		Name:        cfg.Name,
	}
	return tex, nil
}

func (d *Device) DestroyTexture(tex *metadata.Texture) {
	if tex == nil {
		return
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
		return nil, core.Errorf("software device: buffer %s has zero size", cfg.Name)
	}
	stor := &bufferStorage{data: make([]byte, size)}
	copy(stor.data, cfg.Data)
	buf := &metadata.Buffer{
		ID:               d.handles.Acquire(stor),
		Size:             size,
		IndexElementSize: cfg.IndexElementSize,
		Name:             cfg.Name,
	}
	return buf, nil
}

func (d *Device) DestroyBuffer(b *metadata.Buffer) {
	if b == nil {
		return
	}
	if err := d.handles.Release(b.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	b.ID = metadata.InvalidID
}

func (d *Device) CreatePipeline(cfg *metadata.PipelineConfig) (*metadata.Pipeline, error) {
	p := &metadata.Pipeline{
		Compute:            cfg.Compute,
		ScissorTestEnabled: cfg.ScissorTestEnabled,
		DynamicScissor:     cfg.DynamicScissor,
		Name:               cfg.Name,
	}
	p.ID = d.handles.Acquire(p)
	return p, nil
}

func (d *Device) DestroyPipeline(p *metadata.Pipeline) {
	if p == nil {
		return
	}
	if err := d.handles.Release(p.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	p.ID = metadata.InvalidID
}

func (d *Device) CreateQueryPool(t metadata.QueryType, count uint32) (*metadata.QueryPool, error) {
	if count == 0 {
		return nil, core.Errorf("software device: query pool needs at least one query")
	}
	qp := newQueryPool(t, count)
	pool := &metadata.QueryPool{
		ID:    d.handles.Acquire(qp),
		Type:  t,
		Count: count,
		Name:  t.String(),
	}
	return pool, nil
}

func (d *Device) DestroyQueryPool(pool *metadata.QueryPool) {
	if pool == nil {
		return
	}
	if err := d.handles.Release(pool.ID); err != nil {
		core.LogWarn("%s", err.Error())
	}
	pool.ID = metadata.InvalidID
}

func (d *Device) Shutdown() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.exec != nil {
		d.exec.close()
	}
	core.LogInfo("software device closed (%d objects still alive)", d.handles.InUse())
	return nil
}

// SetExecuteHook installs a callback the executor runs before each slot
// execution. Tests stall it to keep slot fences unsignaled. A nil hook
// removes it. No-op in immediate mode.
func (d *Device) SetExecuteHook(h func()) {
	if d.exec != nil {
		d.exec.setHook(h)
	}
}

// AllocationCount reports how many native objects are alive: textures,
// buffers, pipelines, query pools, framebuffers and renderbuffers.
func (d *Device) AllocationCount() int {
	return d.handles.InUse()
}

// Counts returns a snapshot of the native call counters.
func (d *Device) Counts() OpCounts {
	return d.counts.snapshot()
}

// Screen returns the live presentation surface, or nil when the device was
// opened without one.
func (d *Device) Screen() *image.RGBA {
	if d.screen == nil {
		return nil
	}
	return d.screen.img
}

func (d *Device) textureSurface(tex *metadata.Texture) (*surface, error) {
	if tex == nil {
		return nil, core.Errorf("software device: nil texture")
	}
	stor, ok := d.handles.Owner(tex.ID).(*textureStorage)
	if !ok {
		return nil, core.Errorf("software device: texture %s (id %d) is not alive", tex.Name, tex.ID)
	}
	return stor.surf, nil
}

func (d *Device) bufferBytes(b *metadata.Buffer) ([]byte, error) {
	if b == nil {
		return nil, core.Errorf("software device: nil buffer")
	}
	stor, ok := d.handles.Owner(b.ID).(*bufferStorage)
	if !ok {
		return nil, core.Errorf("software device: buffer %s (id %d) is not alive", b.Name, b.ID)
	}
	return stor.data, nil
}

func (d *Device) queryStorage(pool *metadata.QueryPool) (*queryPool, error) {
	if pool == nil {
		return nil, core.Errorf("software device: nil query pool")
	}
	qp, ok := d.handles.Owner(pool.ID).(*queryPool)
	if !ok {
		return nil, core.Errorf("software device: query pool %s (id %d) is not alive", pool.Name, pool.ID)
	}
	return qp, nil
}

// counters are the native call tallies tests assert against. Atomic because
// recording and execution touch them from different goroutines.
type counters struct {
	slotBegins        atomic.Uint64
	slotEnds          atomic.Uint64
	passBegins        atomic.Uint64
	passEnds          atomic.Uint64
	pipelineBinds     atomic.Uint64
	vertexBufferBinds atomic.Uint64
	indexBufferBinds  atomic.Uint64
	resourceHeapBinds atomic.Uint64
	viewportCalls     atomic.Uint64
	scissorCalls      atomic.Uint64
	clearCalls        atomic.Uint64
	clearEntries      atomic.Uint64
	draws             atomic.Uint64
	dispatches        atomic.Uint64
	queryBegins       atomic.Uint64
	queryEnds         atomic.Uint64
	slotSubmissions   atomic.Uint64
	fenceSubmissions  atomic.Uint64
	blits             atomic.Uint64
}

// OpCounts is a point-in-time copy of the call counters. Each field counts
// native calls, not public API calls: one chunked SetViewports can raise
// ViewportCalls several times, one Clear raises ClearCalls once and
// ClearEntries per attachment touched.
type OpCounts struct {
	SlotBegins        uint64
	SlotEnds          uint64
	PassBegins        uint64
	PassEnds          uint64
	PipelineBinds     uint64
	VertexBufferBinds uint64
	IndexBufferBinds  uint64
	ResourceHeapBinds uint64
	ViewportCalls     uint64
	ScissorCalls      uint64
	ClearCalls        uint64
	ClearEntries      uint64
	Draws             uint64
	Dispatches        uint64
	QueryBegins       uint64
	QueryEnds         uint64
	SlotSubmissions   uint64
	FenceSubmissions  uint64
	Blits             uint64
}

func (c *counters) snapshot() OpCounts {
	return OpCounts{
		SlotBegins:        c.slotBegins.Load(),
		SlotEnds:          c.slotEnds.Load(),
		PassBegins:        c.passBegins.Load(),
		PassEnds:          c.passEnds.Load(),
		PipelineBinds:     c.pipelineBinds.Load(),
		VertexBufferBinds: c.vertexBufferBinds.Load(),
		IndexBufferBinds:  c.indexBufferBinds.Load(),
		ResourceHeapBinds: c.resourceHeapBinds.Load(),
		ViewportCalls:     c.viewportCalls.Load(),
		ScissorCalls:      c.scissorCalls.Load(),
		ClearCalls:        c.clearCalls.Load(),
		ClearEntries:      c.clearEntries.Load(),
		Draws:             c.draws.Load(),
		Dispatches:        c.dispatches.Load(),
		QueryBegins:       c.queryBegins.Load(),
		QueryEnds:         c.queryEnds.Load(),
		SlotSubmissions:   c.slotSubmissions.Load(),
		FenceSubmissions:  c.fenceSubmissions.Load(),
		Blits:             c.blits.Load(),
	}
}

func init() {
	device.Register("soft", func(opts device.Options) (device.Device, error) {
		return New(Options{Extent: opts.Extent})
	})
	device.Register("soft-immediate", func(opts device.Options) (device.Device, error) {
		return New(Options{Extent: opts.Extent, Immediate: true})
	})
}
