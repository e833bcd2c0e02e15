// Package device defines the contracts the command-recording core consumes
// from a native backend. Everything behind these interfaces is out of the
// core's scope: instance and surface creation, shader compilation, memory
// management. The core only records, submits and synchronizes.
package device

import (
	"errors"

	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

var (
	// ErrNotSupported marks an optional operation the backend does not
	// implement, such as pixel readback on adapters without staging paths.
	ErrNotSupported = errors.New("operation not supported by this device")
	// ErrDeviceLost is wrapped by backends when the native device dies.
	ErrDeviceLost = errors.New("device lost")
)

// Caps describes what a backend can do. The recording core branches on
// these instead of on concrete device types.
type Caps struct {
	// Name of the backend, matching its registry entry.
	Name string
	// MaxColourAttachments bounds the colour attachment list of one target.
	MaxColourAttachments int
	// MaxViewportsPerCall caps how many viewports or scissors one native
	// call accepts; longer inputs are chunked by the core.
	MaxViewportsPerCall int
	// RequiresRecording is false for immediate-mode backends where slot
	// begin/end are no-ops and commands execute as they are issued.
	RequiresRecording bool
	// HasNoAttachmentFramebuffer permits headless framebuffers without a
	// synthesized dummy attachment.
	HasNoAttachmentFramebuffer bool
	// CanResolveIntoTextures means multisample content resolves directly
	// into attachment textures, so no secondary framebuffer is needed.
	CanResolveIntoTextures bool
	// MaxSamples is the highest supported sample count.
	MaxSamples uint32
}

// Fence is a GPU to CPU synchronization point. Wait and reset go through
// the owning Device so backends can batch native calls.
type Fence interface {
	// Signaled reports the last observed state without blocking.
	Signaled() bool
}

// AttachmentBinding names a framebuffer binding point.
type AttachmentBinding struct {
	Aspect metadata.AttachmentType
	// Index of the colour attachment; ignored for depth/stencil aspects.
	Index int
}

// ClearEntry is one native attachment clear, already converted from the
// public AttachmentClear form by the core.
type ClearEntry struct {
	Aspect      metadata.AttachmentType
	ColourIndex uint32
	Value       metadata.ClearValue
}

// DrawArgs parameterizes the single native draw primitive all public draw
// variants funnel into.
type DrawArgs struct {
	Indexed bool
	// Count is the vertex count, or index count when Indexed.
	Count uint32
	// First is the first vertex, or first index when Indexed.
	First uint32
	// VertexOffset is added to each index value. Indexed draws only.
	VertexOffset  int32
	InstanceCount uint32
	FirstInstance uint32
}

// CommandSlot is one native recording unit. Explicit backends allocate
// several per command buffer and rotate; immediate backends hand out a
// single implicit slot whose Begin and End do nothing.
type CommandSlot interface {
	Begin() error
	End() error
	// Fence returns the slot's completion fence. The core waits on it
	// before reusing the slot and the device signals it after execution.
	Fence() Fence

	BeginPass(fb Framebuffer, extent metadata.Extent2D) error
	EndPass() error

	BindPipeline(p *metadata.Pipeline) error
	BindVertexBuffers(first uint32, buffers []*metadata.Buffer) error
	BindIndexBuffer(b *metadata.Buffer) error
	BindResourceGroups(heap *metadata.ResourceHeap, firstSet uint32, compute bool) error

	SetViewports(first uint32, viewports []metadata.Viewport) error
	SetScissors(first uint32, rects []metadata.ScissorRect) error

	ClearAttachments(entries []ClearEntry) error
	Draw(args DrawArgs) error
	Dispatch(x, y, z uint32) error

	BeginQuery(pool *metadata.QueryPool, query uint32, precise bool) error
	EndQuery(pool *metadata.QueryPool, query uint32) error
}

// Renderbuffer is an owned, texture-less attachment surface.
type Renderbuffer interface {
	Release()
}

// Framebuffer is a native attachment container under construction or in
// use. Attach calls are phase one of target construction; Validate checks
// completeness and is fatal on failure.
type Framebuffer interface {
	AttachRenderbuffer(binding AttachmentBinding, rb Renderbuffer) error
	AttachTexture1D(binding AttachmentBinding, tex *metadata.Texture, mipLevel uint32) error
	AttachTexture2D(binding AttachmentBinding, tex *metadata.Texture, mipLevel uint32, multisample bool) error
	AttachTexture3D(binding AttachmentBinding, tex *metadata.Texture, mipLevel, zSlice uint32) error
	AttachTextureCube(binding AttachmentBinding, tex *metadata.Texture, mipLevel, face uint32) error
	AttachTextureLayer(binding AttachmentBinding, tex *metadata.Texture, mipLevel, layer uint32) error

	// SetNoAttachmentExtent sizes a framebuffer that has no attachments.
	// Only valid when Caps.HasNoAttachmentFramebuffer is set.
	SetNoAttachmentExtent(extent metadata.Extent2D) error
	// SetDrawBuffers declares how many colour outputs receive fragment
	// writes.
	SetDrawBuffers(count int) error
	Validate() error

	// ReadPixels returns tightly packed RGBA8 rows of the given colour
	// attachment region. Backends may return ErrNotSupported.
	ReadPixels(colourIndex int, x, y, w, h uint32) ([]uint8, error)
	Release()
}

// Device is the top collaborator contract. One Device per opened backend;
// all methods are safe for use from the thread that owns the frame loop,
// and fence waits may be called from any goroutine.
type Device interface {
	Caps() Caps

	CreateCommandSlots(count int, debugName string) ([]CommandSlot, error)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	// WaitForFence blocks until f signals or timeoutNs elapses. Returns
	// false on timeout or device loss.
	WaitForFence(f Fence, timeoutNs uint64) bool
	ResetFence(f Fence) error

	// SubmitSlot hands a closed recording to the queue. The slot's fence
	// signals when execution completes. Immediate backends return nil
	// without doing anything.
	SubmitSlot(slot CommandSlot) error
	// SubmitFence inserts a queue-ordered signal point.
	SubmitFence(f Fence) error
	QueueWaitIdle() error

	CreateFramebuffer(extent metadata.Extent2D) (Framebuffer, error)
	CreateRenderbuffer(format metadata.Format, extent metadata.Extent2D, samples uint32) (Renderbuffer, error)
	// Blit copies one colour attachment (plus the requested aspects) from
	// src to dst, resolving samples when src is multisampled. A nil dst
	// targets the display back buffer.
	Blit(dst Framebuffer, src Framebuffer, colourIndex int, extent metadata.Extent2D, aspects metadata.AttachmentType) error

	// QueryResult fetches one 64-bit query value. The second return is
	// false while the result is not ready, which is not an error.
	QueryResult(pool *metadata.QueryPool, query uint32) (uint64, bool, error)
	// QueryPipelineStatistics fetches the raw native counter vector.
	QueryPipelineStatistics(pool *metadata.QueryPool, query uint32) ([]uint64, bool, error)

	CreateTexture(cfg *metadata.TextureConfig) (*metadata.Texture, error)
	DestroyTexture(tex *metadata.Texture)
	CreateBuffer(cfg *metadata.BufferConfig) (*metadata.Buffer, error)
	DestroyBuffer(b *metadata.Buffer)
	CreatePipeline(cfg *metadata.PipelineConfig) (*metadata.Pipeline, error)
	DestroyPipeline(p *metadata.Pipeline)
	CreateQueryPool(t metadata.QueryType, count uint32) (*metadata.QueryPool, error)
	DestroyQueryPool(pool *metadata.QueryPool)

	Shutdown() error
}
