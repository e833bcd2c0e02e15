package renderer

import (
	"sync/atomic"

	"github.com/spaghettifunk/halcyon/engine/config"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// Renderer is the package frontend. It owns the device collaborator, the
// submission queue and the shared validation switch, and hands out command
// buffers, render targets and fences bound to them. Resource creation that
// the recording core never interprets, textures, buffers, pipelines and
// query pools, passes straight through to the device.
type Renderer struct {
	dev   device.Device
	caps  device.Caps
	queue *CommandQueue

	// validate gates the warn-and-continue diagnostics of command
	// recording. Shared with every command buffer, toggled live on config
	// reload.
	validate atomic.Bool

	defaultSlots int
}

// New wraps an opened device. The configuration sets the default slot count
// for command buffers and the initial validation state.
func New(dev device.Device, cfg *config.Config) (*Renderer, error) {
	if dev == nil {
		return nil, core.Errorf("renderer requires a device")
	}

	r := &Renderer{
		dev:          dev,
		caps:         dev.Caps(),
		queue:        NewCommandQueue(dev),
		defaultSlots: cfg.Slots,
	}
	r.validate.Store(cfg.ValidateRecording)

	core.LogInfo("renderer initialized on %s backend (recording=%t, max colour attachments=%d, max samples=%d)",
		r.caps.Name, r.caps.RequiresRecording, r.caps.MaxColourAttachments, r.caps.MaxSamples)
	return r, nil
}

// Caps returns the device capability set.
func (r *Renderer) Caps() device.Caps {
	return r.caps
}

// Device exposes the device collaborator for resource creation.
func (r *Renderer) Device() device.Device {
	return r.dev
}

// Queue returns the submission queue shared by all command buffers.
func (r *Renderer) Queue() *CommandQueue {
	return r.queue
}

// CreateCommandBuffer builds a command buffer with its rotation slots. A
// zero slot count in cfg takes the configured default.
func (r *Renderer) CreateCommandBuffer(cfg *metadata.CommandBufferConfig) (*CommandBuffer, error) {
	if cfg == nil {
		cfg = &metadata.CommandBufferConfig{}
	}
	if cfg.Slots == 0 {
		cfg.Slots = r.defaultSlots
	}
	return NewCommandBuffer(r.dev, cfg, &r.validate)
}

// CreateRenderTarget builds a render target from cfg.
func (r *Renderer) CreateRenderTarget(cfg *metadata.RenderTargetConfig) (*RenderTarget, error) {
	return NewRenderTarget(r.dev, cfg)
}

// CreateFence builds an unsignaled fence for manual queue synchronization.
func (r *Renderer) CreateFence() (*Fence, error) {
	return NewFence(r.dev)
}

// WaitIdle blocks until the queue has drained all submitted work.
func (r *Renderer) WaitIdle() error {
	return r.queue.WaitIdle()
}

// ApplyConfig picks up reloadable settings: log level and recording
// validation. Called by the application when the config file changes.
func (r *Renderer) ApplyConfig(cfg *config.Config) {
	core.SetLogLevel(cfg.LogLevel)
	r.validate.Store(cfg.ValidateRecording)
	core.LogInfo("renderer configuration applied (validation=%t)", cfg.ValidateRecording)
}

// Shutdown waits for the queue to drain and releases the device.
func (r *Renderer) Shutdown() error {
	if err := r.queue.WaitIdle(); err != nil {
		core.LogWarn("queue did not drain cleanly on shutdown: %s", err.Error())
	}
	if err := r.dev.Shutdown(); err != nil {
		return core.Errorf("device shutdown failed: %w", err)
	}
	core.LogInfo("renderer shut down")
	return nil
}
