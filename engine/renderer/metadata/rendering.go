package metadata

import (
	"github.com/spaghettifunk/halcyon/engine/math"
)

/**
 * @brief The types of clearing to be done on bound attachments.
 * Can be combined together for multiple clearing functions.
 */
type ClearFlag uint32

const (
	/** @brief No clearing should be done. */
	CLEAR_FLAG_NONE ClearFlag = 0x0
	/** @brief Clear the colour buffer. */
	CLEAR_FLAG_COLOUR ClearFlag = 0x1
	/** @brief Clear the depth buffer. */
	CLEAR_FLAG_DEPTH ClearFlag = 0x2
	/** @brief Clear the stencil buffer. */
	CLEAR_FLAG_STENCIL ClearFlag = 0x4
	/** @brief Clear colour and depth buffers. */
	CLEAR_FLAG_COLOUR_DEPTH ClearFlag = CLEAR_FLAG_COLOUR | CLEAR_FLAG_DEPTH
	/** @brief Clear depth and stencil buffers. */
	CLEAR_FLAG_DEPTH_STENCIL ClearFlag = CLEAR_FLAG_DEPTH | CLEAR_FLAG_STENCIL
	/** @brief Clear all buffers. */
	CLEAR_FLAG_ALL ClearFlag = CLEAR_FLAG_COLOUR | CLEAR_FLAG_DEPTH | CLEAR_FLAG_STENCIL
)

/**
 * @brief Clear values applied by Clear and ClearAttachments. The zero
 * colour, depth 1.0 and stencil 0 match what a freshly created command
 * buffer caches.
 */
type ClearValue struct {
	Colour  math.Vec4
	Depth   float32
	Stencil uint32
}

func DefaultClearValue() ClearValue {
	return ClearValue{
		Colour:  math.Vec4{X: 0, Y: 0, Z: 0, W: 0},
		Depth:   1.0,
		Stencil: 0,
	}
}

/**
 * @brief One entry of a ClearAttachments command. Flags selects the aspect;
 * ColourAttachment is only read when the colour bit is set.
 */
type AttachmentClear struct {
	Flags            ClearFlag
	ColourAttachment uint32
	Value            ClearValue
}

/** @brief A viewport rectangle with a depth range, in framebuffer coordinates. */
type Viewport struct {
	X        float32
	Y        float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

/** @brief A scissor rectangle in framebuffer coordinates. */
type ScissorRect struct {
	X      int32
	Y      int32
	Width  int32
	Height int32
}

/** @brief A framebuffer resolution in pixels. */
type Extent2D struct {
	Width  uint32
	Height uint32
}

// FullScissor returns the scissor rectangle covering the whole extent.
func (e Extent2D) FullScissor() ScissorRect {
	return ScissorRect{X: 0, Y: 0, Width: int32(e.Width), Height: int32(e.Height)}
}

type CommandBufferConfig struct {
	/** @brief Number of native recording slots to rotate through. Clamped to
	 * one on backends without a separate recording step. */
	Slots int
	/** @brief Optional name used in log lines. */
	DebugName string
}
