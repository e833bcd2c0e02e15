package metadata

/** @brief A handle value that marks an object as not backed by the device. */
const InvalidID uint32 = 0xFFFFFFFF

/** @brief Index element widths accepted by SetIndexBuffer. */
type IndexElementSize uint8

const (
	IndexElementSizeUint16 IndexElementSize = 2
	IndexElementSizeUint32 IndexElementSize = 4
)

/** @brief Describes a buffer for the device collaborator to create. */
type BufferConfig struct {
	Size uint64
	/** @brief Optional initial contents, uploaded at creation. */
	Data             []byte
	IndexElementSize IndexElementSize
	Name             string
}

/** @brief Describes a pipeline for the device collaborator to create. */
type PipelineConfig struct {
	Compute            bool
	ScissorTestEnabled bool
	DynamicScissor     bool
	Name               string
}

/**
 * @brief A GPU buffer as seen by the recording core: a native handle plus
 * the metadata binding code needs. Creation and upload belong to the device
 * collaborator.
 */
type Buffer struct {
	/** @brief The native buffer handle. */
	ID uint32
	/** @brief The size of the buffer in bytes. */
	Size uint64
	/** @brief Width of one index element, for index buffers. */
	IndexElementSize IndexElementSize
	/** @brief The buffer Name, for log correlation. */
	Name string
}

/**
 * @brief A precompiled pipeline state object. The recording core reads the
 * scissor flags to drive dynamic-state defaults; everything else is opaque
 * to it.
 */
type Pipeline struct {
	/** @brief The native pipeline handle. */
	ID uint32
	/** @brief True for compute pipelines, false for graphics. */
	Compute bool
	/** @brief Whether the pipeline enables scissor testing. */
	ScissorTestEnabled bool
	/** @brief Whether the pipeline declares scissor state as dynamic. */
	DynamicScissor bool
	/** @brief The pipeline Name, for log correlation. */
	Name string
}

/**
 * @brief A prebuilt group of shader-visible resource bindings. GroupIDs are
 * the native binding-group handles in set order; LayoutID identifies the
 * pipeline layout they were built against.
 */
type ResourceHeap struct {
	ID       uint32
	LayoutID uint32
	GroupIDs []uint32
	Name     string
}
