package metadata

const (
	/** @brief Upper bound of colour attachments on a single render target. */
	MAX_COLOUR_ATTACHMENTS = 32
	/** @brief Max viewports or scissors accepted by one native call. */
	MAX_VIEWPORTS_PER_CALL = 16
)

/** @brief Selects which aspect an attachment feeds. */
type AttachmentType uint32

const (
	ATTACHMENT_TYPE_COLOUR  AttachmentType = 0x1
	ATTACHMENT_TYPE_DEPTH   AttachmentType = 0x2
	ATTACHMENT_TYPE_STENCIL AttachmentType = 0x4
	/** @brief Combined depth and stencil in one attachment. */
	ATTACHMENT_TYPE_DEPTH_STENCIL AttachmentType = ATTACHMENT_TYPE_DEPTH | ATTACHMENT_TYPE_STENCIL
)

func (t AttachmentType) IsColour() bool {
	return t&ATTACHMENT_TYPE_COLOUR != 0
}

func (t AttachmentType) IsDepthStencil() bool {
	return t&(ATTACHMENT_TYPE_DEPTH|ATTACHMENT_TYPE_STENCIL) != 0
}

/**
 * @brief Describes one attachment of a render target. A nil Texture on a
 * depth/stencil entry asks the target to create an owned renderbuffer in
 * Format. Colour entries must carry a texture.
 */
type AttachmentConfig struct {
	Type    AttachmentType
	Texture *Texture
	/** @brief Format for texture-less depth/stencil attachments. */
	Format Format
	/** @brief Mip level of the texture to attach. */
	MipLevel uint32
	/** @brief Array layer or cube face, for layered texture types. */
	Layer uint32
}

/**
 * @brief Describes a render target to construct. An empty attachment list
 * produces a headless target of the given resolution.
 */
type RenderTargetConfig struct {
	Width  uint32
	Height uint32
	/** @brief Samples per pixel. Values above 1 enable multisampling. */
	Samples uint32
	/** @brief Attachment descriptors in bind order. */
	Attachments []*AttachmentConfig
	/** @brief Optional name used in log lines. */
	DebugName string
}
