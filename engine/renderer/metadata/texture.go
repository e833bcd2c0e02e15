package metadata

/**
 * @brief Represents various types of textures. Each type routes through a
 * distinct native framebuffer-attach call.
 */
type TextureType int

const (
	/** @brief A standard one-dimensional texture. */
	TextureType1d TextureType = iota
	/** @brief A standard two-dimensional texture. */
	TextureType2d
	/** @brief A three-dimensional (volume) texture. */
	TextureType3d
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
	/** @brief An array of one-dimensional textures. */
	TextureType1dArray
	/** @brief An array of two-dimensional textures. */
	TextureType2dArray
	/** @brief An array of cube textures. */
	TextureTypeCubeArray
	/** @brief A multisampled two-dimensional texture. */
	TextureType2dMultisample
	/** @brief An array of multisampled two-dimensional textures. */
	TextureType2dMultisampleArray
)

// HasLayers reports whether attaching this type selects an array layer or
// cube face in addition to the mip level.
func (t TextureType) HasLayers() bool {
	switch t {
	case TextureTypeCube, TextureType1dArray, TextureType2dArray,
		TextureTypeCubeArray, TextureType2dMultisampleArray:
		return true
	}
	return false
}

/** @brief Pixel formats understood by the attachment model. */
type Format int

const (
	FormatUnknown Format = iota
	/** @brief 8-bit per channel RGBA, unsigned normalized. */
	FormatRGBA8
	/** @brief 8-bit per channel BGRA, unsigned normalized. */
	FormatBGRA8
	/** @brief 16-bit float per channel RGBA. */
	FormatRGBA16F
	/** @brief 32-bit float per channel RGBA. */
	FormatRGBA32F
	/** @brief 32-bit float depth. */
	FormatD32F
	/** @brief 24-bit depth packed with 8-bit stencil. */
	FormatD24S8
	/** @brief 8-bit stencil only. */
	FormatS8
)

func (f Format) IsColour() bool {
	switch f {
	case FormatRGBA8, FormatBGRA8, FormatRGBA16F, FormatRGBA32F:
		return true
	}
	return false
}

func (f Format) HasDepth() bool {
	return f == FormatD32F || f == FormatD24S8
}

func (f Format) HasStencil() bool {
	return f == FormatD24S8 || f == FormatS8
}

/** @brief Describes a texture for the device collaborator to create. */
type TextureConfig struct {
	Type      TextureType
	Format    Format
	Width     uint32
	Height    uint32
	Layers    uint32
	MipLevels uint32
	Samples   uint32
	Name      string
}

/**
 * @brief Represents a texture as seen by the command-recording core: a
 * native handle plus the dimensionality metadata attachment code needs.
 * Creation and pixel upload belong to the device collaborator.
 */
type Texture struct {
	/** @brief The native texture handle. */
	ID uint32
	/** @brief The texture type. */
	TextureType TextureType
	/** @brief The pixel format. */
	Format Format
	/** @brief The texture Width. */
	Width uint32
	/** @brief The texture Height. */
	Height uint32
	/** @brief Depth for 3D textures, array size for array types, else 1. */
	Layers uint32
	/** @brief The number of mip levels. */
	MipLevels uint32
	/** @brief Samples per pixel. 1 means not multisampled. */
	Samples uint32
	/** @brief The texture Name, for log correlation. */
	Name string
}
