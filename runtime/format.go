package runtime

import "github.com/gogpu/gputypes"

// formatInfo is the texel layout of a supported texture format.
type formatInfo struct {
	// texel encodes an RGBA color as one texel.
	texel func(dst []byte, rgba [4]byte)
	bpp   int
}

var formats = map[gputypes.TextureFormat]formatInfo{
	gputypes.TextureFormatRGBA8Unorm: {bpp: 4, texel: func(dst []byte, c [4]byte) {
		copy(dst, c[:])
	}},
	gputypes.TextureFormatBGRA8Unorm: {bpp: 4, texel: func(dst []byte, c [4]byte) {
		dst[0], dst[1], dst[2], dst[3] = c[2], c[1], c[0], c[3]
	}},
	gputypes.TextureFormatR8Unorm: {bpp: 1, texel: func(dst []byte, c [4]byte) {
		dst[0] = c[0]
	}},
	// depth is cleared to the red channel scaled to 24 bits, stencil to alpha
	gputypes.TextureFormatDepth24PlusStencil8: {bpp: 4, texel: func(dst []byte, c [4]byte) {
		dst[0], dst[1], dst[2], dst[3] = c[0], c[0], c[0], c[3]
	}},
}

// vertexFormat is the layout of a supported vertex position format.
type vertexFormat struct {
	size       int
	components int
}

var vertexFormats = map[gputypes.VertexFormat]vertexFormat{
	gputypes.VertexFormatFloat32:   {size: 4, components: 1},
	gputypes.VertexFormatFloat32x2: {size: 8, components: 2},
	gputypes.VertexFormatFloat32x4: {size: 16, components: 4},
}
