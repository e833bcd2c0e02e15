package soft

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/halcyon/engine/math"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// Vertex layout the rasterizer consumes from input slot zero: position in
// normalized device coordinates followed by an RGBA colour, six float32s.
const vertexStride = 24

func vertexAt(data []byte, index uint32) (math.Vertex2D, bool) {
	off := int(index) * vertexStride
	if off < 0 || off+vertexStride > len(data) {
		return math.Vertex2D{}, false
	}
	f := func(o int) float32 {
		return gomath.Float32frombits(binary.LittleEndian.Uint32(data[off+o:]))
	}
	return math.Vertex2D{
		Position: math.Vec2{X: f(0), Y: f(4)},
		Colour:   math.Vec4{X: f(8), Y: f(12), Z: f(16), W: f(20)},
	}, true
}

func indexAt(data []byte, size metadata.IndexElementSize, i uint32) (uint32, bool) {
	switch size {
	case metadata.IndexElementSizeUint16:
		off := int(i) * 2
		if off+2 > len(data) {
			return 0, false
		}
		return uint32(binary.LittleEndian.Uint16(data[off:])), true
	case metadata.IndexElementSizeUint32:
		off := int(i) * 4
		if off+4 > len(data) {
			return 0, false
		}
		return binary.LittleEndian.Uint32(data[off:]), true
	}
	return 0, false
}

// executeDraw runs one draw against the execution state: fetch vertices,
// assemble triangles, rasterize into every active draw buffer, and feed the
// per-draw counters into whichever queries are open.
func executeDraw(st *execState, args device.DrawArgs) {
	if st.fb == nil || st.pipeline == nil || st.pipeline.Compute {
		return
	}

	instances := args.InstanceCount
	if instances == 0 {
		instances = 1
	}

	var counts [metadata.PipelineStatCounters]uint64
	var samples uint64

	for inst := uint32(0); inst < instances; inst++ {
		counts[counterVerticesSubmitted] += uint64(args.Count)
		counts[counterPrimitivesSubmitted] += uint64(args.Count / 3)
		counts[counterVertexInvocations] += uint64(args.Count)

		for t := uint32(0); t+3 <= args.Count; t += 3 {
			v0, ok0 := fetchVertex(st, args, t+0)
			v1, ok1 := fetchVertex(st, args, t+1)
			v2, ok2 := fetchVertex(st, args, t+2)
			if !ok0 || !ok1 || !ok2 {
				return
			}
			counts[counterClippingInput]++
			written, visible := rasterTriangle(st, v0, v1, v2)
			if visible {
				counts[counterClippingOutput]++
			}
			counts[counterFragmentInvocations] += written
			samples += written
		}
	}

	st.accumulate(samples, &counts)
}

func fetchVertex(st *execState, args device.DrawArgs, n uint32) (math.Vertex2D, bool) {
	if !args.Indexed {
		return vertexAt(st.vertexData, args.First+n)
	}
	idx, ok := indexAt(st.indexData, st.indexSize, args.First+n)
	if !ok {
		return math.Vertex2D{}, false
	}
	v := int64(idx) + int64(args.VertexOffset)
	if v < 0 {
		return math.Vertex2D{}, false
	}
	return vertexAt(st.vertexData, uint32(v))
}

// rasterTriangle fills one triangle with barycentric-interpolated colours.
// Positions go through the viewport transform, then scale up to the sample
// grid; the raster region is the triangle's bounding box cut down by the
// scissor, the viewport and the surface bounds. Returns how many samples
// were written and whether anything of the triangle survived.
func rasterTriangle(st *execState, v0, v1, v2 math.Vertex2D) (uint64, bool) {
	fb := st.fb
	sx, sy := fb.sampleFactors()
	fsx, fsy := float32(sx), float32(sy)

	transform := func(p math.Vec2) math.Vec2 {
		return math.Vec2{
			X: (st.viewport.X + (p.X*0.5+0.5)*st.viewport.Width) * fsx,
			Y: (st.viewport.Y + (p.Y*0.5+0.5)*st.viewport.Height) * fsy,
		}
	}
	a := transform(v0.Position)
	b := transform(v1.Position)
	c := transform(v2.Position)
	c0, c1, c2 := v0.Colour, v1.Colour, v2.Colour

	area := math.EdgeFunction(a, b, c)
	if area == 0 {
		return 0, false
	}
	if area < 0 {
		b, c = c, b
		c1, c2 = c2, c1
		area = -area
	}

	minX := int(gomath.Floor(float64(math.Min3(a.X, b.X, c.X))))
	minY := int(gomath.Floor(float64(math.Min3(a.Y, b.Y, c.Y))))
	maxX := int(gomath.Ceil(float64(math.Max3(a.X, b.X, c.X))))
	maxY := int(gomath.Ceil(float64(math.Max3(a.Y, b.Y, c.Y))))

	minX = max(minX, int(st.scissor.X)*sx, int(st.viewport.X*fsx), 0)
	minY = max(minY, int(st.scissor.Y)*sy, int(st.viewport.Y*fsy), 0)
	maxX = min(maxX, (int(st.scissor.X)+int(st.scissor.Width))*sx,
		int((st.viewport.X+st.viewport.Width)*fsx), int(fb.extent.Width)*sx)
	maxY = min(maxY, (int(st.scissor.Y)+int(st.scissor.Height))*sy,
		int((st.viewport.Y+st.viewport.Height)*fsy), int(fb.extent.Height)*sy)
	if minX >= maxX || minY >= maxY {
		return 0, false
	}

	var written uint64
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			p := math.Vec2{X: float32(x) + 0.5, Y: float32(y) + 0.5}
			w0 := math.EdgeFunction(b, c, p)
			w1 := math.EdgeFunction(c, a, p)
			w2 := math.EdgeFunction(a, b, p)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			colour := c0.Scale(w0 / area).
				Add(c1.Scale(w1 / area)).
				Add(c2.Scale(w2 / area))
			for i := 0; i < fb.drawBuffers; i++ {
				if surf := fb.colour[i]; surf != nil {
					surf.writePixel(x, y, colour)
				}
			}
			written++
		}
	}
	return written, true
}
