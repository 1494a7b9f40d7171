// Package meshing turns resident chunk data into merged-quad triangle meshes.
package meshing

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxstream/internal/world"
)

// VertexStride is the number of float32 per vertex: pos.xyz, normal.xyz, block.
const VertexStride = 7

// VerticesPerQuad is two triangles.
const VerticesPerQuad = 6

// Mesh is an interleaved triangle list in world space.
type Mesh struct {
	Vertices []float32
	Quads    int
}

// VertexCount is the number of vertices in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / VertexStride
}

// IsEmpty reports whether the mesh has nothing to draw.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Reset drops the vertices but keeps the backing array.
func (m *Mesh) Reset() {
	m.Vertices = m.Vertices[:0]
	m.Quads = 0
}

// Quad returns the four corners of quad i in emission order (p0, p1, p2, p3).
func (m *Mesh) Quad(i int) [4]mgl32.Vec3 {
	base := i * VerticesPerQuad * VertexStride
	at := func(v int) mgl32.Vec3 {
		o := base + v*VertexStride
		return mgl32.Vec3{m.Vertices[o], m.Vertices[o+1], m.Vertices[o+2]}
	}
	// Triangles are (p0,p1,p2) and (p0,p2,p3).
	return [4]mgl32.Vec3{at(0), at(1), at(2), at(5)}
}

// QuadNormal returns the normal stored on quad i.
func (m *Mesh) QuadNormal(i int) mgl32.Vec3 {
	o := i*VerticesPerQuad*VertexStride + 3
	return mgl32.Vec3{m.Vertices[o], m.Vertices[o+1], m.Vertices[o+2]}
}

// QuadBlock returns the block type stored on quad i.
func (m *Mesh) QuadBlock(i int) world.BlockType {
	return world.BlockType(m.Vertices[i*VerticesPerQuad*VertexStride+6])
}

// emitQuad appends a quad given corners in perimeter order. The winding is flipped
// when needed so that triangles are counter-clockwise seen from the normal side.
func (m *Mesh) emitQuad(p0, p1, p2, p3, normal mgl32.Vec3, block world.BlockType) {
	if p1.Sub(p0).Cross(p3.Sub(p0)).Dot(normal) < 0 {
		p1, p3 = p3, p1
	}
	b := float32(block)
	for _, p := range [...]mgl32.Vec3{p0, p1, p2, p0, p2, p3} {
		m.Vertices = append(m.Vertices, p.X(), p.Y(), p.Z(), normal.X(), normal.Y(), normal.Z(), b)
	}
	m.Quads++
}
