package meshing

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/willf/bitset"

	"voxstream/internal/world"
)

// VoxelInput is a full block grid for one chunk.
type VoxelInput struct {
	Coord  world.ChunkCoord
	Blocks []world.BlockType
	// Ceiling caps the materialised height; cells at or above it read as air.
	Ceiling int
}

type voxelGrid struct {
	blocks []world.BlockType
	dims   [3]int
}

func (g *voxelGrid) at(p [3]int) world.BlockType {
	for a := 0; a < 3; a++ {
		if p[a] < 0 || p[a] >= g.dims[a] {
			return world.BlockAir
		}
	}
	return g.blocks[world.BlockIndex(p[0], p[1], p[2])]
}

// BuildVoxelMesh greedily merges visible block faces for each of the six directions.
// A face is visible when the cell beyond it is air; cells outside the chunk count as air.
func BuildVoxelMesh(in VoxelInput) Mesh {
	var m Mesh
	if len(in.Blocks) != world.ChunkVolume {
		return m
	}
	height := world.ChunkHeight
	if in.Ceiling > 0 && in.Ceiling < height {
		height = in.Ceiling
	}
	g := voxelGrid{blocks: in.Blocks, dims: [3]int{world.ChunkSize, height, world.ChunkSize}}
	origin := [3]float32{float32(in.Coord.X * world.ChunkSize), 0, float32(in.Coord.Z * world.ChunkSize)}

	processed := bitset.New(world.ChunkVolume)
	for axis := 0; axis < 3; axis++ {
		for _, sign := range [2]int{1, -1} {
			processed.ClearAll()
			buildDirection(&m, &g, processed, origin, axis, sign)
		}
	}
	return m
}

func buildDirection(m *Mesh, g *voxelGrid, processed *bitset.BitSet, origin [3]float32, axis, sign int) {
	u := (axis + 1) % 3
	v := (axis + 2) % 3

	var normal mgl32.Vec3
	normal[axis] = float32(sign)

	index := func(p [3]int) uint {
		return uint(world.BlockIndex(p[0], p[1], p[2]))
	}
	// open reports whether p carries an unprocessed visible face of type t.
	open := func(p [3]int, t world.BlockType) bool {
		if p[u] >= g.dims[u] || p[v] >= g.dims[v] {
			return false
		}
		if g.at(p) != t || processed.Test(index(p)) {
			return false
		}
		q := p
		q[axis] += sign
		return g.at(q) == world.BlockAir
	}

	for layer := 0; layer < g.dims[axis]; layer++ {
		for j := 0; j < g.dims[v]; j++ {
			for i := 0; i < g.dims[u]; i++ {
				var p [3]int
				p[axis], p[u], p[v] = layer, i, j
				t := g.at(p)
				if t == world.BlockAir || !open(p, t) {
					continue
				}

				w := 1
				for {
					q := p
					q[u] += w
					if !open(q, t) {
						break
					}
					w++
				}

				h := 1
			grow:
				for {
					for k := 0; k < w; k++ {
						q := p
						q[u] += k
						q[v] += h
						if !open(q, t) {
							break grow
						}
					}
					h++
				}

				for dv := 0; dv < h; dv++ {
					for du := 0; du < w; du++ {
						q := p
						q[u] += du
						q[v] += dv
						processed.Set(index(q))
					}
				}
				emitFace(m, origin, axis, u, v, layer, sign, i, j, w, h, normal, t)
			}
		}
	}
}

func emitFace(m *Mesh, origin [3]float32, axis, u, v, layer, sign, i, j, w, h int, normal mgl32.Vec3, t world.BlockType) {
	plane := layer
	if sign > 0 {
		plane++
	}
	corner := func(cu, cv int) mgl32.Vec3 {
		var p mgl32.Vec3
		p[axis] = float32(plane)
		p[u] = float32(cu)
		p[v] = float32(cv)
		return p.Add(mgl32.Vec3(origin))
	}
	m.emitQuad(corner(i, j), corner(i+w, j), corner(i+w, j+h), corner(i, j+h), normal, t)
}
