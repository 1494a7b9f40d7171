package meshing

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxstream/internal/world"
)

// Border order matches world.ChunkStore.Borders.
const (
	BorderEast = iota
	BorderWest
	BorderSouth
	BorderNorth
)

// HeightMapInput is the silhouette of one chunk plus the facing edges of its neighbours.
type HeightMapInput struct {
	Coord   world.ChunkCoord
	Columns []world.HeightPoint
	// Borders holds the neighbour column along each edge; nil means unknown and
	// suppresses skirts on that edge.
	Borders [4][]world.HeightPoint
	// Ceiling caps the materialised height; zero means the full column.
	Ceiling int
}

// top is the y of a column's upper face, clipped to the ceiling. Air columns have no top.
func (in *HeightMapInput) top(hp world.HeightPoint) int {
	if hp.Type == world.BlockAir {
		return 0
	}
	t := int(hp.Height) + 1
	if in.Ceiling > 0 && t > in.Ceiling {
		t = in.Ceiling
	}
	return t
}

func (in *HeightMapInput) column(lx, lz int) world.HeightPoint {
	return in.Columns[world.ColumnIndex(lx, lz)]
}

// neighborTop returns the top of the column adjacent to (lx,lz) across side, or false
// when that column lies in an unknown neighbour.
func (in *HeightMapInput) neighborTop(lx, lz, side int) (int, bool) {
	nx, nz := lx, lz
	switch side {
	case BorderEast:
		nx++
	case BorderWest:
		nx--
	case BorderSouth:
		nz++
	case BorderNorth:
		nz--
	}
	if nx >= 0 && nx < world.ChunkSize && nz >= 0 && nz < world.ChunkSize {
		return in.top(in.column(nx, nz)), true
	}
	edge := in.Borders[side]
	if len(edge) != world.ChunkSize {
		return 0, false
	}
	if side == BorderEast || side == BorderWest {
		return in.top(edge[lz]), true
	}
	return in.top(edge[lx]), true
}

// BuildHeightMapMesh emits one upward quad per run of columns in a row that share
// block type and height.
func BuildHeightMapMesh(in HeightMapInput) Mesh {
	var m Mesh
	if len(in.Columns) != world.ChunkArea {
		return m
	}
	bx := float32(in.Coord.X * world.ChunkSize)
	bz := float32(in.Coord.Z * world.ChunkSize)
	up := mgl32.Vec3{0, 1, 0}

	for lz := 0; lz < world.ChunkSize; lz++ {
		for lx := 0; lx < world.ChunkSize; {
			hp := in.column(lx, lz)
			t := in.top(hp)
			if t == 0 {
				lx++
				continue
			}
			run := 1
			for lx+run < world.ChunkSize {
				next := in.column(lx+run, lz)
				if next.Type != hp.Type || in.top(next) != t {
					break
				}
				run++
			}
			x0, x1 := bx+float32(lx), bx+float32(lx+run)
			z0, z1 := bz+float32(lz), bz+float32(lz+1)
			y := float32(t)
			m.emitQuad(
				mgl32.Vec3{x0, y, z0},
				mgl32.Vec3{x1, y, z0},
				mgl32.Vec3{x1, y, z1},
				mgl32.Vec3{x0, y, z1},
				up, hp.Type,
			)
			lx += run
		}
	}
	return m
}

// BuildSkirtMesh emits, for every column edge where the neighbour is lower, one vertical
// quad spanning the height difference and facing the lower side. Only the higher column
// emits, so each discontinuity gets exactly one skirt.
func BuildSkirtMesh(in HeightMapInput) Mesh {
	var m Mesh
	if len(in.Columns) != world.ChunkArea {
		return m
	}
	bx := in.Coord.X * world.ChunkSize
	bz := in.Coord.Z * world.ChunkSize

	for lz := 0; lz < world.ChunkSize; lz++ {
		for lx := 0; lx < world.ChunkSize; lx++ {
			hp := in.column(lx, lz)
			t := in.top(hp)
			if t == 0 {
				continue
			}
			for side := BorderEast; side <= BorderNorth; side++ {
				tn, ok := in.neighborTop(lx, lz, side)
				if !ok || tn >= t {
					continue
				}
				emitSkirt(&m, bx+lx, bz+lz, side, tn, t, hp.Type)
			}
		}
	}
	return m
}

func emitSkirt(m *Mesh, wx, wz, side, lo, hi int, block world.BlockType) {
	y0, y1 := float32(lo), float32(hi)
	x0, x1 := float32(wx), float32(wx+1)
	z0, z1 := float32(wz), float32(wz+1)

	var a, b mgl32.Vec3
	var n mgl32.Vec3
	switch side {
	case BorderEast:
		a, b, n = mgl32.Vec3{x1, 0, z0}, mgl32.Vec3{x1, 0, z1}, mgl32.Vec3{1, 0, 0}
	case BorderWest:
		a, b, n = mgl32.Vec3{x0, 0, z0}, mgl32.Vec3{x0, 0, z1}, mgl32.Vec3{-1, 0, 0}
	case BorderSouth:
		a, b, n = mgl32.Vec3{x0, 0, z1}, mgl32.Vec3{x1, 0, z1}, mgl32.Vec3{0, 0, 1}
	default:
		a, b, n = mgl32.Vec3{x0, 0, z0}, mgl32.Vec3{x1, 0, z0}, mgl32.Vec3{0, 0, -1}
	}
	m.emitQuad(
		mgl32.Vec3{a.X(), y0, a.Z()},
		mgl32.Vec3{b.X(), y0, b.Z()},
		mgl32.Vec3{b.X(), y1, b.Z()},
		mgl32.Vec3{a.X(), y1, a.Z()},
		n, block,
	)
}
