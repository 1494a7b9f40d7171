package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// ChunkSize is the horizontal edge length of a chunk in blocks.
	ChunkSize = 16
	// ChunkHeight is the full materialised column height.
	ChunkHeight = 256

	ChunkArea   = ChunkSize * ChunkSize
	ChunkVolume = ChunkArea * ChunkHeight
)

// ErrOutOfRange is returned when a block index or local coordinate falls outside a chunk.
var ErrOutOfRange = errors.New("world: coordinate out of range")

// ChunkCoord identifies a chunk column on the horizontal plane.
type ChunkCoord struct {
	X, Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}

// Center returns the world-space centre of the chunk at height zero.
func (c ChunkCoord) Center() mgl32.Vec2 {
	return mgl32.Vec2{
		float32(c.X*ChunkSize) + ChunkSize/2,
		float32(c.Z*ChunkSize) + ChunkSize/2,
	}
}

// DistanceTo is the Euclidean XZ distance between the chunk centre and a world position.
func (c ChunkCoord) DistanceTo(pos mgl32.Vec3) float32 {
	return c.Center().Sub(mgl32.Vec2{pos.X(), pos.Z()}).Len()
}

// Neighbor returns the adjacent chunk in the given horizontal direction.
func (c ChunkCoord) Neighbor(dx, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Z: c.Z + dz}
}

// ChunkCoordOf returns the chunk containing world block column (x, z).
func ChunkCoordOf(x, z int) ChunkCoord {
	return ChunkCoord{X: floorDiv(x, ChunkSize), Z: floorDiv(z, ChunkSize)}
}

// ChunkCoordAt returns the chunk containing a world-space position.
func ChunkCoordAt(pos mgl32.Vec3) ChunkCoord {
	return ChunkCoordOf(int(math.Floor(float64(pos.X()))), int(math.Floor(float64(pos.Z()))))
}

// LocalCoords splits world block coordinates into the owning chunk and local x/z.
func LocalCoords(x, z int) (ChunkCoord, int, int) {
	return ChunkCoordOf(x, z), floorMod(x, ChunkSize), floorMod(z, ChunkSize)
}

// BlockIndex maps local coordinates to the flat buffer index (x fastest, then z, then y).
func BlockIndex(lx, y, lz int) int {
	return lx + lz*ChunkSize + y*ChunkArea
}

// ColumnIndex maps local x/z to the height map index.
func ColumnIndex(lx, lz int) int {
	return lx + lz*ChunkSize
}

// SplitIndex is the inverse of BlockIndex.
func SplitIndex(index int) (lx, y, lz int) {
	lx = index % ChunkSize
	lz = (index / ChunkSize) % ChunkSize
	y = index / ChunkArea
	return lx, y, lz
}

// ValidIndex reports whether index addresses a block inside a chunk buffer.
func ValidIndex(index int) bool {
	return index >= 0 && index < ChunkVolume
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is the non-negative remainder matching floorDiv.
func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
