package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Collides reports whether a box of the given width and height standing with its base
// centred on pos overlaps any solid block.
func Collides(pos mgl32.Vec3, width, height float32, q BlockQuery) bool {
	const eps = 1e-4
	half := width / 2
	minX := int(math.Floor(float64(pos.X() - half)))
	maxX := int(math.Floor(float64(pos.X() + half - eps)))
	minY := int(math.Floor(float64(pos.Y())))
	maxY := int(math.Floor(float64(pos.Y() + height - eps)))
	minZ := int(math.Floor(float64(pos.Z() - half)))
	maxZ := int(math.Floor(float64(pos.Z() + half - eps)))

	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for z := minZ; z <= maxZ; z++ {
				if q.IsBlockSolid(x, y, z) {
					return true
				}
			}
		}
	}
	return false
}

// FindGroundLevel returns the top of the highest solid block under the box footprint,
// scanning down from fromY to floorY. ok is false when nothing solid was found.
func FindGroundLevel(x, z, width float32, fromY, floorY int, q BlockQuery) (top float32, ok bool) {
	const eps = 1e-4
	half := width / 2
	minX := int(math.Floor(float64(x - half)))
	maxX := int(math.Floor(float64(x + half - eps)))
	minZ := int(math.Floor(float64(z - half)))
	maxZ := int(math.Floor(float64(z + half - eps)))

	best := math.MinInt
	for bx := minX; bx <= maxX; bx++ {
		for bz := minZ; bz <= maxZ; bz++ {
			for by := fromY; by >= floorY && by > best; by-- {
				if q.IsBlockSolid(bx, by, bz) {
					best = by
					break
				}
			}
		}
	}
	if best == math.MinInt {
		return 0, false
	}
	return float32(best + 1), true
}
