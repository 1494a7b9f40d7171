// Package physics answers ray and box queries against any solid-block source.
// Block (x, y, z) occupies [x, x+1) × [y, y+1) × [z, z+1).
package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	MinReachDistance = 0.1
	MaxReachDistance = 5.0
)

// BlockQuery is the solidity lookup the queries run against.
type BlockQuery interface {
	IsBlockSolid(x, y, z int) bool
}

// RaycastResult stores the result of a raycast operation
type RaycastResult struct {
	HitPosition      [3]int
	AdjacentPosition [3]int // last non-solid cell before the hit
	Distance         float32
	Hit              bool
}

// Raycast walks the cells pierced by the ray in order and returns the first solid one
// entered between minDist and maxDist.
func Raycast(start, direction mgl32.Vec3, minDist, maxDist float32, q BlockQuery) RaycastResult {
	var result RaycastResult
	if direction.Len() == 0 {
		return result
	}
	dir := direction.Normalize()

	var cell, step [3]int
	var tMax, tDelta [3]float64
	for a := 0; a < 3; a++ {
		p := float64(start[a])
		d := float64(dir[a])
		cell[a] = int(math.Floor(p))
		switch {
		case d > 0:
			step[a] = 1
			tMax[a] = (float64(cell[a]+1) - p) / d
			tDelta[a] = 1 / d
		case d < 0:
			step[a] = -1
			tMax[a] = (p - float64(cell[a])) / -d
			tDelta[a] = -1 / d
		default:
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
	}

	prev := cell
	t := 0.0
	for t <= float64(maxDist) {
		if t >= float64(minDist) && q.IsBlockSolid(cell[0], cell[1], cell[2]) {
			result.HitPosition = cell
			result.AdjacentPosition = prev
			result.Distance = float32(t)
			result.Hit = true
			return result
		}
		prev = cell
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		cell[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
	return result
}
