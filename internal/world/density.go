package world

// DensityParams controls the optional 3-D pass that carves caves and raises overhangs.
type DensityParams struct {
	Enabled bool
	// Above SolidThreshold a cell is forced solid, below AirThreshold forced air.
	SolidThreshold float64
	AirThreshold   float64
	// The pass only runs within [h-Depth, h+Lift] of the height-pass surface.
	Depth int
	Lift  int
	// GradientScale is the number of blocks over which a biome's vertical bias changes by one.
	GradientScale float64
}

func DefaultDensityParams() DensityParams {
	return DensityParams{
		Enabled:        false,
		SolidThreshold: 0.55,
		AirThreshold:   -0.55,
		Depth:          24,
		Lift:           12,
		GradientScale:  32,
	}
}

// blendedDensity combines the raw density sample with each biome's vertical shaping,
// weighted by climate proximity.
func (g *Generator) blendedDensity(raw float64, y int, weights []float64) float64 {
	scale := g.params.Density.GradientScale
	if scale <= 0 {
		scale = 1
	}
	d := 0.0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		b := g.biomes.At(i)
		bias := b.BiasOffset - b.VerticalBias*(float64(y)-b.GradientStart)/scale
		d += w * (raw + bias)
	}
	return d
}

// shapeColumn perturbs the height-based classification of one column. It walks top
// down so a carved cell below sea level floods when water sits directly above it.
func (g *Generator) shapeColumn(c *ChunkData, lx, lz, wx, wz, h int, b *BiomeDefinition, weights []float64) {
	p := g.params.Density
	lo := max(1, h-p.Depth)
	hi := min(ChunkHeight-1, h+p.Lift)
	for y := hi; y >= lo; y-- {
		d := g.blendedDensity(g.noise.Density(wx, y, wz), y, weights)
		idx := BlockIndex(lx, y, lz)
		switch {
		case d > p.SolidThreshold:
			if !c.Blocks[idx].IsSolid() {
				if y < h-g.params.SurfaceBand {
					c.Blocks[idx] = b.Deep
				} else {
					c.Blocks[idx] = b.Subsurface
				}
			}
		case d < p.AirThreshold:
			switch {
			case c.Blocks[idx] == BlockWater:
			case y < g.params.SeaLevel && c.Blocks[BlockIndex(lx, y+1, lz)] == BlockWater:
				c.Blocks[idx] = BlockWater
			default:
				c.Blocks[idx] = BlockAir
			}
		}
	}
}
