package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// TerrainGenerator fills a chunk's buffers from its coordinate alone.
type TerrainGenerator interface {
	Generate(ctx context.Context, c *ChunkData) error
}

// GeneratorParams shapes the height-based terrain.
type GeneratorParams struct {
	Seed        int64
	BaseHeight  float64
	Amplitude   float64
	SeaLevel    int
	SurfaceBand int // depth of the subsurface band below the surface block
	Workers     int // concurrent rows per chunk

	Noise   NoiseParams
	Density DensityParams
}

// DefaultGeneratorParams returns the stock terrain shape.
func DefaultGeneratorParams(seed int64) GeneratorParams {
	return GeneratorParams{
		Seed:        seed,
		BaseHeight:  64,
		Amplitude:   24,
		SeaLevel:    62,
		SurfaceBand: 3,
		Workers:     runtime.GOMAXPROCS(0),
		Noise:       DefaultNoiseParams(),
		Density:     DefaultDensityParams(),
	}
}

var errNoBuffers = errors.New("chunk has no buffers")

// Generator is the height-map terrain generator with an optional 3-D density pass.
// It holds no mutable state and may be shared by any number of jobs.
type Generator struct {
	params GeneratorParams
	noise  *NoiseField
	biomes *BiomeTable
}

// NewGenerator builds a generator for the given biome table.
func NewGenerator(params GeneratorParams, biomes *BiomeTable) *Generator {
	if biomes == nil {
		biomes = DefaultBiomeTable()
	}
	if params.Workers < 1 {
		params.Workers = 1
	}
	return &Generator{
		params: params,
		noise:  NewNoiseField(params.Seed, params.Noise),
		biomes: biomes,
	}
}

func (g *Generator) Params() GeneratorParams { return g.params }
func (g *Generator) Noise() *NoiseField      { return g.noise }
func (g *Generator) Biomes() *BiomeTable     { return g.biomes }

// Generate fills c's block and height-map buffers. Rows run in parallel; the result is
// identical regardless of scheduling. On error the buffers are left in an unspecified state.
func (g *Generator) Generate(ctx context.Context, c *ChunkData) error {
	if c.IsEmpty() {
		return fmt.Errorf("generate %v: %w", c.Coord, errNoBuffers)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.params.Workers)
	for lz := 0; lz < ChunkSize; lz++ {
		lz := lz
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			weights := make([]float64, g.biomes.Len())
			for lx := 0; lx < ChunkSize; lx++ {
				g.fillColumn(c, lx, lz, weights)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("generate %v: %w", c.Coord, err)
	}
	return nil
}

// SurfaceHeight is the height-pass surface at world column (x, z), before any density shaping.
func (g *Generator) SurfaceHeight(x, z int) int {
	w := g.biomes.Weights(g.noise.Climate(x, z), nil)
	return g.surfaceHeight(x, z, w)
}

// BiomeAt returns the dominant biome at world column (x, z).
func (g *Generator) BiomeAt(x, z int) *BiomeDefinition {
	return g.biomes.Dominant(g.noise.Climate(x, z))
}

func (g *Generator) surfaceHeight(x, z int, weights []float64) int {
	offset, scale := 0.0, 0.0
	for i, w := range weights {
		b := g.biomes.At(i)
		offset += b.HeightOffset * w
		scale += b.HeightScale * w
	}
	n := g.noise.Height(x, z)*2 - 1
	h := g.params.BaseHeight + offset + n*g.params.Amplitude*scale
	return clampInt(int(math.Floor(h)), 1, ChunkHeight-1)
}

func (g *Generator) fillColumn(c *ChunkData, lx, lz int, weights []float64) {
	wx := c.Coord.X*ChunkSize + lx
	wz := c.Coord.Z*ChunkSize + lz

	climate := g.noise.Climate(wx, wz)
	biome := g.biomes.Dominant(climate)
	weights = g.biomes.Weights(climate, weights)
	h := g.surfaceHeight(wx, wz, weights)

	for y := 0; y < ChunkHeight; y++ {
		c.Blocks[BlockIndex(lx, y, lz)] = g.classify(y, h, biome)
	}
	if g.params.Density.Enabled {
		g.shapeColumn(c, lx, lz, wx, wz, h, biome, weights)
	}
	c.RecomputeColumn(lx, lz)
}

// classify is the height-only block choice for y in a column whose surface is at h.
func (g *Generator) classify(y, h int, b *BiomeDefinition) BlockType {
	switch {
	case y == 0:
		return BlockBedrock
	case y < h-g.params.SurfaceBand:
		return b.Deep
	case y < h:
		return b.Subsurface
	case y == h:
		if h < g.params.SeaLevel {
			return b.Underwater
		}
		return b.Surface
	case y < g.params.SeaLevel:
		return BlockWater
	default:
		return BlockAir
	}
}
