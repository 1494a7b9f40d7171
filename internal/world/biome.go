package world

import (
	"errors"
	"fmt"
)

// Climate is a point in climate space; every channel is in [0,1].
type Climate struct {
	Temperature     float64
	Humidity        float64
	Continentalness float64
}

// BiomeDefinition describes the preferred climate, block palette and terrain shaping of a biome.
type BiomeDefinition struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`

	Temperature     float64 `yaml:"temperature"`
	Humidity        float64 `yaml:"humidity"`
	Continentalness float64 `yaml:"continentalness"`

	Surface    BlockType `yaml:"surface"`
	Subsurface BlockType `yaml:"subsurface"`
	Deep       BlockType `yaml:"deep"`
	Underwater BlockType `yaml:"underwater"`

	// HeightOffset shifts the base surface height in blocks; HeightScale multiplies the noise amplitude.
	HeightOffset float64 `yaml:"height_offset"`
	HeightScale  float64 `yaml:"height_scale"`

	// Density shaping for the 3-D pass.
	VerticalBias  float64 `yaml:"vertical_bias"`
	GradientStart float64 `yaml:"gradient_start"`
	BiasOffset    float64 `yaml:"bias_offset"`
}

func (b *BiomeDefinition) distanceSq(c Climate) float64 {
	dt := b.Temperature - c.Temperature
	dh := b.Humidity - c.Humidity
	dc := b.Continentalness - c.Continentalness
	return dt*dt + dh*dh + dc*dc
}

// BiomeTable is an ordered list of biomes. Order matters: ties resolve to the first declared.
type BiomeTable struct {
	biomes []BiomeDefinition
	byID   map[int]int
}

var errEmptyBiomeTable = errors.New("biome table is empty")

// NewBiomeTable validates and indexes the definitions.
func NewBiomeTable(defs []BiomeDefinition) (*BiomeTable, error) {
	if len(defs) == 0 {
		return nil, errEmptyBiomeTable
	}
	t := &BiomeTable{
		biomes: make([]BiomeDefinition, len(defs)),
		byID:   make(map[int]int, len(defs)),
	}
	copy(t.biomes, defs)
	for i, b := range t.biomes {
		if _, dup := t.byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate biome id %d (%s)", b.ID, b.Name)
		}
		if b.Surface == BlockAir || b.Deep == BlockAir {
			return nil, fmt.Errorf("biome %s: surface and deep blocks must be solid", b.Name)
		}
		t.byID[b.ID] = i
	}
	return t, nil
}

// Len returns the number of biomes.
func (t *BiomeTable) Len() int { return len(t.biomes) }

// At returns the i-th biome in declaration order.
func (t *BiomeTable) At(i int) *BiomeDefinition { return &t.biomes[i] }

// ByID looks up a biome by its id.
func (t *BiomeTable) ByID(id int) (*BiomeDefinition, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.biomes[i], true
}

// Dominant returns the biome nearest to c by squared climate distance.
func (t *BiomeTable) Dominant(c Climate) *BiomeDefinition {
	best := 0
	bestD := t.biomes[0].distanceSq(c)
	for i := 1; i < len(t.biomes); i++ {
		if d := t.biomes[i].distanceSq(c); d < bestD {
			best, bestD = i, d
		}
	}
	return &t.biomes[best]
}

const weightEpsilon = 1e-6

// Weights fills dst with normalised inverse-square-distance blend weights, one per biome,
// and returns it. A biome sitting exactly on the sample takes the full weight.
func (t *BiomeTable) Weights(c Climate, dst []float64) []float64 {
	n := len(t.biomes)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	sum := 0.0
	for i := range t.biomes {
		d := t.biomes[i].distanceSq(c)
		if d < weightEpsilon {
			clear(dst)
			dst[i] = 1
			return dst
		}
		w := 1 / d
		dst[i] = w
		sum += w
	}
	for i := range dst {
		dst[i] /= sum
	}
	return dst
}

// Definitions returns a copy of the table in declaration order.
func (t *BiomeTable) Definitions() []BiomeDefinition {
	out := make([]BiomeDefinition, len(t.biomes))
	copy(out, t.biomes)
	return out
}

// DefaultBiomes is the built-in biome list.
func DefaultBiomes() []BiomeDefinition {
	return []BiomeDefinition{
		{
			ID: 0, Name: "ocean",
			Temperature: 0.5, Humidity: 0.5, Continentalness: 0.1,
			Surface: BlockSand, Subsurface: BlockSand, Deep: BlockStone, Underwater: BlockGravel,
			HeightOffset: -18, HeightScale: 0.4,
			VerticalBias: 0.5, GradientStart: 40, BiasOffset: 0,
		},
		{
			ID: 1, Name: "beach",
			Temperature: 0.6, Humidity: 0.5, Continentalness: 0.35,
			Surface: BlockSand, Subsurface: BlockSand, Deep: BlockSandstone, Underwater: BlockSand,
			HeightOffset: -1, HeightScale: 0.2,
			VerticalBias: 0.6, GradientStart: 60, BiasOffset: 0,
		},
		{
			ID: 2, Name: "plains",
			Temperature: 0.55, Humidity: 0.4, Continentalness: 0.55,
			Surface: BlockGrass, Subsurface: BlockDirt, Deep: BlockStone, Underwater: BlockDirt,
			HeightOffset: 3, HeightScale: 0.5,
			VerticalBias: 0.4, GradientStart: 64, BiasOffset: 0.05,
		},
		{
			ID: 3, Name: "forest",
			Temperature: 0.5, Humidity: 0.75, Continentalness: 0.6,
			Surface: BlockGrass, Subsurface: BlockDirt, Deep: BlockStone, Underwater: BlockClay,
			HeightOffset: 6, HeightScale: 0.8,
			VerticalBias: 0.35, GradientStart: 66, BiasOffset: 0.05,
		},
		{
			ID: 4, Name: "desert",
			Temperature: 0.9, Humidity: 0.1, Continentalness: 0.6,
			Surface: BlockSand, Subsurface: BlockSand, Deep: BlockSandstone, Underwater: BlockSand,
			HeightOffset: 4, HeightScale: 0.4,
			VerticalBias: 0.5, GradientStart: 66, BiasOffset: 0,
		},
		{
			ID: 5, Name: "tundra",
			Temperature: 0.1, Humidity: 0.4, Continentalness: 0.6,
			Surface: BlockSnow, Subsurface: BlockDirt, Deep: BlockStone, Underwater: BlockIce,
			HeightOffset: 5, HeightScale: 0.6,
			VerticalBias: 0.4, GradientStart: 66, BiasOffset: 0,
		},
		{
			ID: 6, Name: "mountains",
			Temperature: 0.35, Humidity: 0.5, Continentalness: 0.9,
			Surface: BlockStone, Subsurface: BlockGravel, Deep: BlockStone, Underwater: BlockGravel,
			HeightOffset: 28, HeightScale: 1.6,
			VerticalBias: 0.2, GradientStart: 80, BiasOffset: 0.15,
		},
	}
}

// DefaultBiomeTable builds the table from DefaultBiomes.
func DefaultBiomeTable() *BiomeTable {
	t, err := NewBiomeTable(DefaultBiomes())
	if err != nil {
		panic(err)
	}
	return t
}
