package world

import (
	"math"

	"github.com/ojrac/opensimplex-go"
)

// Seed offsets keep the noise channels independent of each other.
const (
	seedHeight          = 0
	seedTemperature     = 101
	seedHumidity        = 211
	seedContinentalness = 307
	seedDensity         = 401
)

// NoiseParams tunes the frequencies of each channel.
type NoiseParams struct {
	HeightScale    float64
	HeightOctaves  int
	ClimateScale   float64
	ContinentScale float64
	DensityScale   float64
	DensityOctaves int
	Persistence    float64
	Lacunarity     float64
}

// DefaultNoiseParams matches the world scale used by the default biome table.
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{
		HeightScale:    1.0 / 96.0,
		HeightOctaves:  5,
		ClimateScale:   1.0 / 512.0,
		ContinentScale: 1.0 / 1024.0,
		DensityScale:   1.0 / 32.0,
		DensityOctaves: 3,
		Persistence:    0.5,
		Lacunarity:     2.0,
	}
}

// NoiseField produces deterministic scalar fields from world coordinates and a seed.
// It is immutable after construction and safe for concurrent use.
type NoiseField struct {
	seed   int64
	params NoiseParams

	temperature     opensimplex.Noise
	humidity        opensimplex.Noise
	continentalness opensimplex.Noise
}

func NewNoiseField(seed int64, params NoiseParams) *NoiseField {
	return &NoiseField{
		seed:            seed,
		params:          params,
		temperature:     opensimplex.NewNormalized(seed + seedTemperature),
		humidity:        opensimplex.NewNormalized(seed + seedHumidity),
		continentalness: opensimplex.NewNormalized(seed + seedContinentalness),
	}
}

func (n *NoiseField) Seed() int64 { return n.seed }

// Height samples the height channel in [0,1].
func (n *NoiseField) Height(x, z int) float64 {
	p := n.params
	return octaveNoise2D(float64(x)*p.HeightScale, float64(z)*p.HeightScale,
		n.seed+seedHeight, p.HeightOctaves, p.Persistence, p.Lacunarity)
}

// Temperature samples the temperature channel in [0,1].
func (n *NoiseField) Temperature(x, z int) float64 {
	s := n.params.ClimateScale
	return clamp01(n.temperature.Eval2(float64(x)*s, float64(z)*s))
}

// Humidity samples the humidity channel in [0,1].
func (n *NoiseField) Humidity(x, z int) float64 {
	s := n.params.ClimateScale
	return clamp01(n.humidity.Eval2(float64(x)*s, float64(z)*s))
}

// Continentalness samples the land/ocean channel in [0,1].
func (n *NoiseField) Continentalness(x, z int) float64 {
	s := n.params.ContinentScale
	return clamp01(n.continentalness.Eval2(float64(x)*s, float64(z)*s))
}

// Climate bundles the three climate channels at one column.
func (n *NoiseField) Climate(x, z int) Climate {
	return Climate{
		Temperature:     n.Temperature(x, z),
		Humidity:        n.Humidity(x, z),
		Continentalness: n.Continentalness(x, z),
	}
}

// Density samples 3-D noise mapped to [-1,1].
func (n *NoiseField) Density(x, y, z int) float64 {
	p := n.params
	v := octaveNoise3D(float64(x)*p.DensityScale, float64(y)*p.DensityScale, float64(z)*p.DensityScale,
		n.seed+seedDensity, p.DensityOctaves, p.Persistence, p.Lacunarity)
	return v*2 - 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fade is the quintic smoothstep 6t^5 - 15t^4 + 10t^3.
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// hash2 is a SplitMix64 lattice hash, stable across runs for the same inputs.
func hash2(x, z, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 + uint64(z)*0x517CC1B727220A95 + uint64(seed)
	return splitMix(v)
}

func hash3(x, y, z, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 + uint64(y)*0x517CC1B727220A95 + uint64(z)*0x6C62272E07BB0142 + uint64(seed)
	return splitMix(v)
}

func splitMix(v uint64) uint64 {
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

func unit(h uint64) float64 {
	return float64(h&0xFFFFFFFF) / float64(0xFFFFFFFF)
}

func valueNoise2D(x, z float64, seed int64) float64 {
	x0 := math.Floor(x)
	z0 := math.Floor(z)
	fx := fade(x - x0)
	fz := fade(z - z0)
	ix, iz := int64(x0), int64(z0)

	v00 := unit(hash2(ix, iz, seed))
	v10 := unit(hash2(ix+1, iz, seed))
	v01 := unit(hash2(ix, iz+1, seed))
	v11 := unit(hash2(ix+1, iz+1, seed))

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz)
}

func valueNoise3D(x, y, z float64, seed int64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	z0 := math.Floor(z)
	fx := fade(x - x0)
	fy := fade(y - y0)
	fz := fade(z - z0)
	ix, iy, iz := int64(x0), int64(y0), int64(z0)

	c := func(dx, dy, dz int64) float64 {
		return unit(hash3(ix+dx, iy+dy, iz+dz, seed))
	}
	i00 := lerp(c(0, 0, 0), c(1, 0, 0), fx)
	i10 := lerp(c(0, 1, 0), c(1, 1, 0), fx)
	i01 := lerp(c(0, 0, 1), c(1, 0, 1), fx)
	i11 := lerp(c(0, 1, 1), c(1, 1, 1), fx)

	return lerp(lerp(i00, i10, fy), lerp(i01, i11, fy), fz)
}

// octaveNoise2D sums octaves of value noise, normalised to [0,1].
func octaveNoise2D(x, z float64, seed int64, octaves int, persistence, lacunarity float64) float64 {
	amplitude, frequency := 1.0, 1.0
	sum, norm := 0.0, 0.0
	for i := 0; i < octaves; i++ {
		sum += valueNoise2D(x*frequency, z*frequency, seed+int64(i*131)) * amplitude
		norm += amplitude
		amplitude *= persistence
		frequency *= lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

func octaveNoise3D(x, y, z float64, seed int64, octaves int, persistence, lacunarity float64) float64 {
	amplitude, frequency := 1.0, 1.0
	sum, norm := 0.0, 0.0
	for i := 0; i < octaves; i++ {
		sum += valueNoise3D(x*frequency, y*frequency, z*frequency, seed+int64(i*131)) * amplitude
		norm += amplitude
		amplitude *= persistence
		frequency *= lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}
