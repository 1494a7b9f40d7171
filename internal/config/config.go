// Package config loads the voxstream YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxstream/internal/meshing"
	"voxstream/internal/world"
)

// ErrInvalid is returned for configuration values that cannot be clamped into range.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	World       WorldConfig             `yaml:"world"`
	Generation  GenerationConfig        `yaml:"generation"`
	Biomes      []world.BiomeDefinition `yaml:"biomes"`
	Streaming   StreamingConfig         `yaml:"streaming"`
	Meshing     MeshingConfig           `yaml:"meshing"`
	Persistence PersistenceConfig       `yaml:"persistence"`
	Log         LogConfig               `yaml:"log"`
}

type WorldConfig struct {
	Seed    int64  `yaml:"seed"`
	DataDir string `yaml:"data_dir"`
	// Ceiling is the highest y materialised for meshing; 0 means the full column.
	Ceiling int `yaml:"ceiling"`
}

type GenerationConfig struct {
	BaseHeight  float64       `yaml:"base_height"`
	Amplitude   float64       `yaml:"amplitude"`
	SeaLevel    int           `yaml:"sea_level"`
	SurfaceBand int           `yaml:"surface_band"`
	Workers     int           `yaml:"workers"`
	Density     DensityConfig `yaml:"density"`
}

type DensityConfig struct {
	Enabled        bool    `yaml:"enabled"`
	SolidThreshold float64 `yaml:"solid_threshold"`
	AirThreshold   float64 `yaml:"air_threshold"`
	Depth          int     `yaml:"depth"`
	Lift           int     `yaml:"lift"`
}

type StreamingConfig struct {
	LoadBuffer      float64  `yaml:"load_buffer"`
	MoveThreshold   float64  `yaml:"move_threshold"`
	ZoomThreshold   float64  `yaml:"zoom_threshold"`
	MaxGeneration   int      `yaml:"max_generation_jobs"`
	MaxMeshing      int      `yaml:"max_mesh_jobs"`
	GenerationRate  float64  `yaml:"generation_rate"`
	GenerationBurst int      `yaml:"generation_burst"`
	GenWorkers      int      `yaml:"generation_workers"`
	MaxCached       int      `yaml:"max_cached_chunks"`
	RenderSlots     int      `yaml:"render_slots"`
	BufferDuration  Duration `yaml:"buffer_duration"`
	ArenaIdle       int      `yaml:"arena_idle"`
}

type MeshingConfig struct {
	Mode    string `yaml:"mode"`
	Workers int    `yaml:"workers"`
}

type PersistenceConfig struct {
	FlushInterval Duration `yaml:"flush_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate clamps soft values into range and rejects impossible ones.
func (c *Config) Validate() error {
	if c.World.DataDir == "" {
		c.World.DataDir = "./data"
	}
	if c.World.Ceiling < 0 || c.World.Ceiling > world.ChunkHeight {
		return fmt.Errorf("%w: world.ceiling %d outside [0, %d]", ErrInvalid, c.World.Ceiling, world.ChunkHeight)
	}

	g := &c.Generation
	g.SeaLevel = clamp(g.SeaLevel, 1, world.ChunkHeight-1)
	g.SurfaceBand = clamp(g.SurfaceBand, 0, 32)
	if g.Amplitude < 0 {
		g.Amplitude = 0
	}
	if g.Workers <= 0 {
		g.Workers = 1
	}
	if g.Density.Enabled && g.Density.AirThreshold >= g.Density.SolidThreshold {
		return fmt.Errorf("%w: generation.density air_threshold must be below solid_threshold", ErrInvalid)
	}

	s := &c.Streaming
	if s.MaxGeneration <= 0 || s.MaxMeshing <= 0 || s.RenderSlots <= 0 || s.MaxCached <= 0 {
		return fmt.Errorf("%w: streaming budgets must be positive", ErrInvalid)
	}
	if s.LoadBuffer < 1 {
		s.LoadBuffer = 1
	}
	if s.LoadBuffer > 4 {
		s.LoadBuffer = 4
	}
	if s.MoveThreshold < 0 {
		s.MoveThreshold = 0
	}
	if s.ZoomThreshold < 0 {
		s.ZoomThreshold = 0
	}
	if s.GenerationRate < 0 {
		s.GenerationRate = 0
	}
	if s.GenerationBurst <= 0 {
		s.GenerationBurst = s.MaxGeneration
	}
	if s.GenWorkers <= 0 {
		s.GenWorkers = 1
	}
	if s.ArenaIdle < 0 {
		s.ArenaIdle = 0
	}
	if s.BufferDuration.Duration < 0 {
		s.BufferDuration.Duration = 0
	}

	if _, err := meshing.ParseMode(c.Meshing.Mode); err != nil {
		return fmt.Errorf("%w: meshing.mode: %v", ErrInvalid, err)
	}
	if c.Meshing.Workers <= 0 {
		c.Meshing.Workers = 1
	}
	if c.Persistence.FlushInterval.Duration < 0 {
		c.Persistence.FlushInterval.Duration = 0
	}

	if len(c.Biomes) > 0 {
		if _, err := world.NewBiomeTable(c.Biomes); err != nil {
			return fmt.Errorf("%w: biomes: %v", ErrInvalid, err)
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// SlogLevel parses the configured level; empty means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
