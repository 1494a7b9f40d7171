package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voxstream/internal/meshing"
	"voxstream/internal/world"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxstream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	before := cfg
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults: %v", err)
	}
	if diff := cmp.Diff(before, cfg); diff != "" {
		t.Errorf("Validate changed defaults (-before +after):\n%s", diff)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), *cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
world:
  seed: 42
  ceiling: 128
streaming:
  buffer_duration: 750ms
  load_buffer: 9
meshing:
  mode: voxel
persistence:
  flush_interval: 1s
biomes:
  - id: 1
    name: dunes
    temperature: 0.9
    humidity: 0.1
    continentalness: 0.5
    surface: sand
    subsurface: sandstone
    deep: stone
    underwater: sand
    height_offset: 2
    height_scale: 0.4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Seed != 42 || cfg.World.Ceiling != 128 {
		t.Errorf("world = %+v", cfg.World)
	}
	if got := cfg.Streaming.BufferDuration.Duration; got != 750*time.Millisecond {
		t.Errorf("buffer_duration = %v", got)
	}
	if got := cfg.Streaming.LoadBuffer; got != 4 {
		t.Errorf("load_buffer = %v, want clamp to 4", got)
	}
	if got := cfg.SchedulerOptions().MeshMode; got != meshing.ModeVoxel {
		t.Errorf("mesh mode = %v", got)
	}
	if got := cfg.PersistOptions().FlushInterval; got != time.Second {
		t.Errorf("flush interval = %v", got)
	}
	// Untouched sections keep their defaults.
	if got, want := cfg.Streaming.MaxGeneration, Default().Streaming.MaxGeneration; got != want {
		t.Errorf("max_generation_jobs = %d, want %d", got, want)
	}

	table, err := cfg.BiomeTable()
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 1 {
		t.Fatalf("biomes = %d", table.Len())
	}
	dunes := table.At(0)
	if dunes.Surface != world.BlockSand || dunes.Subsurface != world.BlockSandstone {
		t.Errorf("dunes blocks = %v/%v", dunes.Surface, dunes.Subsurface)
	}
	if p := cfg.GeneratorParams(); p.Seed != 42 {
		t.Errorf("generator seed = %d", p.Seed)
	}
}

func TestValidateRejectsInvalid(t *testing.T) {
	tests := map[string]func(*Config){
		"ceiling above column": func(c *Config) { c.World.Ceiling = world.ChunkHeight + 1 },
		"zero generation jobs": func(c *Config) { c.Streaming.MaxGeneration = 0 },
		"zero render slots":    func(c *Config) { c.Streaming.RenderSlots = 0 },
		"unknown mesh mode":    func(c *Config) { c.Meshing.Mode = "marching" },
		"bad log level":        func(c *Config) { c.Log.Level = "loud" },
		"bad log format":       func(c *Config) { c.Log.Format = "xml" },
		"inverted density": func(c *Config) {
			c.Generation.Density.Enabled = true
			c.Generation.Density.AirThreshold = 0.6
		},
		"air surface biome": func(c *Config) {
			b := world.DefaultBiomes()[0]
			b.Surface = world.BlockAir
			c.Biomes = []world.BiomeDefinition{b}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "streaming:\n  buffer_duration: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateClampsSoftValues(t *testing.T) {
	cfg := Default()
	cfg.Generation.SeaLevel = 1000
	cfg.Generation.Workers = 0
	cfg.Streaming.GenerationRate = -3
	cfg.Streaming.LoadBuffer = 0.2
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Generation.SeaLevel != world.ChunkHeight-1 || cfg.Generation.Workers != 1 {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Streaming.GenerationRate != 0 || cfg.Streaming.LoadBuffer != 1 {
		t.Errorf("streaming = %+v", cfg.Streaming)
	}
}
