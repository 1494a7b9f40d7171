package config

import (
	"runtime"
	"time"

	"voxstream/internal/meshing"
	"voxstream/internal/persist"
	"voxstream/internal/streaming"
	"voxstream/internal/world"
)

// Default returns a configuration that runs without any file.
func Default() Config {
	gen := world.DefaultGeneratorParams(0)
	opts := streaming.DefaultOptions()
	return Config{
		World: WorldConfig{
			Seed:    1,
			DataDir: "./data",
		},
		Generation: GenerationConfig{
			BaseHeight:  gen.BaseHeight,
			Amplitude:   gen.Amplitude,
			SeaLevel:    gen.SeaLevel,
			SurfaceBand: gen.SurfaceBand,
			Workers:     runtime.GOMAXPROCS(0),
			Density: DensityConfig{
				SolidThreshold: gen.Density.SolidThreshold,
				AirThreshold:   gen.Density.AirThreshold,
				Depth:          gen.Density.Depth,
				Lift:           gen.Density.Lift,
			},
		},
		Streaming: StreamingConfig{
			LoadBuffer:      float64(opts.LoadBuffer),
			MoveThreshold:   float64(opts.MoveThreshold),
			ZoomThreshold:   float64(opts.ZoomThreshold),
			MaxGeneration:   opts.MaxGeneration,
			MaxMeshing:      opts.MaxMeshing,
			GenerationBurst: opts.GenerationBurst,
			GenWorkers:      opts.GenWorkers,
			MaxCached:       2048,
			RenderSlots:     opts.RenderSlots,
			BufferDuration:  Duration{opts.BufferDuration},
			ArenaIdle:       64,
		},
		Meshing: MeshingConfig{
			Mode:    meshing.ModeHeightMap.String(),
			Workers: opts.MeshWorkers,
		},
		Persistence: PersistenceConfig{
			FlushInterval: Duration{2 * time.Second},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// GeneratorParams converts the generation section.
func (c *Config) GeneratorParams() world.GeneratorParams {
	p := world.DefaultGeneratorParams(c.World.Seed)
	g := c.Generation
	p.BaseHeight = g.BaseHeight
	p.Amplitude = g.Amplitude
	p.SeaLevel = g.SeaLevel
	p.SurfaceBand = g.SurfaceBand
	p.Workers = g.Workers
	p.Density.Enabled = g.Density.Enabled
	p.Density.SolidThreshold = g.Density.SolidThreshold
	p.Density.AirThreshold = g.Density.AirThreshold
	p.Density.Depth = g.Density.Depth
	p.Density.Lift = g.Density.Lift
	return p
}

// BiomeTable builds the configured biome table, or the default one when none is set.
func (c *Config) BiomeTable() (*world.BiomeTable, error) {
	if len(c.Biomes) == 0 {
		return world.DefaultBiomeTable(), nil
	}
	return world.NewBiomeTable(c.Biomes)
}

// SchedulerOptions converts the streaming and meshing sections.
func (c *Config) SchedulerOptions() streaming.Options {
	s := c.Streaming
	mode, _ := meshing.ParseMode(c.Meshing.Mode)
	return streaming.Options{
		LoadBuffer:      float32(s.LoadBuffer),
		MoveThreshold:   float32(s.MoveThreshold),
		ZoomThreshold:   float32(s.ZoomThreshold),
		MaxGeneration:   s.MaxGeneration,
		MaxMeshing:      s.MaxMeshing,
		GenerationRate:  s.GenerationRate,
		GenerationBurst: s.GenerationBurst,
		BufferDuration:  s.BufferDuration.Duration,
		RenderSlots:     s.RenderSlots,
		MeshMode:        mode,
		MeshWorkers:     c.Meshing.Workers,
		GenWorkers:      s.GenWorkers,
	}
}

func (c *Config) PersistOptions() persist.Options {
	return persist.Options{FlushInterval: c.Persistence.FlushInterval.Duration}
}
