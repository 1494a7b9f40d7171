package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli/v2"
	"github.com/xlab/closer"

	"voxstream/internal/config"
	"voxstream/internal/engine"
	"voxstream/internal/streaming"
	"voxstream/internal/world"
)

func main() {
	var (
		mu       sync.Mutex
		cleanups []func()
	)
	// Cleanups run once, on normal exit or on SIGINT/SIGTERM.
	closer.Bind(func() {
		mu.Lock()
		defer mu.Unlock()
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		cleanups = nil
	})
	onExit := func(fn func()) {
		mu.Lock()
		cleanups = append(cleanups, fn)
		mu.Unlock()
	}

	app := &cli.App{
		Name:  "voxstream",
		Usage: "streams, edits and inspects a procedurally generated voxel world",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "data", Usage: "world data directory (overrides world.data_dir)"},
			&cli.Int64Flag{Name: "seed", Usage: "seed for a new world (overrides world.seed)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "fly a viewpoint along +X and stream terrain around it",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "ticks", Value: 600, Usage: "number of ticks to run"},
					&cli.Float64Flag{Name: "speed", Value: 40, Usage: "viewpoint speed in blocks per second"},
					&cli.Float64Flag{Name: "extent", Value: 128, Usage: "view radius in blocks"},
					&cli.DurationFlag{Name: "tick", Value: 16 * time.Millisecond, Usage: "tick interval"},
				},
				Action: func(c *cli.Context) error { return runCmd(c, onExit) },
			},
			{
				Name:      "edit",
				Usage:     "set one block and persist the edit",
				ArgsUsage: "x y z block",
				Action:    editCmd,
			},
			{
				Name:      "inspect",
				Usage:     "print the column height, biome and block at a position",
				ArgsUsage: "x z [y]",
				Action:    inspectCmd,
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		slog.Error("voxstream failed", "err", err)
		closer.Exit(1)
	}
	closer.Close()
}

// setup loads the configuration, applies global flag overrides and builds the logger.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if d := c.String("data"); d != "" {
		cfg.World.DataDir = d
	}
	if c.IsSet("seed") {
		cfg.World.Seed = c.Int64("seed")
	}
	if l := c.String("log-level"); l != "" {
		cfg.Log.Level = l
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := cfg.Log.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)
	return cfg, log, nil
}

func openWorld(c *cli.Context) (*engine.World, *slog.Logger, error) {
	cfg, log, err := setup(c)
	if err != nil {
		return nil, nil, err
	}
	w, err := engine.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return w, log, nil
}

func runCmd(c *cli.Context, onExit func(func())) error {
	w, log, err := openWorld(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	done := make(chan struct{})
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			cancel()
			<-done
			closeCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := w.Close(closeCtx); err != nil {
				log.Error("close world", "err", err)
			}
		})
	}
	onExit(shutdown)

	ticks := c.Int("ticks")
	speed := float32(c.Float64("speed"))
	interval := c.Duration("tick")
	view := streaming.Viewpoint{Position: mgl32.Vec3{8, 120, 8}, Extent: float32(c.Float64("extent"))}

	func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		last := time.Now()
		for i := 0; i < ticks; i++ {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				dt := now.Sub(last)
				last = now
				view.Position = view.Position.Add(mgl32.Vec3{speed * float32(dt.Seconds()), 0, 0})
				w.Update(ctx, streaming.DeltaContext{Now: now, Dt: dt, View: view})
				if i%60 == 0 {
					st := w.Stats()
					log.Info("tick",
						"n", i,
						"x", view.Position.X(),
						"resident", st.Resident,
						"visible", st.Visible,
						"queued", st.Queued,
						"generating", st.Generating,
						"meshing", st.Meshing,
						"slots", st.Slots.Active,
						"evicted", st.Evicted,
						"top", w.Profiler().TopN(3),
					)
				}
			}
		}
	}()

	st := w.Stats()
	log.Info("run finished", "generated", st.Generated, "meshed", st.Meshed, "faults", st.GenerationFault, "count", st.Resident)
	shutdown()
	return nil
}

func intArgs(c *cli.Context, n int) ([]int, error) {
	out := make([]int, n)
	for i := range out {
		v, err := strconv.Atoi(c.Args().Get(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func editCmd(c *cli.Context) error {
	if c.NArg() != 4 {
		return cli.Exit("usage: voxstream edit x y z block", 2)
	}
	pos, err := intArgs(c, 3)
	if err != nil {
		return err
	}
	bt, err := world.ParseBlockType(c.Args().Get(3))
	if err != nil {
		return err
	}

	w, _, err := openWorld(c)
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	x, y, z := pos[0], pos[1], pos[2]
	coord, _, _ := world.LocalCoords(x, z)
	if err := w.LoadChunkSync(c.Context, coord); err != nil {
		return err
	}
	before := w.GetBlockType(x, y, z)
	if !w.SetBlock(x, y, z, bt) {
		return fmt.Errorf("y=%d is outside the world", y)
	}
	if err := w.Flush(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "(%d,%d,%d) %v -> %v\n", x, y, z, before, bt)
	return nil
}

func inspectCmd(c *cli.Context) error {
	if c.NArg() < 2 || c.NArg() > 3 {
		return cli.Exit("usage: voxstream inspect x z [y]", 2)
	}
	pos, err := intArgs(c, c.NArg())
	if err != nil {
		return err
	}

	w, _, err := openWorld(c)
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	x, z := pos[0], pos[1]
	coord, _, _ := world.LocalCoords(x, z)
	if err := w.LoadChunkSync(c.Context, coord); err != nil {
		return err
	}
	top, ok := w.GetHighestSolidBlock(x, z)
	biome := w.Generator().BiomeAt(x, z)
	out := c.App.Writer
	fmt.Fprintf(out, "chunk   %v\n", coord)
	fmt.Fprintf(out, "biome   %s\n", biome.Name)
	if ok {
		fmt.Fprintf(out, "surface y=%d %v\n", top, w.GetBlockType(x, top, z))
	} else {
		fmt.Fprintln(out, "surface none")
	}
	if ground, ok := w.GroundBelow(mgl32.Vec3{float32(x) + 0.5, world.ChunkHeight, float32(z) + 0.5}); ok {
		fmt.Fprintf(out, "ground  y=%.1f\n", ground)
	}
	if len(pos) == 3 {
		y := pos[2]
		fmt.Fprintf(out, "block   y=%d %v (solid=%v, standable=%v)\n", y, w.GetBlockType(x, y, z), w.IsBlockSolid(x, y, z), w.CanStandAt(x, y, z))
	}
	return nil
}
