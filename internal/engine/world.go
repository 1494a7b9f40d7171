// Package engine is the facade collaborators use: world queries, world edits,
// chunk events and the per-tick update.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxstream/internal/config"
	"voxstream/internal/persist"
	"voxstream/internal/physics"
	"voxstream/internal/profiling"
	"voxstream/internal/streaming"
	"voxstream/internal/world"
)

// Standing box used by CanStandAt.
const (
	StandWidth  = 0.6
	StandHeight = 1.8
)

// World owns the streaming pipeline and the persisted edit overlay.
type World struct {
	cfg     config.Config
	log     *slog.Logger
	meta    persist.Meta
	arena   *world.Arena
	store   *world.ChunkStore
	gen     *world.Generator
	persist *persist.Store
	sched   *streaming.Scheduler
	prof    *profiling.Profiler
	ceiling int
}

// Stats combines scheduler, arena and persistence counters.
type Stats struct {
	streaming.Stats
	ArenaLive     int
	PendingWrites int
}

// New opens (or creates) the world in cfg.World.DataDir. The persisted world seed
// takes precedence over the configured one.
func New(cfg *config.Config, log *slog.Logger) (*World, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := *cfg

	meta, created, err := persist.EnsureMeta(c.World.DataDir, c.World.Seed)
	if err != nil {
		return nil, fmt.Errorf("world metadata: %w", err)
	}
	if !created && meta.Seed != c.World.Seed {
		log.Warn("configured seed ignored for existing world", "path", c.World.DataDir, "seed", meta.Seed)
	}
	c.World.Seed = meta.Seed

	biomes, err := c.BiomeTable()
	if err != nil {
		return nil, err
	}
	ps, err := persist.Open(c.World.DataDir, c.PersistOptions(), log)
	if err != nil {
		return nil, err
	}

	w := &World{
		cfg:     c,
		log:     log,
		meta:    meta,
		arena:   world.NewArena(c.Streaming.ArenaIdle, log),
		gen:     world.NewGenerator(c.GeneratorParams(), biomes),
		persist: ps,
		prof:    profiling.New(),
		ceiling: c.World.Ceiling,
	}
	w.store = world.NewChunkStore(w.arena, c.Streaming.MaxCached, log)
	w.store.SetModificationSink(ps)
	w.store.SetOverlaySource(ps)
	w.sched = streaming.NewScheduler(c.SchedulerOptions(), w.store, w.gen, ps, w.prof, log)
	w.store.SetMissHandler(w.sched.Request)

	log.Info("world opened", "id", meta.ID, "seed", meta.Seed, "new", created)
	return w, nil
}

func (w *World) Meta() persist.Meta              { return w.meta }
func (w *World) Generator() *world.Generator     { return w.gen }
func (w *World) Store() *world.ChunkStore        { return w.store }
func (w *World) Profiler() *profiling.Profiler   { return w.prof }
func (w *World) Slots() *streaming.SlotPool      { return w.sched.Slots() }
func (w *World) Persistence() *persist.Store     { return w.persist }
func (w *World) Scheduler() *streaming.Scheduler { return w.sched }

// GetBlockType returns the block at world coordinates. Below the world it is bedrock,
// above it air. A chunk that is not resident reads as air and is requested.
func (w *World) GetBlockType(x, y, z int) world.BlockType {
	if y < 0 {
		return world.BlockBedrock
	}
	if y >= world.ChunkHeight {
		return world.BlockAir
	}
	coord, lx, lz := world.LocalCoords(x, z)
	if b, ok := w.store.Block(coord, lx, y, lz); ok {
		return b
	}
	w.store.Get(coord)
	return world.BlockAir
}

func (w *World) IsBlockSolid(x, y, z int) bool {
	return w.GetBlockType(x, y, z).IsSolid()
}

// CanStandAt reports whether a standing box fits with its feet in block (x, y, z)
// on solid ground. Unknown terrain is never standable.
func (w *World) CanStandAt(x, y, z int) bool {
	if !w.IsBlockSolid(x, y-1, z) {
		return false
	}
	feet := mgl32.Vec3{float32(x) + 0.5, float32(y), float32(z) + 0.5}
	return !physics.Collides(feet, StandWidth, StandHeight, w)
}

// GetHighestSolidBlock returns the y of the topmost solid block in column (x, z).
// ok is false when the chunk is not resident or the column holds no solid block.
func (w *World) GetHighestSolidBlock(x, z int) (int, bool) {
	coord, lx, lz := world.LocalCoords(x, z)
	hp, ok := w.store.Column(coord, lx, lz)
	if !ok {
		w.store.Get(coord)
		return 0, false
	}
	for y := int(hp.Height); y >= 0; y-- {
		b, _ := w.store.Block(coord, lx, y, lz)
		if b.IsSolid() {
			return y, true
		}
	}
	return 0, false
}

// GroundBelow returns the top surface of the highest solid block under a standing box
// whose feet are at pos, scanning down to the bottom of the world.
func (w *World) GroundBelow(pos mgl32.Vec3) (float32, bool) {
	from := min(int(math.Floor(float64(pos.Y()))), world.ChunkHeight-1)
	return physics.FindGroundLevel(pos.X(), pos.Z(), StandWidth, from, 0, w)
}

// Raycast returns the first solid block along the ray.
func (w *World) Raycast(origin, dir mgl32.Vec3, maxDist float32) physics.RaycastResult {
	defer w.prof.Track("engine.Raycast")()
	return physics.Raycast(origin, dir, physics.MinReachDistance, maxDist, w)
}

// SetBlock edits a block and records it in the persisted overlay. It is safe to call
// from any goroutine. An edit to a chunk that is not resident is recorded and applied
// when the chunk loads; false is returned only for coordinates outside the world.
func (w *World) SetBlock(x, y, z int, t world.BlockType) bool {
	if y < 0 || y >= world.ChunkHeight {
		return false
	}
	coord, lx, lz := world.LocalCoords(x, z)
	index := world.BlockIndex(lx, y, lz)
	if w.store.Modify(coord, index, t) {
		return true
	}
	w.persist.MarkModified(coord, index, t)
	// The chunk may have been stored between the two calls with an overlay that
	// predates this edit.
	w.store.Apply(coord, index, t)
	return true
}

// Subscribe registers a chunk loaded/unloaded listener.
func (w *World) Subscribe(l world.Listener) (cancel func()) {
	return w.store.Subscribe(l)
}

// SetCeiling changes the highest materialised y; 0 means the full column.
func (w *World) SetCeiling(c int) {
	w.ceiling = max(0, min(c, world.ChunkHeight))
}

func (w *World) Ceiling() int { return w.ceiling }

// Update runs one scheduling tick for the viewpoint.
func (w *World) Update(ctx context.Context, dc streaming.DeltaContext) {
	w.prof.ResetFrame()
	dc.View.Ceiling = w.ceiling
	w.sched.Update(ctx, dc)
}

func (w *World) Stats() Stats {
	return Stats{
		Stats:         w.sched.Stats(),
		ArenaLive:     w.arena.Live(),
		PendingWrites: w.persist.Pending(),
	}
}

// LoadChunkSync generates coord, applies its overlay and stores it, bypassing the
// scheduler. It is a no-op for resident chunks.
func (w *World) LoadChunkSync(ctx context.Context, coord world.ChunkCoord) error {
	if w.store.Has(coord) {
		return nil
	}
	data := w.arena.Alloc(coord)
	if err := w.gen.Generate(ctx, data); err != nil {
		w.arena.Release(data)
		return err
	}
	if _, err := w.persist.LoadChunk(ctx, coord); err != nil {
		w.arena.Release(data)
		return err
	}
	w.store.Put(coord, data)
	return nil
}

// Flush writes pending edits now.
func (w *World) Flush(ctx context.Context) error {
	return w.persist.Flush(ctx)
}

// Close stops the pipeline, writes pending edits and frees every chunk.
func (w *World) Close(ctx context.Context) error {
	w.sched.Close()
	err := w.persist.Close(ctx)
	w.store.Clear()
	if live := w.arena.Live(); live != 0 {
		err = errors.Join(err, fmt.Errorf("%d chunk buffers still live after close", live))
	}
	w.log.Info("world closed", "id", w.meta.ID)
	return err
}
