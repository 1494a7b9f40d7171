// Package streaming decides every tick which chunks must be generated, meshed,
// shown, buffered or evicted around a moving viewpoint.
package streaming

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"voxstream/internal/jobs"
	"voxstream/internal/meshing"
	"voxstream/internal/profiling"
	"voxstream/internal/world"
)

// Viewpoint is the camera state the working set follows.
type Viewpoint struct {
	Position mgl32.Vec3
	// Extent is the view radius in blocks (zoom).
	Extent float32
	// Ceiling is the highest materialised y; zero means the full column.
	Ceiling int
}

// DeltaContext is the per-tick input to Update.
type DeltaContext struct {
	Now  time.Time
	Dt   time.Duration
	View Viewpoint
}

// OverlayLoader warms the persisted edits for a chunk before it is stored.
type OverlayLoader interface {
	LoadChunk(ctx context.Context, coord world.ChunkCoord) (map[int]world.BlockType, error)
}

// Options tunes the scheduler.
type Options struct {
	LoadBuffer      float32       // visible radius multiplier
	MoveThreshold   float32       // blocks the viewpoint must move before the visible set is recomputed
	ZoomThreshold   float32       // relative extent change that forces a recompute
	MaxGeneration   int           // generation jobs in flight
	MaxMeshing      int           // mesh jobs in flight
	GenerationRate  float64       // generation admissions per second, 0 for unlimited
	GenerationBurst int           // limiter burst
	BufferDuration  time.Duration // how long a chunk that left view stays buffered
	RenderSlots     int
	MeshMode        meshing.Mode
	MeshWorkers     int
	GenWorkers      int
}

// DefaultOptions are sized for a view radius of a few hundred blocks.
func DefaultOptions() Options {
	return Options{
		LoadBuffer:      1.25,
		MoveThreshold:   4,
		ZoomThreshold:   0.05,
		MaxGeneration:   8,
		MaxMeshing:      8,
		GenerationBurst: 8,
		BufferDuration:  2 * time.Second,
		RenderSlots:     1024,
		MeshMode:        meshing.ModeHeightMap,
		MeshWorkers:     2,
		GenWorkers:      4,
	}
}

// PendingGeneration owns the buffers of a chunk being generated until the result is
// collected, at which point ownership moves to the chunk store.
type PendingGeneration struct {
	Coord   world.ChunkCoord
	Chunk   *world.ChunkData
	Started time.Time
}

// PendingMesh owns the snapshot a mesh job reads from.
type PendingMesh struct {
	Coord    world.ChunkCoord
	Snapshot *world.ChunkData
	Started  time.Time
}

// Stats is a typed snapshot of scheduler state.
type Stats struct {
	Resident        int
	Visible         int
	Queued          int
	Generating      int
	Meshing         int
	Inactive        int
	Slots           SlotCounts
	Generated       uint64
	Meshed          uint64
	GenerationFault uint64
	Evicted         uint64
	Recomputes      uint64
}

// Scheduler drives generation, meshing and eviction. Update must be called from a
// single goroutine; Request may be called from any goroutine.
type Scheduler struct {
	opts    Options
	store   *world.ChunkStore
	arena   *world.Arena
	gen     world.TerrainGenerator
	loader  OverlayLoader
	builder *meshing.Builder
	genPool *jobs.Pool[*PendingGeneration, struct{}]
	slots   *SlotPool
	limiter *rate.Limiter
	prof    *profiling.Profiler
	log     *slog.Logger

	queue       *PriorityQueue
	pendingGen  map[world.ChunkCoord]*PendingGeneration
	pendingMesh map[world.ChunkCoord]*PendingMesh
	needMesh    map[world.ChunkCoord]struct{}
	visible     map[world.ChunkCoord]struct{}
	inactive    map[world.ChunkCoord]time.Time

	view     Viewpoint
	haveView bool

	reqMu    sync.Mutex
	requests map[world.ChunkCoord]struct{}

	genResults  []jobs.Result[*PendingGeneration, struct{}]
	meshResults []meshing.Result

	stats Stats
}

// NewScheduler wires the pipeline. loader and prof may be nil.
func NewScheduler(opts Options, store *world.ChunkStore, gen world.TerrainGenerator, loader OverlayLoader, prof *profiling.Profiler, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if prof == nil {
		prof = profiling.New()
	}
	limit := rate.Inf
	if opts.GenerationRate > 0 {
		limit = rate.Limit(opts.GenerationRate)
	}
	s := &Scheduler{
		opts:        opts,
		store:       store,
		arena:       store.Arena(),
		gen:         gen,
		loader:      loader,
		builder:     meshing.NewBuilder(opts.MeshWorkers, max(opts.MaxMeshing, 1), log),
		slots:       NewSlotPool(opts.RenderSlots, opts.BufferDuration, log),
		limiter:     rate.NewLimiter(limit, max(opts.GenerationBurst, 1)),
		prof:        prof,
		log:         log,
		queue:       NewPriorityQueue(),
		pendingGen:  make(map[world.ChunkCoord]*PendingGeneration),
		pendingMesh: make(map[world.ChunkCoord]*PendingMesh),
		needMesh:    make(map[world.ChunkCoord]struct{}),
		visible:     make(map[world.ChunkCoord]struct{}),
		inactive:    make(map[world.ChunkCoord]time.Time),
		requests:    make(map[world.ChunkCoord]struct{}),
	}
	s.genPool = jobs.New("generate", opts.GenWorkers, max(opts.MaxGeneration, 1), s.generate, log)
	return s
}

func (s *Scheduler) generate(ctx context.Context, p *PendingGeneration) (struct{}, error) {
	if err := s.gen.Generate(ctx, p.Chunk); err != nil {
		return struct{}{}, err
	}
	if s.loader != nil {
		if _, err := s.loader.LoadChunk(ctx, p.Coord); err != nil {
			return struct{}{}, err
		}
	}
	return struct{}{}, nil
}

// Request asks for coord to be generated on a later tick. Safe for concurrent use.
func (s *Scheduler) Request(coord world.ChunkCoord) {
	s.reqMu.Lock()
	s.requests[coord] = struct{}{}
	s.reqMu.Unlock()
}

// Update runs one scheduling pass: collect finished work, recompute the visible set when
// the view changed enough, then dispatch generation, then meshing, then evict.
func (s *Scheduler) Update(ctx context.Context, dc DeltaContext) {
	defer s.prof.Track("streaming.Update")()

	s.collect()
	s.updateView(dc)
	s.takeRequests()
	if ctx.Err() != nil {
		return
	}
	s.dispatchGeneration(dc.Now)
	s.dispatchMeshing(dc.Now)
	s.evict(dc.Now)
}

func (s *Scheduler) collect() {
	defer s.prof.Track("streaming.collect")()

	s.genResults = s.genPool.Poll(s.genResults[:0])
	for i, r := range s.genResults {
		p := r.Job
		delete(s.pendingGen, p.Coord)
		_, vis := s.visible[p.Coord]
		if r.Err != nil {
			s.stats.GenerationFault++
			s.log.Error("chunk generation failed", "coord", p.Coord, "err", r.Err)
			s.arena.Release(p.Chunk)
			if vis {
				s.queue.Push(p.Coord, s.distance(p.Coord))
			}
			s.genResults[i] = jobs.Result[*PendingGeneration, struct{}]{}
			continue
		}
		s.stats.Generated++
		// Ownership of the buffers moves to the store, which releases any chunk it replaces.
		s.store.Put(p.Coord, p.Chunk)
		if vis {
			s.needMesh[p.Coord] = struct{}{}
		}
		s.genResults[i] = jobs.Result[*PendingGeneration, struct{}]{}
	}

	s.meshResults = s.builder.Poll(s.meshResults[:0])
	for i, r := range s.meshResults {
		coord := r.Job.Coord
		if pm, ok := s.pendingMesh[coord]; ok {
			s.arena.Release(pm.Snapshot)
			delete(s.pendingMesh, coord)
		}
		if r.Err != nil {
			s.log.Error("chunk meshing failed", "coord", coord, "err", r.Err)
			if _, vis := s.visible[coord]; vis {
				s.needMesh[coord] = struct{}{}
			}
		} else {
			s.stats.Meshed++
			// Empty meshes leave the slot hidden.
			s.slots.Assign(coord, r.Value)
		}
		s.meshResults[i] = meshing.Result{}
	}
}

func (s *Scheduler) distance(coord world.ChunkCoord) float32 {
	return coord.DistanceTo(s.view.Position)
}

// viewChanged reports whether v differs enough from the last recompute.
func (s *Scheduler) viewChanged(v Viewpoint) bool {
	if !s.haveView {
		return true
	}
	if v.Position.Sub(s.view.Position).Len() > s.opts.MoveThreshold {
		return true
	}
	old := s.view.Extent
	if old <= 0 {
		return v.Extent != old
	}
	return float32(math.Abs(float64(v.Extent-old)))/old > s.opts.ZoomThreshold
}

func (s *Scheduler) updateView(dc DeltaContext) {
	v := dc.View
	if s.haveView && v.Ceiling != s.view.Ceiling {
		s.invalidateCeiling(s.view.Ceiling, v.Ceiling)
		s.view.Ceiling = v.Ceiling
	}
	if !s.viewChanged(v) {
		return
	}
	defer s.prof.Track("streaming.recompute")()
	s.view = v
	s.haveView = true
	s.stats.Recomputes++

	next := s.computeVisible(v)
	for coord := range s.visible {
		if _, still := next[coord]; still {
			continue
		}
		// Queued work is cancelled; running generation finishes but is not meshed.
		s.queue.Remove(coord)
		delete(s.needMesh, coord)
		s.slots.Deactivate(coord, dc.Now)
		s.inactive[coord] = dc.Now
	}
	for coord := range next {
		delete(s.inactive, coord)
		if s.store.Has(coord) {
			if slot, ok := s.slots.Lookup(coord); ok && slot.State == SlotBuffered {
				s.slots.Acquire(coord, dc.Now)
			}
			if slot, ok := s.slots.Lookup(coord); !ok || !slot.HasMesh() {
				if _, busy := s.pendingMesh[coord]; !busy {
					s.needMesh[coord] = struct{}{}
				}
			}
			continue
		}
		if _, busy := s.pendingGen[coord]; busy {
			continue
		}
		s.queue.Push(coord, s.distance(coord))
	}
	s.visible = next
	s.queue.Reprioritize(s.distance)
}

// computeVisible returns every chunk whose centre lies within Extent×LoadBuffer.
func (s *Scheduler) computeVisible(v Viewpoint) map[world.ChunkCoord]struct{} {
	radius := v.Extent * s.opts.LoadBuffer
	out := make(map[world.ChunkCoord]struct{})
	if radius <= 0 {
		return out
	}
	center := world.ChunkCoordAt(v.Position)
	r := int(math.Ceil(float64(radius)/world.ChunkSize)) + 1
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			c := center.Neighbor(dx, dz)
			if c.DistanceTo(v.Position) <= radius {
				out[c] = struct{}{}
			}
		}
	}
	return out
}

// invalidateCeiling remeshes only visible chunks whose columns reach past the lower of
// the two ceilings; everything below both renders identically.
func (s *Scheduler) invalidateCeiling(oldC, newC int) {
	norm := func(c int) int {
		if c <= 0 || c > world.ChunkHeight {
			return world.ChunkHeight
		}
		return c
	}
	limit := min(norm(oldC), norm(newC))
	if norm(oldC) == norm(newC) {
		return
	}
	n := 0
	for coord := range s.visible {
		_, hi, ok := s.store.HeightRange(coord)
		if !ok {
			continue
		}
		if hi+1 > limit {
			s.needMesh[coord] = struct{}{}
			n++
		}
	}
	s.log.Debug("view ceiling changed", "from", oldC, "to", newC, "count", n)
}

func (s *Scheduler) takeRequests() {
	s.reqMu.Lock()
	if len(s.requests) == 0 {
		s.reqMu.Unlock()
		return
	}
	reqs := make([]world.ChunkCoord, 0, len(s.requests))
	for c := range s.requests {
		reqs = append(reqs, c)
	}
	clear(s.requests)
	s.reqMu.Unlock()

	for _, c := range reqs {
		if s.store.Has(c) {
			continue
		}
		if _, busy := s.pendingGen[c]; busy {
			continue
		}
		s.queue.Push(c, s.distance(c))
	}
}

func (s *Scheduler) dispatchGeneration(now time.Time) {
	defer s.prof.Track("streaming.dispatchGeneration")()

	for s.genPool.InFlight() < s.opts.MaxGeneration && s.queue.Len() > 0 {
		coord, _, _ := s.queue.Peek()
		if s.store.Has(coord) || s.pendingGen[coord] != nil {
			s.queue.Pop()
			continue
		}
		if !s.limiter.AllowN(now, 1) {
			return
		}
		s.queue.Pop()
		p := &PendingGeneration{Coord: coord, Chunk: s.arena.Alloc(coord), Started: now}
		if err := s.genPool.Submit(p); err != nil {
			s.arena.Release(p.Chunk)
			s.queue.Push(coord, s.distance(coord))
			s.log.Debug("generation submit deferred", "coord", coord, "err", err)
			return
		}
		s.pendingGen[coord] = p
	}
}

func (s *Scheduler) dispatchMeshing(now time.Time) {
	defer s.prof.Track("streaming.dispatchMeshing")()

	for _, coord := range s.store.TakeDirty() {
		if _, vis := s.visible[coord]; vis {
			s.needMesh[coord] = struct{}{}
		}
	}
	if len(s.needMesh) == 0 {
		return
	}
	todo := make([]world.ChunkCoord, 0, len(s.needMesh))
	for c := range s.needMesh {
		todo = append(todo, c)
	}
	slices.SortFunc(todo, func(a, b world.ChunkCoord) int {
		da, db := s.distance(a), s.distance(b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})

	for _, coord := range todo {
		if s.builder.InFlight() >= s.opts.MaxMeshing {
			return
		}
		if _, vis := s.visible[coord]; !vis || !s.store.Has(coord) {
			delete(s.needMesh, coord)
			continue
		}
		if s.builder.Outstanding(coord) {
			// Stays queued; the running job saw older data.
			continue
		}
		if _, ok := s.slots.Acquire(coord, now); !ok {
			return
		}
		snap := s.arena.Alloc(coord)
		if !s.store.Snapshot(coord, snap) {
			s.arena.Release(snap)
			delete(s.needMesh, coord)
			continue
		}
		job := meshing.Job{
			Coord:   coord,
			Mode:    s.opts.MeshMode,
			Chunk:   snap,
			Borders: s.store.Borders(coord),
			Ceiling: s.view.Ceiling,
		}
		if !s.builder.Request(job) {
			s.arena.Release(snap)
			return
		}
		s.pendingMesh[coord] = &PendingMesh{Coord: coord, Snapshot: snap, Started: now}
		delete(s.needMesh, coord)
	}
}

func (s *Scheduler) evict(now time.Time) {
	defer s.prof.Track("streaming.evict")()

	s.slots.Reclaim(now)
	for coord, since := range s.inactive {
		if now.Sub(since) >= s.opts.BufferDuration {
			delete(s.inactive, coord)
		}
	}
	protected := func(c world.ChunkCoord) bool {
		if _, ok := s.visible[c]; ok {
			return true
		}
		_, ok := s.inactive[c]
		return ok
	}
	for _, coord := range s.store.EnforceCap(s.view.Position, protected) {
		s.slots.Release(coord)
		delete(s.needMesh, coord)
		s.stats.Evicted++
	}
}

// IsVisible reports whether coord is in the current visible set.
func (s *Scheduler) IsVisible(coord world.ChunkCoord) bool {
	_, ok := s.visible[coord]
	return ok
}

// Slots exposes the render slot pool to the render layer.
func (s *Scheduler) Slots() *SlotPool { return s.slots }

// Stats returns a snapshot; call from the Update goroutine.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Resident = s.store.Len()
	st.Visible = len(s.visible)
	st.Queued = s.queue.Len()
	st.Generating = len(s.pendingGen)
	st.Meshing = len(s.pendingMesh)
	st.Inactive = len(s.inactive)
	st.Slots = s.slots.Counts()
	return st
}

// Idle reports whether nothing is queued or in flight.
func (s *Scheduler) Idle() bool {
	s.reqMu.Lock()
	reqs := len(s.requests)
	s.reqMu.Unlock()
	return reqs == 0 && s.queue.Len() == 0 && len(s.pendingGen) == 0 &&
		len(s.pendingMesh) == 0 && len(s.needMesh) == 0
}

// Close stops the workers and disposes every buffer still owned by a pending record.
func (s *Scheduler) Close() {
	s.genPool.Shutdown()
	s.builder.Shutdown()
	for c, p := range s.pendingGen {
		s.arena.Release(p.Chunk)
		delete(s.pendingGen, c)
	}
	for c, p := range s.pendingMesh {
		s.arena.Release(p.Snapshot)
		delete(s.pendingMesh, c)
	}
	s.queue.Clear()
}
