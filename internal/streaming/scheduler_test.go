package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxstream/internal/world"
)

func flatTerrain(t testing.TB) *world.Generator {
	t.Helper()
	plains := world.DefaultBiomes()[2]
	plains.HeightOffset = 0
	plains.HeightScale = 1
	table, err := world.NewBiomeTable([]world.BiomeDefinition{plains})
	if err != nil {
		t.Fatal(err)
	}
	p := world.DefaultGeneratorParams(1)
	p.Amplitude = 0
	p.BaseHeight = 64
	p.Workers = 1
	return world.NewGenerator(p, table)
}

func testOptions() Options {
	o := DefaultOptions()
	o.LoadBuffer = 1
	o.BufferDuration = 100 * time.Millisecond
	o.RenderSlots = 64
	o.GenWorkers = 2
	o.MeshWorkers = 2
	return o
}

type harness struct {
	t     *testing.T
	s     *Scheduler
	store *world.ChunkStore
	now   time.Time
}

func newHarness(t *testing.T, opts Options, gen world.TerrainGenerator, maxCached int) *harness {
	t.Helper()
	store := world.NewChunkStore(world.NewArena(16, nil), maxCached, nil)
	s := NewScheduler(opts, store, gen, nil, nil, nil)
	t.Cleanup(s.Close)
	return &harness{t: t, s: s, store: store, now: time.Unix(1000, 0)}
}

func (h *harness) tick(v Viewpoint) {
	h.now = h.now.Add(16 * time.Millisecond)
	h.s.Update(context.Background(), DeltaContext{Now: h.now, Dt: 16 * time.Millisecond, View: v})
}

// settle ticks until nothing is queued or in flight.
func (h *harness) settle(v Viewpoint) {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		h.tick(v)
		if h.s.Idle() {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("scheduler did not settle: %+v", h.s.Stats())
		}
		time.Sleep(time.Millisecond)
	}
}

func visibleAround(pos mgl32.Vec3, radius float32) []world.ChunkCoord {
	var out []world.ChunkCoord
	for dz := -4; dz <= 4; dz++ {
		for dx := -4; dx <= 4; dx++ {
			c := world.ChunkCoordAt(pos).Neighbor(dx, dz)
			if c.DistanceTo(pos) <= radius {
				out = append(out, c)
			}
		}
	}
	return out
}

func TestSchedulerLoadsAndMeshesVisibleSet(t *testing.T) {
	h := newHarness(t, testOptions(), flatTerrain(t), 256)
	view := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 32}
	h.settle(view)

	want := visibleAround(view.Position, 32)
	st := h.s.Stats()
	if st.Visible != len(want) {
		t.Errorf("visible = %d, want %d", st.Visible, len(want))
	}
	for _, c := range want {
		if !h.store.Has(c) {
			t.Errorf("chunk %v not resident", c)
			continue
		}
		slot, ok := h.s.Slots().Lookup(c)
		if !ok || slot.State != SlotActive || !slot.Visible {
			t.Errorf("chunk %v slot = %+v", c, slot)
		}
	}
	if st.Slots.Active != len(want) {
		t.Errorf("active slots = %d, want %d", st.Slots.Active, len(want))
	}
}

func TestSchedulerRecomputeNeedsThreshold(t *testing.T) {
	h := newHarness(t, testOptions(), flatTerrain(t), 256)
	view := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 32}
	h.settle(view)
	before := h.s.Stats().Recomputes

	view.Position = view.Position.Add(mgl32.Vec3{1, 0, 1})
	h.tick(view)
	if got := h.s.Stats().Recomputes; got != before {
		t.Errorf("small move recomputed the visible set (%d -> %d)", before, got)
	}
	view.Extent = 40
	h.tick(view)
	if got := h.s.Stats().Recomputes; got != before+1 {
		t.Errorf("zoom did not recompute (%d -> %d)", before, got)
	}
}

type airGenerator struct{}

func (airGenerator) Generate(ctx context.Context, c *world.ChunkData) error {
	c.RecomputeHeightMap()
	return ctx.Err()
}

func TestSchedulerEmptyMeshLeavesSlotHidden(t *testing.T) {
	h := newHarness(t, testOptions(), airGenerator{}, 64)
	view := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 8}
	h.settle(view)

	c := world.ChunkCoord{}
	if !h.store.Has(c) {
		t.Fatal("chunk not resident")
	}
	slot, ok := h.s.Slots().Lookup(c)
	if !ok {
		t.Fatal("no slot bound")
	}
	if slot.Visible || slot.HasMesh() {
		t.Errorf("empty chunk slot visible=%v mesh=%v", slot.Visible, slot.HasMesh())
	}
}

// flakyGenerator fails the first attempt for every chunk.
type flakyGenerator struct {
	inner world.TerrainGenerator
	mu    sync.Mutex
	seen  map[world.ChunkCoord]int
}

var errFlaky = errors.New("transient generation fault")

func (g *flakyGenerator) Generate(ctx context.Context, c *world.ChunkData) error {
	g.mu.Lock()
	g.seen[c.Coord]++
	n := g.seen[c.Coord]
	g.mu.Unlock()
	if n == 1 {
		return errFlaky
	}
	return g.inner.Generate(ctx, c)
}

func TestSchedulerRetriesFailedGeneration(t *testing.T) {
	gen := &flakyGenerator{inner: flatTerrain(t), seen: make(map[world.ChunkCoord]int)}
	h := newHarness(t, testOptions(), gen, 64)
	view := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 8}
	h.settle(view)

	st := h.s.Stats()
	if st.GenerationFault == 0 {
		t.Fatal("no generation faults recorded")
	}
	for _, c := range visibleAround(view.Position, 8) {
		if !h.store.Has(c) {
			t.Errorf("chunk %v not retried", c)
		}
	}
	if live := h.store.Arena().Live(); live != h.store.Len() {
		t.Errorf("arena live = %d, resident = %d: failed buffers leaked", live, h.store.Len())
	}
}

// gatedGenerator blocks until release is closed.
type gatedGenerator struct {
	inner   world.TerrainGenerator
	started chan world.ChunkCoord
	release chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, c *world.ChunkData) error {
	g.started <- c.Coord
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.inner.Generate(ctx, c)
}

func TestSchedulerSkipsMeshingForChunksThatLeftView(t *testing.T) {
	gen := &gatedGenerator{
		inner:   flatTerrain(t),
		started: make(chan world.ChunkCoord, 64),
		release: make(chan struct{}),
	}
	opts := testOptions()
	opts.MaxGeneration = 1
	opts.GenWorkers = 1
	h := newHarness(t, opts, gen, 256)

	near := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 8}
	h.tick(near)
	first := <-gen.started

	far := Viewpoint{Position: mgl32.Vec3{8000, 80, 8000}, Extent: 8}
	h.tick(far)
	close(gen.release)
	h.settle(far)

	if !h.store.Has(first) {
		t.Fatalf("finished chunk %v was dropped", first)
	}
	if _, ok := h.s.Slots().Lookup(first); ok {
		t.Errorf("chunk %v that left view was meshed", first)
	}
}

func TestSchedulerCeilingInvalidation(t *testing.T) {
	h := newHarness(t, testOptions(), flatTerrain(t), 256)
	view := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 16}
	h.settle(view)
	meshed := h.s.Stats().Meshed

	// Terrain tops out at y=65, so a ceiling above it changes nothing.
	view.Ceiling = 200
	h.settle(view)
	if got := h.s.Stats().Meshed; got != meshed {
		t.Errorf("ceiling above terrain remeshed %d chunks", got-meshed)
	}

	view.Ceiling = 30
	h.settle(view)
	visible := uint64(h.s.Stats().Visible)
	if got := h.s.Stats().Meshed; got != meshed+visible {
		t.Errorf("meshed = %d, want %d after lowering the ceiling", got, meshed+visible)
	}
}

func TestSchedulerEvictsAfterBuffer(t *testing.T) {
	opts := testOptions()
	opts.BufferDuration = time.Hour
	h := newHarness(t, opts, flatTerrain(t), 1)
	home := Viewpoint{Position: mgl32.Vec3{8, 80, 8}, Extent: 8}
	h.settle(home)
	origin := world.ChunkCoord{}

	away := Viewpoint{Position: mgl32.Vec3{808, 80, 808}, Extent: 8}
	h.settle(away)
	if !h.store.Has(origin) {
		t.Fatal("chunk evicted inside the buffer window")
	}
	if slot, ok := h.s.Slots().Lookup(origin); !ok || slot.State != SlotBuffered {
		t.Fatalf("origin slot = %+v, want buffered", slot)
	}

	h.now = h.now.Add(2 * time.Hour)
	h.tick(away)
	if h.store.Has(origin) {
		t.Error("chunk not evicted after the buffer expired")
	}
	if _, ok := h.s.Slots().Lookup(origin); ok {
		t.Error("evicted chunk still holds a slot")
	}
	if got := h.store.Len(); got != 1 {
		t.Errorf("resident = %d, want 1", got)
	}
	if got := h.s.Stats().Evicted; got != 1 {
		t.Errorf("evicted = %d, want 1", got)
	}
}

func TestSchedulerRequestIsThreadSafe(t *testing.T) {
	h := newHarness(t, testOptions(), flatTerrain(t), 256)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.s.Request(world.ChunkCoord{X: 100 + i})
		}(i)
	}
	wg.Wait()
	view := Viewpoint{Position: mgl32.Vec3{1608, 80, 8}, Extent: 1}
	h.settle(view)
	for i := 0; i < 8; i++ {
		if !h.store.Has(world.ChunkCoord{X: 100 + i}) {
			t.Errorf("requested chunk %d not generated", 100+i)
		}
	}
}
