package engine

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"

	"voxstream/internal/config"
	"voxstream/internal/streaming"
	"voxstream/internal/world"
)

// flatConfig produces grass at y=64 over dirt and stone everywhere.
func flatConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.World.DataDir = dir
	cfg.World.Seed = 7
	cfg.Generation.BaseHeight = 64
	cfg.Generation.Amplitude = 0
	cfg.Generation.SeaLevel = 62
	cfg.Generation.Workers = 2
	cfg.Persistence.FlushInterval = config.Duration{}
	plains := world.DefaultBiomes()[2]
	plains.HeightOffset = 0
	plains.HeightScale = 1
	cfg.Biomes = []world.BiomeDefinition{plains}
	return &cfg
}

func open(t *testing.T, cfg *config.Config) *World {
	t.Helper()
	w, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestEditSurvivesReload(t *testing.T) {
	ctx := context.Background()
	cfg := flatConfig(t, t.TempDir())

	w := open(t, cfg)
	if err := w.LoadChunkSync(ctx, world.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}
	if got := w.GetBlockType(3, 64, 5); got != world.BlockGrass {
		t.Fatalf("generated block = %v, want grass", got)
	}
	if !w.SetBlock(3, 64, 5, world.BlockStone) {
		t.Fatal("SetBlock rejected")
	}
	if got := w.GetBlockType(3, 64, 5); got != world.BlockStone {
		t.Errorf("after edit = %v, want stone", got)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	id := w.Meta().ID
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := open(t, cfg)
	defer reopened.Close(ctx)
	if reopened.Meta().ID != id {
		t.Error("world identity changed across reopen")
	}
	if err := reopened.LoadChunkSync(ctx, world.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}
	if got := reopened.GetBlockType(3, 64, 5); got != world.BlockStone {
		t.Errorf("after reload = %v, want stone", got)
	}
	if got := reopened.GetBlockType(4, 64, 5); got != world.BlockGrass {
		t.Errorf("neighbour after reload = %v, want grass", got)
	}
}

func TestEditToAbsentChunkAppliesOnLoad(t *testing.T) {
	ctx := context.Background()
	w := open(t, flatConfig(t, t.TempDir()))
	defer w.Close(ctx)

	x, z := -37, 200
	if !w.SetBlock(x, 90, z, world.BlockIce) {
		t.Fatal("edit to absent chunk rejected")
	}
	coord, _, _ := world.LocalCoords(x, z)
	if err := w.LoadChunkSync(ctx, coord); err != nil {
		t.Fatal(err)
	}
	if got := w.GetBlockType(x, 90, z); got != world.BlockIce {
		t.Errorf("block = %v, want ice", got)
	}
	if y, ok := w.GetHighestSolidBlock(x, z); !ok || y != 90 {
		t.Errorf("highest = %d %v, want 90", y, ok)
	}
}

func TestConservativeDefaults(t *testing.T) {
	ctx := context.Background()
	w := open(t, flatConfig(t, t.TempDir()))
	defer w.Close(ctx)

	if got := w.GetBlockType(0, -1, 0); got != world.BlockBedrock {
		t.Errorf("below world = %v", got)
	}
	if got := w.GetBlockType(0, world.ChunkHeight, 0); got != world.BlockAir {
		t.Errorf("above world = %v", got)
	}
	if w.SetBlock(0, world.ChunkHeight, 0, world.BlockStone) || w.SetBlock(0, -1, 0, world.BlockStone) {
		t.Error("edit outside the world accepted")
	}

	// Chunk (0,0) is not resident: everything reads as empty and the query
	// schedules generation.
	if w.GetBlockType(1, 10, 1) != world.BlockAir || w.IsBlockSolid(1, 10, 1) {
		t.Error("absent chunk not reported as air")
	}
	if w.CanStandAt(1, 65, 1) {
		t.Error("standable on unknown terrain")
	}
	if _, ok := w.GetHighestSolidBlock(1, 1); ok {
		t.Error("highest block reported for absent chunk")
	}

	view := streaming.DeltaContext{View: streaming.Viewpoint{Position: mgl32.Vec3{5000, 80, 5000}}}
	deadline := time.Now().Add(10 * time.Second)
	for !w.Store().Has(world.ChunkCoord{}) {
		if time.Now().After(deadline) {
			t.Fatal("miss never produced the chunk")
		}
		view.Now = view.Now.Add(16 * time.Millisecond)
		w.Update(ctx, view)
		time.Sleep(time.Millisecond)
	}
	if !w.IsBlockSolid(1, 10, 1) {
		t.Error("generated chunk still reads as air")
	}
}

func TestColumnQueries(t *testing.T) {
	ctx := context.Background()
	w := open(t, flatConfig(t, t.TempDir()))
	defer w.Close(ctx)
	if err := w.LoadChunkSync(ctx, world.ChunkCoord{}); err != nil {
		t.Fatal(err)
	}

	if y, ok := w.GetHighestSolidBlock(3, 5); !ok || y != 64 {
		t.Errorf("highest = %d %v, want 64", y, ok)
	}
	if !w.CanStandAt(3, 65, 5) {
		t.Error("cannot stand on the surface")
	}
	if w.CanStandAt(3, 64, 5) {
		t.Error("can stand inside the surface block")
	}
	w.SetBlock(3, 66, 5, world.BlockStone)
	if w.CanStandAt(3, 65, 5) {
		t.Error("can stand with a block at head height")
	}

	if top, ok := w.GroundBelow(mgl32.Vec3{3.5, 100, 5.5}); !ok || top != 67 {
		t.Errorf("ground below = %v %v, want 67 on the placed block", top, ok)
	}
	if top, ok := w.GroundBelow(mgl32.Vec3{8.5, 100, 8.5}); !ok || top != 65 {
		t.Errorf("ground below = %v %v, want 65 on the surface", top, ok)
	}
	if top, ok := w.GroundBelow(mgl32.Vec3{3.5, 65.5, 5.5}); !ok || top != 65 {
		t.Errorf("ground below under the placed block = %v %v, want 65", top, ok)
	}

	hit := w.Raycast(mgl32.Vec3{3.5, 80, 5.5}, mgl32.Vec3{0, -1, 0}, 32)
	if !hit.Hit || hit.HitPosition != [3]int{3, 66, 5} {
		t.Errorf("raycast = %+v, want hit at the placed block", hit)
	}
}

func TestChunkEvents(t *testing.T) {
	ctx := context.Background()
	w := open(t, flatConfig(t, t.TempDir()))

	var events []world.Event
	w.Subscribe(func(e world.Event) { events = append(events, e) })
	coord := world.ChunkCoord{X: 2, Z: -1}
	if err := w.LoadChunkSync(ctx, coord); err != nil {
		t.Fatal(err)
	}
	if err := w.LoadChunkSync(ctx, coord); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}
	want := []world.Event{{Kind: world.ChunkLoaded, Coord: coord}, {Kind: world.ChunkUnloaded, Coord: coord}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestUpdateStreamsAroundViewpoint(t *testing.T) {
	ctx := context.Background()
	w := open(t, flatConfig(t, t.TempDir()))
	defer w.Close(ctx)

	dc := streaming.DeltaContext{
		Now:  time.Unix(0, 0),
		View: streaming.Viewpoint{Position: mgl32.Vec3{8, 90, 8}, Extent: 24},
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		dc.Now = dc.Now.Add(16 * time.Millisecond)
		w.Update(ctx, dc)
		if st := w.Stats(); st.Visible > 0 && w.Scheduler().Idle() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("did not settle: %+v", w.Stats())
		}
		time.Sleep(time.Millisecond)
	}

	st := w.Stats()
	if st.Resident < st.Visible {
		t.Errorf("resident %d < visible %d", st.Resident, st.Visible)
	}
	if st.Slots.Active != st.Visible {
		t.Errorf("active slots %d, visible %d", st.Slots.Active, st.Visible)
	}
	if st.ArenaLive != st.Resident {
		t.Errorf("arena live %d, resident %d", st.ArenaLive, st.Resident)
	}
	if w.GetBlockType(8, 64, 8) != world.BlockGrass {
		t.Error("streamed terrain missing at the viewpoint")
	}
}
