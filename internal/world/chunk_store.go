package world

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// ModificationSink receives block edits applied to resident chunks.
type ModificationSink interface {
	MarkModified(coord ChunkCoord, index int, t BlockType)
}

// OverlaySource provides the persisted edits of a chunk, applied on top of fresh terrain.
type OverlaySource interface {
	Overlay(coord ChunkCoord) map[int]BlockType
}

// EventKind distinguishes chunk lifecycle events.
type EventKind uint8

const (
	ChunkLoaded EventKind = iota + 1
	ChunkUnloaded
)

func (k EventKind) String() string {
	switch k {
	case ChunkLoaded:
		return "loaded"
	case ChunkUnloaded:
		return "unloaded"
	}
	return "unknown"
}

// Event reports a residency transition.
type Event struct {
	Kind  EventKind
	Coord ChunkCoord
}

// Listener is invoked synchronously, outside the store lock, once per transition.
type Listener func(Event)

// ChunkStore is the single source of truth for chunk residency. All buffers it holds
// were handed over by Put and are returned to the arena when the chunk leaves.
type ChunkStore struct {
	mu       sync.RWMutex
	chunks   map[ChunkCoord]*ChunkData
	modCount uint64

	arena     *Arena
	maxCached int
	log       *slog.Logger

	sink    ModificationSink
	overlay OverlaySource
	onMiss  func(ChunkCoord)

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewChunkStore creates a store keeping roughly maxCached chunks resident.
func NewChunkStore(arena *Arena, maxCached int, log *slog.Logger) *ChunkStore {
	if log == nil {
		log = slog.Default()
	}
	return &ChunkStore{
		chunks:    make(map[ChunkCoord]*ChunkData),
		arena:     arena,
		maxCached: maxCached,
		log:       log,
		listeners: make(map[int]Listener),
	}
}

// SetModificationSink wires the persistence layer. Call before concurrent use.
func (cs *ChunkStore) SetModificationSink(s ModificationSink) { cs.sink = s }

// SetOverlaySource wires the edit overlay applied by Put. Call before concurrent use.
func (cs *ChunkStore) SetOverlaySource(o OverlaySource) { cs.overlay = o }

// SetMissHandler sets the callback Get uses to request generation. Call before concurrent use.
func (cs *ChunkStore) SetMissHandler(fn func(ChunkCoord)) { cs.onMiss = fn }

func (cs *ChunkStore) Arena() *Arena  { return cs.arena }
func (cs *ChunkStore) MaxCached() int { return cs.maxCached }

// Get never blocks on generation. For a non-resident coordinate it returns a transient
// empty chunk and calls the miss handler.
// The returned chunk is only safe to read on the goroutine that owns store mutations;
// other goroutines should use Block, Column or Snapshot.
func (cs *ChunkStore) Get(coord ChunkCoord) *ChunkData {
	cs.mu.RLock()
	c, ok := cs.chunks[coord]
	cs.mu.RUnlock()
	if ok {
		return c
	}
	if cs.onMiss != nil {
		cs.onMiss(coord)
	}
	return emptyChunk(coord)
}

// Lookup returns the resident chunk without side effects.
func (cs *ChunkStore) Lookup(coord ChunkCoord) (*ChunkData, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.chunks[coord]
	return c, ok
}

// Has reports whether coord is resident.
func (cs *ChunkStore) Has(coord ChunkCoord) bool {
	cs.mu.RLock()
	_, ok := cs.chunks[coord]
	cs.mu.RUnlock()
	return ok
}

// Put takes ownership of data and installs it with the edit overlay applied. A chunk
// already resident at coord is replaced and its buffers released; Put then reports
// false and no second loaded event fires.
func (cs *ChunkStore) Put(coord ChunkCoord, data *ChunkData) bool {
	if data.IsEmpty() {
		cs.release(data)
		return false
	}

	cs.mu.Lock()
	old, replaced := cs.chunks[coord]
	data.Coord = coord
	if cs.overlay != nil {
		if edits := cs.overlay.Overlay(coord); len(edits) > 0 {
			applyEdits(data, edits)
		}
	}
	data.dirty = true
	cs.chunks[coord] = data
	cs.modCount++
	for _, d := range neighborOffsets {
		if nb, ok := cs.chunks[coord.Neighbor(d[0], d[1])]; ok {
			nb.dirty = true
		}
	}
	cs.mu.Unlock()

	if replaced {
		if old != data {
			cs.release(old)
		}
		return false
	}
	cs.emit(Event{Kind: ChunkLoaded, Coord: coord})
	return true
}

var neighborOffsets = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

func applyEdits(c *ChunkData, edits map[int]BlockType) {
	touched := make(map[int]struct{}, len(edits))
	for idx, t := range edits {
		if !ValidIndex(idx) {
			continue
		}
		c.Blocks[idx] = t
		lx, _, lz := SplitIndex(idx)
		touched[ColumnIndex(lx, lz)] = struct{}{}
	}
	for col := range touched {
		c.RecomputeColumn(col%ChunkSize, col/ChunkSize)
	}
}

// Modify edits a resident chunk in place, marks it dirty and forwards the edit to the
// modification sink. It reports false when coord is not resident or index is invalid.
func (cs *ChunkStore) Modify(coord ChunkCoord, index int, t BlockType) bool {
	applied, changed := cs.apply(coord, index, t)
	if changed && cs.sink != nil {
		cs.sink.MarkModified(coord, index, t)
	}
	return applied
}

// Apply is Modify without forwarding to the sink, for edits already recorded elsewhere.
func (cs *ChunkStore) Apply(coord ChunkCoord, index int, t BlockType) bool {
	applied, _ := cs.apply(coord, index, t)
	return applied
}

func (cs *ChunkStore) apply(coord ChunkCoord, index int, t BlockType) (applied, changed bool) {
	if !ValidIndex(index) {
		return false, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.chunks[coord]
	if !ok {
		return false, false
	}
	lx, y, lz := SplitIndex(index)
	if !c.SetBlock(lx, y, lz, t) {
		return true, false
	}
	c.dirty = true

	// Border edits change the neighbour's skirt and face visibility.
	if lx == 0 {
		cs.markDirtyLocked(coord.Neighbor(-1, 0))
	} else if lx == ChunkSize-1 {
		cs.markDirtyLocked(coord.Neighbor(1, 0))
	}
	if lz == 0 {
		cs.markDirtyLocked(coord.Neighbor(0, -1))
	} else if lz == ChunkSize-1 {
		cs.markDirtyLocked(coord.Neighbor(0, 1))
	}
	return true, true
}

func (cs *ChunkStore) markDirtyLocked(coord ChunkCoord) {
	if c, ok := cs.chunks[coord]; ok {
		c.dirty = true
	}
}

// MarkDirty flags a resident chunk for remeshing.
func (cs *ChunkStore) MarkDirty(coord ChunkCoord) {
	cs.mu.Lock()
	cs.markDirtyLocked(coord)
	cs.mu.Unlock()
}

// TakeDirty returns the dirty resident chunks and clears their flags.
func (cs *ChunkStore) TakeDirty() []ChunkCoord {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []ChunkCoord
	for coord, c := range cs.chunks {
		if c.dirty {
			c.dirty = false
			out = append(out, coord)
		}
	}
	return out
}

// Remove disposes a resident chunk's buffers, then drops it from the index.
func (cs *ChunkStore) Remove(coord ChunkCoord) bool {
	cs.mu.Lock()
	c, ok := cs.chunks[coord]
	if ok {
		cs.release(c)
		delete(cs.chunks, coord)
		cs.modCount++
	}
	cs.mu.Unlock()
	if ok {
		cs.emit(Event{Kind: ChunkUnloaded, Coord: coord})
	}
	return ok
}

// EnforceCap evicts the farthest non-visible chunks while more than maxCached are
// resident. Visible chunks are never evicted, so the cap is soft.
func (cs *ChunkStore) EnforceCap(viewpoint mgl32.Vec3, visible func(ChunkCoord) bool) []ChunkCoord {
	cs.mu.RLock()
	excess := len(cs.chunks) - cs.maxCached
	if cs.maxCached <= 0 || excess <= 0 {
		cs.mu.RUnlock()
		return nil
	}
	type ranked struct {
		coord ChunkCoord
		dist  float32
	}
	candidates := make([]ranked, 0, len(cs.chunks))
	for coord := range cs.chunks {
		if visible != nil && visible(coord) {
			continue
		}
		candidates = append(candidates, ranked{coord, coord.DistanceTo(viewpoint)})
	}
	cs.mu.RUnlock()

	// Farthest first; ties broken by coordinate so the order is stable.
	slices.SortFunc(candidates, func(a, b ranked) int {
		switch {
		case a.dist > b.dist:
			return -1
		case a.dist < b.dist:
			return 1
		case a.coord.X != b.coord.X:
			return a.coord.X - b.coord.X
		}
		return a.coord.Z - b.coord.Z
	})

	var evicted []ChunkCoord
	for _, c := range candidates {
		if len(evicted) >= excess {
			break
		}
		if cs.Remove(c.coord) {
			evicted = append(evicted, c.coord)
		}
	}
	if len(evicted) > 0 {
		cs.log.Debug("evicted chunks over cap", "count", len(evicted), "cap", cs.maxCached)
	}
	return evicted
}

// Snapshot copies a resident chunk into dst, which must own buffers.
func (cs *ChunkStore) Snapshot(coord ChunkCoord, dst *ChunkData) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.chunks[coord]
	if !ok || dst.IsEmpty() {
		return false
	}
	c.CopyInto(dst)
	return true
}

// Borders returns the facing edge rows of the four neighbours in the order
// east (+x), west (-x), south (+z), north (-z). Missing neighbours yield nil rows.
func (cs *ChunkStore) Borders(coord ChunkCoord) [4][]HeightPoint {
	var out [4][]HeightPoint
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for i, d := range neighborOffsets {
		if nb, ok := cs.chunks[coord.Neighbor(d[0], d[1])]; ok {
			out[i] = nb.Edge(-d[0], -d[1])
		}
	}
	return out
}

// Block reads one block of a resident chunk.
func (cs *ChunkStore) Block(coord ChunkCoord, lx, y, lz int) (BlockType, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.chunks[coord]
	if !ok {
		return BlockAir, false
	}
	return c.Block(lx, y, lz), true
}

// Column reads one height point of a resident chunk.
func (cs *ChunkStore) Column(coord ChunkCoord, lx, lz int) (HeightPoint, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.chunks[coord]
	if !ok {
		return HeightPoint{}, false
	}
	return c.Column(lx, lz), true
}

// HeightRange returns the column height range of a resident chunk.
func (cs *ChunkStore) HeightRange(coord ChunkCoord) (lo, hi int, ok bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.chunks[coord]
	if !ok {
		return 0, 0, false
	}
	lo, hi = c.HeightRange()
	return lo, hi, true
}

func (cs *ChunkStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.chunks)
}

// Coords lists resident coordinates in no particular order.
func (cs *ChunkStore) Coords() []ChunkCoord {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]ChunkCoord, 0, len(cs.chunks))
	for coord := range cs.chunks {
		out = append(out, coord)
	}
	return out
}

// ModCount increases on every add and remove.
func (cs *ChunkStore) ModCount() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.modCount
}

// Clear removes every chunk, firing unloaded events.
func (cs *ChunkStore) Clear() {
	for _, coord := range cs.Coords() {
		cs.Remove(coord)
	}
}

// Subscribe registers l and returns a function that unregisters it.
func (cs *ChunkStore) Subscribe(l Listener) (cancel func()) {
	cs.lmu.Lock()
	id := cs.nextID
	cs.nextID++
	cs.listeners[id] = l
	cs.lmu.Unlock()
	return func() {
		cs.lmu.Lock()
		delete(cs.listeners, id)
		cs.lmu.Unlock()
	}
}

func (cs *ChunkStore) emit(ev Event) {
	cs.lmu.Lock()
	ls := make([]Listener, 0, len(cs.listeners))
	for _, l := range cs.listeners {
		ls = append(ls, l)
	}
	cs.lmu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (cs *ChunkStore) release(c *ChunkData) {
	if cs.arena != nil && c.handle.Valid() {
		cs.arena.Release(c)
		return
	}
	c.Blocks = nil
	c.HeightMap = nil
}
