package world

import (
	"log/slog"
	"sync"
)

// Handle addresses an arena slot. The zero Handle owns nothing.
type Handle struct {
	slot int32 // index+1
	gen  uint32
}

// Valid reports whether the handle was issued by an arena.
func (h Handle) Valid() bool { return h.slot > 0 }

type arenaSlot struct {
	blocks  []BlockType
	heights []HeightPoint
	gen     uint32
	inUse   bool
}

// Arena is a slab allocator for chunk buffers. Every buffer handed out by Alloc
// has exactly one owner until it comes back through Release.
type Arena struct {
	mu      sync.Mutex
	slots   []arenaSlot
	free    []int32
	live    int
	maxIdle int
	log     *slog.Logger
}

// NewArena creates an arena keeping at most maxIdle released buffers warm for reuse.
func NewArena(maxIdle int, log *slog.Logger) *Arena {
	if log == nil {
		log = slog.Default()
	}
	return &Arena{maxIdle: maxIdle, log: log}
}

// Alloc returns zeroed buffers for coord.
func (a *Arena) Alloc(coord ChunkCoord) *ChunkData {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = int32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	if s.blocks == nil {
		s.blocks = make([]BlockType, ChunkVolume)
		s.heights = make([]HeightPoint, ChunkArea)
	} else {
		clear(s.blocks)
		clear(s.heights)
	}
	s.inUse = true
	a.live++

	return &ChunkData{
		Coord:     coord,
		Blocks:    s.blocks,
		HeightMap: s.heights,
		handle:    Handle{slot: idx + 1, gen: s.gen},
	}
}

// Release returns the chunk's buffers to the arena and detaches them from c.
// Releasing a chunk twice, or one from another arena, is logged and ignored.
func (a *Arena) Release(c *ChunkData) bool {
	if c == nil {
		return false
	}
	h := c.handle
	c.Blocks = nil
	c.HeightMap = nil
	c.handle = Handle{}
	if !h.Valid() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idx := h.slot - 1
	if int(idx) >= len(a.slots) {
		a.log.Warn("arena release of unknown slot", "coord", c.Coord, "slot", idx)
		return false
	}
	s := &a.slots[idx]
	if !s.inUse || s.gen != h.gen {
		a.log.Warn("arena double release", "coord", c.Coord, "slot", idx)
		return false
	}
	s.inUse = false
	s.gen++
	a.live--
	if len(a.free) >= a.maxIdle {
		s.blocks = nil
		s.heights = nil
	}
	a.free = append(a.free, idx)
	return true
}

// Live is the number of buffers currently owned outside the arena.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Slots is the number of slots ever created.
func (a *Arena) Slots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}
