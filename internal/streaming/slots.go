package streaming

import (
	"log/slog"
	"time"

	"voxstream/internal/meshing"
	"voxstream/internal/world"
)

// SlotState is the lifecycle state of a render slot.
type SlotState uint8

const (
	SlotPooled SlotState = iota
	SlotActive
	SlotBuffered
)

func (s SlotState) String() string {
	switch s {
	case SlotActive:
		return "active"
	case SlotBuffered:
		return "buffered"
	}
	return "pooled"
}

// Slot is a reusable render container. Only the pool mutates it.
type Slot struct {
	ID    int
	State SlotState
	Coord world.ChunkCoord
	Mesh  meshing.Output
	// Visible is true when the slot is active and carries a non-empty mesh.
	Visible bool
	since   time.Time
}

// HasMesh reports whether a mesh has been assigned since the slot was bound.
func (s *Slot) HasMesh() bool { return !s.Mesh.IsEmpty() }

// SlotCounts is a snapshot of slot states.
type SlotCounts struct {
	Pooled, Active, Buffered int
}

// SlotPool recycles a fixed set of render slots across pooled, active and
// buffered-inactive states. It is owned by the scheduling goroutine.
type SlotPool struct {
	slots   []*Slot
	byCoord map[world.ChunkCoord]*Slot
	buffer  time.Duration
	log     *slog.Logger
}

// NewSlotPool creates size slots; buffered-inactive slots return to the pool after buffer.
func NewSlotPool(size int, buffer time.Duration, log *slog.Logger) *SlotPool {
	if log == nil {
		log = slog.Default()
	}
	p := &SlotPool{
		slots:   make([]*Slot, size),
		byCoord: make(map[world.ChunkCoord]*Slot, size),
		buffer:  buffer,
		log:     log,
	}
	for i := range p.slots {
		p.slots[i] = &Slot{ID: i}
	}
	return p
}

// Acquire returns the active slot for coord, reactivating a buffered one or binding a
// free one. When none is free the oldest buffered-inactive slot is reclaimed. If every
// slot is active the refusal is logged and ok is false.
func (p *SlotPool) Acquire(coord world.ChunkCoord, now time.Time) (*Slot, bool) {
	if s, ok := p.byCoord[coord]; ok {
		if s.State == SlotBuffered {
			s.State = SlotActive
			s.since = now
			s.Visible = s.HasMesh()
		}
		return s, true
	}

	var free, oldest *Slot
	for _, s := range p.slots {
		switch s.State {
		case SlotPooled:
			if free == nil {
				free = s
			}
		case SlotBuffered:
			if oldest == nil || s.since.Before(oldest.since) {
				oldest = s
			}
		}
	}
	if free == nil && oldest != nil {
		p.log.Debug("reclaiming buffered slot", "slot", oldest.ID, "coord", oldest.Coord, "for", coord)
		p.unbind(oldest)
		free = oldest
	}
	if free == nil {
		p.log.Warn("no render slot available", "coord", coord, "count", len(p.slots))
		return nil, false
	}

	// The old mesh is gone before the new coordinate is bound.
	free.Mesh = meshing.Output{}
	free.Visible = false
	free.Coord = coord
	free.State = SlotActive
	free.since = now
	p.byCoord[coord] = free
	return free, true
}

// Assign installs a finished mesh on the slot bound to coord. An empty mesh is not
// assigned and the slot stays hidden. It reports whether the mesh was installed.
func (p *SlotPool) Assign(coord world.ChunkCoord, out meshing.Output) bool {
	s, ok := p.byCoord[coord]
	if !ok || s.Coord != coord || s.State == SlotPooled {
		return false
	}
	if out.IsEmpty() {
		s.Mesh = meshing.Output{}
		s.Visible = false
		return false
	}
	s.Mesh = out
	s.Visible = s.State == SlotActive
	return true
}

// Deactivate moves an active slot to buffered-inactive, keeping its mesh.
func (p *SlotPool) Deactivate(coord world.ChunkCoord, now time.Time) bool {
	s, ok := p.byCoord[coord]
	if !ok || s.State != SlotActive {
		return false
	}
	s.State = SlotBuffered
	s.Visible = false
	s.since = now
	return true
}

// Reclaim returns buffered slots older than the buffer duration to the pool.
func (p *SlotPool) Reclaim(now time.Time) []world.ChunkCoord {
	var out []world.ChunkCoord
	for _, s := range p.slots {
		if s.State == SlotBuffered && now.Sub(s.since) >= p.buffer {
			out = append(out, s.Coord)
			p.unbind(s)
		}
	}
	return out
}

// Release returns the slot bound to coord to the pool immediately.
func (p *SlotPool) Release(coord world.ChunkCoord) bool {
	s, ok := p.byCoord[coord]
	if !ok {
		return false
	}
	p.unbind(s)
	return true
}

func (p *SlotPool) unbind(s *Slot) {
	delete(p.byCoord, s.Coord)
	s.Mesh = meshing.Output{}
	s.Visible = false
	s.State = SlotPooled
	s.Coord = world.ChunkCoord{}
	s.since = time.Time{}
}

// Lookup returns the slot bound to coord.
func (p *SlotPool) Lookup(coord world.ChunkCoord) (*Slot, bool) {
	s, ok := p.byCoord[coord]
	return s, ok
}

// Visit calls fn for every bound slot.
func (p *SlotPool) Visit(fn func(*Slot)) {
	for _, s := range p.slots {
		if s.State != SlotPooled {
			fn(s)
		}
	}
}

func (p *SlotPool) Counts() SlotCounts {
	var c SlotCounts
	for _, s := range p.slots {
		switch s.State {
		case SlotPooled:
			c.Pooled++
		case SlotActive:
			c.Active++
		case SlotBuffered:
			c.Buffered++
		}
	}
	return c
}

func (p *SlotPool) Size() int { return len(p.slots) }
