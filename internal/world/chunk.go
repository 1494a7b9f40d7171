package world

// HeightPoint records the topmost non-air block of a column.
type HeightPoint struct {
	Height byte
	Type   BlockType
}

// ChunkData owns the block and height-map buffers of one chunk column.
// A chunk that has not been generated yet has nil buffers, never partially filled ones.
type ChunkData struct {
	Coord     ChunkCoord
	Blocks    []BlockType
	HeightMap []HeightPoint

	handle Handle
	dirty  bool
}

// NewChunkData allocates standalone buffers outside any arena.
func NewChunkData(coord ChunkCoord) *ChunkData {
	return &ChunkData{
		Coord:     coord,
		Blocks:    make([]BlockType, ChunkVolume),
		HeightMap: make([]HeightPoint, ChunkArea),
	}
}

// emptyChunk is the transient placeholder handed out for non-resident coordinates.
func emptyChunk(coord ChunkCoord) *ChunkData {
	return &ChunkData{Coord: coord}
}

// IsEmpty reports whether the chunk carries no generated data.
func (c *ChunkData) IsEmpty() bool {
	return c == nil || len(c.Blocks) != ChunkVolume || len(c.HeightMap) != ChunkArea
}

// Handle returns the arena handle owning the buffers, zero for standalone chunks.
func (c *ChunkData) Handle() Handle {
	return c.handle
}

// Block returns the block at local coordinates; anything outside the chunk reads as air.
func (c *ChunkData) Block(lx, y, lz int) BlockType {
	if c.IsEmpty() || lx < 0 || lx >= ChunkSize || lz < 0 || lz >= ChunkSize || y < 0 || y >= ChunkHeight {
		return BlockAir
	}
	return c.Blocks[BlockIndex(lx, y, lz)]
}

// SetBlock writes a block at local coordinates and keeps the column's height point current.
func (c *ChunkData) SetBlock(lx, y, lz int, t BlockType) bool {
	if c.IsEmpty() || lx < 0 || lx >= ChunkSize || lz < 0 || lz >= ChunkSize || y < 0 || y >= ChunkHeight {
		return false
	}
	idx := BlockIndex(lx, y, lz)
	if c.Blocks[idx] == t {
		return false
	}
	c.Blocks[idx] = t
	c.RecomputeColumn(lx, lz)
	return true
}

// Column returns the height point for local x/z.
func (c *ChunkData) Column(lx, lz int) HeightPoint {
	if c.IsEmpty() {
		return HeightPoint{}
	}
	lx = clampInt(lx, 0, ChunkSize-1)
	lz = clampInt(lz, 0, ChunkSize-1)
	return c.HeightMap[ColumnIndex(lx, lz)]
}

// RecomputeColumn rescans one column top-down for its highest non-air block.
func (c *ChunkData) RecomputeColumn(lx, lz int) {
	hp := HeightPoint{}
	for y := ChunkHeight - 1; y >= 0; y-- {
		if t := c.Blocks[BlockIndex(lx, y, lz)]; t != BlockAir {
			hp = HeightPoint{Height: byte(y), Type: t}
			break
		}
	}
	c.HeightMap[ColumnIndex(lx, lz)] = hp
}

// RecomputeHeightMap rebuilds every column's height point.
func (c *ChunkData) RecomputeHeightMap() {
	if c.IsEmpty() {
		return
	}
	for lz := 0; lz < ChunkSize; lz++ {
		for lx := 0; lx < ChunkSize; lx++ {
			c.RecomputeColumn(lx, lz)
		}
	}
}

// HeightRange returns the lowest and highest column heights in the chunk.
func (c *ChunkData) HeightRange() (lo, hi int) {
	if c.IsEmpty() {
		return 0, 0
	}
	lo, hi = ChunkHeight, 0
	for _, hp := range c.HeightMap {
		h := int(hp.Height)
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}

// CopyInto copies the buffers into dst, which must already own buffers.
func (c *ChunkData) CopyInto(dst *ChunkData) {
	dst.Coord = c.Coord
	copy(dst.Blocks, c.Blocks)
	copy(dst.HeightMap, c.HeightMap)
}

// Edge returns the height points along one chunk edge: dx/dz select the side
// (+1,0 east x=15; -1,0 west x=0; 0,+1 south z=15; 0,-1 north z=0).
func (c *ChunkData) Edge(dx, dz int) []HeightPoint {
	if c.IsEmpty() {
		return nil
	}
	edge := make([]HeightPoint, ChunkSize)
	for i := 0; i < ChunkSize; i++ {
		switch {
		case dx > 0:
			edge[i] = c.HeightMap[ColumnIndex(ChunkSize-1, i)]
		case dx < 0:
			edge[i] = c.HeightMap[ColumnIndex(0, i)]
		case dz > 0:
			edge[i] = c.HeightMap[ColumnIndex(i, ChunkSize-1)]
		default:
			edge[i] = c.HeightMap[ColumnIndex(i, 0)]
		}
	}
	return edge
}
