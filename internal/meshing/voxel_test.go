package meshing

import (
	"context"
	"testing"

	"voxstream/internal/world"
)

func voxelInput(blocks map[[3]int]world.BlockType) VoxelInput {
	in := VoxelInput{Blocks: make([]world.BlockType, world.ChunkVolume)}
	for p, t := range blocks {
		in.Blocks[world.BlockIndex(p[0], p[1], p[2])] = t
	}
	return in
}

func TestVoxelMeshFaceCounts(t *testing.T) {
	tests := []struct {
		name    string
		blocks  map[[3]int]world.BlockType
		ceiling int
		quads   int
	}{
		{"empty", nil, 0, 0},
		{"single block", map[[3]int]world.BlockType{{3, 3, 3}: world.BlockStone}, 0, 6},
		{"two separated", map[[3]int]world.BlockType{
			{0, 0, 0}: world.BlockGrass,
			{2, 0, 0}: world.BlockGrass,
		}, 0, 12},
		{"two touching merge", map[[3]int]world.BlockType{
			{0, 0, 0}: world.BlockGrass,
			{1, 0, 0}: world.BlockGrass,
		}, 0, 6},
		{"touching different types", map[[3]int]world.BlockType{
			{0, 0, 0}: world.BlockStone,
			{1, 0, 0}: world.BlockDirt,
		}, 0, 10},
		{"chunk edge is open", map[[3]int]world.BlockType{{15, 0, 15}: world.BlockSand}, 0, 6},
		{"above ceiling", map[[3]int]world.BlockType{{1, 10, 1}: world.BlockStone}, 10, 0},
		{"below ceiling", map[[3]int]world.BlockType{{1, 9, 1}: world.BlockStone}, 10, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := voxelInput(tt.blocks)
			in.Ceiling = tt.ceiling
			m := BuildVoxelMesh(in)
			if m.Quads != tt.quads {
				t.Errorf("quads = %d, want %d", m.Quads, tt.quads)
			}
			if m.VertexCount() != tt.quads*VerticesPerQuad {
				t.Errorf("vertices = %d, want %d", m.VertexCount(), tt.quads*VerticesPerQuad)
			}
		})
	}
}

func TestVoxelMeshFlatLayerMergesToCuboid(t *testing.T) {
	blocks := map[[3]int]world.BlockType{}
	for x := 0; x < world.ChunkSize; x++ {
		for z := 0; z < world.ChunkSize; z++ {
			for y := 0; y < 4; y++ {
				blocks[[3]int{x, y, z}] = world.BlockStone
			}
		}
	}
	m := BuildVoxelMesh(voxelInput(blocks))
	if m.Quads != 6 {
		t.Errorf("quads = %d, want 6 for a solid cuboid", m.Quads)
	}
}

func TestVoxelMeshWindingFacesOutward(t *testing.T) {
	m := BuildVoxelMesh(voxelInput(map[[3]int]world.BlockType{
		{5, 5, 5}: world.BlockStone,
		{6, 5, 5}: world.BlockStone,
		{5, 6, 5}: world.BlockDirt,
	}))
	if m.Quads == 0 {
		t.Fatal("no quads")
	}
	for i := 0; i < m.Quads; i++ {
		q := m.Quad(i)
		n := m.QuadNormal(i)
		if !facesNormal(q, n) {
			t.Errorf("quad %d winds away from normal %v", i, n)
		}
		if n.Len() != 1 {
			t.Errorf("quad %d normal %v not axis aligned", i, n)
		}
	}
}

func TestVoxelMeshWorldOffset(t *testing.T) {
	in := voxelInput(map[[3]int]world.BlockType{{0, 0, 0}: world.BlockStone})
	in.Coord = world.ChunkCoord{X: -1, Z: 2}
	m := BuildVoxelMesh(in)
	for i := 0; i < m.Quads; i++ {
		for _, p := range m.Quad(i) {
			if p.X() < -16 || p.X() > -15 || p.Z() < 32 || p.Z() > 33 || p.Y() < 0 || p.Y() > 1 {
				t.Fatalf("corner %v outside the block at (-16,0,32)", p)
			}
		}
	}
}

func TestVoxelMeshGeneratedTerrainReduction(t *testing.T) {
	g := world.NewGenerator(world.DefaultGeneratorParams(5), nil)
	c := world.NewChunkData(world.ChunkCoord{X: 2, Z: 2})
	if err := g.Generate(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	solid := 0
	for _, b := range c.Blocks {
		if b != world.BlockAir {
			solid++
		}
	}
	m := BuildVoxelMesh(VoxelInput{Coord: c.Coord, Blocks: c.Blocks})
	if m.Quads == 0 || m.Quads >= 6*solid/10 {
		t.Errorf("quads = %d for %d solid blocks; merging should cut faces by at least an order of magnitude", m.Quads, solid)
	}
}

func BenchmarkVoxelMesh(b *testing.B) {
	g := world.NewGenerator(world.DefaultGeneratorParams(12345), nil)
	c := world.NewChunkData(world.ChunkCoord{})
	if err := g.Generate(context.Background(), c); err != nil {
		b.Fatal(err)
	}
	in := VoxelInput{Coord: c.Coord, Blocks: c.Blocks}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = BuildVoxelMesh(in)
	}
}
