package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voxstream/internal/world"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, Options{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	coord := world.ChunkCoord{X: -3, Z: 7}
	edits := map[int]world.BlockType{
		world.BlockIndex(0, 0, 0):     world.BlockAir,
		world.BlockIndex(15, 255, 15): world.BlockStone,
		world.BlockIndex(4, 64, 9):    world.BlockSand,
	}

	s := openStore(t, dir)
	for i, bt := range edits {
		s.MarkModified(coord, i, bt)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d after flush", s.Pending())
	}

	reopened := openStore(t, dir)
	if got := reopened.Overlay(coord); got != nil {
		t.Errorf("overlay before load = %v", got)
	}
	got, err := reopened.LoadChunk(context.Background(), coord)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if diff := cmp.Diff(edits, got); diff != "" {
		t.Errorf("overlay (-want +got):\n%s", diff)
	}
}

func TestStoreCoalescesWrites(t *testing.T) {
	s := openStore(t, t.TempDir())
	a, b := world.ChunkCoord{X: 1}, world.ChunkCoord{X: 2}
	for i := 0; i < 50; i++ {
		s.MarkModified(a, i, world.BlockDirt)
	}
	s.MarkModified(b, 3, world.BlockSand)
	s.MarkModified(b, 3, world.BlockGravel)

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Writes(); got != 2 {
		t.Errorf("writes = %d, want one per chunk", got)
	}
	if got := s.Overlay(b)[3]; got != world.BlockGravel {
		t.Errorf("latest edit lost: %v", got)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Writes(); got != 2 {
		t.Errorf("clean flush wrote files: %d", got)
	}
}

func TestStoreMissingFileMeansNoEdits(t *testing.T) {
	s := openStore(t, t.TempDir())
	got, err := s.LoadChunk(context.Background(), world.ChunkCoord{X: 40, Z: 40})
	if err != nil || got != nil {
		t.Errorf("LoadChunk = %v, %v; want no edits", got, err)
	}
}

func TestStoreCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	coord := world.ChunkCoord{X: 5, Z: -5}
	if err := os.WriteFile(s.path(coord), []byte("definitely not a chunk file"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadChunk(context.Background(), coord)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("corrupt file produced edits: %v", got)
	}

	// A new edit replaces the corrupt file.
	s.MarkModified(coord, 1, world.BlockClay)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.readFile(coord); err != nil {
		t.Errorf("rewritten file unreadable: %v", err)
	}
}

func TestStoreOversizedHeaderTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	coord := world.ChunkCoord{X: -1, Z: 3}
	first := openStore(t, dir)
	first.MarkModified(coord, 4, world.BlockGravel)
	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(first.path(coord))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(first.path(coord), withRawLen(data, entrySize*330382099), 0o644); err != nil {
		t.Fatal(err)
	}

	second := openStore(t, dir)
	got, err := second.LoadChunk(ctx, coord)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("oversized header produced edits: %v", got)
	}
}

func TestStoreMemoryEditsWinOverFile(t *testing.T) {
	dir := t.TempDir()
	coord := world.ChunkCoord{}
	first := openStore(t, dir)
	first.MarkModified(coord, 10, world.BlockStone)
	first.MarkModified(coord, 11, world.BlockStone)
	if err := first.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Edit before the file has been loaded; the flush must merge, not clobber.
	second := openStore(t, dir)
	second.MarkModified(coord, 10, world.BlockIce)
	if err := second.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := map[int]world.BlockType{10: world.BlockIce, 11: world.BlockStone}
	if diff := cmp.Diff(want, second.Overlay(coord)); diff != "" {
		t.Errorf("overlay (-want +got):\n%s", diff)
	}
	third := openStore(t, dir)
	got, _ := third.LoadChunk(context.Background(), coord)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reloaded (-want +got):\n%s", diff)
	}
}

func TestStoreBackgroundFlush(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{FlushInterval: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())
	s.MarkModified(world.ChunkCoord{X: 9}, 2, world.BlockSnow)

	deadline := time.Now().Add(5 * time.Second)
	for s.Writes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background flusher never wrote")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStoreCloseFlushes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.MarkModified(world.ChunkCoord{Z: 1}, 7, world.BlockSand)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.path(world.ChunkCoord{Z: 1})); err != nil {
		t.Errorf("close did not flush: %v", err)
	}
}

func TestLoadChunkAsync(t *testing.T) {
	s := openStore(t, t.TempDir())
	s.MarkModified(world.ChunkCoord{X: 2}, 4, world.BlockGravel)
	res := <-s.LoadChunkAsync(context.Background(), world.ChunkCoord{X: 2})
	if res.Err != nil || res.Edits[4] != world.BlockGravel {
		t.Errorf("async load = %+v", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = <-s.LoadChunkAsync(ctx, world.ChunkCoord{X: 2})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("cancelled load err = %v", res.Err)
	}
}

// withRawLen returns a copy of an encoded file with the header's raw length replaced.
func withRawLen(file []byte, n uint32) []byte {
	out := slices.Clone(file)
	binary.BigEndian.PutUint32(out[headerSize-8:], n)
	return out
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c, err := newCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	good := c.encode(Record{
		Coord:     world.ChunkCoord{X: 1, Z: 2},
		Timestamp: time.Unix(0, 42),
		Edits:     map[int]Modification{5: {Type: world.BlockDirt, Timestamp: time.Unix(0, 7)}},
	})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", good[:10]},
		{"bad magic", append([]byte{0, 0, 0, 0}, good[4:]...)},
		{"truncated body", good[:len(good)-1]},
		{"oversized raw length", withRawLen(good, entrySize*330382099)},
		{"raw length one past a full chunk", withRawLen(good, maxRawLen+entrySize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.decode(tt.data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("decode err = %v, want ErrCorrupt", err)
			}
		})
	}

	rec, err := c.decode(good)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Coord != (world.ChunkCoord{X: 1, Z: 2}) || rec.Edits[5].Type != world.BlockDirt {
		t.Errorf("decoded %+v", rec)
	}
}
