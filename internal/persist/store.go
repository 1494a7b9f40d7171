// Package persist keeps the authoritative overlay of player edits on top of
// regenerated terrain, one compressed file per modified chunk.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"voxstream/internal/world"
)

const chunkDir = "chunks"

// Options controls flushing.
type Options struct {
	// FlushInterval is how often dirty overlays are written in the background.
	// Zero disables the background flusher; Flush must then be called explicitly.
	FlushInterval time.Duration
}

// Loaded is the result of an asynchronous load.
type Loaded struct {
	Coord world.ChunkCoord
	Edits map[int]world.BlockType
	Err   error
}

// Store is the persistence store. It is safe for concurrent use.
type Store struct {
	dir   string
	log   *slog.Logger
	codec *codec
	now   func() time.Time

	mu       sync.Mutex
	overlays map[world.ChunkCoord]map[int]Modification
	loaded   map[world.ChunkCoord]bool
	dirty    map[world.ChunkCoord]struct{}

	// ioMu serialises every file read and write so a load never sees a half-written file.
	ioMu sync.Mutex

	writes atomic.Uint64

	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open prepares dir for use and starts the background flusher.
func Open(dir string, opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, chunkDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	s := &Store{
		dir:      dir,
		log:      log,
		codec:    c,
		now:      time.Now,
		overlays: make(map[world.ChunkCoord]map[int]Modification),
		loaded:   make(map[world.ChunkCoord]bool),
		dirty:    make(map[world.ChunkCoord]struct{}),
		stop:     make(chan struct{}),
	}
	if opts.FlushInterval > 0 {
		s.wg.Add(1)
		go s.flusher(opts.FlushInterval)
	}
	log.Info("persistence opened", "path", dir)
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(coord world.ChunkCoord) string {
	return filepath.Join(s.dir, chunkDir, fmt.Sprintf("%d.%d.vxm", coord.X, coord.Z))
}

// MarkModified records an edit in memory and schedules it for writing. Edits to the
// same chunk before the next flush are written together.
func (s *Store) MarkModified(coord world.ChunkCoord, index int, t world.BlockType) {
	if !world.ValidIndex(index) {
		return
	}
	s.mu.Lock()
	m, ok := s.overlays[coord]
	if !ok {
		m = make(map[int]Modification)
		s.overlays[coord] = m
	}
	m[index] = Modification{Type: t, Timestamp: s.now()}
	s.dirty[coord] = struct{}{}
	s.mu.Unlock()
}

// Overlay returns a copy of the in-memory overlay without touching the disk.
func (s *Store) Overlay(coord world.ChunkCoord) map[int]world.BlockType {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.overlays[coord]
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]world.BlockType, len(m))
	for i, mod := range m {
		out[i] = mod.Type
	}
	return out
}

// LoadChunk merges the file for coord into memory, once, and returns the overlay.
// Unreadable or corrupt files are logged and treated as having no edits.
func (s *Store) LoadChunk(ctx context.Context, coord world.ChunkCoord) (map[int]world.BlockType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.ioMu.Lock()
	s.ensureLoadedLocked(coord)
	s.ioMu.Unlock()
	return s.Overlay(coord), nil
}

// LoadChunkAsync runs LoadChunk on its own goroutine.
func (s *Store) LoadChunkAsync(ctx context.Context, coord world.ChunkCoord) <-chan Loaded {
	ch := make(chan Loaded, 1)
	go func() {
		edits, err := s.LoadChunk(ctx, coord)
		ch <- Loaded{Coord: coord, Edits: edits, Err: err}
	}()
	return ch
}

// ensureLoadedLocked requires ioMu. Edits already in memory are newer than the
// file and win.
func (s *Store) ensureLoadedLocked(coord world.ChunkCoord) {
	s.mu.Lock()
	done := s.loaded[coord]
	s.mu.Unlock()
	if done {
		return
	}

	rec, err := s.readFile(coord)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.log.Warn("ignoring unreadable modification file", "coord", coord, "path", s.path(coord), "err", err)
	case rec.Coord != coord:
		s.log.Warn("ignoring modification file for another chunk", "coord", coord, "path", s.path(coord), "err", ErrCorrupt)
	default:
		s.mu.Lock()
		m, ok := s.overlays[coord]
		if !ok {
			m = make(map[int]Modification, len(rec.Edits))
			s.overlays[coord] = m
		}
		for i, mod := range rec.Edits {
			if _, newer := m[i]; !newer {
				m[i] = mod
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.loaded[coord] = true
	s.mu.Unlock()
}

func (s *Store) readFile(coord world.ChunkCoord) (Record, error) {
	data, err := os.ReadFile(s.path(coord))
	if err != nil {
		return Record{}, err
	}
	return s.codec.decode(data)
}

// Flush writes every dirty overlay, one file per chunk.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	coords := make([]world.ChunkCoord, 0, len(s.dirty))
	for c := range s.dirty {
		coords = append(coords, c)
	}
	s.mu.Unlock()
	if len(coords) == 0 {
		return nil
	}
	slices.SortFunc(coords, func(a, b world.ChunkCoord) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Z - b.Z
	})

	var errs []error
	for _, c := range coords {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.save(c); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Debug("flushed modifications", "count", len(coords)-len(errs))
	return errors.Join(errs...)
}

func (s *Store) save(coord world.ChunkCoord) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	s.ensureLoadedLocked(coord)

	s.mu.Lock()
	rec := Record{Coord: coord, Timestamp: s.now(), Edits: make(map[int]Modification, len(s.overlays[coord]))}
	for i, m := range s.overlays[coord] {
		rec.Edits[i] = m
	}
	delete(s.dirty, coord)
	s.mu.Unlock()

	if err := s.atomicWrite(s.path(coord), s.codec.encode(rec)); err != nil {
		s.mu.Lock()
		s.dirty[coord] = struct{}{}
		s.mu.Unlock()
		return fmt.Errorf("save %v: %w", coord, err)
	}
	s.writes.Add(1)
	return nil
}

// atomicWrite writes data to a temp file and renames it over path.
func (s *Store) atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Writes counts files written since Open.
func (s *Store) Writes() uint64 { return s.writes.Load() }

// Pending is the number of chunks with unwritten edits.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Modified lists every chunk with an overlay in memory.
func (s *Store) Modified() []world.ChunkCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]world.ChunkCoord, 0, len(s.overlays))
	for c, m := range s.overlays {
		if len(m) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) flusher(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if s.Pending() == 0 {
				continue
			}
			if err := s.Flush(context.Background()); err != nil {
				s.log.Warn("background flush failed", "err", err)
			}
		}
	}
}

// Close stops the flusher and writes whatever is still dirty.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	err := s.Flush(ctx)
	s.codec.Close()
	s.log.Info("persistence closed", "path", s.dir)
	return err
}
