package meshing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voxstream/internal/jobs"
	"voxstream/internal/world"
)

// Mode selects which mesher a job runs.
type Mode uint8

const (
	ModeHeightMap Mode = iota
	ModeVoxel
)

func (m Mode) String() string {
	if m == ModeVoxel {
		return "voxel"
	}
	return "heightmap"
}

// ParseMode accepts "heightmap" or "voxel".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "heightmap":
		return ModeHeightMap, nil
	case "voxel":
		return ModeVoxel, nil
	}
	return ModeHeightMap, fmt.Errorf("unknown meshing mode %q", s)
}

// Job is one mesh request. Chunk is a private copy owned by the job until the
// result is polled; the requester releases it afterwards.
type Job struct {
	Coord   world.ChunkCoord
	Mode    Mode
	Chunk   *world.ChunkData
	Borders [4][]world.HeightPoint
	Ceiling int
}

// Output is the render mesh and the shadow-only skirt mesh of one chunk.
type Output struct {
	Render Mesh
	Shadow Mesh
}

// IsEmpty reports whether there is nothing to upload.
func (o *Output) IsEmpty() bool {
	return o.Render.IsEmpty() && o.Shadow.IsEmpty()
}

type Result = jobs.Result[Job, Output]

var errNoChunkData = errors.New("mesh job has no chunk data")

// Builder runs mesh jobs asynchronously with at most one job per coordinate in flight.
type Builder struct {
	pool *jobs.Pool[Job, Output]
	log  *slog.Logger

	mu       sync.Mutex
	inflight map[world.ChunkCoord]struct{}
}

// NewBuilder starts workers mesh goroutines.
func NewBuilder(workers, queueSize int, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		pool:     jobs.New("mesh", workers, queueSize, Build, log),
		log:      log,
		inflight: make(map[world.ChunkCoord]struct{}),
	}
}

// Build runs a job synchronously.
func Build(_ context.Context, job Job) (Output, error) {
	if job.Chunk.IsEmpty() {
		return Output{}, fmt.Errorf("mesh %v: %w", job.Coord, errNoChunkData)
	}
	hm := HeightMapInput{
		Coord:   job.Coord,
		Columns: job.Chunk.HeightMap,
		Borders: job.Borders,
		Ceiling: job.Ceiling,
	}
	var out Output
	switch job.Mode {
	case ModeVoxel:
		out.Render = BuildVoxelMesh(VoxelInput{Coord: job.Coord, Blocks: job.Chunk.Blocks, Ceiling: job.Ceiling})
	default:
		out.Render = BuildHeightMapMesh(hm)
	}
	out.Shadow = BuildSkirtMesh(hm)
	return out, nil
}

// Request submits job unless one for the same coordinate is still outstanding or the
// queue is full. It never blocks.
func (b *Builder) Request(job Job) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[job.Coord]; busy {
		return false
	}
	if err := b.pool.Submit(job); err != nil {
		b.log.Debug("mesh request deferred", "coord", job.Coord, "err", err)
		return false
	}
	b.inflight[job.Coord] = struct{}{}
	return true
}

// Poll appends finished results to dst without blocking.
func (b *Builder) Poll(dst []Result) []Result {
	start := len(dst)
	dst = b.pool.Poll(dst)
	if len(dst) == start {
		return dst
	}
	b.mu.Lock()
	for _, r := range dst[start:] {
		delete(b.inflight, r.Job.Coord)
	}
	b.mu.Unlock()
	return dst
}

// Outstanding reports whether a job for coord has been requested and not yet polled.
func (b *Builder) Outstanding(coord world.ChunkCoord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inflight[coord]
	return ok
}

// InFlight counts requested jobs whose results have not been polled.
func (b *Builder) InFlight() int {
	return b.pool.InFlight()
}

func (b *Builder) QueueLength() int {
	return b.pool.QueueLength()
}

// Shutdown stops the workers.
func (b *Builder) Shutdown() {
	b.pool.Shutdown()
}
