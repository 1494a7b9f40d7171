package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxstream/internal/world"
)

// ErrCorrupt marks a modification file that cannot be decoded.
var ErrCorrupt = errors.New("corrupt modification file")

const (
	fileMagic   uint32 = 0x56584D31 // "VXM1"
	fileVersion uint16 = 1

	headerSize = 4 + 2 + 4 + 4 + 8 + 4 + 4
	entrySize  = 4 + 1 + 8

	// One entry per block is the largest overlay a chunk can hold.
	maxRawLen = world.ChunkVolume * entrySize
)

// Modification is one persisted block edit.
type Modification struct {
	Type      world.BlockType
	Timestamp time.Time
}

// Record is the full edit overlay of one chunk as stored on disk.
type Record struct {
	Coord     world.ChunkCoord
	Timestamp time.Time
	Edits     map[int]Modification
}

// Blocks flattens the record to index -> block type.
func (r Record) Blocks() map[int]world.BlockType {
	out := make(map[int]world.BlockType, len(r.Edits))
	for i, m := range r.Edits {
		out[i] = m.Type
	}
	return out
}

type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxRawLen))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// encode writes the header followed by the zstd body of sorted entries.
func (c *codec) encode(rec Record) []byte {
	keys := make([]int, 0, len(rec.Edits))
	for i := range rec.Edits {
		keys = append(keys, i)
	}
	slices.Sort(keys)

	raw := make([]byte, 0, len(keys)*entrySize)
	for _, i := range keys {
		m := rec.Edits[i]
		raw = binary.BigEndian.AppendUint32(raw, uint32(i))
		raw = append(raw, byte(m.Type))
		raw = binary.BigEndian.AppendUint64(raw, uint64(m.Timestamp.UnixNano()))
	}
	body := c.enc.EncodeAll(raw, nil)

	out := make([]byte, 0, headerSize+len(body))
	out = binary.BigEndian.AppendUint32(out, fileMagic)
	out = binary.BigEndian.AppendUint16(out, fileVersion)
	out = binary.BigEndian.AppendUint32(out, uint32(int32(rec.Coord.X)))
	out = binary.BigEndian.AppendUint32(out, uint32(int32(rec.Coord.Z)))
	out = binary.BigEndian.AppendUint64(out, uint64(rec.Timestamp.UnixNano()))
	out = binary.BigEndian.AppendUint32(out, uint32(len(raw)))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func (c *codec) decode(data []byte) (Record, error) {
	var rec Record
	if len(data) < headerSize {
		return rec, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(data))
	}
	r := bytes.NewReader(data)
	var h struct {
		Magic     uint32
		Version   uint16
		X, Z      int32
		Timestamp int64
		RawLen    uint32
		BodyLen   uint32
	}
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return rec, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != fileMagic {
		return rec, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, h.Magic)
	}
	if h.Version != fileVersion {
		return rec, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	body := data[headerSize:]
	if uint32(len(body)) != h.BodyLen || h.RawLen%entrySize != 0 {
		return rec, fmt.Errorf("%w: body length mismatch", ErrCorrupt)
	}
	if h.RawLen > maxRawLen {
		return rec, fmt.Errorf("%w: raw length %d exceeds %d", ErrCorrupt, h.RawLen, maxRawLen)
	}
	raw, err := c.dec.DecodeAll(body, make([]byte, 0, h.RawLen))
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint32(len(raw)) != h.RawLen {
		return rec, fmt.Errorf("%w: raw length %d, header says %d", ErrCorrupt, len(raw), h.RawLen)
	}

	rec.Coord = world.ChunkCoord{X: int(h.X), Z: int(h.Z)}
	rec.Timestamp = time.Unix(0, h.Timestamp)
	rec.Edits = make(map[int]Modification, len(raw)/entrySize)
	for off := 0; off < len(raw); off += entrySize {
		idx := int(binary.BigEndian.Uint32(raw[off:]))
		t := world.BlockType(raw[off+4])
		if !world.ValidIndex(idx) {
			return Record{}, fmt.Errorf("%w: block index %d out of range", ErrCorrupt, idx)
		}
		rec.Edits[idx] = Modification{
			Type:      t,
			Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(raw[off+5:]))),
		}
	}
	return rec, nil
}
