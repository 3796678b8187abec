// Package assembler implements the Assembler / Spill Engine: it
// concatenates fetched segment payloads in index order and hands the
// result to an output sink, choosing between an in-memory small regime
// and a blob-store-backed large regime by total assembled size.
//
// The size-threshold switch generalizes pkg/diskslice.DiskSlice's own
// MemoryThreshold-gated spill decision; the keyed store behind the large
// regime is internal/blobstore, a bbolt-backed store grounded on the
// SentryShot example's pkg/log/db.go.
package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/hlsfetch/internal/blobstore"
	"github.com/jmylchreest/hlsfetch/internal/segments"
	"github.com/jmylchreest/hlsfetch/internal/sink"
)

// tsPacketSize is the MPEG-TS packet size; part-mode boundaries are
// rounded down to a multiple of this so parts begin on packet boundaries.
const tsPacketSize = 188

// moovScanWindow/fallbackInitSize bound the first-segment-as-init scan.
const (
	moovScanWindow   = 500 * 1024
	fallbackInitSize = 200 * 1024
)

// Config holds the assembler's size tunables, mirroring
// config.AssemblerConfig.
type Config struct {
	SmallRegimeThresholdBytes int64
	ChunkSizeBytes            int64
	PartSizeBytes             int64
}

// Result describes what Assemble produced.
type Result struct {
	TotalSize int64
	PartNames []string // non-empty only when part mode was used
}

// Assembler concatenates init + segment payloads in index order and
// writes the result through a sink.Sink, spilling to a blob store when
// the assembled size exceeds the small-regime threshold.
type Assembler struct {
	cfg   Config
	blobs *blobstore.Store
}

// New builds an Assembler. blobs may be nil if the caller is certain
// every job handled stays within the small regime; Assemble returns an
// error if the large-regime path is reached with no blob store.
func New(cfg Config, blobs *blobstore.Store) *Assembler {
	return &Assembler{cfg: cfg, blobs: blobs}
}

// Assemble writes init (may be empty) followed by payloads, in ascending
// Index order, to outputName via s. jobID keys any spill chunks the large
// regime creates.
func (a *Assembler) Assemble(ctx context.Context, jobID string, init []byte, payloads []segments.Payload, outputName string, s sink.Sink) (*Result, error) {
	total := int64(len(init))
	for _, p := range payloads {
		total += int64(len(p.Bytes))
	}

	if total <= a.cfg.SmallRegimeThresholdBytes {
		return a.assembleSmall(ctx, init, payloads, total, outputName, s)
	}
	return a.assembleLarge(ctx, jobID, init, payloads, total, outputName, s)
}

// assembleSmall concatenates everything into one in-memory buffer. Each
// payload's backing slice is eligible for GC as soon as it is copied in,
// since payloads is not retained beyond this call.
func (a *Assembler) assembleSmall(ctx context.Context, init []byte, payloads []segments.Payload, total int64, outputName string, s sink.Sink) (*Result, error) {
	buf := make([]byte, 0, total)
	buf = append(buf, init...)
	for _, p := range payloads {
		buf = append(buf, p.Bytes...)
	}

	handle, err := s.Begin(ctx, outputName, total)
	if err != nil {
		return nil, fmt.Errorf("assembler: beginning sink: %w", err)
	}
	if _, err := handle.Write(buf); err != nil {
		_ = handle.Abort()
		return nil, fmt.Errorf("assembler: writing output: %w", err)
	}
	if err := handle.Commit(); err != nil {
		return nil, fmt.Errorf("assembler: committing output: %w", err)
	}

	return &Result{TotalSize: total}, nil
}

// assembleLarge never materializes a full-file buffer: it spills ordered
// chunks to the blob store first, then streams them into the sink either
// as one file or, if the sink refuses, as size-bounded parts. Spill
// chunks are always deleted before returning, success or failure, per the
// cleanup guarantee in §4.G/§5.
func (a *Assembler) assembleLarge(ctx context.Context, jobID string, init []byte, payloads []segments.Payload, total int64, outputName string, s sink.Sink) (*Result, error) {
	if a.blobs == nil {
		return nil, fmt.Errorf("assembler: large regime requires a blob store")
	}

	chunkCount, err := a.spillChunks(ctx, jobID, init, payloads)
	defer func() { _ = a.blobs.DeletePrefix(blobstore.ChunkPrefix(jobID)) }()
	if err != nil {
		return nil, err
	}

	result, err := a.streamSingleFile(ctx, jobID, chunkCount, total, outputName, s)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, sink.ErrSingleFileUnsupported) {
		return nil, err
	}

	return a.streamParts(ctx, jobID, chunkCount, total, outputName, s)
}

// spillChunks writes init+payloads as a dense ordinal sequence of
// ChunkSizeBytes-sized blobs and returns the chunk count.
func (a *Assembler) spillChunks(ctx context.Context, jobID string, init []byte, payloads []segments.Payload) (int, error) {
	chunkSize := a.cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = 32 * 1024 * 1024
	}

	ordinal := 0
	var pending []byte

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := a.blobs.Put(blobstore.ChunkKey(jobID, ordinal), pending); err != nil {
			return fmt.Errorf("assembler: spilling chunk %d: %w", ordinal, err)
		}
		ordinal++
		pending = pending[:0]
		return nil
	}

	feed := func(b []byte) error {
		for len(b) > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			room := int(chunkSize) - len(pending)
			if room > len(b) {
				room = len(b)
			}
			pending = append(pending, b[:room]...)
			b = b[room:]
			if int64(len(pending)) >= chunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := feed(init); err != nil {
		return 0, err
	}
	for _, p := range payloads {
		if err := feed(p.Bytes); err != nil {
			return 0, err
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	return ordinal, nil
}

// streamSingleFile reads spilled chunks back in order and writes them
// through one sink handle.
func (a *Assembler) streamSingleFile(ctx context.Context, jobID string, chunkCount int, total int64, outputName string, s sink.Sink) (*Result, error) {
	handle, err := s.Begin(ctx, outputName, total)
	if err != nil {
		return nil, err
	}

	for i := 0; i < chunkCount; i++ {
		if ctx.Err() != nil {
			_ = handle.Abort()
			return nil, ctx.Err()
		}
		chunk, err := a.blobs.Get(blobstore.ChunkKey(jobID, i))
		if err != nil {
			_ = handle.Abort()
			return nil, fmt.Errorf("assembler: reading spill chunk %d: %w", i, err)
		}
		if _, err := handle.Write(chunk); err != nil {
			_ = handle.Abort()
			return nil, fmt.Errorf("assembler: writing chunk %d: %w", i, err)
		}
	}

	if err := handle.Commit(); err != nil {
		return nil, fmt.Errorf("assembler: committing output: %w", err)
	}

	return &Result{TotalSize: total}, nil
}

// streamParts partitions [0,total) into PartSizeBytes-wide ranges,
// rounding each boundary down to a whole MPEG-TS packet, and writes each
// part by scanning the spilled chunks for their overlap with the part's
// range.
func (a *Assembler) streamParts(ctx context.Context, jobID string, chunkCount int, total int64, outputName string, s sink.Sink) (*Result, error) {
	partSize := a.cfg.PartSizeBytes
	if partSize <= 0 {
		partSize = 500 * 1024 * 1024
	}

	base, ext := splitExt(outputName)

	var names []string
	var offset int64
	part := 0
	for offset < total {
		end := offset + partSize
		if end > total {
			end = total
		} else {
			end -= end % tsPacketSize
			if end <= offset {
				end = offset + partSize
			}
		}

		name := fmt.Sprintf("%s_part%d%s", base, part, ext)
		if err := a.writePart(ctx, jobID, chunkCount, offset, end, name, s); err != nil {
			return nil, err
		}
		names = append(names, name)
		offset = end
		part++
	}

	return &Result{TotalSize: total, PartNames: names}, nil
}

func (a *Assembler) writePart(ctx context.Context, jobID string, chunkCount int, start, end int64, name string, s sink.Sink) error {
	handle, err := s.Begin(ctx, name, end-start)
	if err != nil {
		return fmt.Errorf("assembler: beginning part %s: %w", name, err)
	}

	var pos int64
	for i := 0; i < chunkCount && pos < end; i++ {
		if ctx.Err() != nil {
			_ = handle.Abort()
			return ctx.Err()
		}
		chunk, err := a.blobs.Get(blobstore.ChunkKey(jobID, i))
		if err != nil {
			_ = handle.Abort()
			return fmt.Errorf("assembler: reading spill chunk %d: %w", i, err)
		}
		chunkStart := pos
		chunkEnd := pos + int64(len(chunk))
		pos = chunkEnd

		overlapStart := max64(chunkStart, start)
		overlapEnd := min64(chunkEnd, end)
		if overlapStart >= overlapEnd {
			continue
		}
		if _, err := handle.Write(chunk[overlapStart-chunkStart : overlapEnd-chunkStart]); err != nil {
			_ = handle.Abort()
			return fmt.Errorf("assembler: writing part %s: %w", name, err)
		}
	}

	if err := handle.Commit(); err != nil {
		return fmt.Errorf("assembler: committing part %s: %w", name, err)
	}
	return nil
}

// FirstSegmentAsInit implements the first-segment-as-init workaround
// (§4.G): invoked by the pipeline controller when the resolved format is
// FMP4 but no EXT-X-MAP init segment was found. It scans the first
// segment's leading moovScanWindow bytes for a "moov" atom; if found, the
// bytes through the end of that atom become the synthetic init and the
// remainder becomes the (possibly empty) new segment 0. If no moov atom
// is found within the window, the first fallbackInitSize bytes are used
// as the synthetic init unconditionally.
func FirstSegmentAsInit(firstSegment []byte) (init, remainder []byte) {
	window := firstSegment
	if len(window) > moovScanWindow {
		window = window[:moovScanWindow]
	}

	if end, ok := findMoovEnd(window); ok {
		return firstSegment[:end], firstSegment[end:]
	}

	cut := fallbackInitSize
	if cut > len(firstSegment) {
		cut = len(firstSegment)
	}
	return firstSegment[:cut], firstSegment[cut:]
}

// findMoovEnd scans for a box whose 4-byte type field is "moov", preceded
// by a 4-byte big-endian box size, and returns the offset just past the
// end of that box.
func findMoovEnd(data []byte) (int, bool) {
	for i := 0; i+8 <= len(data); i++ {
		if string(data[i+4:i+8]) != "moov" {
			continue
		}
		size := int(uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3]))
		if size < 8 {
			continue
		}
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		return end, true
	}
	return 0, false
}

func splitExt(name string) (base, ext string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i:]
		}
		if name[i] == '/' {
			break
		}
	}
	return name, ""
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
