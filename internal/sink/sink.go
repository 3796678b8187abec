// Package sink implements the Output Sink Adapter: the thin
// begin/write/commit/abort contract the assembler writes through, so the
// engine never has to know whether the destination is a direct file
// write, a streaming HTTP sink, or a host-runtime blob handoff.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmylchreest/hlsfetch/internal/storage"
)

// ErrSingleFileUnsupported signals that a sink implementation refuses to
// assemble the requested output as a single file (too large for the
// backing store, host runtime ceiling, etc). The assembler responds by
// falling back to part-mode output (§4.G). FileSink never returns this;
// it exists for sink implementations that hand off to a constrained host
// runtime.
var ErrSingleFileUnsupported = errors.New("sink: single-file assembly not supported, use part mode")

// Sink is the begin/write/commit/abort contract implementations must
// satisfy. A handle moves Idle -> Writing -> (Committing | Aborting) ->
// Idle; a visible file exists at OutputName iff Commit returns nil.
type Sink interface {
	// Begin opens a handle for outputName. expectedSize, if > 0, is a hint
	// implementations may use to preallocate.
	Begin(ctx context.Context, outputName string, expectedSize int64) (Handle, error)
}

// Handle is a single begin/commit-or-abort writing session.
type Handle interface {
	// Write appends bytes to the handle, in order. May be called many times.
	Write(p []byte) (int, error)

	// Commit finalizes the write: after it returns nil, a visible file
	// exists at the name passed to Begin. Calling Commit after Abort, or
	// twice, is an error.
	Commit() error

	// Abort discards everything written so far; no visible file results.
	Abort() error
}

// FileSink writes to a temp file inside the sandbox's "temp" directory
// and renames it to outputName, relative to the sandbox root, on Commit
// (unlinks on Abort), grounded on
// internal/storage.Sandbox's path-containment guarantees so outputName
// can never escape the configured data directory.
type FileSink struct {
	sandbox *storage.Sandbox
}

// NewFileSink builds a FileSink rooted at sandbox.
func NewFileSink(sandbox *storage.Sandbox) *FileSink {
	return &FileSink{sandbox: sandbox}
}

// Begin opens a temp file for outputName. expectedSize is accepted for
// interface symmetry but unused; the underlying sandbox does not support
// preallocation.
func (s *FileSink) Begin(ctx context.Context, outputName string, expectedSize int64) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tempFile, err := s.sandbox.CreateTemp("temp", "sink-*.part")
	if err != nil {
		return nil, fmt.Errorf("sink: opening temp file: %w", err)
	}

	return &fileHandle{sandbox: s.sandbox, file: tempFile, outputName: outputName}, nil
}

type fileHandle struct {
	sandbox    *storage.Sandbox
	file       *os.File
	outputName string
	done       bool
}

func (h *fileHandle) Write(p []byte) (int, error) {
	if h.done {
		return 0, fmt.Errorf("sink: write after commit/abort")
	}
	return h.file.Write(p)
}

func (h *fileHandle) Commit() error {
	if h.done {
		return fmt.Errorf("sink: commit after commit/abort")
	}
	h.done = true

	if err := h.file.Sync(); err != nil {
		_ = h.file.Close()
		_ = os.Remove(h.file.Name())
		return fmt.Errorf("sink: syncing temp file: %w", err)
	}
	if err := h.file.Close(); err != nil {
		_ = os.Remove(h.file.Name())
		return fmt.Errorf("sink: closing temp file: %w", err)
	}

	if err := h.sandbox.AtomicPublish(h.file.Name(), h.outputName); err != nil {
		_ = os.Remove(h.file.Name())
		return fmt.Errorf("sink: publishing %s: %w", h.outputName, err)
	}
	return nil
}

func (h *fileHandle) Abort() error {
	if h.done {
		return nil
	}
	h.done = true
	name := h.file.Name()
	_ = h.file.Close()
	return os.Remove(name)
}
