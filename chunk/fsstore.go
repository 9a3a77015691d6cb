// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNotStaged is returned by Get when nothing is staged under the
// key.
var ErrNotStaged = errors.New("chunk: nothing staged under key")

// FSStore stages frames on a filesystem shared by the lattice's hosts
// (or local to one process in single-process deployments). Each key
// gets a directory of zero-padded sequence-numbered frame files, so
// reassembly order is the lexical directory order.
type FSStore struct {
	root        string
	compression Compression
	logger      *slog.Logger
}

// FSConfig configures an FSStore.
type FSConfig struct {
	// Root is the staging directory. Created if absent.
	Root string

	// Compression selects the frame compression. The zero value is
	// CompressionNone; use ParseCompression for config strings.
	Compression Compression

	// Logger receives staging diagnostics. If nil, logs are
	// discarded.
	Logger *slog.Logger
}

// NewFSStore opens (and creates if needed) the staging directory.
func NewFSStore(cfg FSConfig) (*FSStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("chunk: Root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("chunk: creating staging root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FSStore{root: cfg.Root, compression: cfg.Compression, logger: logger}, nil
}

// Put implements Store.
func (s *FSStore) Put(key string, payload []byte) error {
	dir := filepath.Join(s.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chunk: creating staging dir for %s: %w", key, err)
	}

	seq := 0
	for offset := 0; offset < len(payload) || seq == 0; offset += FrameSize {
		end := offset + FrameSize
		if end > len(payload) {
			end = len(payload)
		}
		frame, err := encodeFrame(s.compression, payload[offset:end])
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("%06d.frame", seq))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return fmt.Errorf("chunk: writing frame %d of %s: %w", seq, key, err)
		}
		seq++
	}

	s.logger.Debug("staged payload", "key", key, "bytes", len(payload), "frames", seq)
	return nil
}

// Get implements Store. Frames are read in order starting at sequence
// 0; a gap in the sequence is treated as corruption.
func (s *FSStore) Get(key string) ([]byte, error) {
	dir := filepath.Join(s.root, key)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotStaged, key)
	}
	if err != nil {
		return nil, fmt.Errorf("chunk: reading staging dir for %s: %w", key, err)
	}

	var payload []byte
	for seq := 0; seq < len(entries); seq++ {
		path := filepath.Join(dir, fmt.Sprintf("%06d.frame", seq))
		frame, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: frame %d of %s missing", ErrFrameCorrupt, seq, key)
		}
		if err != nil {
			return nil, fmt.Errorf("chunk: reading frame %d of %s: %w", seq, key, err)
		}
		plaintext, err := decodeFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("%w (frame %d of %s)", err, seq, key)
		}
		payload = append(payload, plaintext...)
	}
	return payload, nil
}

// Remove implements Store.
func (s *FSStore) Remove(key string) error {
	if err := os.RemoveAll(filepath.Join(s.root, key)); err != nil {
		return fmt.Errorf("chunk: removing staging for %s: %w", key, err)
	}
	return nil
}
