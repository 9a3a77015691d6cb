// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk stages oversized invocation payloads out of band.
//
// The bus has a practical message size ceiling, so a payload above
// Threshold never rides inside the envelope: the sender splits it into
// sequence-numbered frames and writes them to a staging area keyed by
// the invocation id, before the envelope is published. The receiver
// sees content_length > len(msg), reassembles the frames in order
// starting at sequence 0, and only then validates and dispatches.
//
// Each frame is independently compressed and carries a BLAKE3 digest
// of its plaintext, so a corrupted or truncated staging read is
// detected before the anti-forgery hash check ever runs.
package chunk

import "time"

const (
	// Threshold is the payload size above which staging is used.
	Threshold = 900 * 1024

	// FrameSize is the plaintext size of one staged frame.
	FrameSize = 256 * 1024

	// ExtraTime is added to the caller's RPC timeout whenever
	// chunking is used, covering the extra staging round trip.
	ExtraTime = 13 * time.Second
)

// Store is the staging area. Implementations must allow a payload
// staged by one host to be read by another on the same lattice.
type Store interface {
	// Put splits payload into frames and stages them under key.
	Put(key string, payload []byte) error

	// Get reassembles the payload staged under key.
	Get(key string) ([]byte, error)

	// Remove discards the frames staged under key. Removing an
	// absent key is a no-op.
	Remove(key string) error
}

// ResponseKey derives the staging key for an invocation's response
// from the invocation id.
func ResponseKey(invocationID string) string {
	return invocationID + "-r"
}

// Needed reports whether a payload of the given size must be staged.
func Needed(size int) bool { return size > Threshold }
