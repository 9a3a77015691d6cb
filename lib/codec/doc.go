// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single point where Weft touches its wire
// encoding. Invocations, invocation responses, link definitions, and
// claims advertisements all cross the lattice as deterministic CBOR
// produced here. Control-plane acknowledgements are plain JSON and do
// not go through this package.
//
// Determinism matters: the anti-forgery hash binds an invocation's
// payload bytes, so the same logical envelope must always encode to
// the same bytes regardless of which host produced it.
package codec
