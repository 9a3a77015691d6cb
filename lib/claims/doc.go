// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package claims implements the signed tokens that carry every trust
// assertion in the lattice: the actor claims embedded in a signed
// WebAssembly module, and the per-call invocation claims that make
// envelopes unforgeable over an untrusted transport.
//
// A token is three base64url segments, header.payload.signature. The
// payload is JSON; the signature is Ed25519 over the "header.payload"
// bytes. The issuer field carries the signer's encoded public key, so
// a token is verifiable with nothing but the token itself — the
// receiver then cross-checks the issuer against what it expects
// (a trusted host key, the invocation's host_id field, and so on).
package claims
