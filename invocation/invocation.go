// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// Package invocation implements the signed call envelope and its
// anti-forgery validation. The transport provides no integrity or
// authenticity, so this is the system's only defense against forged
// or replayed calls: every receiver validates every envelope before
// any dispatch, and any failure stops the call from reaching its
// target.
package invocation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/entity"
)

// TokenTTL bounds how long a signed envelope stays presentable. It
// comfortably covers the default RPC timeout plus the chunking grace
// period; anything older is stale traffic or a replay attempt.
const TokenTTL = 2 * time.Minute

// Errors returned by Validate.
var (
	// ErrAuthorization covers every anti-forgery failure: bad
	// signature, hash mismatch, claims/envelope disagreement,
	// expired or not-yet-valid token.
	ErrAuthorization = errors.New("invocation: authorization failure")

	// ErrValidation covers structurally malformed envelopes.
	ErrValidation = errors.New("invocation: malformed envelope")
)

// Invocation is one call envelope flowing across the lattice.
// Construct with New; mutate nothing afterwards, or validation will
// reject the envelope.
type Invocation struct {
	// Origin is the calling entity.
	Origin entity.Entity `cbor:"1,keyasint"`

	// Target is the receiving entity.
	Target entity.Entity `cbor:"2,keyasint"`

	// Operation is the method name invoked on the target.
	Operation string `cbor:"3,keyasint"`

	// Msg is the payload. Empty when the payload was externalized
	// to the chunk staging area (see ContentLength).
	Msg []byte `cbor:"4,keyasint,omitempty"`

	// ID is the unique correlation token, and the subject of the
	// embedded claims.
	ID string `cbor:"5,keyasint"`

	// EncodedClaims is the signed invocation claims token.
	EncodedClaims string `cbor:"6,keyasint"`

	// HostID is the public key of the signing host, and must equal
	// the claims issuer.
	HostID string `cbor:"7,keyasint"`

	// ContentLength is the total payload size. When it exceeds
	// len(Msg) the receiver must reassemble the payload from the
	// chunk staging area before proceeding.
	ContentLength uint64 `cbor:"8,keyasint"`
}

// New constructs and signs an invocation envelope. The claims bind
// (target URL, origin URL, payload hash) under a fresh correlation id,
// issued by the host keypair at the given instant.
func New(key claims.KeyPair, origin, target entity.Entity, operation string, payload []byte, now time.Time) (*Invocation, error) {
	if err := origin.Validate(); err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrValidation, err)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: target: %v", ErrValidation, err)
	}
	if operation == "" {
		return nil, fmt.Errorf("%w: operation is empty", ErrValidation)
	}

	id := uuid.NewString()
	targetURL := target.URL() + "/" + operation
	originURL := origin.URL()

	token, err := claims.Encode(key, claims.Claims[claims.Invocation]{
		Subject:  id,
		IssuedAt: now.Unix(),
		Expires:  now.Add(TokenTTL).Unix(),
		Metadata: claims.Invocation{
			TargetURL: targetURL,
			OriginURL: originURL,
			Hash:      Hash(originURL, targetURL, payload),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("invocation: signing claims: %w", err)
	}

	return &Invocation{
		Origin:        origin,
		Target:        target,
		Operation:     operation,
		Msg:           payload,
		ID:            id,
		EncodedClaims: token,
		HostID:        key.PublicKey(),
		ContentLength: uint64(len(payload)),
	}, nil
}

// TargetURL is the fully qualified target of the invocation,
// including the operation.
func (inv *Invocation) TargetURL() string {
	return inv.Target.URL() + "/" + inv.Operation
}

// OriginURL is the fully qualified origin of the invocation.
func (inv *Invocation) OriginURL() string {
	return inv.Origin.URL()
}

// Hash recomputes the content hash over the envelope's current state.
func (inv *Invocation) Hash() string {
	return Hash(inv.OriginURL(), inv.TargetURL(), inv.Msg)
}

// Validate runs the complete anti-forgery checklist. It must be
// called by every receiver before dispatch, after any chunked payload
// has been reassembled into Msg. A nil error means the envelope is
// exactly what the origin host signed.
func (inv *Invocation) Validate(now time.Time) error {
	if err := inv.Origin.Validate(); err != nil {
		return fmt.Errorf("%w: origin: %v", ErrValidation, err)
	}
	if err := inv.Target.Validate(); err != nil {
		return fmt.Errorf("%w: target: %v", ErrValidation, err)
	}
	if uint64(len(inv.Msg)) != inv.ContentLength {
		return fmt.Errorf("%w: payload is incomplete (%d of %d bytes)",
			ErrValidation, len(inv.Msg), inv.ContentLength)
	}

	token, err := claims.Validate[claims.Invocation](inv.EncodedClaims, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorization, err)
	}

	if token.Subject != inv.ID {
		return fmt.Errorf("%w: claims subject does not match invocation id", ErrAuthorization)
	}
	if token.Issuer != inv.HostID {
		return fmt.Errorf("%w: claims issuer does not match invocation host", ErrAuthorization)
	}
	if token.Metadata.TargetURL != inv.TargetURL() {
		return fmt.Errorf("%w: claims and invocation target URL do not match", ErrAuthorization)
	}
	if token.Metadata.OriginURL != inv.OriginURL() {
		return fmt.Errorf("%w: claims and invocation origin URL do not match", ErrAuthorization)
	}
	if token.Metadata.Hash != inv.Hash() {
		return fmt.Errorf("%w: invocation hash does not match signed claims hash", ErrAuthorization)
	}
	return nil
}

// Hash computes the anti-forgery content hash: upper-hex SHA-256 over
// origin URL, target URL, and payload bytes, in that order.
func Hash(originURL, targetURL string, payload []byte) string {
	digest := sha256.New()
	digest.Write([]byte(originURL))
	digest.Write([]byte(targetURL))
	digest.Write(payload)
	return strings.ToUpper(hex.EncodeToString(digest.Sum(nil)))
}
