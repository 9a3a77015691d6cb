// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// SeedSize is the length in bytes of a raw signing seed.
const SeedSize = ed25519.SeedSize

var (
	// ErrSeedSize reports a seed of the wrong length.
	ErrSeedSize = errors.New("claims: seed must be 32 bytes")
	// ErrPublicKey reports an unparseable encoded public key.
	ErrPublicKey = errors.New("claims: invalid public key encoding")
)

// KeyPair is an Ed25519 signing identity. Immutable after
// construction; safe to share by reference across concurrent handlers.
type KeyPair struct {
	private ed25519.PrivateKey
	public  string
}

// NewKeyPair generates a fresh random keypair.
func NewKeyPair() (KeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("claims: generating keypair: %w", err)
	}
	return KeyPair{private: private, public: encodeKey(public)}, nil
}

// FromSeed derives the keypair from a raw 32-byte seed. The same seed
// always yields the same identity.
func FromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != SeedSize {
		return KeyPair{}, ErrSeedSize
	}
	private := ed25519.NewKeyFromSeed(seed)
	return KeyPair{
		private: private,
		public:  encodeKey(private.Public().(ed25519.PublicKey)),
	}, nil
}

// ParseSeed decodes a base64url seed string (the configuration file
// form) into a keypair.
func ParseSeed(encoded string) (KeyPair, error) {
	seed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return KeyPair{}, fmt.Errorf("claims: decoding seed: %w", err)
	}
	return FromSeed(seed)
}

// PublicKey returns the encoded public identity string. This is the
// form that appears in issuer fields, entity IDs, and host IDs.
func (k KeyPair) PublicKey() string { return k.public }

// Seed returns the base64url encoding of the raw seed, suitable for a
// configuration file.
func (k KeyPair) Seed() string {
	return base64.RawURLEncoding.EncodeToString(k.private.Seed())
}

// Sign signs data with the private key.
func (k KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(k.private, data)
}

// IsZero reports whether the keypair is unset.
func (k KeyPair) IsZero() bool { return k.private == nil }

// Verify checks an Ed25519 signature against an encoded public key
// string.
func Verify(publicKey string, data, signature []byte) error {
	key, err := decodeKey(publicKey)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, data, signature) {
		return ErrSignature
	}
	return nil
}

func encodeKey(key ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func decodeKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrPublicKey
	}
	return ed25519.PublicKey(raw), nil
}
