// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func mustKeyPair(t *testing.T) KeyPair {
	t.Helper()
	key, err := NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	return key
}

func TestEncodeValidateRoundTrip(t *testing.T) {
	key := mustKeyPair(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	token, err := Encode(key, Claims[Actor]{
		Subject:  "MACTOR",
		IssuedAt: now.Unix(),
		Expires:  now.Add(time.Hour).Unix(),
		Metadata: Actor{
			Name:         "echo",
			Capabilities: []string{"weft:keyvalue", "weft:httpserver"},
			Revision:     3,
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Validate[Actor](token, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Issuer != key.PublicKey() {
		t.Errorf("Issuer = %q, want signer key %q", got.Issuer, key.PublicKey())
	}
	if got.Subject != "MACTOR" {
		t.Errorf("Subject = %q, want MACTOR", got.Subject)
	}
	if got.Metadata.Revision != 3 {
		t.Errorf("Revision = %d, want 3", got.Metadata.Revision)
	}
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	key := mustKeyPair(t)
	now := time.Now()

	token, err := Encode(key, Claims[Invocation]{
		Subject: "inv-1",
		Metadata: Invocation{
			TargetURL: "weft://MTARGET/Op",
			OriginURL: "weft://MORIGIN",
			Hash:      "ABCD",
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Swap the payload segment for one claiming a different hash.
	forged, err := Encode(key, Claims[Invocation]{
		Subject: "inv-1",
		Metadata: Invocation{
			TargetURL: "weft://MTARGET/Op",
			OriginURL: "weft://MORIGIN",
			Hash:      "EF01",
		},
	})
	if err != nil {
		t.Fatalf("Encode (forged): %v", err)
	}
	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	if _, err := Validate[Invocation](spliced, now); !errors.Is(err, ErrSignature) {
		t.Errorf("Validate(spliced) error = %v, want ErrSignature", err)
	}
}

func TestValidateTimeBounds(t *testing.T) {
	key := mustKeyPair(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	token, err := Encode(key, Claims[Actor]{
		Subject:   "MACTOR",
		NotBefore: now.Add(time.Minute).Unix(),
		Expires:   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Validate[Actor](token, now); !errors.Is(err, ErrNotYetValid) {
		t.Errorf("before nbf: error = %v, want ErrNotYetValid", err)
	}
	if _, err := Validate[Actor](token, now.Add(2*time.Minute)); err != nil {
		t.Errorf("inside window: error = %v, want nil", err)
	}
	if _, err := Validate[Actor](token, now.Add(2*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Errorf("after exp: error = %v, want ErrExpired", err)
	}
}

func TestValidateRejectsWrongSigner(t *testing.T) {
	key := mustKeyPair(t)
	other := mustKeyPair(t)

	token, err := Encode(key, Claims[Actor]{Subject: "MACTOR"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// An attacker cannot simply re-point the issuer: the issuer is
	// embedded in the signed payload, so substituting another key's
	// token for the same subject yields a different issuer.
	got, err := Validate[Actor](token, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Issuer == other.PublicKey() {
		t.Error("issuer unexpectedly matches a key that never signed")
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	key := mustKeyPair(t)
	again, err := ParseSeed(key.Seed())
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if again.PublicKey() != key.PublicKey() {
		t.Error("same seed produced a different public key")
	}
}

func TestSplitRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"", "a.b", "a.b.c.d", "!!.!!.!!"} {
		if _, err := Validate[Actor](token, time.Now()); !errors.Is(err, ErrTokenFormat) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenFormat", token, err)
		}
	}
}
