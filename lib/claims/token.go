// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by Validate and Decode.
var (
	ErrTokenFormat = errors.New("claims: token is not three base64url segments")
	ErrAlgorithm   = errors.New("claims: unsupported token algorithm")
	ErrSignature   = errors.New("claims: invalid signature")
	ErrExpired     = errors.New("claims: token has expired")
	ErrNotYetValid = errors.New("claims: token cannot be used yet")
)

// header is the fixed first segment of every token.
type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

var standardHeader = header{Type: "jwt", Algorithm: "Ed25519"}

// Claims is the common envelope around a metadata block M. The issuer
// is always the encoded public key that signed the token.
type Claims[M any] struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf,omitempty"`
	Expires   int64  `json:"exp,omitempty"`
	Metadata  M      `json:"weft"`
}

// Actor is the metadata block embedded in a signed actor module. It is
// re-asserted on every live update; Revision must strictly increase
// across updates to the same subject.
type Actor struct {
	// Name is a human-friendly module name. Informational only.
	Name string `json:"name,omitempty"`

	// Capabilities lists the capability contract IDs the actor is
	// allowed to be linked against.
	Capabilities []string `json:"caps,omitempty"`

	// Revision is the monotonically increasing module revision.
	Revision int32 `json:"rev,omitempty"`

	// Tags are free-form labels attached by the signer.
	Tags []string `json:"tags,omitempty"`
}

// Invocation is the metadata block that binds a call envelope to its
// exact target, origin, and payload bytes.
type Invocation struct {
	TargetURL string `json:"target_url"`
	OriginURL string `json:"origin_url"`
	Hash      string `json:"hash"`
}

// Encode signs the claims with the keypair and returns the token
// string. The issuer field is overwritten with the signer's public
// key — tokens cannot claim to come from anyone but their signer.
func Encode[M any](key KeyPair, c Claims[M]) (string, error) {
	if key.IsZero() {
		return "", fmt.Errorf("claims: encoding requires a keypair")
	}
	c.Issuer = key.PublicKey()

	headerJSON, err := json.Marshal(standardHeader)
	if err != nil {
		return "", fmt.Errorf("claims: encoding header: %w", err)
	}
	payloadJSON, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("claims: encoding payload: %w", err)
	}

	signing := segment(headerJSON) + "." + segment(payloadJSON)
	signature := key.Sign([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// Decode parses a token's payload WITHOUT verifying the signature or
// time bounds. Use it only to peek at fields before full validation,
// never as an authorization decision.
func Decode[M any](token string) (*Claims[M], error) {
	_, payload, _, err := split(token)
	if err != nil {
		return nil, err
	}
	var c Claims[M]
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("claims: decoding payload: %w", err)
	}
	return &c, nil
}

// Validate verifies the token signature against its embedded issuer
// key and checks the time bounds at the given instant. On success the
// decoded claims are returned; every receiver in the dispatch path
// calls this before acting on a token.
func Validate[M any](token string, now time.Time) (*Claims[M], error) {
	headerRaw, payloadRaw, signature, err := split(token)
	if err != nil {
		return nil, err
	}

	var h header
	if err := json.Unmarshal(headerRaw, &h); err != nil {
		return nil, fmt.Errorf("claims: decoding header: %w", err)
	}
	if h.Algorithm != standardHeader.Algorithm {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithm, h.Algorithm)
	}

	var c Claims[M]
	if err := json.Unmarshal(payloadRaw, &c); err != nil {
		return nil, fmt.Errorf("claims: decoding payload: %w", err)
	}

	parts := strings.Split(token, ".")
	signing := parts[0] + "." + parts[1]
	if err := Verify(c.Issuer, []byte(signing), signature); err != nil {
		return nil, err
	}

	unix := now.Unix()
	if c.Expires != 0 && unix >= c.Expires {
		return nil, ErrExpired
	}
	if c.NotBefore != 0 && unix < c.NotBefore {
		return nil, ErrNotYetValid
	}
	return &c, nil
}

func segment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func split(token string) (header, payload, signature []byte, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, nil, ErrTokenFormat
	}
	header, err = base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, ErrTokenFormat
	}
	payload, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, ErrTokenFormat
	}
	signature, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, ErrTokenFormat
	}
	return header, payload, signature, nil
}
