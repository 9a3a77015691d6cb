// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package actorhost

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Actor identity travels inside the module binary itself: the signed
// claims token sits in a WebAssembly custom section named "jwt", so a
// module file is self-describing wherever it is copied.
const claimsSection = "jwt"

var (
	// ErrNotWasm reports bytes that are not a WebAssembly module.
	ErrNotWasm = errors.New("actorhost: not a WebAssembly module")

	// ErrNoClaims reports a module without an embedded claims token.
	ErrNoClaims = errors.New("actorhost: module carries no claims token")
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// ExtractToken returns the claims token embedded in the module's
// custom section.
func ExtractToken(module []byte) (string, error) {
	if len(module) < len(wasmMagic) || !bytes.Equal(module[:len(wasmMagic)], wasmMagic) {
		return "", ErrNotWasm
	}
	rest := module[len(wasmMagic):]
	for len(rest) > 0 {
		id := rest[0]
		rest = rest[1:]
		size, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < size {
			return "", fmt.Errorf("%w: truncated section", ErrNotWasm)
		}
		body := rest[n : n+int(size)]
		rest = rest[n+int(size):]
		if id != 0 {
			continue
		}
		nameLen, m := binary.Uvarint(body)
		if m <= 0 || uint64(len(body)-m) < nameLen {
			return "", fmt.Errorf("%w: truncated custom section", ErrNotWasm)
		}
		name := string(body[m : m+int(nameLen)])
		if name == claimsSection {
			return string(body[m+int(nameLen):]), nil
		}
	}
	return "", ErrNoClaims
}

// EmbedToken appends a claims custom section to the module. Modules
// are signed once at build time; ExtractToken returns the first claims
// section, so embedding into an already-signed module does not change
// its identity.
func EmbedToken(module []byte, token string) ([]byte, error) {
	if len(module) < len(wasmMagic) || !bytes.Equal(module[:len(wasmMagic)], wasmMagic) {
		return nil, ErrNotWasm
	}
	var body bytes.Buffer
	writeUvarint(&body, uint64(len(claimsSection)))
	body.WriteString(claimsSection)
	body.WriteString(token)

	out := bytes.NewBuffer(make([]byte, 0, len(module)+body.Len()+8))
	out.Write(module)
	out.WriteByte(0) // custom section id
	writeUvarint(out, uint64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}
