// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression identifies the algorithm used for a frame. The values
// are protocol constants — they appear in staged frame headers shared
// between hosts.
type Compression uint8

const (
	// CompressionNone stores the plaintext as-is. For payloads that
	// are already compressed (images, archives) compression only
	// burns CPU.
	CompressionNone Compression = 0

	// CompressionLZ4 is the default: ~4 GB/s decode makes it nearly
	// free for binary payloads of unknown shape.
	CompressionLZ4 Compression = 1

	// CompressionZstd trades CPU for ratio. Worth it when payloads
	// are known to be text-like (JSON, logs).
	CompressionZstd Compression = 2
)

// String returns the configuration-file name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration string to a Compression tag.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("chunk: unknown compression %q", name)
	}
}

// ErrFrameCorrupt reports a frame whose digest or structure does not
// check out.
var ErrFrameCorrupt = errors.New("chunk: frame corrupt")

// Frame layout:
//
//	[0]      compression tag
//	[1..8]   plaintext length, big endian
//	[9..40]  BLAKE3-256 digest of the plaintext
//	[41..]   body (compressed or raw per the tag)
const frameHeaderSize = 1 + 8 + 32

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("chunk: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("chunk: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeFrame produces one staged frame from plaintext. If the
// compressed body would be no smaller than the plaintext, the frame
// silently falls back to CompressionNone.
func encodeFrame(tag Compression, plaintext []byte) ([]byte, error) {
	var body []byte
	switch tag {
	case CompressionNone:
		body = plaintext
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(plaintext)))
		n, err := lz4.CompressBlock(plaintext, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("chunk: lz4 compression: %w", err)
		}
		if n == 0 || n >= len(plaintext) {
			// Incompressible.
			tag, body = CompressionNone, plaintext
		} else {
			body = buf[:n]
		}
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(plaintext, nil)
		if len(body) >= len(plaintext) {
			tag, body = CompressionNone, plaintext
		}
	default:
		return nil, fmt.Errorf("chunk: unknown compression tag %d", tag)
	}

	digest := blake3.Sum256(plaintext)
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	frame[0] = byte(tag)
	binary.BigEndian.PutUint64(frame[1:9], uint64(len(plaintext)))
	copy(frame[9:41], digest[:])
	return append(frame, body...), nil
}

// decodeFrame reverses encodeFrame, verifying the digest.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: truncated header", ErrFrameCorrupt)
	}
	tag := Compression(frame[0])
	plainLen := binary.BigEndian.Uint64(frame[1:9])
	var wantDigest [32]byte
	copy(wantDigest[:], frame[9:41])
	body := frame[frameHeaderSize:]

	var plaintext []byte
	switch tag {
	case CompressionNone:
		plaintext = body
	case CompressionLZ4:
		plaintext = make([]byte, plainLen)
		n, err := lz4.UncompressBlock(body, plaintext)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrFrameCorrupt, err)
		}
		plaintext = plaintext[:n]
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrFrameCorrupt, err)
		}
		plaintext = decoded
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", ErrFrameCorrupt, tag)
	}

	if uint64(len(plaintext)) != plainLen {
		return nil, fmt.Errorf("%w: length mismatch (%d of %d bytes)",
			ErrFrameCorrupt, len(plaintext), plainLen)
	}
	if blake3.Sum256(plaintext) != wantDigest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrFrameCorrupt)
	}
	if tag == CompressionNone && bytes.Equal(plaintext, body) {
		// plaintext aliases the frame buffer; copy so callers own it.
		plaintext = append([]byte(nil), plaintext...)
	}
	return plaintext, nil
}
