// Package delta encodes a value as a compact difference against a base
// value. It is used to keep superseded values around cheaply.
package delta

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec computes and applies deltas between byte strings.
type Codec interface {
	// Diff returns a delta that turns from into to.
	Diff(from, to []byte) ([]byte, error)
	// Patch applies a delta produced by Diff(from, ...) to from.
	Patch(from, diff []byte) ([]byte, error)
}

// Delta framing: the first byte records whether the base was used.
const (
	modePlain byte = 0
	modeDict  byte = 1

	dictID      = 1
	minDictSize = 8
)

var ErrCorruptDelta = errors.New("corrupt delta")

// ZstdCodec compresses the target using the base value as a raw zstd
// dictionary, so content shared with the base costs almost nothing.
type ZstdCodec struct {
	Level zstd.EncoderLevel
}

var _ Codec = ZstdCodec{}

// NewZstdCodec returns a codec at the default compression level.
func NewZstdCodec() ZstdCodec {
	return ZstdCodec{Level: zstd.SpeedDefault}
}

func (c ZstdCodec) Diff(from, to []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}

	mode := modePlain
	opts := []zstd.EOption{zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1)}
	if len(from) >= minDictSize {
		mode = modeDict
		opts = append(opts, zstd.WithEncoderDictRaw(dictID, from))
	}

	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("delta: encoder: %w", err)
	}
	defer enc.Close()

	out := make([]byte, 1, len(to)/2+16)
	out[0] = mode
	return enc.EncodeAll(to, out), nil
}

func (c ZstdCodec) Patch(from, diff []byte) ([]byte, error) {
	if len(diff) == 0 {
		return nil, ErrCorruptDelta
	}

	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	switch diff[0] {
	case modePlain:
	case modeDict:
		if len(from) < minDictSize {
			return nil, fmt.Errorf("%w: base too short for dictionary delta", ErrCorruptDelta)
		}
		opts = append(opts, zstd.WithDecoderDictRaw(dictID, from))
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", ErrCorruptDelta, diff[0])
	}

	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("delta: decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(diff[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	return out, nil
}
