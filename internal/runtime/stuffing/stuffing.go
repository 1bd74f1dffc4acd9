// Package stuffing implements the byte-stuffing codec that lets arbitrary bytes
// cross a channel whose alphabet excludes a small set of unsupported values.
//
// Encoding maps every unsupported byte U[i] onto a substitute byte S[i]. A
// substitute that occurs naturally in the input, and the escape byte itself,
// are prefixed with the escape byte so decoding stays unambiguous:
//
//	E        -> E E
//	U[i]     -> S[i]
//	S[i]     -> E S[i]   (only for i < len(U))
//	other    -> other
//
// Every input byte yields at most two output bytes.
package stuffing

import (
	"bytes"
	"fmt"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
)

// Escape prefixes doubled escapes and naturally occurring substitutes.
const Escape byte = 0xF7

// Substitutes replace unsupported bytes positionally.
var Substitutes = [...]byte{0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD}

// MaxUnsupported is the largest unsupported set a codec accepts.
const MaxUnsupported = len(Substitutes)

// Codec is an immutable encoder/decoder for one unsupported byte set.
type Codec struct {
	unsupported []byte
	// lookup tables indexed by byte value; -1 when the byte has no role
	unsupportedIdx [256]int
	substituteIdx  [256]int
}

// NewCodec validates the unsupported set and precomputes lookup tables.
func NewCodec(unsupported []byte) (*Codec, error) {
	if len(unsupported) > MaxUnsupported {
		return nil, fmt.Errorf("%w: got %d, have %d", errspkg.ErrTooManyUnsupported, len(unsupported), MaxUnsupported)
	}

	c := &Codec{unsupported: bytes.Clone(unsupported)}
	for i := range c.unsupportedIdx {
		c.unsupportedIdx[i] = -1
		c.substituteIdx[i] = -1
	}
	for i := range unsupported {
		c.substituteIdx[Substitutes[i]] = i
	}

	for i, b := range unsupported {
		if b == Escape {
			return nil, fmt.Errorf("%w: escape byte 0x%02X", errspkg.ErrInvalidUnsupported, b)
		}
		if c.substituteIdx[b] >= 0 {
			return nil, fmt.Errorf("%w: substitute byte 0x%02X", errspkg.ErrInvalidUnsupported, b)
		}
		if c.unsupportedIdx[b] >= 0 {
			return nil, fmt.Errorf("%w: duplicate byte 0x%02X", errspkg.ErrInvalidUnsupported, b)
		}
		c.unsupportedIdx[b] = i
	}
	return c, nil
}

// Unsupported returns a copy of the unsupported set.
func (c *Codec) Unsupported() []byte {
	return bytes.Clone(c.unsupported)
}

// Encode stuffs raw so that no unsupported byte occurs in the output.
func (c *Codec) Encode(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/8)
	for _, b := range raw {
		switch {
		case b == Escape:
			out = append(out, Escape, Escape)
		case c.unsupportedIdx[b] >= 0:
			out = append(out, Substitutes[c.unsupportedIdx[b]])
		case c.substituteIdx[b] >= 0:
			out = append(out, Escape, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Decode reverses Encode in a single left-to-right pass.
func (c *Codec) Decode(stuffed []byte) ([]byte, error) {
	out := make([]byte, 0, len(stuffed))
	for i := 0; i < len(stuffed); i++ {
		b := stuffed[i]
		switch {
		case b == Escape:
			if i+1 >= len(stuffed) {
				return nil, errspkg.ErrDanglingEscape
			}
			i++
			out = append(out, stuffed[i])
		case c.substituteIdx[b] >= 0:
			out = append(out, c.unsupported[c.substituteIdx[b]])
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// Encode is a convenience wrapper building a throwaway Codec.
func Encode(raw, unsupported []byte) ([]byte, error) {
	c, err := NewCodec(unsupported)
	if err != nil {
		return nil, err
	}
	return c.Encode(raw), nil
}

// Decode is a convenience wrapper building a throwaway Codec.
func Decode(stuffed, unsupported []byte) ([]byte, error) {
	c, err := NewCodec(unsupported)
	if err != nil {
		return nil, err
	}
	return c.Decode(stuffed)
}

// MaxEncodedLen bounds the stuffed size of an n-byte input.
func MaxEncodedLen(n int) int {
	return 2 * n
}
