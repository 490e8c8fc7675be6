// Package codec implements the LZ77-style compressor and the integrity
// helpers (additive checksum, CRC-16) applied to a transfer's payload
// before framing.
package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	windowSize   = 4096 // bytes of history a match may reference
	maxLookahead = 18   // longest match the encoder will emit
	minMatchLen  = 3    // shortest run worth encoding as a match
	matchMarker  = 0xFF // reserved marker byte, see escape handling below
)

// Compress applies a single-pass sliding-window LZ77 match over input and
// returns the encoded stream: a 4-byte big-endian original length followed
// by a sequence of literal bytes and match quadruplets
// (0xFF, distHi, distLo, length).
//
// The literal byte 0xFF collides with the match marker. This is resolved
// by escaping: a literal 0xFF is
// emitted as the marker followed by (0, 0, 0) — a zero distance/length pair
// that can never occur for a real match, since matches always carry
// dist >= 1 and length >= minMatchLen.
func Compress(input []byte) []byte {
	out := make([]byte, 4, len(input)/2+4)
	binary.BigEndian.PutUint32(out, uint32(len(input)))

	index := make(map[[3]byte][]int)
	addPos := func(pos int) {
		if pos+3 > len(input) {
			return
		}
		var key [3]byte
		copy(key[:], input[pos:pos+3])
		index[key] = append(index[key], pos)
	}

	i := 0
	for i < len(input) {
		best, bestPos := 0, -1

		if i+minMatchLen <= len(input) {
			var key [3]byte
			copy(key[:], input[i:i+3])

			windowStart := i - windowSize
			if windowStart < 0 {
				windowStart = 0
			}
			maxLen := maxLookahead
			if i+maxLen > len(input) {
				maxLen = len(input) - i
			}

			candidates := index[key]
			// Walk from most recently recorded position backwards: the
			// window is built in increasing-position order, so the tail of
			// the slice holds the nearest candidates. Scanning nearest
			// first and only replacing best on a strictly longer match
			// satisfies "longest match, ties broken by nearest prior
			// position" for free.
			for k := len(candidates) - 1; k >= 0; k-- {
				pos := candidates[k]
				if pos < windowStart {
					break
				}
				l := matchLength(input, pos, i, maxLen)
				if l > best {
					best, bestPos = l, pos
					if l == maxLen {
						break
					}
				}
			}
		}

		if best >= minMatchLen {
			dist := i - bestPos
			out = append(out, matchMarker, byte(dist>>8), byte(dist), byte(best))
			for p := i; p < i+best; p++ {
				addPos(p)
			}
			i += best
			continue
		}

		if input[i] == matchMarker {
			out = append(out, matchMarker, 0, 0, 0)
		} else {
			out = append(out, input[i])
		}
		addPos(i)
		i++
	}
	return out
}

func matchLength(input []byte, a, b, max int) int {
	n := 0
	for n < max && input[a+n] == input[b+n] {
		n++
	}
	return n
}

// Decompress inverts Compress. It reads the 4-byte header to learn the
// original length and stops as soon as that many bytes have been produced.
// If the input is exhausted first, it returns ErrCorruptStream along with
// whatever prefix was successfully decoded.
func Decompress(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: missing 4-byte length header", ErrCorruptStream)
	}
	originalLen := binary.BigEndian.Uint32(input[:4])
	out := make([]byte, 0, originalLen)

	i := 4
	for uint32(len(out)) < originalLen {
		if i >= len(input) {
			return out, fmt.Errorf("%w: input exhausted at %d/%d bytes", ErrCorruptStream, len(out), originalLen)
		}
		b := input[i]
		if b != matchMarker {
			out = append(out, b)
			i++
			continue
		}

		if i+3 >= len(input) {
			return out, fmt.Errorf("%w: truncated match token", ErrCorruptStream)
		}
		dist := int(input[i+1])<<8 | int(input[i+2])
		length := int(input[i+3])
		i += 4

		if dist == 0 && length == 0 {
			out = append(out, matchMarker)
			continue
		}
		if dist <= 0 || dist > len(out) {
			return out, fmt.Errorf("%w: match distance %d out of range at offset %d", ErrCorruptStream, dist, len(out))
		}
		start := len(out) - dist
		for n := 0; n < length; n++ {
			out = append(out, out[start+n])
		}
	}
	return out, nil
}
