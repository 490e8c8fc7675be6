// Package frame implements the on-air framing of a packet body: MSB-first
// byte/bit conversion, the sync preamble/suffix, round-robin bit-to-channel
// interleaving, and the receiver-side frame synchronizer.
package frame

import (
	"fmt"
	"strings"
)

// SyncPrefix opens every frame; SyncSuffix closes it.
const (
	SyncPrefix = "10101010"
	SyncSuffix = "01010101"
)

// BytesToBits renders b as an MSB-first '0'/'1' bit string.
func BytesToBits(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 8)
	for _, by := range b {
		for bit := 7; bit >= 0; bit-- {
			if by&(1<<uint(bit)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// BitsToBytes packs an MSB-first '0'/'1' bit string into bytes. len(bits)
// must be a multiple of 8.
func BitsToBytes(bits string) ([]byte, error) {
	if len(bits)%8 != 0 {
		return nil, fmt.Errorf("frame: bit string length %d is not a multiple of 8", len(bits))
	}
	out := make([]byte, len(bits)/8)
	for i := range out {
		var v byte
		for j := 0; j < 8; j++ {
			v <<= 1
			if bits[i*8+j] == '1' {
				v |= 1
			}
		}
		out[i] = v
	}
	return out, nil
}

// WrapFrame produces the full on-air bit string for one packet body:
// sync prefix + MSB-first bits of body + sync suffix.
func WrapFrame(body []byte) string {
	var sb strings.Builder
	sb.WriteString(SyncPrefix)
	sb.WriteString(BytesToBits(body))
	sb.WriteString(SyncSuffix)
	return sb.String()
}

// Interleave distributes the bits of s round-robin across numChannels
// streams by position (i -> i mod numChannels), right-padding the tail
// with '0' so every channel stream has equal length.
func Interleave(s string, numChannels int) []string {
	if numChannels <= 0 {
		return nil
	}
	pad := (numChannels - len(s)%numChannels) % numChannels
	if pad > 0 {
		s += strings.Repeat("0", pad)
	}
	streams := make([]strings.Builder, numChannels)
	for i := 0; i < len(s); i++ {
		ch := i % numChannels
		streams[ch].WriteByte(s[i])
	}
	out := make([]string, numChannels)
	for i := range streams {
		out[i] = streams[i].String()
	}
	return out
}

// Deinterleave inverts Interleave: channels must all share the same length
// (as Interleave guarantees); it reconstructs the original bit order by
// walking one slot at a time and reading channels in ascending index.
func Deinterleave(channels []string) string {
	if len(channels) == 0 {
		return ""
	}
	slots := len(channels[0])
	var sb strings.Builder
	sb.Grow(slots * len(channels))
	for s := 0; s < slots; s++ {
		for _, ch := range channels {
			if s < len(ch) {
				sb.WriteByte(ch[s])
			}
		}
	}
	return sb.String()
}
