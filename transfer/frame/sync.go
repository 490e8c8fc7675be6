package frame

import (
	"bytes"
	"strings"
)

// State is the receiver's frame-synchronization state.
type State int

const (
	// Hunting scans the incoming bit stream for the sync prefix.
	Hunting State = iota
	// Framed is accumulating bytes into the current packet body.
	Framed
)

func (s State) String() string {
	if s == Framed {
		return "Framed"
	}
	return "Hunting"
}

const (
	huntingBitLimit   = 1000
	huntingKeepTail   = 100
	packetOverflowLen = 5000
	minDeliverableLen = 10
)

// Synchronizer implements the per-session receiver frame synchronizer: it
// consumes the demodulator's recovered bit stream one bit at a time and
// delivers complete packet bodies.
//
// A frame's only terminator is the sync suffix "01010101"; a NUL byte or an
// overlong body aborts back to Hunting instead of delivering anything. This
// implementation delivers a packet as soon as more than minDeliverableLen
// (10) accumulated body bytes are immediately followed by the suffix bit
// pattern; with 10 or fewer bytes the suffix pattern is taken as one more
// body byte, so bodies of 10 bytes or less are never delivered.
type Synchronizer struct {
	state   State
	bits    strings.Builder
	pending []byte // decoded bytes accumulated in Framed state
}

// NewSynchronizer returns a Synchronizer starting in Hunting state.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{state: Hunting}
}

// State reports the current synchronization state.
func (s *Synchronizer) State() State { return s.state }

// PushBit feeds one recovered bit ('0' or '1') into the synchronizer.
// It returns a delivered packet body and true whenever a full frame is
// recognized.
func (s *Synchronizer) PushBit(bit byte) ([]byte, bool) {
	switch s.state {
	case Hunting:
		return s.pushHunting(bit)
	default:
		return s.pushFramed(bit)
	}
}

// PushBits feeds a run of bits and returns every packet body recognized
// along the way, in arrival order.
func (s *Synchronizer) PushBits(bits string) [][]byte {
	var out [][]byte
	for i := 0; i < len(bits); i++ {
		if body, ok := s.PushBit(bits[i]); ok {
			out = append(out, body)
		}
	}
	return out
}

func (s *Synchronizer) pushHunting(bit byte) ([]byte, bool) {
	s.bits.WriteByte(bit)
	buf := s.bits.String()

	if idx := strings.Index(buf, SyncPrefix); idx >= 0 {
		// Discard through end of the matched pattern; start Framed clean.
		s.bits.Reset()
		s.state = Framed
		s.pending = s.pending[:0]
		return nil, false
	}

	if s.bits.Len() > huntingBitLimit {
		tail := buf[len(buf)-huntingKeepTail:]
		s.bits.Reset()
		s.bits.WriteString(tail)
	}
	return nil, false
}

func (s *Synchronizer) pushFramed(bit byte) ([]byte, bool) {
	s.bits.WriteByte(bit)
	if s.bits.Len() < 8 {
		return nil, false
	}

	byteBits := s.bits.String()
	s.bits.Reset()

	if byteBits == SyncSuffix && len(s.pending) > minDeliverableLen {
		body := s.pending
		s.pending = nil
		s.state = Hunting
		return body, true
	}

	var v byte
	for i := 0; i < 8; i++ {
		v <<= 1
		if byteBits[i] == '1' {
			v |= 1
		}
	}
	s.pending = append(s.pending, v)

	if bytes.IndexByte(s.pending, 0x00) >= 0 {
		s.pending = nil
		s.state = Hunting
		return nil, false
	}

	if len(s.pending) > packetOverflowLen {
		s.pending = nil
		s.state = Hunting
		return nil, false
	}

	return nil, false
}
