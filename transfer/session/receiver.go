package session

import (
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cwsl/acoustictransfer/transfer/codec"
	"github.com/cwsl/acoustictransfer/transfer/frame"
	"github.com/cwsl/acoustictransfer/transfer/modem"
	"github.com/cwsl/acoustictransfer/transfer/packet"
)

// Status is the final integrity state surfaced with a reassembled file. A
// mismatch is non-fatal: the artifact is delivered either way.
type Status string

const (
	StatusVerified          Status = "verified"
	StatusIntegrityMismatch Status = "integrity_mismatch"
)

// Result is a completed transfer, delivered regardless of integrity status.
type Result struct {
	Filename string
	Data     []byte
	Status   Status
	Metadata packet.FileMetadata
}

// ReceiverSession collects packets delivered by a Demodulator, reassembles
// a file on End, and tracks byte-rate stats.
type ReceiverSession struct {
	demod *modem.Demodulator

	mu        sync.Mutex
	store     *ChunkStore
	meta      packet.FileMetadata
	haveMeta  bool
	done      bool
	startedAt time.Time
	received  int

	onChunkReceived func(index int)
	onTransferDone  func(Result)
}

// NewReceiverSession wires a ReceiverSession to demod's packet callback.
func NewReceiverSession(demod *modem.Demodulator) *ReceiverSession {
	r := &ReceiverSession{demod: demod}
	demod.OnPacket(r.handlePacket)
	return r
}

// OnChunkReceived registers the control surface's chunk_received(i) hook.
func (r *ReceiverSession) OnChunkReceived(cb func(index int)) { r.onChunkReceived = cb }

// OnTransferDone registers the control surface's transfer_done(metadata,
// status) hook.
func (r *ReceiverSession) OnTransferDone(cb func(Result)) { r.onTransferDone = cb }

// Stats reports bytes received so far and the inferred transfer rate.
func (r *ReceiverSession) Stats() (bytesReceived int, bytesPerSecond float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.startedAt).Seconds()
	if elapsed <= 0 {
		return r.received, 0
	}
	return r.received, float64(r.received) / elapsed
}

func (r *ReceiverSession) handlePacket(body []byte) {
	pkt, err := packet.Parse(body)
	if err != nil {
		log.Printf("[Receiver] dropping malformed packet: %v", err)
		return
	}

	switch pkt.Kind {
	case packet.KindMeta:
		r.mu.Lock()
		r.meta = pkt.Metadata
		r.haveMeta = true
		r.done = false
		r.store = NewChunkStore()
		r.startedAt = time.Now()
		r.received = 0
		r.mu.Unlock()

	case packet.KindData:
		r.mu.Lock()
		if !r.haveMeta || r.done {
			r.mu.Unlock()
			return
		}
		store := r.store
		r.mu.Unlock()
		if store.Put(pkt.Index, pkt.Payload) {
			r.mu.Lock()
			r.received += len(pkt.Payload)
			r.mu.Unlock()
			if r.onChunkReceived != nil {
				r.onChunkReceived(int(pkt.Index))
			}
		}

	case packet.KindEnd:
		r.tryReassemble()
	}
}

// tryReassemble reassembles once per Meta/transfer cycle, provided at
// least one chunk arrived or the file was empty: a zero-chunk file still
// yields an artifact on End.
func (r *ReceiverSession) tryReassemble() {
	r.mu.Lock()
	if !r.haveMeta || r.done {
		r.mu.Unlock()
		return
	}
	if r.meta.Chunks > 0 && r.store.Len() == 0 {
		r.mu.Unlock()
		return
	}
	meta := r.meta
	store := r.store
	r.done = true
	r.mu.Unlock()

	var encoded []byte
	for i := 0; i < meta.Chunks; i++ {
		raw, ok := store.Get(uint32(i))
		if !ok {
			log.Printf("[Receiver] missing chunk %d of %d", i, meta.Chunks)
			continue
		}
		decoded, err := decodePayload(raw, meta.Encoding)
		if err != nil {
			log.Printf("[Receiver] chunk %d decode error: %v", i, err)
			continue
		}
		encoded = append(encoded, decoded...)
	}

	out := encoded
	if meta.Compressed {
		decompressed, err := codec.Decompress(encoded)
		if err != nil {
			log.Printf("[Receiver] decompress error: %v", err)
		}
		out = decompressed
	}

	status := StatusVerified
	if codec.Checksum16(out) != meta.Checksum || codec.CRC16(out) != meta.CRC {
		status = StatusIntegrityMismatch
	}

	if r.onTransferDone != nil {
		r.onTransferDone(Result{Filename: meta.Filename, Data: out, Status: status, Metadata: meta})
	}
}

func decodePayload(raw []byte, encoding packet.Encoding) ([]byte, error) {
	if encoding == packet.EncodingBinary {
		b, err := frame.BitsToBytes(string(raw))
		if err != nil {
			return nil, fmt.Errorf("decode binary payload: %w", err)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return b, nil
}
