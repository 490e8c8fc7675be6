package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/cwsl/acoustictransfer/transfer/codec"
	"github.com/cwsl/acoustictransfer/transfer/frame"
	"github.com/cwsl/acoustictransfer/transfer/modem"
	"github.com/cwsl/acoustictransfer/transfer/packet"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// ErrCanceled is returned by Send when ctx is canceled between chunks or
// before the preamble plays. Cancellation never surfaces a partial file;
// there is nothing further for the caller to clean up.
var ErrCanceled = fmt.Errorf("session: send canceled")

// SenderSession drives the sender side of a transfer: compress, checksum,
// chunk, and play Meta/Data/End packets over a Modulator.
type SenderSession struct {
	prof profile.Profile
	mod  *modem.Modulator
	sink modem.AudioSink

	onChunkSent func(i, n int)
}

// NewSenderSession binds a profile, modulator, and audio sink.
func NewSenderSession(prof profile.Profile, mod *modem.Modulator, sink modem.AudioSink) *SenderSession {
	return &SenderSession{prof: prof, mod: mod, sink: sink}
}

// OnChunkSent registers a progress callback invoked after each chunk,
// mirroring the control surface's chunk_sent(i, n) event.
func (s *SenderSession) OnChunkSent(cb func(i, n int)) { s.onChunkSent = cb }

// Send runs the full sender pipeline in order: optional compression,
// integrity computation, metadata, preamble, Meta, chunked Data with a
// single re-attempt pass, and a doubled End. ctx is checked between chunks
// only, never mid-slot.
func (s *SenderSession) Send(ctx context.Context, filename string, data []byte) error {
	useCompression := len(data) > s.prof.CompressionMinLen
	payload := data
	compressed := false
	if useCompression {
		c := codec.Compress(data)
		if len(c) < len(data) {
			payload = c
			compressed = true
		}
	}

	checksum := codec.Checksum16(payload)
	crc := codec.CRC16(payload)

	chunkSize := s.prof.ChunkSize
	chunks := 0
	if len(payload) > 0 {
		chunks = (len(payload) + chunkSize - 1) / chunkSize
	}

	encoding := packet.EncodingBase64
	if s.prof.UseBinaryPayload {
		encoding = packet.EncodingBinary
	}

	meta := packet.FileMetadata{
		Filename:     filename,
		Size:         len(payload),
		OriginalSize: len(data),
		Compressed:   compressed,
		Checksum:     checksum,
		CRC:          crc,
		Chunks:       chunks,
		Timestamp:    time.Now().Unix(),
		Encoding:     encoding,
	}

	if err := s.checkCanceled(ctx); err != nil {
		return err
	}
	if err := s.sink.PlaySamples(s.mod.Preamble(), profile.AudioParams.SampleRateHz); err != nil {
		return fmt.Errorf("session: play preamble: %w", err)
	}

	if err := s.playPacket(packet.Meta(meta)); err != nil {
		return fmt.Errorf("session: send meta: %w", err)
	}

	var failed []int
	for i := 0; i < chunks; i++ {
		if err := s.checkCanceled(ctx); err != nil {
			return err
		}
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if !s.sendPacketWithAck(packet.Data(uint32(i), encodeChunk(payload[start:end], encoding)), s.prof.MaxRetries) {
			failed = append(failed, i)
		}
		if s.onChunkSent != nil {
			s.onChunkSent(i, chunks)
		}
		s.pacingDelay(ctx)
	}

	for _, i := range failed {
		if err := s.checkCanceled(ctx); err != nil {
			return err
		}
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		s.sendPacketWithAck(packet.Data(uint32(i), encodeChunk(payload[start:end], encoding)), 1)
		s.pacingDelay(ctx)
	}

	if err := s.playPacket(packet.End("COMPLETE")); err != nil {
		return fmt.Errorf("session: send end (1st): %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.playPacket(packet.End("COMPLETE")); err != nil {
		return fmt.Errorf("session: send end (2nd): %w", err)
	}

	log.Printf("[Sender] transfer complete: %s (%d bytes, %d chunks, %d failed)", filename, len(payload), chunks, len(failed))
	return nil
}

// sendPacketWithAck transmits pkt and reports success. There is no
// receive-side ACK today, so this is one-shot: it always reports true once
// playPacket succeeds. maxAttempts is kept in the signature so the retry
// structure matches the shape a future bidirectional ACK channel would
// fill in.
func (s *SenderSession) sendPacketWithAck(pkt packet.Packet, maxAttempts int) bool {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.playPacket(pkt); err != nil {
			log.Printf("[Sender] play error on attempt %d: %v", attempt+1, err)
			continue
		}
		return true
	}
	return false
}

func (s *SenderSession) playPacket(pkt packet.Packet) error {
	body, err := pkt.Serialize()
	if err != nil {
		return err
	}
	bits := frame.WrapFrame(body)
	pcm := s.mod.Modulate(bits)
	return s.sink.PlaySamples(pcm, profile.AudioParams.SampleRateHz)
}

func (s *SenderSession) pacingDelay(ctx context.Context) {
	ms := profile.PacketDelayMinMs + rand.Intn(profile.PacketDelayMaxMs-profile.PacketDelayMinMs+1)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}

func (s *SenderSession) checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCanceled
	default:
		return nil
	}
}

func encodeChunk(b []byte, encoding packet.Encoding) []byte {
	if encoding == packet.EncodingBinary {
		return []byte(frame.BytesToBits(b))
	}
	return []byte(base64.StdEncoding.EncodeToString(b))
}
