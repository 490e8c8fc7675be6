// Package modem implements the modulator (bits -> audio samples) and the
// demodulator (spectrum/samples -> bits), including the adaptive power
// controller and the FSK/QPSK/8-PSK symbol mappings.
package modem

import (
	"fmt"
	"math"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/frame"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// AudioSink is the host collaborator that actually plays PCM.
type AudioSink interface {
	PlaySamples(pcm []float32, sampleRateHz int) error
}

// Modulator turns an interleaved bit string into audio, one symbol slot at
// a time, all channels chorded together.
type Modulator struct {
	prof  profile.Profile
	calib calibrate.Result
	power *PowerController
}

// NewModulator builds a Modulator bound to a profile and calibration
// result. adaptivePower selects whether ReportSNR influences output level.
func NewModulator(prof profile.Profile, calib calibrate.Result, adaptivePower bool) (*Modulator, error) {
	if len(calib.Frequencies) != prof.NumChannels {
		return nil, fmt.Errorf("modem: calibration has %d carriers, profile wants %d", len(calib.Frequencies), prof.NumChannels)
	}
	return &Modulator{prof: prof, calib: calib, power: NewPowerController(adaptivePower)}, nil
}

// ReportSNR forwards a measured reception SNR to the power controller.
func (m *Modulator) ReportSNR(snrDB float64) { m.power.ReportSNR(snrDB) }

// Modulate renders bits as a single mono PCM buffer at
// profile.AudioParams.SampleRateHz. Slot n is fully written before slot
// n+1 begins.
func (m *Modulator) Modulate(bits string) []float32 {
	n := m.prof.NumChannels
	bitsPerSym := m.prof.Modulation.BitsPerSymbol()

	channelBits := frame.Interleave(bits, n)
	symbols := make([][]int, n)
	numSlots := 0
	for c := 0; c < n; c++ {
		symbols[c] = symbolize(channelBits[c], bitsPerSym)
		if len(symbols[c]) > numSlots {
			numSlots = len(symbols[c])
		}
	}

	sampleRate := profile.AudioParams.SampleRateHz
	slotSamples := int(float64(sampleRate)*float64(m.prof.SymbolDurationMs)/1000.0 + 0.5)
	out := make([]float32, 0, numSlots*slotSamples)

	amp := m.power.Power() / float64(n)

	for s := 0; s < numSlots; s++ {
		slot := make([]float64, slotSamples)
		for c := 0; c < n; c++ {
			var sym int
			if s < len(symbols[c]) {
				sym = symbols[c][s]
			}
			carrier := m.calib.Frequencies[c]
			freq, phase := toneParams(m.prof.Modulation, carrier, sym)
			for i := 0; i < slotSamples; i++ {
				t := float64(i) / float64(sampleRate)
				slot[i] += amp * math.Cos(2*math.Pi*freq*t+phase)
			}
		}
		for _, v := range slot {
			out = append(out, float32(v))
		}
	}
	return out
}

// Preamble returns three 150ms chords of every calibrated carrier,
// separated by 50ms of silence, used to prime the receiver's signal
// detector before the first packet.
func (m *Modulator) Preamble() []float32 {
	const (
		chordMs   = 150
		silenceMs = 50
		chordN    = 3
	)
	sampleRate := profile.AudioParams.SampleRateHz
	chordSamples := int(float64(sampleRate) * chordMs / 1000.0)
	silenceSamples := int(float64(sampleRate) * silenceMs / 1000.0)
	amp := m.power.Power() / float64(m.prof.NumChannels)

	var out []float32
	for c := 0; c < chordN; c++ {
		chord := make([]float64, chordSamples)
		for _, f := range m.calib.Frequencies {
			for i := 0; i < chordSamples; i++ {
				t := float64(i) / float64(sampleRate)
				chord[i] += amp * math.Cos(2*math.Pi*f*t)
			}
		}
		for _, v := range chord {
			out = append(out, float32(v))
		}
		if c < chordN-1 {
			out = append(out, make([]float32, silenceSamples)...)
		}
	}
	return out
}

// symbolize groups an MSB-first bit string into bitsPerSym-wide symbols,
// left-to-right, zero-padding the final group.
func symbolize(bits string, bitsPerSym int) []int {
	if bitsPerSym <= 1 {
		out := make([]int, len(bits))
		for i, c := range bits {
			if c == '1' {
				out[i] = 1
			}
		}
		return out
	}
	pad := (bitsPerSym - len(bits)%bitsPerSym) % bitsPerSym
	padded := bits
	if pad > 0 {
		padded += zeros(pad)
	}
	out := make([]int, len(padded)/bitsPerSym)
	for i := range out {
		v := 0
		for j := 0; j < bitsPerSym; j++ {
			v <<= 1
			if padded[i*bitsPerSym+j] == '1' {
				v |= 1
			}
		}
		out[i] = v
	}
	return out
}

func zeros(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}

// toneParams returns the instantaneous frequency and phase (radians) for
// one channel's symbol under the active modulation scheme.
func toneParams(mod profile.Modulation, carrier float64, sym int) (freq, phase float64) {
	switch mod {
	case profile.FSK:
		if sym == 1 {
			return carrier + profile.AudioParams.FSKDeviationHz, 0
		}
		return carrier - profile.AudioParams.FSKDeviationHz, 0
	case profile.QPSK:
		return carrier, float64(sym) * (math.Pi / 2)
	case profile.PSK8:
		return carrier, float64(sym) * (math.Pi / 4)
	default:
		return carrier, 0
	}
}
