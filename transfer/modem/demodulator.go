package modem

import (
	"math"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/frame"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// Demodulator recovers packet bodies from a stream of magnitude-spectrum
// ticks (FSK) or raw-sample symbol windows (QPSK/8-PSK). Only one of the
// two ingestion paths is exercised for a given profile's modulation.
//
// A magnitude spectrum discards phase, so it can't drive PSK demodulation;
// QPSK/8-PSK instead correlate the raw PCM window against each channel's
// carrier to recover phase directly. ProcessSymbolWindow is the raw-sample
// path a magnitude-only source cannot satisfy.
type Demodulator struct {
	prof  profile.Profile
	calib calibrate.Result
	sync  *frame.Synchronizer

	onPacket func(body []byte)
}

// NewDemodulator builds a Demodulator bound to a profile and calibration
// result, starting its synchronizer in Hunting state.
func NewDemodulator(prof profile.Profile, calib calibrate.Result) *Demodulator {
	return &Demodulator{prof: prof, calib: calib, sync: frame.NewSynchronizer()}
}

// OnPacket registers the callback invoked with each recovered frame body.
func (d *Demodulator) OnPacket(cb func(body []byte)) { d.onPacket = cb }

// SyncState reports the synchronizer's current state, mostly for tests and
// diagnostics.
func (d *Demodulator) SyncState() frame.State { return d.sync.State() }

// ProcessSpectrumTick implements the FSK receive path: per-channel
// mark/space bin comparison, slot aggregation skipping silent channels,
// and direct feed into the frame synchronizer.
func (d *Demodulator) ProcessSpectrumTick(s calibrate.SpectrumSample) {
	if d.prof.Modulation != profile.FSK {
		return
	}
	var bits []byte
	for c := 0; c < d.prof.NumChannels; c++ {
		carrier := d.calib.Frequencies[c]
		bin0 := binIndex(carrier-profile.AudioParams.FSKDeviationHz, s.BinHz)
		bin1 := binIndex(carrier+profile.AudioParams.FSKDeviationHz, s.BinHz)
		m0 := magAt(s.Magnitudes, bin0)
		m1 := magAt(s.Magnitudes, bin1)

		if math.Max(m0, m1) < profile.AudioParams.SignalThreshold {
			continue // silent channel: skipped within the slot
		}
		if m1 > m0 {
			bits = append(bits, '1')
		} else {
			bits = append(bits, '0')
		}
	}
	if len(bits) == 0 {
		return // no channel reported: tick discarded
	}
	d.feed(bits)
}

// ProcessSymbolWindow implements the QPSK/8-PSK receive path: for each
// channel, correlate the raw-sample window against that channel's carrier
// to recover the transmitted phase and quantize to the nearest constellation
// point. The slot's bits are fed into the synchronizer in the sender's
// pre-interleave order: bit position by bit position (MSB-first, matching
// the modulator's left-to-right grouping), and within each position across
// channels in ascending index.
func (d *Demodulator) ProcessSymbolWindow(pcm []float64) {
	if d.prof.Modulation == profile.FSK {
		return
	}
	bitsPerSym := d.prof.Modulation.BitsPerSymbol()
	levels := 1 << uint(bitsPerSym)
	step := 2 * math.Pi / float64(levels)
	sampleRate := float64(profile.AudioParams.SampleRateHz)

	syms := make([]int, d.prof.NumChannels)
	for c := 0; c < d.prof.NumChannels; c++ {
		carrier := d.calib.Frequencies[c]
		i, q := correlate(pcm, carrier, sampleRate)
		phase := math.Atan2(q, i)
		if phase < 0 {
			phase += 2 * math.Pi
		}
		syms[c] = int(math.Round(phase/step)) % levels
	}
	var bits []byte
	for b := bitsPerSym - 1; b >= 0; b-- {
		for _, idx := range syms {
			if idx&(1<<uint(b)) != 0 {
				bits = append(bits, '1')
			} else {
				bits = append(bits, '0')
			}
		}
	}
	d.feed(bits)
}

func (d *Demodulator) feed(bits []byte) {
	for _, b := range bits {
		if body, ok := d.sync.PushBit(b); ok {
			if d.onPacket != nil {
				d.onPacket(body)
			}
		}
	}
}

// correlate computes the in-phase/quadrature correlation of pcm against a
// reference carrier at freq, sampled at sampleRate, with t resetting to 0
// at the start of the window (matching the modulator's per-symbol phase
// origin). The sign convention is chosen so that atan2(q, i) recovers the
// modulator's phase offset directly.
func correlate(pcm []float64, freq, sampleRate float64) (i, q float64) {
	for n, v := range pcm {
		t := float64(n) / sampleRate
		angle := 2 * math.Pi * freq * t
		i += v * math.Cos(angle)
		q += -v * math.Sin(angle)
	}
	return i, q
}

func binIndex(freq, binHz float64) int {
	if binHz <= 0 {
		return 0
	}
	idx := int(freq/binHz + 0.5)
	if idx < 0 {
		return 0
	}
	return idx
}

func magAt(mags []float64, idx int) float64 {
	if idx < 0 || idx >= len(mags) {
		return 0
	}
	return mags[idx]
}
