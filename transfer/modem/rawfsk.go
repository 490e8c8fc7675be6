package modem

import (
	"math"

	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// RawFSKFrontEnd demodulates FSK directly from a raw PCM stream instead of
// a precomputed magnitude spectrum, for hosts that can only deliver
// samples. It uses a mark/space bandpass-and-compare technique, making one
// bit decision per channel per symbol.
type RawFSKFrontEnd struct {
	demod    *Demodulator
	channels []*rawFSKChannel
}

const (
	rawFSKAverageTC   = 0.01
	rawFSKActiveRatio = 1.5
	rawFSKFloor       = 0.001 // in PCM full-scale units (+/-1.0)
)

type rawFSKChannel struct {
	mark, space  *biquad
	audioAverage float64
}

func newRawFSKChannel(carrier, sampleRate float64) *rawFSKChannel {
	q := 6.0 * carrier / 1000.0
	if q < 1 {
		q = 1
	}
	return &rawFSKChannel{
		mark:         newBiquad(biquadBandpass, carrier+profile.AudioParams.FSKDeviationHz, sampleRate, q),
		space:        newBiquad(biquadBandpass, carrier-profile.AudioParams.FSKDeviationHz, sampleRate, q),
		audioAverage: rawFSKFloor,
	}
}

// step filters one sample and reports whether the channel carries enough
// energy to be considered active this symbol, plus the provisional bit.
func (c *rawFSKChannel) step(sample float64) (bit byte, active bool) {
	markLevel := math.Abs(c.mark.Filter(sample))
	spaceLevel := math.Abs(c.space.Filter(sample))
	maxAbs := math.Max(markLevel, spaceLevel)

	c.audioAverage += (maxAbs - c.audioAverage) * rawFSKAverageTC
	if c.audioAverage < rawFSKFloor {
		c.audioAverage = rawFSKFloor
	}

	if maxAbs < c.audioAverage*rawFSKActiveRatio {
		return 0, false
	}
	if markLevel > spaceLevel {
		return '1', true
	}
	return '0', true
}

// NewRawFSKFrontEnd builds a front end bound to demod's profile and
// calibration, one bandpass-filter pair per carrier.
func NewRawFSKFrontEnd(demod *Demodulator) *RawFSKFrontEnd {
	sampleRate := float64(profile.AudioParams.SampleRateHz)
	channels := make([]*rawFSKChannel, len(demod.calib.Frequencies))
	for i, f := range demod.calib.Frequencies {
		channels[i] = newRawFSKChannel(f, sampleRate)
	}
	return &RawFSKFrontEnd{demod: demod, channels: channels}
}

// ProcessSymbolWindow filters one symbol's worth of raw samples per
// channel, averages the per-sample bit decisions across the window, and
// feeds the resulting slot into the synchronizer. Channels that never
// exceed the activity threshold are skipped within the slot, matching the
// spectrum-tick front end's behavior.
func (f *RawFSKFrontEnd) ProcessSymbolWindow(pcm []float64) {
	ones := make([]int, len(f.channels))
	actives := make([]int, len(f.channels))

	for _, sample := range pcm {
		for i, ch := range f.channels {
			bit, active := ch.step(sample)
			if !active {
				continue
			}
			actives[i]++
			if bit == '1' {
				ones[i]++
			}
		}
	}

	var bits []byte
	for i := range f.channels {
		if actives[i] == 0 {
			continue
		}
		if ones[i]*2 >= actives[i] {
			bits = append(bits, '1')
		} else {
			bits = append(bits, '0')
		}
	}
	if len(bits) == 0 {
		return
	}
	f.demod.feed(bits)
}
