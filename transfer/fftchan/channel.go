// Package fftchan implements an in-memory synthetic acoustic channel: a
// stand-in for the speaker/microphone pair behind the host's audio
// interfaces. PlaySamples appends PCM to a buffer; NextSpectrum and
// RawSamples pull windows back out, the former computing a magnitude
// spectrum with gonum's FFT. It satisfies both modem.AudioSink and
// calibrate.SpectrumSource, and is the transport the demo CLI uses in
// place of real audio hardware.
package fftchan

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// magnitudeScale converts the synthetic channel's PCM amplitude range
// (the modulator's power/num_channels oscillator scale, well under 1.0)
// into the 0-255 magnitude range the host interface expects. It is
// calibrated to this package's own synthesis, not to a real microphone's
// gain staging.
const magnitudeScale = 20.0

// Channel is a single-writer, single-reader synthetic acoustic path.
type Channel struct {
	mu       sync.Mutex
	pcm      []float64
	readPos  int
	tickHop  int
	fft      *fourier.FFT
	hann     []float64
	noiseAmp float64
	rng      *rand.Rand
}

// New builds a Channel. noiseAmp is the peak amplitude of uniform additive
// noise mixed into every read, and seed makes that noise reproducible.
func New(noiseAmp float64, seed int64) *Channel {
	fftSize := profile.AudioParams.FFTSize
	hann := make([]float64, fftSize)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}
	hop := int(float64(profile.AudioParams.SampleRateHz) / profile.AudioParams.SpectrumTickHz)
	if hop <= 0 {
		hop = 1
	}
	return &Channel{
		fft:      fourier.NewFFT(fftSize),
		hann:     hann,
		tickHop:  hop,
		noiseAmp: noiseAmp,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// PlaySamples implements modem.AudioSink by appending pcm to the channel's
// buffer.
func (c *Channel) PlaySamples(pcm []float32, sampleRateHz int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range pcm {
		c.pcm = append(c.pcm, float64(v))
	}
	return nil
}

// NextSpectrum implements calibrate.SpectrumSource: it windows the next
// FFTSize samples starting at the current read position, applies a Hann
// window, computes the magnitude spectrum, and advances the read position
// by one spectrum-tick hop (~50 Hz).
func (c *Channel) NextSpectrum(ctx context.Context) (calibrate.SpectrumSample, error) {
	select {
	case <-ctx.Done():
		return calibrate.SpectrumSample{}, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fftSize := len(c.hann)
	buf := make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		idx := c.readPos + i
		var v float64
		if idx < len(c.pcm) {
			v = c.pcm[idx]
		}
		if c.noiseAmp > 0 {
			v += c.noiseAmp * (c.rng.Float64()*2 - 1)
		}
		buf[i] = v * c.hann[i]
	}
	c.readPos += c.tickHop

	coeffs := c.fft.Coefficients(nil, buf)
	bins := fftSize/2 + 1
	mags := make([]float64, bins)
	for i := 0; i < bins; i++ {
		re, im := real(coeffs[i]), imag(coeffs[i])
		mag := math.Sqrt(re*re+im*im) * magnitudeScale
		if mag > 255 {
			mag = 255
		}
		mags[i] = mag
	}

	binHz := float64(profile.AudioParams.SampleRateHz) / float64(fftSize)
	return calibrate.SpectrumSample{Magnitudes: mags, BinHz: binHz}, nil
}

// RawSamples returns the next n samples of raw PCM (with additive noise,
// no windowing), advancing the read position by n. Used by the raw-sample
// receive paths (PSK phase correlation and the raw FSK front end) rather
// than a magnitude spectrum. Reports false once the buffer is exhausted.
func (c *Channel) RawSamples(n int) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readPos >= len(c.pcm) {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := c.readPos + i
		var v float64
		if idx < len(c.pcm) {
			v = c.pcm[idx]
		}
		if c.noiseAmp > 0 {
			v += c.noiseAmp * (c.rng.Float64()*2 - 1)
		}
		out[i] = v
	}
	c.readPos += n
	return out, true
}

// Done reports whether every sample written so far has been consumed by
// RawSamples.
func (c *Channel) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPos >= len(c.pcm)
}

// ResetRead rewinds the read position to the start of the buffer. The
// synthetic channel otherwise advances its read position even while
// probing silence during calibration, which would desync a subsequent
// transfer against samples not yet written; real continuous audio
// hardware has no such seam, so the loopback CLI calls ResetRead once
// calibration finishes and before the transfer begins.
func (c *Channel) ResetRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readPos = 0
}

// PrependNoise writes n samples of pure noise ahead of anything already
// buffered.
func (c *Channel) PrependNoise(n int, amp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = amp * (c.rng.Float64()*2 - 1)
	}
	c.pcm = append(noise, c.pcm...)
}
