package modem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/frame"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

func fskResult(n int) calibrate.Result {
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = 3000 + float64(i*400)
	}
	binHz := float64(profile.AudioParams.SampleRateHz) / float64(profile.AudioParams.FFTSize)
	return calibrate.Result{Frequencies: freqs, BinHz: binHz}
}

// spectrumFromTones computes a channel magnitude spectrum directly from tone
// presence, standing in for the host's FFT front end so the FSK round trip
// can be exercised without a real audio device.
func spectrumFromTones(prof profile.Profile, calib calibrate.Result, symbolBits string) calibrate.SpectrumSample {
	n := len(calib.Frequencies)
	binHz := calib.BinHz
	mags := make([]float64, profile.AudioParams.FFTSize/2+1)
	for c := 0; c < n && c < len(symbolBits); c++ {
		freq := calib.Frequencies[c]
		var tone float64
		if symbolBits[c] == '1' {
			tone = freq + profile.AudioParams.FSKDeviationHz
		} else {
			tone = freq - profile.AudioParams.FSKDeviationHz
		}
		bin := int(tone/binHz + 0.5)
		if bin >= 0 && bin < len(mags) {
			mags[bin] = 200
		}
	}
	return calibrate.SpectrumSample{Magnitudes: mags, BinHz: binHz}
}

func TestModulatorDemodulatorFSKRoundTrip(t *testing.T) {
	prof := profile.STANDARD()
	calib := fskResult(prof.NumChannels)

	mod, err := NewModulator(prof, calib, false)
	require.NoError(t, err)

	body := []byte("hello acoustic world")
	bits := frame.WrapFrame(body)

	channelBits := frame.Interleave(bits, prof.NumChannels)
	numSlots := len(channelBits[0])

	demod := NewDemodulator(prof, calib)
	var delivered []byte
	demod.OnPacket(func(b []byte) { delivered = append(delivered, b...) })

	for s := 0; s < numSlots; s++ {
		var slotBits string
		for c := 0; c < prof.NumChannels; c++ {
			slotBits += string(channelBits[c][s])
		}
		demod.ProcessSpectrumTick(spectrumFromTones(prof, calib, slotBits))
	}

	assert.Equal(t, body, delivered)
	_ = mod // modulator constructed to confirm NewModulator accepts this calibration
}

func TestModulatorDemodulatorQPSKRoundTrip(t *testing.T) {
	prof := profile.FAST() // QPSK, 8 channels
	calib := fskResult(prof.NumChannels)

	mod, err := NewModulator(prof, calib, false)
	require.NoError(t, err)

	body := []byte("qpsk round trip")
	bits := frame.WrapFrame(body)
	pcm := mod.Modulate(bits)

	sampleRate := profile.AudioParams.SampleRateHz
	slotSamples := int(float64(sampleRate)*float64(prof.SymbolDurationMs)/1000.0 + 0.5)

	demod := NewDemodulator(prof, calib)
	var delivered []byte
	demod.OnPacket(func(b []byte) { delivered = append(delivered, b...) })

	for off := 0; off+slotSamples <= len(pcm); off += slotSamples {
		window := make([]float64, slotSamples)
		for i := 0; i < slotSamples; i++ {
			window[i] = float64(pcm[off+i])
		}
		demod.ProcessSymbolWindow(window)
	}

	assert.Equal(t, body, delivered)
}

func TestModulatorModulateProducesSamples(t *testing.T) {
	prof := profile.FAST()
	calib := fskResult(prof.NumChannels)
	mod, err := NewModulator(prof, calib, false)
	require.NoError(t, err)

	samples := mod.Modulate(frame.WrapFrame([]byte("x")))
	assert.NotEmpty(t, samples)

	preamble := mod.Preamble()
	assert.NotEmpty(t, preamble)
}

func TestNewModulatorRejectsMismatchedCalibration(t *testing.T) {
	prof := profile.STANDARD()
	calib := fskResult(prof.NumChannels + 1)
	_, err := NewModulator(prof, calib, false)
	assert.Error(t, err)
}

func TestQPSKSymbolizeAndPhaseRoundTrip(t *testing.T) {
	bits := "1011"
	syms := symbolize(bits, 2)
	require.Equal(t, []int{2, 3}, syms)

	for _, sym := range syms {
		_, phase := toneParams(profile.QPSK, 5000, sym)
		assert.InDelta(t, float64(sym)*1.5707963267948966, phase, 1e-9)
	}
}

func TestPowerControllerFixedWhenNotAdaptive(t *testing.T) {
	pc := NewPowerController(false)
	pc.ReportSNR(0)
	assert.Equal(t, FixedPower, pc.Power())
}

func TestPowerControllerAdaptsWithinBounds(t *testing.T) {
	pc := NewPowerController(true)
	start := pc.Power()

	pc.ReportSNR(TargetSNRdB - 10)
	assert.Greater(t, pc.Power(), start)

	for i := 0; i < 50; i++ {
		pc.ReportSNR(0)
	}
	assert.LessOrEqual(t, pc.Power(), MaxPower)

	for i := 0; i < 50; i++ {
		pc.ReportSNR(40)
	}
	assert.GreaterOrEqual(t, pc.Power(), MinPower)
}

func TestRawFSKChannelDistinguishesMarkFromSpace(t *testing.T) {
	carrier := 3000.0
	sampleRate := float64(profile.AudioParams.SampleRateHz)
	n := 2000

	markCh := newRawFSKChannel(carrier, sampleRate)
	markOnes := 0
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		v := math.Cos(2 * math.Pi * (carrier + profile.AudioParams.FSKDeviationHz) * t)
		if bit, active := markCh.step(v); active && bit == '1' {
			markOnes++
		}
	}

	spaceCh := newRawFSKChannel(carrier, sampleRate)
	spaceOnes := 0
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		v := math.Cos(2 * math.Pi * (carrier - profile.AudioParams.FSKDeviationHz) * t)
		if bit, active := spaceCh.step(v); active && bit == '1' {
			spaceOnes++
		}
	}

	assert.Greater(t, markOnes, spaceOnes)
}

func TestRawFSKFrontEndProcessSymbolWindowDoesNotPanic(t *testing.T) {
	prof := profile.STANDARD()
	calib := fskResult(prof.NumChannels)
	demod := NewDemodulator(prof, calib)
	front := NewRawFSKFrontEnd(demod)

	sampleRate := float64(profile.AudioParams.SampleRateHz)
	window := make([]float64, int(sampleRate*float64(prof.SymbolDurationMs)/1000.0))
	for i := range window {
		t := float64(i) / sampleRate
		window[i] = math.Cos(2 * math.Pi * (calib.Frequencies[0] + profile.AudioParams.FSKDeviationHz) * t)
	}

	assert.NotPanics(t, func() { front.ProcessSymbolWindow(window) })
}

func TestPowerControllerDeadbandHoldsSteady(t *testing.T) {
	pc := NewPowerController(true)
	before := pc.Power()
	pc.ReportSNR(TargetSNRdB + 1)
	assert.Equal(t, before, pc.Power())
}
