package fftchan

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/profile"
)

func TestChannelNextSpectrumDetectsInjectedTone(t *testing.T) {
	ch := New(0, 1)

	const freq = 4000.0
	const amp = 0.2
	n := profile.AudioParams.FFTSize * 2
	pcm := make([]float32, n)
	for i := range pcm {
		tt := float64(i) / float64(profile.AudioParams.SampleRateHz)
		pcm[i] = float32(amp * math.Cos(2*math.Pi*freq*tt))
	}
	require.NoError(t, ch.PlaySamples(pcm, profile.AudioParams.SampleRateHz))

	s, err := ch.NextSpectrum(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, s.Magnitudes)

	bin := int(freq/s.BinHz + 0.5)
	require.Less(t, bin, len(s.Magnitudes))
	assert.Greater(t, s.Magnitudes[bin], profile.AudioParams.SignalThreshold)

	quietBin := int(2500.0/s.BinHz + 0.5)
	assert.Less(t, s.Magnitudes[quietBin], profile.AudioParams.SignalThreshold)
}

func TestChannelRawSamplesAdvancesAndExhausts(t *testing.T) {
	ch := New(0, 1)
	require.NoError(t, ch.PlaySamples(make([]float32, 100), profile.AudioParams.SampleRateHz))

	chunk, ok := ch.RawSamples(40)
	require.True(t, ok)
	assert.Len(t, chunk, 40)
	assert.False(t, ch.Done())

	_, ok = ch.RawSamples(40)
	require.True(t, ok)
	assert.True(t, ch.Done())

	_, ok = ch.RawSamples(40)
	assert.False(t, ok)
}

func TestChannelResetReadRewindsCursor(t *testing.T) {
	ch := New(0, 1)
	require.NoError(t, ch.PlaySamples(make([]float32, 50), profile.AudioParams.SampleRateHz))

	_, ok := ch.RawSamples(50)
	require.True(t, ok)
	assert.True(t, ch.Done())

	ch.ResetRead()
	assert.False(t, ch.Done())
}

func TestCalibrateOverFFTChannelSelectsViableBand(t *testing.T) {
	ch := New(0.01, 7)
	prof := profile.STANDARD()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := calibrate.Calibrate(ctx, 150*time.Millisecond, prof, ch)
	require.NoError(t, err)
	require.Len(t, result.Frequencies, prof.NumChannels)

	for i := 1; i < len(result.Frequencies); i++ {
		assert.Equal(t, float64(prof.ChannelSpacingHz), result.Frequencies[i]-result.Frequencies[i-1])
	}
}

func TestCalibrateOverFFTChannelNoViableBand(t *testing.T) {
	ch := New(0, 1)
	prof := profile.Profile{
		Name:             "HUGE",
		NumChannels:      16,
		ChannelSpacingHz: 1000,
		SymbolDurationMs: 20,
		ModulationName:   "FSK",
	}
	require.NoError(t, prof.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := calibrate.Calibrate(ctx, 60*time.Millisecond, prof, ch)
	require.Error(t, err)
	assert.ErrorIs(t, err, calibrate.ErrNoViableBand)
}
