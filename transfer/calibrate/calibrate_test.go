package calibrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// fakeSource returns a synthetic noise floor with a quiet notch around
// quietFreqHz, so calibration should land its base frequency there.
type fakeSource struct {
	binHz      float64
	bins       int
	quietFreq  float64
	quietWidth float64
}

func (f *fakeSource) NextSpectrum(ctx context.Context) (SpectrumSample, error) {
	mags := make([]float64, f.bins)
	for i := range mags {
		freq := float64(i) * f.binHz
		if freq >= f.quietFreq && freq < f.quietFreq+f.quietWidth {
			mags[i] = 10
		} else {
			mags[i] = 150
		}
	}
	return SpectrumSample{Magnitudes: mags, BinHz: f.binHz}, nil
}

func testProfile() profile.Profile {
	p := profile.Profile{
		Name:             "TEST",
		NumChannels:      4,
		ChannelSpacingHz: 200,
		SymbolDurationMs: 20,
		ModulationName:   "FSK",
		ChunkSize:        64,
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func TestCalibrateSelectsQuietBand(t *testing.T) {
	binHz := float64(profile.AudioParams.SampleRateHz) / float64(profile.AudioParams.FFTSize)
	src := &fakeSource{
		binHz:      binHz,
		bins:       profile.AudioParams.FFTSize/2 + 1,
		quietFreq:  5000,
		quietWidth: 1000,
	}

	prof := testProfile()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := Calibrate(ctx, 120*time.Millisecond, prof, src)
	require.NoError(t, err)
	require.Len(t, res.Frequencies, prof.NumChannels)

	assert.GreaterOrEqual(t, res.Frequencies[0], 5000.0-200)
	assert.LessOrEqual(t, res.Frequencies[len(res.Frequencies)-1], 6000.0+200)

	for i := 1; i < len(res.Frequencies); i++ {
		assert.Equal(t, float64(prof.ChannelSpacingHz), res.Frequencies[i]-res.Frequencies[i-1])
	}
}

func TestCalibrateNoViableBand(t *testing.T) {
	prof := profile.Profile{
		Name:             "HUGE",
		NumChannels:      16,
		ChannelSpacingHz: 1000, // span way past FreqMax
		SymbolDurationMs: 20,
		ModulationName:   "FSK",
	}
	require.NoError(t, prof.Validate())

	src := &fakeSource{binHz: 5.38, bins: 4097, quietFreq: 5000, quietWidth: 500}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Calibrate(ctx, 60*time.Millisecond, prof, src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoViableBand)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	r := Result{Frequencies: []float64{2000, 2200, 2400, 2600}, NoiseFloor: []float64{1, 2, 3}, BinHz: 5.38}
	b, err := Serialize(r)
	require.NoError(t, err)

	got, err := Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}
