// Package calibrate samples the ambient acoustic spectrum and selects the
// carrier frequencies a Profile will use.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cwsl/acoustictransfer/transfer/profile"
)

// QuickDuration is a short probe suited to receiver startup; FullDuration
// is a longer probe for a deliberate recalibration.
const (
	QuickDuration = 2000 * time.Millisecond
	FullDuration  = 3000 * time.Millisecond

	sampleInterval = 50 * time.Millisecond
	scanStepHz     = 50.0
)

// ErrNoViableBand is returned when the search range [FreqMin, FreqMax]
// cannot accommodate the profile's channel count and spacing.
var ErrNoViableBand = errors.New("calibrate: no viable frequency band for this profile")

// SpectrumSample is one magnitude-spectrum frame as delivered by the host
// audio source: 0-255 magnitudes over the positive-frequency half of an
// 8192-point FFT at 44,100 Hz.
type SpectrumSample struct {
	Magnitudes []float64
	BinHz      float64
}

// SpectrumSource is the external collaborator that owns microphone
// acquisition and FFT computation; the core only consumes frames.
type SpectrumSource interface {
	NextSpectrum(ctx context.Context) (SpectrumSample, error)
}

// Result is the outcome of a calibration pass.
type Result struct {
	Frequencies []float64 `yaml:"frequencies" json:"frequencies"`
	NoiseFloor  []float64 `yaml:"noise_floor" json:"noise_floor"`
	BinHz       float64   `yaml:"bin_hz" json:"bin_hz"`
}

// Calibrate records the ambient spectrum for duration and selects the base
// frequency (and hence the N contiguous carriers) with the lowest mean
// noise across the candidate band.
func Calibrate(ctx context.Context, duration time.Duration, prof profile.Profile, src SpectrumSource) (Result, error) {
	deadline := time.Now().Add(duration)

	var sumMags []float64
	var binHz float64
	samples := 0

	for time.Now().Before(deadline) {
		sample, err := src.NextSpectrum(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("calibrate: read spectrum: %w", err)
		}
		if sumMags == nil {
			sumMags = make([]float64, len(sample.Magnitudes))
			binHz = sample.BinHz
		}
		for i, m := range sample.Magnitudes {
			if i < len(sumMags) {
				sumMags[i] += m
			}
		}
		samples++

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(sampleInterval):
		}
	}

	if samples == 0 || binHz <= 0 {
		return Result{}, fmt.Errorf("calibrate: no spectrum samples collected")
	}
	noiseFloor := make([]float64, len(sumMags))
	for i, s := range sumMags {
		noiseFloor[i] = s / float64(samples)
	}

	freqs, err := selectBand(noiseFloor, binHz, prof)
	if err != nil {
		return Result{}, err
	}

	log.Printf("[Calibrator] selected base %.0f Hz, %d channels spaced %d Hz",
		freqs[0], prof.NumChannels, prof.ChannelSpacingHz)

	return Result{Frequencies: freqs, NoiseFloor: noiseFloor, BinHz: binHz}, nil
}

// selectBand scans candidate base frequencies in scanStepHz steps and picks
// the one whose N carrier bins have the lowest mean noise, ties broken by
// the lower base frequency.
func selectBand(noiseFloor []float64, binHz float64, prof profile.Profile) ([]float64, error) {
	span := float64(prof.NumChannels-1) * float64(prof.ChannelSpacingHz)
	highestBase := profile.AudioParams.FreqMaxHz - span
	if highestBase < profile.AudioParams.FreqMinHz {
		return nil, ErrNoViableBand
	}

	bestMean := -1.0
	bestBase := 0.0

	for base := profile.AudioParams.FreqMinHz; base <= highestBase+1e-9; base += scanStepHz {
		mean := 0.0
		for c := 0; c < prof.NumChannels; c++ {
			freq := base + float64(c*prof.ChannelSpacingHz)
			bin := int(freq/binHz + 0.5)
			if bin < 0 {
				bin = 0
			}
			if bin >= len(noiseFloor) {
				bin = len(noiseFloor) - 1
			}
			mean += noiseFloor[bin]
		}
		mean /= float64(prof.NumChannels)

		if bestMean < 0 || mean < bestMean {
			bestMean = mean
			bestBase = base
		}
	}

	freqs := make([]float64, prof.NumChannels)
	for c := range freqs {
		freqs[c] = bestBase + float64(c*prof.ChannelSpacingHz)
	}
	return freqs, nil
}
