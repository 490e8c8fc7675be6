package modem

import "math"

// biquadKind selects a biquad filter response. Only the two responses the
// raw-sample FSK front end needs are implemented.
type biquadKind int

const (
	biquadLowpass biquadKind = iota
	biquadBandpass
)

// biquad is a direct-form-I biquadratic IIR filter.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func newBiquad(kind biquadKind, freq, sampleRate, q float64) *biquad {
	f := &biquad{}
	omega := 2.0 * math.Pi * freq / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2.0 * q)

	var a0 float64
	switch kind {
	case biquadLowpass:
		f.b0 = (1.0 - cosOmega) / 2.0
		f.b1 = 1.0 - cosOmega
		f.b2 = (1.0 - cosOmega) / 2.0
		a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha
	case biquadBandpass:
		f.b0 = alpha
		f.b1 = 0.0
		f.b2 = -alpha
		a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha
	}

	f.b0 /= a0
	f.b1 /= a0
	f.b2 /= a0
	f.a1 /= a0
	f.a2 /= a0
	return f
}

// Filter advances the filter state by one sample.
func (f *biquad) Filter(input float64) float64 {
	output := f.b0*input + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, input
	f.y2, f.y1 = f.y1, output
	return output
}
