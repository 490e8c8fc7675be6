package modem

// Power bounds and the SNR feedback loop target. MinPower/MaxPower bracket
// the fixed default of 0.10 used when adaptive power is disabled.
const (
	MinPower    = 0.02
	MaxPower    = 0.5
	FixedPower  = 0.10
	TargetSNRdB = 15.0

	snrDeadbandDB = 2.0
	increaseRatio = 1.1
	decreaseRatio = 0.9
)

// PowerController maintains the single per-oscillator amplitude scalar
// the modulator uses, optionally adapting it from reception SNR feedback.
type PowerController struct {
	adaptive bool
	power    float64
}

// NewPowerController returns a controller. When adaptive is false, Power
// always reports FixedPower regardless of any ReportSNR calls.
func NewPowerController(adaptive bool) *PowerController {
	return &PowerController{adaptive: adaptive, power: FixedPower}
}

// Power returns the current per-oscillator amplitude scalar.
func (p *PowerController) Power() float64 {
	if !p.adaptive {
		return FixedPower
	}
	return p.power
}

// ReportSNR feeds back a measured reception SNR in dB (via the host's
// optional callback) and updates power per the deadband/multiply rule.
// No-op when adaptive power is disabled.
func (p *PowerController) ReportSNR(snrDB float64) {
	if !p.adaptive {
		return
	}
	delta := TargetSNRdB - snrDB
	if delta > -snrDeadbandDB && delta < snrDeadbandDB {
		return
	}
	if snrDB < TargetSNRdB {
		p.power *= increaseRatio
	} else {
		p.power *= decreaseRatio
	}
	if p.power < MinPower {
		p.power = MinPower
	}
	if p.power > MaxPower {
		p.power = MaxPower
	}
}
