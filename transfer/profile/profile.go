// Package profile defines the physical-layer parameters of an acoustic
// transfer and the fixed audio-stack constants the rest of the stack
// builds on.
package profile

import "fmt"

// Modulation selects the per-symbol bit mapping used on every channel.
type Modulation int

const (
	// FSK is 1 bit/symbol: mark/space tones.
	FSK Modulation = iota + 1
	// QPSK is 2 bits/symbol: four phase offsets.
	QPSK
	// PSK8 is 3 bits/symbol: eight phase offsets.
	PSK8
)

// BitsPerSymbol reports how many bits a single symbol on one channel carries.
func (m Modulation) BitsPerSymbol() int {
	switch m {
	case FSK:
		return 1
	case QPSK:
		return 2
	case PSK8:
		return 3
	default:
		return 0
	}
}

func (m Modulation) String() string {
	switch m {
	case FSK:
		return "FSK"
	case QPSK:
		return "QPSK"
	case PSK8:
		return "8PSK"
	default:
		return "unknown"
	}
}

// Profile is an immutable tuple of physical-layer parameters. Zero value is
// not valid; construct via Validate after populating fields or use one of
// the named presets below.
type Profile struct {
	Name              string     `yaml:"name" json:"name"`
	NumChannels       int        `yaml:"num_channels" json:"num_channels"`
	ChannelSpacingHz  int        `yaml:"channel_spacing_hz" json:"channel_spacing_hz"`
	SymbolDurationMs  int        `yaml:"symbol_duration_ms" json:"symbol_duration_ms"`
	Modulation        Modulation `yaml:"-" json:"-"`
	ModulationName    string     `yaml:"modulation" json:"modulation"`
	UseBinaryPayload  bool       `yaml:"use_binary_payload" json:"use_binary_payload"`
	ChunkSize         int        `yaml:"chunk_size" json:"chunk_size"`
	MaxRetries        int        `yaml:"max_retries" json:"max_retries"`
	CompressionMinLen int        `yaml:"compression_min_size" json:"compression_min_size"`
}

// Validate checks invariants that the rest of the stack relies on: channel
// count, bits-per-symbol, and positive timing fields.
func (p *Profile) Validate() error {
	switch p.NumChannels {
	case 4, 8, 12, 16:
	default:
		return fmt.Errorf("profile %s: num_channels must be one of 4,8,12,16, got %d", p.Name, p.NumChannels)
	}
	if p.ChannelSpacingHz <= 0 {
		return fmt.Errorf("profile %s: channel_spacing_hz must be positive", p.Name)
	}
	if p.SymbolDurationMs <= 0 {
		return fmt.Errorf("profile %s: symbol_duration_ms must be positive", p.Name)
	}
	mod, err := parseModulation(p.ModulationName)
	if err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	p.Modulation = mod
	if p.ChunkSize <= 0 {
		p.ChunkSize = 128
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.CompressionMinLen <= 0 {
		p.CompressionMinLen = DefaultCompressionMinLen
	}
	return nil
}

func parseModulation(name string) (Modulation, error) {
	switch name {
	case "FSK", "fsk":
		return FSK, nil
	case "QPSK", "qpsk":
		return QPSK, nil
	case "8PSK", "8psk", "PSK8":
		return PSK8, nil
	default:
		return 0, fmt.Errorf("unknown modulation %q", name)
	}
}

// Fixed defaults shared by all built-in profiles.
const (
	DefaultMaxRetries       = 3
	DefaultCompressionMinLen = 32
	PacketDelayMinMs         = 5
	PacketDelayMaxMs         = 10
	AckTimeoutMs             = 1000
)

// FAST trades robustness for throughput: 8 channels, QPSK, short symbols.
func FAST() Profile {
	p := Profile{
		Name:              "FAST",
		NumChannels:       8,
		ChannelSpacingHz:  150,
		SymbolDurationMs:  20,
		ModulationName:    "QPSK",
		UseBinaryPayload:  true,
		ChunkSize:         128,
		MaxRetries:        DefaultMaxRetries,
		CompressionMinLen: DefaultCompressionMinLen,
	}
	_ = p.Validate()
	return p
}

// STANDARD is the balanced default: 4 channels, FSK, base64 payloads,
// 64-byte chunks. The 400 Hz carrier spacing keeps every channel's
// mark/space tones (carrier +/- FSKDeviationHz) clear of its neighbours'.
func STANDARD() Profile {
	p := Profile{
		Name:              "STANDARD",
		NumChannels:       4,
		ChannelSpacingHz:  400,
		SymbolDurationMs:  40,
		ModulationName:    "FSK",
		UseBinaryPayload:  false,
		ChunkSize:         64,
		MaxRetries:        DefaultMaxRetries,
		CompressionMinLen: DefaultCompressionMinLen,
	}
	_ = p.Validate()
	return p
}

// ROBUST favors reliability over speed: long symbols, FSK, doubled retries.
func ROBUST() Profile {
	p := Profile{
		Name:              "ROBUST",
		NumChannels:       4,
		ChannelSpacingHz:  400,
		SymbolDurationMs:  60,
		ModulationName:    "FSK",
		UseBinaryPayload:  false,
		ChunkSize:         64,
		MaxRetries:        DefaultMaxRetries * 2,
		CompressionMinLen: DefaultCompressionMinLen,
	}
	_ = p.Validate()
	return p
}

// Named looks up one of the built-in presets by name.
func Named(name string) (Profile, error) {
	switch name {
	case "FAST":
		return FAST(), nil
	case "STANDARD":
		return STANDARD(), nil
	case "ROBUST":
		return ROBUST(), nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}

// AudioParams holds the fixed physical-audio constants normative across the
// whole stack. Changing any of these invalidates calibration.
var AudioParams = struct {
	SampleRateHz        int
	FFTSize             int
	FSKDeviationHz      float64
	FreqMinHz           float64
	FreqMaxHz           float64
	SignalThreshold     float64
	SpectrumTickHz      float64
	SmoothingTimeConst  float64
}{
	SampleRateHz:       44100,
	FFTSize:            8192,
	FSKDeviationHz:     100,
	FreqMinHz:          2000,
	FreqMaxHz:          10000,
	SignalThreshold:    80,
	SpectrumTickHz:     50,
	SmoothingTimeConst: 0.3,
}
