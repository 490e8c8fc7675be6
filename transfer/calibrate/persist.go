package calibrate

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serialize renders a calibration Result to YAML. Preset storage (naming,
// timestamps, environment tags) is a host concern; the core only offers
// this and Deserialize as a stable encoding for the result itself.
func Serialize(r Result) ([]byte, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("calibrate: serialize: %w", err)
	}
	return out, nil
}

// Deserialize inverts Serialize.
func Deserialize(b []byte) (Result, error) {
	var r Result
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Result{}, fmt.Errorf("calibrate: deserialize: %w", err)
	}
	return r, nil
}
