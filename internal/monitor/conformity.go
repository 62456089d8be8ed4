package monitor

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when a threshold pair is rejected.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Result is the outcome of a conformity test.
type Result string

const (
	Pass Result = "PASS"
	Fail Result = "FAIL"
)

// ResultOf maps the device's conforme flag to a Result.
func ResultOf(conforme bool) Result {
	if conforme {
		return Pass
	}
	return Fail
}

// Conforme reports whether r is a PASS.
func (r Result) Conforme() bool { return r == Pass }

// Thresholds is the inclusive [Min, Max] band a distance must fall in to
// pass.
type Thresholds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultThresholds returns the factory band of 10–50 cm.
func DefaultThresholds() Thresholds {
	return Thresholds{Min: 10, Max: 50}
}

// Validate enforces 0 <= Min < Max.
func (t Thresholds) Validate() error {
	if t.Min < 0 || t.Max < 0 {
		return fmt.Errorf("%w: values must be positive (min=%.1f, max=%.1f)", ErrInvalidThresholds, t.Min, t.Max)
	}
	if !(t.Min < t.Max) {
		return fmt.Errorf("%w: minimum %.1f must be less than maximum %.1f", ErrInvalidThresholds, t.Min, t.Max)
	}
	return nil
}

// Evaluate returns Pass iff t.Min <= distance <= t.Max.
func Evaluate(distance float64, t Thresholds) Result {
	if t.Min <= distance && distance <= t.Max {
		return Pass
	}
	return Fail
}
