// Package sensor turns the text lines emitted by the ultrasonic sensor
// firmware into typed events.
package sensor

import "fmt"

// Unit is the only distance unit the firmware reports.
const Unit = "cm"

// Kind identifies which variant of Event is populated.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindDistance
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindDistance:
		return "distance"
	case KindResult:
		return "result"
	default:
		return "unrecognized"
	}
}

// Event is a single decoded line. Exactly one variant is meaningful, selected
// by Kind:
//   - KindDistance: Distance holds the reported value in centimetres. The
//     value is reported as-is, range validation happens downstream.
//   - KindResult: Conforme holds the device's explicit PASS/FAIL verdict.
//   - KindUnrecognized: only Raw is set.
//
// Raw always carries the cleaned line that produced the event.
type Event struct {
	Kind     Kind
	Distance float64
	Conforme bool
	Raw      string
}

// DistanceSample builds a KindDistance event.
func DistanceSample(cm float64, raw string) Event {
	return Event{Kind: KindDistance, Distance: cm, Raw: raw}
}

// ResultToken builds a KindResult event.
func ResultToken(conforme bool, raw string) Event {
	return Event{Kind: KindResult, Conforme: conforme, Raw: raw}
}

// Unrecognized builds a KindUnrecognized event.
func Unrecognized(raw string) Event {
	return Event{Kind: KindUnrecognized, Raw: raw}
}

func (e Event) String() string {
	switch e.Kind {
	case KindDistance:
		return fmt.Sprintf("distance %.1f %s", e.Distance, Unit)
	case KindResult:
		if e.Conforme {
			return "result PASS"
		}
		return "result FAIL"
	default:
		return fmt.Sprintf("unrecognized %q", e.Raw)
	}
}
