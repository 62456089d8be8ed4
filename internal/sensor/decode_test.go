package sensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{"dist prefix", "DIST:23.5", DistanceSample(23.5, "DIST:23.5")},
		{"dist prefix with spaces", "DIST: 42 \r\n", DistanceSample(42, "DIST: 42")},
		{"dist out of range still reported", "DIST:500", DistanceSample(500, "DIST:500")},
		{"dist malformed", "DIST:abc", Unrecognized("DIST:abc")},
		{"dist empty", "DIST:", Unrecognized("DIST:")},
		{"dist nan", "DIST:NaN", Unrecognized("DIST:NaN")},
		{"dist hex float", "DIST:0x1p3", Unrecognized("DIST:0x1p3")},
		{"bare integer", "17", DistanceSample(17, "17")},
		{"bare decimal", "17.25", DistanceSample(17.25, "17.25")},
		{"bare negative", "-5", DistanceSample(-5, "-5")},
		{"two dots", "1.2.3", Unrecognized("1.2.3")},
		{"lone dash", "-", Unrecognized("-")},
		{"ok upper", "OK", ResultToken(true, "OK")},
		{"ok lower", "ok", ResultToken(true, "ok")},
		{"non", "NON", ResultToken(false, "NON")},
		{"non mixed case", "Non", ResultToken(false, "Non")},
		{"ok is exact", "OK!", Unrecognized("OK!")},
		{"distance pattern", "Distance: 12.5 cm", DistanceSample(12.5, "Distance: 12.5 cm")},
		{"distance pattern case", "distance:8CM", DistanceSample(8, "distance:8CM")},
		{"cm pattern", "echo 33 cm", DistanceSample(33, "echo 33 cm")},
		{"cm pattern no space", "range=7.5cm", DistanceSample(7.5, "range=7.5cm")},
		{"free text", "Sensor ready", Unrecognized("Sensor ready")},
		{"empty", "", Unrecognized("")},
		{"invalid utf8 dropped", "DIST:1\xff2", DistanceSample(12, "DIST:12")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestDecodeOrder(t *testing.T) {
	// A DIST: line that also matches the cm pattern is decoded by the prefix
	// rule and keeps its full value.
	got := Decode("DIST:99")
	if got.Kind != KindDistance || got.Distance != 99 {
		t.Fatalf("got %v", got)
	}

	// "Distance:" wins over the bare cm pattern, which would otherwise also
	// match the same digits.
	got = Decode("Distance: 3.0 cm (raw 12 cm)")
	if got.Distance != 3.0 {
		t.Errorf("Distance = %v, want 3.0", got.Distance)
	}
}

func TestEventString(t *testing.T) {
	if s := DistanceSample(23.46, "").String(); s != "distance 23.5 cm" {
		t.Errorf("String() = %q", s)
	}
	if s := ResultToken(false, "NON").String(); s != "result FAIL" {
		t.Errorf("String() = %q", s)
	}
	if s := KindUnrecognized.String(); s != "unrecognized" {
		t.Errorf("Kind.String() = %q", s)
	}
}
