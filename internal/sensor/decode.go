package sensor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const distPrefix = "DIST:"

// distancePatterns are tried in order against free-form lines such as
// "Distance: 12.3 cm" or "12 cm".
var distancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Distance:\s*(\d+\.?\d*)\s*cm`),
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*cm`),
}

// Clean drops invalid UTF-8 and surrounding whitespace (including the \r
// some firmwares append before \n).
func Clean(raw string) string {
	return strings.TrimSpace(strings.ToValidUTF8(raw, ""))
}

// Decode classifies one line. Recognition order, first match wins:
//
//  1. "DIST:<number>"
//  2. a bare number (digits, at most one '.', optional leading '-')
//  3. "OK" / "NON", case-insensitive
//  4. "Distance: <n> cm" or "<n> cm", case-insensitive
//  5. anything else is Unrecognized
//
// Decode never fails: a number that does not parse degrades to Unrecognized.
func Decode(raw string) Event {
	line := Clean(raw)

	if rest, ok := strings.CutPrefix(line, distPrefix); ok {
		if v, ok := parseDistance(strings.TrimSpace(rest)); ok {
			return DistanceSample(v, line)
		}
		return Unrecognized(line)
	}

	if isNumeric(line) {
		if v, ok := parseDistance(line); ok {
			return DistanceSample(v, line)
		}
		return Unrecognized(line)
	}

	switch {
	case strings.EqualFold(line, "OK"):
		return ResultToken(true, line)
	case strings.EqualFold(line, "NON"):
		return ResultToken(false, line)
	}

	for _, re := range distancePatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, ok := parseDistance(m[1]); ok {
			return DistanceSample(v, line)
		}
	}

	return Unrecognized(line)
}

// parseDistance rejects anything strconv accepts that a sensor would never
// send (NaN, Inf, hex floats).
func parseDistance(s string) (float64, bool) {
	if s == "" || strings.ContainsAny(s, "xXpP_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// isNumeric reports whether s is made only of digits with at most one '.'
// and at most one leading '-', and contains at least one digit.
func isNumeric(s string) bool {
	s = strings.TrimPrefix(s, "-")
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}
