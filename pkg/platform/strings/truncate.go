package strings

import "fmt"

// MinTruncateLength is the smallest cap Truncate accepts. Below this there is
// no room left for the truncation suffix plus a useful prefix of the input.
const MinTruncateLength = 50

// Truncate caps s at max characters. Input at or under the cap is returned
// unchanged; longer input is cut and suffixed with a marker recording the
// original length, so the result is exactly max characters. A cap under
// MinTruncateLength is a caller bug and returns an error.
//
// Server error bodies are the main customer here: some PIMS failure modes
// relay multi-kilobyte HTML pages which would otherwise end up verbatim in
// error chains and logs.
func Truncate(s string, max int) (string, error) {
	if max < MinTruncateLength {
		return "", fmt.Errorf("truncate cap %d is below the minimum of %d", max, MinTruncateLength)
	}
	if len(s) <= max {
		return s, nil
	}
	suffix := fmt.Sprintf("... (truncated from %d chars)", len(s))
	return s[:max-len(suffix)] + suffix, nil
}
