package booking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRUT means the national ID failed format or check-digit
// validation. Malformed IDs are rejected, never silently accepted.
var ErrInvalidRUT = errors.New("invalid RUT")

// NormalizeRUT canonicalizes a Chilean RUT to "NNNNNNNN-D" (no dots,
// uppercase check digit) and validates the mod-11 check digit. Two
// differently formatted inputs for the same person normalize to the
// same string, so the result is safe as a deduplication key.
func NormalizeRUT(raw string) (string, error) {
	clean := strings.ToUpper(strings.NewReplacer(".", "", "-", "", " ", "").Replace(strings.TrimSpace(raw)))
	if len(clean) < 8 {
		return "", fmt.Errorf("%w: too short", ErrInvalidRUT)
	}

	body := clean[:len(clean)-1]
	dv := clean[len(clean)-1:]

	sum := 0
	factor := 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: non-digit in body", ErrInvalidRUT)
		}
		sum += int(c-'0') * factor
		if factor < 7 {
			factor++
		} else {
			factor = 2
		}
	}

	var want string
	switch calc := 11 - sum%11; calc {
	case 11:
		want = "0"
	case 10:
		want = "K"
	default:
		want = fmt.Sprintf("%d", calc)
	}

	if dv != want {
		return "", fmt.Errorf("%w: check digit mismatch", ErrInvalidRUT)
	}

	return body + "-" + dv, nil
}
