package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRUTCanonicalizes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12.345.678-5", "12345678-5"},
		{"12345678-5", "12345678-5"},
		{" 12345678-5 ", "12345678-5"},
		{"1.000.005-k", "1000005-K"},
		{"1000005K", "1000005-K"},
	}
	for _, tc := range cases {
		got, err := NormalizeRUT(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeRUTSameIDCollides(t *testing.T) {
	a, err := NormalizeRUT("12.345.678-5")
	require.NoError(t, err)
	b, err := NormalizeRUT("12345678-5")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeRUTRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"123",
		"12345678-9",  // wrong check digit
		"1234567X-5",  // non-digit in body
		"abcdefgh-5",
	}
	for _, in := range cases {
		_, err := NormalizeRUT(in)
		assert.ErrorIs(t, err, ErrInvalidRUT, "input %q", in)
	}
}
