package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToSmallestUnit(t *testing.T) {
	cases := []struct {
		human    string
		decimals int
		want     string
	}{
		{"5", 6, "5000000"},
		{"5.25", 6, "5250000"},
		{"0.000001", 6, "1"},
		{"10000", 18, "10000000000000000000000"},
		{"0", 6, "0"},
		{".5", 6, "500000"},
	}
	for _, tc := range cases {
		got, err := ToSmallestUnit(tc.human, tc.decimals)
		require.NoError(t, err, "input %q", tc.human)
		require.Equal(t, tc.want, got, "input %q", tc.human)
	}
}

func TestToSmallestUnitRejectsBadInput(t *testing.T) {
	for _, bad := range []string{"", "-1", "1.2345678", "abc"} {
		_, err := ToSmallestUnit(bad, 6)
		require.Error(t, err, "input %q", bad)
	}
}

func TestFromSmallestUnitRoundTrip(t *testing.T) {
	for _, human := range []string{"5", "5.25", "0.000001", "123456.789"} {
		raw, err := ToSmallestUnit(human, 6)
		require.NoError(t, err)
		back, err := FromSmallestUnit(raw, 6)
		require.NoError(t, err)
		require.Equal(t, human, back)
	}
}

func TestSmallestUnitDiff(t *testing.T) {
	d, err := SmallestUnitDiff("5000000", "5010000")
	require.NoError(t, err)
	require.Equal(t, "10000", d.String())

	d, err = SmallestUnitDiff("5000000", "5000000")
	require.NoError(t, err)
	require.Equal(t, "0", d.String())
}
