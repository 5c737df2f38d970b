package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// totalAvailable is pure arithmetic, unit-tested directly against the
// free-space invariant in §8: total_available == size - 1 - ((in - out)
// mod size).
func TestRingAvailableSpace(t *testing.T) {
	const size = 17 // P=16, Size=P+1

	cases := []struct {
		name      string
		in, out   uint32
		wantTotal uint32
	}{
		{"empty", 0, 0, 16},
		{"forward half", 5, 2, 13},
		{"wrapped", 2, 10, 7},
		{"one byte free", 15, 16, 0},
		{"one byte free, wrapped", 0, 1, 0},
	}

	r := ring{size: size}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.wantTotal, r.totalAvailable(tc.in, tc.out))
		})
	}
}

func TestRingAdvanceWraps(t *testing.T) {
	r := ring{size: 10}
	require.Equal(t, uint32(3), r.advance(7, 6))
	require.Equal(t, uint32(0), r.advance(8, 2))
	require.Equal(t, uint32(5), r.advance(0, 5))
}
