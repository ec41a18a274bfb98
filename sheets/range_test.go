package sheets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{52, "AZ"},
		{53, "BA"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, columnLetter(tc.n), "columnLetter(%d)", tc.n)
	}
}

func TestRanges(t *testing.T) {
	require.Equal(t, "habits!A1:I1", headerRange("habits", 9))
	require.Equal(t, "habits!A2:I", dataRange("habits", 9))
	// logical row 0 is physical row 2 (header + 1-based origin)
	require.Equal(t, "habits!A2:I2", rowRange("habits", 0, 9))
	require.Equal(t, "habits!A7:I7", rowRange("habits", 5, 9))
}

func TestPadRow(t *testing.T) {
	require.Equal(t, []string{"a", "", ""}, padRow([]string{"a"}, 3))
	require.Equal(t, []string{"a", "b", "c"}, padRow([]string{"a", "b", "c"}, 3))
	require.Equal(t, []string{"a", "b", "c", "d"}, padRow([]string{"a", "b", "c", "d"}, 3))
}
