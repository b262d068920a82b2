package window

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	ret := make([]int, n)
	for i := range ret {
		ret[i] = i
	}
	return ret
}

func TestSelect_ShortTranscriptUnchanged(t *testing.T) {
	got, err := Select([]string{"hi", "hello"}, DefaultSize)
	require.NoError(t, err)
	require.Equal(t, []string{"hi", "hello"}, got)
}

func TestSelect_TwentyFiveMessages(t *testing.T) {
	items := seq(25)
	got, err := Select(items, 20)
	require.NoError(t, err)
	require.Len(t, got, 20)
	require.Equal(t, 0, got[0])
	require.Equal(t, items[6:], got[1:])
}

func TestSelect_Properties(t *testing.T) {
	for l := 0; l <= 30; l++ {
		for n := 1; n <= 25; n++ {
			t.Run(fmt.Sprintf("L=%d,N=%d", l, n), func(t *testing.T) {
				items := seq(l)
				got, err := Select(items, n)
				require.NoError(t, err)
				require.Len(t, got, min(l, n))
				if l > n {
					require.Equal(t, items[0], got[0])
					require.Equal(t, items[l-(n-1):], got[1:])
				}
			})
		}
	}
}

func TestSelect_SizeOneKeepsFirst(t *testing.T) {
	got, err := Select(seq(5), 1)
	require.NoError(t, err)
	require.Equal(t, []int{0}, got)
}

func TestSelect_InvalidSize(t *testing.T) {
	_, err := Select(seq(3), 0)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = Select(seq(3), -4)
	require.ErrorIs(t, err, ErrInvalidSize)
	require.ErrorIs(t, Validate(0), ErrInvalidSize)
	require.NoError(t, Validate(1))
	require.Panics(t, func() { MustSelect(seq(3), 0) })
}

func TestSelect_DoesNotMutateInput(t *testing.T) {
	items := seq(10)
	got, err := Select(items, 4)
	require.NoError(t, err)
	got[0] = 99
	require.Equal(t, 0, items[0])
}
