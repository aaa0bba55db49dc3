package pkg

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInt64ToBytesPreservesOrder(t *testing.T) {
	values := []int64{math.MinInt64, -100000000, -2, -1, 0, 1, 2, 255, 256, 90000000, math.MaxInt64}

	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = Int64ToBytes(v)
	}
	shuffled := append([][]byte(nil), encoded...)
	sort.Slice(shuffled, func(i, j int) bool { return bytes.Compare(shuffled[i], shuffled[j]) < 0 })

	for i, b := range shuffled {
		got, err := BytesToInt64(b)
		require.NoError(t, err)
		require.Equal(t, values[i], got)
	}
}

func TestCompositeKeyOrder(t *testing.T) {
	keys := [][]byte{
		Key(2, 0, 0),
		Key(1, 10, 3),
		Key(1, 9, 100),
		Key(1, 10, 2),
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var got [][]int64
	for _, k := range keys {
		parts, err := SplitKey(k, 3)
		require.NoError(t, err)
		got = append(got, parts)
	}
	require.Equal(t, [][]int64{{1, 9, 100}, {1, 10, 2}, {1, 10, 3}, {2, 0, 0}}, got)
}

func TestSplitKeyRejectsWrongWidth(t *testing.T) {
	_, err := SplitKey(Key(1, 2), 3)
	require.Error(t, err)

	_, err = BytesToInt64([]byte{1, 2})
	require.Error(t, err)
}

func TestKeyWithSuffix(t *testing.T) {
	id, addr, err := SplitKeyWithSuffix(KeyWithSuffix(42, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"))
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", addr)

	require.True(t, bytes.HasPrefix(KeyWithSuffix(7, "x"), Key(7)))
}
