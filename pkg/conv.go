package pkg

import (
	"encoding/binary"
	"fmt"
)

// Int64Size is the width of one encoded integer component.
const Int64Size = 8

const signBit = uint64(1) << 63

// Int64ToBytes encodes num so that the lexicographic order of the
// encodings matches the numeric order, negative values included.
func Int64ToBytes(num int64) []byte {
	return AppendInt64(make([]byte, 0, Int64Size), num)
}

// AppendInt64 appends the ordered encoding of num to b.
func AppendInt64(b []byte, num int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(num)^signBit)
}

// BytesToInt64 decodes the first eight bytes written by Int64ToBytes.
func BytesToInt64(b []byte) (int64, error) {
	if len(b) < Int64Size {
		return 0, fmt.Errorf("ordered int64: need %d bytes, got %d", Int64Size, len(b))
	}
	return int64(binary.BigEndian.Uint64(b[:Int64Size]) ^ signBit), nil
}

// Key builds a composite key of fixed-width ordered integers. Tuples
// compare component by component, so (1, 9) sorts before (2, 0).
func Key(parts ...int64) []byte {
	b := make([]byte, 0, len(parts)*Int64Size)
	for _, p := range parts {
		b = AppendInt64(b, p)
	}
	return b
}

// SplitKey decodes a composite key made of exactly n integers.
func SplitKey(b []byte, n int) ([]int64, error) {
	if len(b) != n*Int64Size {
		return nil, fmt.Errorf("composite key: want %d bytes, got %d", n*Int64Size, len(b))
	}
	parts := make([]int64, n)
	for i := range parts {
		parts[i], _ = BytesToInt64(b[i*Int64Size:])
	}
	return parts, nil
}

// KeyWithSuffix encodes id followed by a raw string component. The string
// must be the last component since it has no length prefix.
func KeyWithSuffix(id int64, suffix string) []byte {
	b := make([]byte, 0, Int64Size+len(suffix))
	b = AppendInt64(b, id)
	return append(b, suffix...)
}

// SplitKeyWithSuffix is the inverse of KeyWithSuffix.
func SplitKeyWithSuffix(b []byte) (int64, string, error) {
	id, err := BytesToInt64(b)
	if err != nil {
		return 0, "", err
	}
	return id, string(b[Int64Size:]), nil
}
