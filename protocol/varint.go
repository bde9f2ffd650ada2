package protocol

import "fmt"

// MaxVarintLen is the longest length prefix a frame may carry.
const MaxVarintLen = 10

// AppendUvarint appends v to buf as a length prefix: seven bits per byte,
// low group first, high bit set on every byte but the last.
func AppendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// DecodeUvarint reads the length prefix at the start of buf and returns its
// value and size in bytes. A prefix cut short wraps ErrIncompleteFrame; one
// that does not fit in 64 bits wraps ErrVarintOverflow.
func DecodeUvarint(buf []byte) (uint64, int, error) {
	var v uint64

	for i := 0; i < len(buf) && i < MaxVarintLen; i++ {
		b := buf[i]
		// the tenth byte holds the single remaining bit
		if i == MaxVarintLen-1 && b > 0x01 {
			return 0, 0, fmt.Errorf("length prefix byte %d is %#x: %w", i, b, ErrVarintOverflow)
		}
		v |= uint64(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, i + 1, nil
		}
	}

	if len(buf) >= MaxVarintLen {
		return 0, 0, fmt.Errorf("length prefix longer than %d bytes: %w", MaxVarintLen, ErrVarintOverflow)
	}
	return 0, 0, fmt.Errorf("length prefix cut after %d bytes: %w", len(buf), ErrIncompleteFrame)
}

func uvarintSize(v uint64) int {
	n := 1
	for ; v >= 0x80; v >>= 7 {
		n++
	}
	return n
}
