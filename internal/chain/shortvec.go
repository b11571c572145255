package chain

import "errors"

var errShortVec = errors.New("malformed compact-u16")

func appendShortVec(b []byte, n int) []byte {
	v := uint16(n)
	for {
		elem := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

func readShortVec(b []byte) (int, int, error) {
	var n int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errShortVec
		}
		elem := int(b[i])
		n |= (elem & 0x7f) << (7 * i)
		if elem&0x80 == 0 {
			return n, i + 1, nil
		}
	}
	return 0, 0, errShortVec
}
