package records

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Key is a primary key: one or more string components. Components are
// compared one by one, so a parent id followed by list key values sorts all
// children of one parent together.
type Key []string

const keyStringSep = "|"

func (k Key) String() string {
	return strings.Join(k, keyStringSep)
}

func (k Key) Equal(another Key) bool {
	if len(k) != len(another) {
		return false
	}
	for i, c := range k {
		if another[i] != c {
			return false
		}
	}
	return true
}

// Encoded keys are the components back to back, followed by the lengths
// of all components but the last and then the component count. The trailing
// numbers are byte-reversed uvarints so they can be read from the end. Raw
// keys therefore sort by the first component, then the second, and so on.
func (k Key) encode(buf []byte) []byte {
	for _, c := range k {
		buf = append(buf, c...)
	}
	for i := 0; i+1 < len(k); i++ {
		buf = appendReversedUvarint(buf, uint32(len(k[i])))
	}
	return appendReversedUvarint(buf, uint32(len(k)))
}

func decodeKey(raw []byte) (Key, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	n, raw, err := trimReversedUvarint(raw)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	lens := make([]uint32, n)
	var explicit uint64
	for i := int(n) - 2; i >= 0; i-- {
		lens[i], raw, err = trimReversedUvarint(raw)
		if err != nil {
			return nil, err
		}
		explicit += uint64(lens[i])
	}
	if explicit > uint64(len(raw)) {
		return nil, fmt.Errorf("invalid key: component lengths add up to %d, only %d bytes present", explicit, len(raw))
	}
	lens[n-1] = uint32(uint64(len(raw)) - explicit)

	k := make(Key, n)
	for i, l := range lens {
		k[i], raw = string(raw[:l]), raw[l:]
	}
	return k, nil
}

func appendReversedUvarint(buf []byte, v uint32) []byte {
	off := len(buf)
	buf = binary.AppendUvarint(buf, uint64(v))
	slices.Reverse(buf[off:])
	return buf
}

func trimReversedUvarint(buf []byte) (uint32, []byte, error) {
	var vb [binary.MaxVarintLen32]byte
	n := min(len(buf), len(vb))
	if n == 0 {
		return 0, nil, fmt.Errorf("invalid key: truncated length")
	}
	for i := 0; i < n; i++ {
		vb[i] = buf[len(buf)-1-i]
	}
	v, vn := binary.Uvarint(vb[:n])
	if vn <= 0 || v > math.MaxUint32 {
		return 0, nil, fmt.Errorf("invalid key: bad length suffix in %x", buf)
	}
	return uint32(v), buf[:len(buf)-vn], nil
}

// ParseKey parses the String form of a key. It cannot represent components
// containing the separator, so it is meant for operators, not for code.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	var k Key
	for {
		head, tail, ok := splitByte(s, keyStringSep[0])
		k = append(k, head)
		if !ok {
			return k, nil
		}
		s = tail
	}
}
