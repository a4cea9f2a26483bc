package records

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func splitByte(s string, sep byte) (string, string, bool) {
	head, tail, found := strings.Cut(s, string(sep))
	return head, tail, found
}

func hexstr(b []byte) string {
	switch {
	case b == nil:
		return "<nil>"
	case len(b) == 0:
		return "<empty>"
	default:
		return hex.EncodeToString(b)
	}
}

// bytesBuilder lets msgpack encode straight into a reusable buffer.
type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

// byteDecoder reads a value header front to back. Errors point at the
// offset within the whole value.
type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{Orig: buf, Buf: buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid value: bad %s", what)
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Fixed64(what string) (uint64, error) {
	if len(d.Buf) < 8 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid value: truncated %s", what)
	}
	v := binary.BigEndian.Uint64(d.Buf)
	d.Buf = d.Buf[8:]
	return v, nil
}
