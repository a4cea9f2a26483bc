package records

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeRow(buf []byte, row any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(row)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", row, err))
	}
	return bb.Buf
}

func decodeRow(buf []byte, rowPtr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(rowPtr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", rowPtr)
	}
	return nil
}

// DecodeGeneric decodes row data without knowing its Go type; structs come
// back as map[string]any.
func DecodeGeneric(data []byte) (any, error) {
	var v any
	if err := decodeRow(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
