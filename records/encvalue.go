package records

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	valueFormatVer1      = 1
	valueFormatVerLatest = valueFormatVer1
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfCompressionBit0

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfZstd          = vfCompressionBit0
	vfSupportedMask = (vfVer1 | vfZstd)
	vfDefault       = vfVer1

	minValueSize     = 12
	maxSchemaVersion = 32768 // just a sanity value, can be increased
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

func (vf valueFlags) compressed() bool {
	return vf&vfZstd != 0
}

// value layout:
//
//	flags schemaVer modCount storedSize (uvarints) checksum (8 bytes BE) stored
//
// The checksum is xxhash64 of the stored bytes, which are the msgpack data,
// zstd-compressed when vfZstd is set.
type value struct {
	Flags     valueFlags
	SchemaVer uint64
	ModCount  uint64
	Data      []byte
}

type ValueMeta struct {
	SchemaVer uint64
	ModCount  uint64
}

func (vle value) ValueMeta() ValueMeta {
	return ValueMeta{
		SchemaVer: vle.SchemaVer,
		ModCount:  vle.ModCount,
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEncoder = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
		zstdDecoder = must(zstd.NewReader(nil))
	})
	return zstdEncoder, zstdDecoder
}

// encodeValue builds the raw value. Data larger than compressAbove bytes is
// compressed; compressAbove <= 0 disables compression.
func encodeValue(buf []byte, vle value, compressAbove int) []byte {
	flags := vle.Flags
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	stored := vle.Data
	if compressAbove > 0 && len(stored) > compressAbove {
		enc, _ := zstdCodecs()
		compressed := enc.EncodeAll(stored, nil)
		if len(compressed) < len(stored) {
			stored = compressed
			flags |= vfZstd
		}
	}
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.AppendUvarint(buf, vle.SchemaVer)
	buf = binary.AppendUvarint(buf, vle.ModCount)
	buf = binary.AppendUvarint(buf, uint64(len(stored)))
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(stored))
	return append(buf, stored...)
}

// decode fills vle from raw. vle.Data is always the uncompressed msgpack data
// and may alias raw.
func (vle *value) decode(raw []byte) error {
	if len(raw) < minValueSize {
		return dataErrf(raw, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(raw)

	v, err := d.Uvarint("flags")
	if err != nil {
		return err
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(raw, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)
	if vle.Flags.ver() != valueFormatVerLatest {
		return dataErrf(raw, d.Off(), nil, "invalid value: unsupported format version %d", vle.Flags.ver())
	}

	v, err = d.Uvarint("schema version")
	if err != nil {
		return err
	}
	if v > maxSchemaVersion {
		return dataErrf(raw, d.Off(), nil, "invalid value: bad schema version %d", v)
	}
	vle.SchemaVer = v

	vle.ModCount, err = d.Uvarint("mod count")
	if err != nil {
		return err
	}

	size, err := d.Uvarint("data size")
	if err != nil {
		return err
	}
	sum, err := d.Fixed64("checksum")
	if err != nil {
		return err
	}
	if uint64(len(d.Buf)) != size {
		return dataErrf(raw, d.Off(), nil, "invalid value: got %d bytes of data, expected %d bytes", len(d.Buf), size)
	}
	stored := d.Buf
	if actual := xxhash.Sum64(stored); actual != sum {
		return dataErrf(raw, d.Off(), nil, "invalid value: checksum %016x, expected %016x", actual, sum)
	}

	if vle.Flags.compressed() {
		_, dec := zstdCodecs()
		data, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return dataErrf(raw, d.Off(), err, "invalid value: cannot decompress")
		}
		vle.Data = data
	} else {
		vle.Data = stored
	}
	return nil
}
