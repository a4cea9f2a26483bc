package records

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var dumpSep1 = strings.Repeat("=", 80)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// RawRow is a stored row decoded without knowing its Go type.
type RawRow struct {
	Key  Key
	Meta ValueMeta
	Data []byte
}

// Generic decodes the row data into maps and slices.
func (r RawRow) Generic() (any, error) {
	return DecodeGeneric(r.Data)
}

// ForEachRaw visits the stored rows of a bucket in key order. Staged writes
// are not visible.
func (tx *Tx) ForEachRaw(bucket string, f func(r RawRow) error) error {
	if tx.closed {
		return ErrTxClosed
	}
	buck := tx.stx.Bucket(bucket)
	if buck == nil {
		return nil
	}
	return buck.ForEach(func(k, v []byte) error {
		key, err := decodeKey(k)
		if err != nil {
			return &TableError{Table: bucket, Msg: fmt.Sprintf("invalid key %s", hexstr(k)), Err: err}
		}
		var vle value
		if err := vle.decode(v); err != nil {
			return &TableError{Table: bucket, Key: key, Err: err}
		}
		return f(RawRow{Key: key, Meta: vle.ValueMeta(), Data: vle.Data})
	})
}

// Dump writes every stored bucket in a human-readable form. Rows are shown
// as JSON decoded generically, so it works without the row types.
func (tx *Tx) Dump(w io.Writer, f DumpFlags) error {
	names, err := tx.Buckets()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := tx.dumpBucket(w, name, f); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) dumpBucket(w io.Writer, name string, f DumpFlags) error {
	s := tx.BucketStats(name)
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", name, s.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, data_alloc = %d\n", name, s.DataSize, s.DataAlloc)
	}
	if !f.Contains(DumpRows) {
		return nil
	}
	var rowPos int
	return tx.ForEachRaw(name, func(r RawRow) error {
		rowPos++
		v, err := r.Generic()
		if err != nil {
			fmt.Fprintf(w, "%s.%d %v = (m%d s%d) ** ERROR: %v\n", name, rowPos, r.Key, r.Meta.ModCount, r.Meta.SchemaVer, err)
			return nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s.%d %v = (m%d s%d) %s\n", name, rowPos, r.Key, r.Meta.ModCount, r.Meta.SchemaVer, raw)
		return nil
	})
}
