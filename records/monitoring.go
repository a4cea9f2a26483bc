package records

import (
	"encoding/json"
)

type TableStats struct {
	Rows      int
	DataSize  int64
	DataAlloc int64
}

// BucketStats reports on a table's bucket by name, including buckets of
// tables that are not (or no longer) in the schema.
func (tx *Tx) BucketStats(name string) TableStats {
	buck := tx.stx.Bucket(name)
	if buck == nil {
		return TableStats{}
	}
	bs := buck.Stats()
	return TableStats{
		Rows:      bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc,
	}
}

func (tx *Tx) TableStats(tbl *Table) TableStats {
	return tx.BucketStats(tbl.name)
}

// Buckets lists the names of all stored tables.
func (tx *Tx) Buckets() ([]string, error) {
	return tx.stx.Buckets()
}

func (tx *Tx) Size() int64 {
	return tx.stx.Size()
}

func loggableRow(tbl *Table, row any) string {
	if row == nil {
		return "<none>"
	}
	if tbl.suppressContent {
		return "<suppressed>"
	}
	return string(must(json.Marshal(row)))
}
