package records

import (
	"bytes"
)

// Persist stages row for writing into the table defined for its type.
func (tx *Tx) Persist(row any) error {
	tbl, err := tx.db.schema.TableByRow(row)
	if err != nil {
		return err
	}
	return tx.Put(tbl, row)
}

// Put stages row for writing and write-locks it. Later changes to row are
// not seen unless it is put again.
func (tx *Tx) Put(tbl *Table, row any) error {
	if tx.closed {
		return ErrTxClosed
	}
	if err := tbl.checkRow(row); err != nil {
		return err
	}
	key := tbl.keyOf(row)
	if len(key) == 0 {
		return tableErrf(tbl, nil, nil, "attempt to put a row with an empty key")
	}
	keyRaw := key.encode(nil)
	if err := tx.lock(tbl, key, keyRaw, LockWrite); err != nil {
		return err
	}
	tx.stage(&stagedWrite{
		tbl:    tbl,
		key:    key,
		keyRaw: keyRaw,
		data:   encodeRow(nil, row),
		row:    row,
	})
	return nil
}

func (tx *Tx) flushPut(w *stagedWrite) error {
	tbl := w.tbl
	buck, err := tx.stx.CreateBucket(tbl.name)
	if err != nil {
		return tableErrf(tbl, w.key, err, "creating bucket")
	}

	oldRaw, err := buck.Get(w.keyRaw)
	if err != nil {
		return tableErrf(tbl, w.key, err, "reading old value")
	}
	var old value
	if oldRaw != nil {
		if err := old.decode(oldRaw); err != nil {
			return tableErrf(tbl, w.key, err, "decoding old value")
		}
	}

	newSchemaVer := tbl.latestSchemaVer
	if oldRaw != nil && old.SchemaVer == newSchemaVer && bytes.Equal(old.Data, w.data) {
		if tx.isVerboseLoggingEnabled() {
			tx.db.logf("db: PUT.NOOP %s/%v => m=%d %s", tbl.name, w.key, old.ModCount, loggableRow(tbl, w.row))
		}
		return nil
	}
	newModCount := old.ModCount + 1

	valueRaw := encodeValue(nil, value{
		Flags:     vfDefault,
		SchemaVer: newSchemaVer,
		ModCount:  newModCount,
		Data:      w.data,
	}, tx.db.compressAbove)
	if err := buck.Put(w.keyRaw, valueRaw); err != nil {
		return tableErrf(tbl, w.key, err, "writing")
	}
	tx.db.WriteCount.Add(1)

	if tx.isVerboseLoggingEnabled() {
		tx.db.logf("db: PUT %s/%v => m=%d %s", tbl.name, w.key, newModCount, loggableRow(tbl, w.row))
	}
	if tx.changeHandler != nil {
		tx.changeHandler(&Change{table: tbl, op: OpPut, key: w.key, row: w.row})
	}
	return nil
}
