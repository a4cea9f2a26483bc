package records

// Delete stages the removal of row from the table defined for its type.
func (tx *Tx) Delete(row any) error {
	tbl, err := tx.db.schema.TableByRow(row)
	if err != nil {
		return err
	}
	if err := tbl.checkRow(row); err != nil {
		return err
	}
	return tx.DeleteByKey(tbl, tbl.keyOf(row))
}

// DeleteByKey stages the removal of a row and write-locks it. Deleting a
// missing row is not an error.
func (tx *Tx) DeleteByKey(tbl *Table, key Key) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return tableErrf(tbl, nil, nil, "attempt to delete a row with an empty key")
	}
	keyRaw := key.encode(nil)
	if err := tx.lock(tbl, key, keyRaw, LockWrite); err != nil {
		return err
	}
	tx.stage(&stagedWrite{
		tbl:    tbl,
		key:    key,
		keyRaw: keyRaw,
	})
	return nil
}

func (tx *Tx) flushDelete(w *stagedWrite) error {
	tbl := w.tbl
	buck := tx.stx.Bucket(tbl.name)
	var found bool
	if buck != nil {
		raw, err := buck.Get(w.keyRaw)
		if err != nil {
			return tableErrf(tbl, w.key, err, "reading")
		}
		found = (raw != nil)
	}
	if !found {
		if tx.isVerboseLoggingEnabled() {
			tx.db.logf("db: DELETE.NOOP %s/%v", tbl.name, w.key)
		}
		return nil
	}
	if err := buck.Delete(w.keyRaw); err != nil {
		return tableErrf(tbl, w.key, err, "deleting")
	}
	tx.db.WriteCount.Add(1)
	if tx.isVerboseLoggingEnabled() {
		tx.db.logf("db: DELETE %s/%v", tbl.name, w.key)
	}
	if tx.changeHandler != nil {
		tx.changeHandler(&Change{table: tbl, op: OpDelete, key: w.key})
	}
	return nil
}
