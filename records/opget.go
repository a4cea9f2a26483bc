package records

import (
	"slices"
)

// Match selects rows whose fields equal the given values. An empty Match
// selects every row.
type Match map[string]string

// FindByPrimaryKey returns the row with the given key, or nil if there is
// none. The row is locked in the given mode even when it doesn't exist, so a
// concurrent transaction cannot create it under a reader.
func (tx *Tx) FindByPrimaryKey(tbl *Table, key Key, mode LockMode) (any, error) {
	keyRaw := key.encode(nil)
	if err := tx.lock(tbl, key, keyRaw, mode); err != nil {
		return nil, err
	}
	row, _, err := tx.get(tbl, key, keyRaw)
	if tx.isVerboseLoggingEnabled() {
		if err != nil {
			tx.db.logf("db: GET.ERR %s/%v: %v", tbl.name, key, err)
		} else if row != nil {
			tx.db.logf("db: GET %s/%v => %s", tbl.name, key, loggableRow(tbl, row))
		} else {
			tx.db.logf("db: GET.NOTFOUND %s/%v", tbl.name, key)
		}
	}
	return row, err
}

func (tx *Tx) Exists(tbl *Table, key Key) (bool, error) {
	row, _, err := tx.get(tbl, key, key.encode(nil))
	return row != nil, err
}

// Meta returns the stored metadata of a row, ignoring staged writes.
func (tx *Tx) Meta(tbl *Table, key Key) (ValueMeta, bool, error) {
	if tx.closed {
		return ValueMeta{}, false, ErrTxClosed
	}
	vle, found, err := tx.getStoredValue(tbl, key, key.encode(nil))
	if err != nil || !found {
		return ValueMeta{}, false, err
	}
	return vle.ValueMeta(), true, nil
}

func (tx *Tx) get(tbl *Table, key Key, keyRaw []byte) (any, ValueMeta, error) {
	if tx.closed {
		return nil, ValueMeta{}, ErrTxClosed
	}
	tx.db.ReadCount.Add(1)
	if w := tx.staged[lockName(tbl, keyRaw)]; w != nil {
		if w.data == nil {
			return nil, ValueMeta{}, nil
		}
		row, err := tbl.decodeRow(w.data)
		if err != nil {
			return nil, ValueMeta{}, tableErrf(tbl, key, err, "decoding staged row")
		}
		return row, ValueMeta{SchemaVer: tbl.latestSchemaVer}, nil
	}

	vle, found, err := tx.getStoredValue(tbl, key, keyRaw)
	if err != nil || !found {
		return nil, ValueMeta{}, err
	}
	row, err := tbl.decodeRow(vle.Data)
	if err != nil {
		return nil, ValueMeta{}, tableErrf(tbl, key, err, "decoding row")
	}
	return row, vle.ValueMeta(), nil
}

func (tx *Tx) getStoredValue(tbl *Table, key Key, keyRaw []byte) (value, bool, error) {
	var vle value
	buck := tx.stx.Bucket(tbl.name)
	if buck == nil {
		return vle, false, nil
	}
	raw, err := buck.Get(keyRaw)
	if err != nil {
		return vle, false, tableErrf(tbl, key, err, "reading")
	}
	if raw == nil {
		return vle, false, nil
	}
	if err := vle.decode(raw); err != nil {
		return vle, false, tableErrf(tbl, key, err, "")
	}
	if vle.SchemaVer > tbl.latestSchemaVer {
		return vle, false, tableErrf(tbl, key, nil, "row schema version %d is newer than %d", vle.SchemaVer, tbl.latestSchemaVer)
	}
	return vle, true, nil
}

// FindByMatch returns the rows matching m in key order. It takes no locks.
func (tx *Tx) FindByMatch(tbl *Table, m Match) ([]any, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	var fields []*Field
	var wanted []string
	for name, v := range m {
		fld := tbl.fieldsByName[name]
		if fld == nil {
			return nil, tableErrf(tbl, nil, nil, "no field named %q", name)
		}
		fields = append(fields, fld)
		wanted = append(wanted, v)
	}
	matches := func(row any) bool {
		for i, fld := range fields {
			if fld.get(row) != wanted[i] {
				return false
			}
		}
		return true
	}

	type found struct {
		key Key
		row any
	}
	var result []found

	if buck := tx.stx.Bucket(tbl.name); buck != nil {
		err := buck.ForEach(func(k, v []byte) error {
			if _, isStaged := tx.staged[lockName(tbl, k)]; isStaged {
				return nil
			}
			key, err := decodeKey(k)
			if err != nil {
				return tableErrf(tbl, nil, err, "invalid key %s", hexstr(k))
			}
			var vle value
			if err := vle.decode(v); err != nil {
				return tableErrf(tbl, key, err, "")
			}
			row, err := tbl.decodeRow(vle.Data)
			if err != nil {
				return tableErrf(tbl, key, err, "decoding row")
			}
			if matches(row) {
				result = append(result, found{key, row})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for _, name := range tx.stagedOrder {
		w := tx.staged[name]
		if w.tbl != tbl || w.data == nil {
			continue
		}
		row, err := tbl.decodeRow(w.data)
		if err != nil {
			return nil, tableErrf(tbl, w.key, err, "decoding staged row")
		}
		if matches(row) {
			result = append(result, found{w.key, row})
		}
	}

	slices.SortFunc(result, func(a, b found) int {
		return slices.Compare(a.key, b.key)
	})
	rows := make([]any, len(result))
	for i, f := range result {
		rows[i] = f.row
	}
	tx.db.ReadCount.Add(uint64(len(rows)))
	if tx.isVerboseLoggingEnabled() {
		tx.db.logf("db: MATCH %s %v => %d rows", tbl.name, m, len(rows))
	}
	return rows, nil
}
