package records

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Tx is a unit of work against the DB. Writes are staged in the Tx and reach
// storage on Flush or Commit; reads through the Tx see staged writes.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	db       *DB
	stx      storageTx
	writable bool
	closed   bool

	staged      map[string]*stagedWrite
	stagedOrder []string

	locks map[string]LockMode

	changeHandler func(chg *Change)

	startTime time.Time
	stack     []byte
}

type stagedWrite struct {
	tbl    *Table
	key    Key
	keyRaw []byte
	data   []byte // nil means delete
	row    any
}

func (db *DB) newTx(writable bool) (*Tx, error) {
	stx, err := db.st.BeginTx(writable)
	if err != nil {
		return nil, fmt.Errorf("records: begin: %w", err)
	}
	tx := &Tx{
		db:        db,
		stx:       stx,
		writable:  writable,
		staged:    make(map[string]*stagedWrite),
		locks:     make(map[string]LockMode),
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	if writable {
		db.WriterCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
	}
	return tx, nil
}

func (db *DB) BeginRead() (*Tx, error) {
	return db.newTx(false)
}

func (db *DB) BeginUpdate() (*Tx, error) {
	return db.newTx(true)
}

func (db *DB) Read(f func(tx *Tx) error) error {
	tx, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return f(tx)
}

// Write runs f and commits unless it fails.
func (db *DB) Write(f func(tx *Tx) error) error {
	tx, err := db.BeginUpdate()
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.db.schema
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// OnChange sets a function called for every row actually written or
// deleted during Flush.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

func (tx *Tx) isVerboseLoggingEnabled() bool {
	return tx.db.verbose
}

func lockName(tbl *Table, keyRaw []byte) string {
	return tbl.name + "\x00" + string(keyRaw)
}

func (tx *Tx) lock(tbl *Table, key Key, keyRaw []byte, mode LockMode) error {
	if tx.closed {
		return ErrTxClosed
	}
	if mode == LockWrite && !tx.writable {
		return tableErrf(tbl, key, ErrReadOnly, "cannot lock for write")
	}
	name := lockName(tbl, keyRaw)
	if held := tx.locks[name]; held >= mode {
		return nil
	}
	if !tx.db.locks.acquire(tx, name, mode) {
		if tx.isVerboseLoggingEnabled() {
			tx.db.logf("db: LOCK.CONFLICT %s/%v %v", tbl.name, key, mode)
		}
		return tableErrf(tbl, key, ErrLockConflict, "cannot lock for %v", mode)
	}
	tx.locks[name] = mode
	return nil
}

func (tx *Tx) stage(w *stagedWrite) {
	name := lockName(w.tbl, w.keyRaw)
	if _, found := tx.staged[name]; !found {
		tx.stagedOrder = append(tx.stagedOrder, name)
	}
	tx.staged[name] = w
}

// Flush writes staged rows to storage. Unchanged rows are skipped.
func (tx *Tx) Flush() error {
	if tx.closed {
		return ErrTxClosed
	}
	for _, name := range tx.stagedOrder {
		w := tx.staged[name]
		var err error
		if w.data == nil {
			err = tx.flushDelete(w)
		} else {
			err = tx.flushPut(w)
		}
		if err != nil {
			return err
		}
		delete(tx.staged, name)
	}
	tx.stagedOrder = tx.stagedOrder[:0]
	return nil
}

// Commit flushes and commits. Committing a read-only Tx just closes it.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		tx.Close()
		return nil
	}
	if err := tx.Flush(); err != nil {
		return err
	}
	err := tx.stx.Commit()
	tx.release()
	if err != nil {
		return fmt.Errorf("records: commit: %w", err)
	}
	return nil
}

// Rollback discards staged and written rows. Safe to call more than once.
func (tx *Tx) Rollback() {
	tx.Close()
}

// Close rolls back unless committed, and releases locks.
func (tx *Tx) Close() {
	if tx.closed {
		return
	}
	// The only error Rollback is expected to return is about a closed tx,
	// which is the normal flow after Commit.
	_ = tx.stx.Rollback()
	tx.release()
}

func (tx *Tx) release() {
	if tx.closed {
		return
	}
	tx.closed = true
	names := make([]string, 0, len(tx.locks))
	for name := range tx.locks {
		names = append(names, name)
	}
	tx.db.locks.releaseAll(tx, names)
	tx.locks = nil
	tx.staged = nil
	tx.stagedOrder = nil
	if trackTxns {
		tx.db.removeTx(tx)
	}
	if tx.writable {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
}
