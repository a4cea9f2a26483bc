package records

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const trackTxns = true

type DB struct {
	st            storage
	schema        *Schema
	logf          func(format string, args ...any)
	verbose       bool
	strict        bool
	compressAbove int

	locks lockTable

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool

	// MmapSize is the initial Bolt mmap size.
	MmapSize int

	// CompressAbove enables zstd compression of row data larger than this
	// many bytes. Zero means 4096; negative disables compression.
	CompressAbove int

	// BadgerLogger receives Badger's internal log. Nil silences it.
	BadgerLogger *logrus.Logger

	// BadgerInMemory runs Badger without touching the disk; path is ignored.
	BadgerInMemory bool
}

const defaultCompressAbove = 4096

func newDB(st storage, schema *Schema, opt Options) *DB {
	if schema == nil {
		schema = NewSchema()
	}
	logf := opt.Logf
	if logf == nil {
		logf = func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...))
		}
	}
	compressAbove := opt.CompressAbove
	if compressAbove == 0 {
		compressAbove = defaultCompressAbove
	}
	return &DB{
		st:            st,
		schema:        schema,
		logf:          logf,
		verbose:       opt.Verbose,
		strict:        opt.IsTesting,
		compressAbove: compressAbove,
		locks:         lockTable{locks: make(map[string]*rowLock)},
	}
}

// Open opens a Bolt database file.
func Open(path string, schema *Schema, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return newDB(&boltStorage{bdb: bdb}, schema, opt), nil
}

// OpenBadger opens a Badger database directory.
func OpenBadger(path string, schema *Schema, opt Options) (*DB, error) {
	bopt := badger.DefaultOptions(path)
	if opt.BadgerInMemory {
		bopt = badger.DefaultOptions("").WithInMemory(true)
	}
	if opt.BadgerLogger != nil {
		bopt = bopt.WithLogger(opt.BadgerLogger)
	} else {
		bopt = bopt.WithLogger(nil)
	}
	bopt.SyncWrites = !opt.IsTesting

	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	return newDB(&badgerStorage{bdb: bdb}, schema, opt), nil
}

// OpenMemory returns a transient database, mostly for tests.
func OpenMemory(schema *Schema, opt Options) *DB {
	return newDB(newMemStorage(), schema, opt)
}

func (db *DB) Schema() *Schema {
	return db.schema
}

func (db *DB) Close() error {
	err := db.st.Close()
	if err != nil {
		return fmt.Errorf("records: closing: %w", err)
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		mode := "read"
		if tx.writable {
			mode = "write"
		}
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms, %d locks\n", mode, ms, len(tx.locks))
		} else {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms, %d locks:\n%s", mode, ms, len(tx.locks), tx.stack)
		}
	}

	return buf.String()
}
