package records

import (
	"errors"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Badger has a single keyspace, so buckets are key prefixes:
//
//	m\x00<bucket>           bucket marker, empty value
//	d\x00<bucket>\x00<key>  row
const (
	badgerMarkerPrefix = "m\x00"
	badgerDataPrefix   = "d\x00"
)

type badgerStorage struct {
	bdb *badger.DB
}

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	return &badgerStorageTx{txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerStorageTx struct {
	txn      *badger.Txn
	writable bool
	done     bool
}

func (tx *badgerStorageTx) Writable() bool { return tx.writable }

func (tx *badgerStorageTx) Bucket(name string) storageBucket {
	_, err := tx.txn.Get([]byte(badgerMarkerPrefix + name))
	if err != nil {
		return nil
	}
	return badgerBucket{tx: tx, prefix: badgerDataPrefix + name + "\x00"}
}

func (tx *badgerStorageTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, ErrReadOnly
	}
	if strings.IndexByte(name, 0) >= 0 {
		return nil, errors.New("bucket name contains NUL")
	}
	if err := tx.txn.Set([]byte(badgerMarkerPrefix+name), nil); err != nil {
		return nil, err
	}
	return badgerBucket{tx: tx, prefix: badgerDataPrefix + name + "\x00"}, nil
}

func (tx *badgerStorageTx) Buckets() ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(badgerMarkerPrefix)
	it := tx.txn.NewIterator(opts)
	defer it.Close()
	var names []string
	for it.Rewind(); it.Valid(); it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Item().Key()), badgerMarkerPrefix))
	}
	sort.Strings(names)
	return names, nil
}

func (tx *badgerStorageTx) Commit() error {
	tx.done = true
	err := tx.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return ErrLockConflict
	}
	return err
}

func (tx *badgerStorageTx) Rollback() error {
	if !tx.done {
		tx.done = true
		tx.txn.Discard()
	}
	return nil
}

func (tx *badgerStorageTx) Size() int64 { return 0 }

type badgerBucket struct {
	tx     *badgerStorageTx
	prefix string
}

func (b badgerBucket) key(k []byte) []byte {
	buf := make([]byte, 0, len(b.prefix)+len(k))
	buf = append(buf, b.prefix...)
	return append(buf, k...)
}

func (b badgerBucket) Get(key []byte) ([]byte, error) {
	item, err := b.tx.txn.Get(b.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b badgerBucket) Put(key, value []byte) error {
	return b.tx.txn.Set(b.key(key), append([]byte(nil), value...))
}

func (b badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.key(key))
}

func (b badgerBucket) ForEach(f func(k, v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(b.prefix)
	it := b.tx.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := f(item.KeyCopy(nil)[len(b.prefix):], v); err != nil {
			return err
		}
	}
	return nil
}

func (b badgerBucket) Stats() bucketStats {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(b.prefix)
	it := b.tx.txn.NewIterator(opts)
	defer it.Close()
	var s bucketStats
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		s.KeyN++
		s.LeafInuse += int64(len(item.Key())) + item.ValueSize()
		s.TotalAlloc += item.EstimatedSize()
	}
	return s
}
