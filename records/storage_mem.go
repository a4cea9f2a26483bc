package records

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// memStorage keeps committed buckets as immutable maps; a transaction
// works on copies made on first write to each bucket and swaps them in on
// commit. One writer at a time, like Bolt.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]map[string][]byte
	closed  bool
	writer  bool
}

func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[string]map[string][]byte)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}
	return &memTx{
		base:     s,
		writable: writable,
		snapshot: s.buckets,
		copied:   make(map[string]map[string][]byte),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	snapshot map[string]map[string][]byte
	copied   map[string]map[string][]byte
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) bucketData(name string) map[string][]byte {
	if m, ok := tx.copied[name]; ok {
		return m
	}
	return tx.snapshot[name]
}

func (tx *memTx) Bucket(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	if tx.bucketData(name) == nil {
		return nil
	}
	return memBucket{tx: tx, name: name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, ErrReadOnly
	}
	if tx.bucketData(name) == nil {
		tx.copied[name] = make(map[string][]byte)
	}
	return memBucket{tx: tx, name: name}, nil
}

func (tx *memTx) Buckets() ([]string, error) {
	set := make(map[string]bool)
	for name := range tx.snapshot {
		set[name] = true
	}
	for name := range tx.copied {
		set[name] = true
	}
	return sortedKeys(set), nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	merged := maps.Clone(tx.base.buckets)
	maps.Copy(merged, tx.copied)
	tx.base.buckets = merged
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Size() int64 { return 0 }

type memBucket struct {
	tx   *memTx
	name string
}

func (b memBucket) writableData() (map[string][]byte, error) {
	if !b.tx.writable {
		return nil, ErrReadOnly
	}
	if m, ok := b.tx.copied[b.name]; ok {
		return m, nil
	}
	m := maps.Clone(b.tx.snapshot[b.name])
	if m == nil {
		m = make(map[string][]byte)
	}
	b.tx.copied[b.name] = m
	return m, nil
}

func (b memBucket) Get(key []byte) ([]byte, error) {
	return b.tx.bucketData(b.name)[string(key)], nil
}

func (b memBucket) Put(key, value []byte) error {
	m, err := b.writableData()
	if err != nil {
		return err
	}
	m[string(key)] = slices.Clone(value)
	return nil
}

func (b memBucket) Delete(key []byte) error {
	m, err := b.writableData()
	if err != nil {
		return err
	}
	delete(m, string(key))
	return nil
}

func (b memBucket) ForEach(f func(k, v []byte) error) error {
	m := b.tx.bucketData(b.name)
	for _, k := range sortedKeys(m) {
		if err := f([]byte(k), m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (b memBucket) Stats() bucketStats {
	var inuse int64
	m := b.tx.bucketData(b.name)
	for k, v := range m {
		inuse += int64(len(k) + len(v))
	}
	return bucketStats{KeyN: len(m), LeafInuse: inuse, TotalAlloc: inuse}
}

// sortedKeys is slices.Sorted(maps.Keys(m)) for toolchains before Go 1.23.
func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
