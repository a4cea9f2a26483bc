package records

// storage is a key-value backend (Bolt, Badger, in-memory). Each table lives
// in its own bucket named after the table.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// Buckets lists bucket names in sorted order.
	Buckets() ([]string, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

type storageBucket interface {
	// Get returns nil if not found. The result is only valid until the end
	// of the transaction.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error
	Delete(key []byte) error

	// ForEach visits all pairs in key order.
	ForEach(f func(k, v []byte) error) error

	Stats() bucketStats
}

type bucketStats struct {
	KeyN       int
	LeafInuse  int64
	TotalAlloc int64
}
