package confstore

import (
	"log/slog"

	"github.com/andreyvit/confstore/blobstore"
	"github.com/andreyvit/confstore/columnar"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
)

type Options struct {
	// Logger receives the store's structured log. Nil means slog.Default().
	Logger *slog.Logger

	// Metrics, if set, counts operations and write-backs.
	Metrics *Metrics

	// OnChange is called after every successful EndModify with the nodes
	// the session created, updated or removed.
	OnChange func(changes []Change)
}

// Store routes node operations to the columnar or blob-backed backend
// according to how the registry says each schema path is persisted.
type Store struct {
	db      *records.DB
	cat     schema.Catalog
	reg     *registry.Registry
	cols    *columnar.Store
	blobs   *blobstore.Store
	logger  *slog.Logger
	metrics *Metrics
	notify  func(changes []Change)
}

func New(db *records.DB, cat schema.Catalog, reg *registry.Registry, opt Options) *Store {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cols := columnar.New(cat, reg, logger)
	return &Store{
		db:      db,
		cat:     cat,
		reg:     reg,
		cols:    cols,
		blobs:   blobstore.New(cols, logger),
		logger:  logger,
		metrics: opt.Metrics,
		notify:  opt.OnChange,
	}
}

func (s *Store) DB() *records.DB {
	return s.db
}

func (s *Store) Catalog() schema.Catalog {
	return s.cat
}

func (s *Store) Registry() *registry.Registry {
	return s.reg
}

// BeginModify starts a writable session. The caller must end it with
// EndModify or Abort.
func (s *Store) BeginModify() (*Session, error) {
	tx, err := s.db.BeginUpdate()
	if err != nil {
		return nil, err
	}
	return s.newSession(tx, true), nil
}

// BeginRead starts a read-only session. Abort ends it.
func (s *Store) BeginRead() (*Session, error) {
	tx, err := s.db.BeginRead()
	if err != nil {
		return nil, err
	}
	return s.newSession(tx, false), nil
}

// Modify runs f in a writable session and ends it with EndModify, or aborts
// it if f fails.
func (s *Store) Modify(f func(ss *Session) error) error {
	ss, err := s.BeginModify()
	if err != nil {
		return err
	}
	defer ss.Abort()
	err = f(ss)
	if err != nil {
		return err
	}
	return ss.EndModify()
}

// Read runs f in a read-only session.
func (s *Store) Read(f func(ss *Session) error) error {
	ss, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer ss.Abort()
	return f(ss)
}
