// Package registry maps schema paths to record descriptors.
//
// A path with a descriptor is stored as records (columnar). A path without
// one is stored inside the blob of its nearest ancestor whose descriptor has
// a Blob field (the stored-parent). Missing descriptors are the normal way
// of saying "blob-backed", never an error.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
)

var ErrAlreadyDeployed = errors.New("schema path already has a record type")

// Storage says how nodes at a schema path are persisted.
type Storage int

const (
	// BlobBacked nodes live in the blob of a stored-parent.
	BlobBacked Storage = iota
	// Columnar nodes are individual records.
	Columnar
	// StoredParent nodes are individual records that also own a blob.
	StoredParent
)

func (s Storage) String() string {
	switch s {
	case BlobBacked:
		return "blob"
	case Columnar:
		return "columnar"
	case StoredParent:
		return "stored-parent"
	default:
		return fmt.Sprintf("Storage(%d)", int(s))
	}
}

// Registry is safe for concurrent use. Lookups share a read lock; Deploy
// and Undeploy are exclusive.
type Registry struct {
	mu      sync.RWMutex
	records *records.Schema
	byPath  map[string]*Descriptor
	owners  map[string][]*Descriptor
}

// New returns an empty registry. Deployed descriptors register their tables
// in recs, which may be nil.
func New(recs *records.Schema) *Registry {
	return &Registry{
		records: recs,
		byPath:  make(map[string]*Descriptor),
		owners:  make(map[string][]*Descriptor),
	}
}

// Deploy adds every descriptor under the owner tag, or none of them if any
// path or table is already taken.
func (r *Registry) Deploy(owner string, descs ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		k := d.path.String()
		if r.byPath[k] != nil || seen[k] {
			return fmt.Errorf("deploying %s: %v: %w", owner, d.path, ErrAlreadyDeployed)
		}
		seen[k] = true
	}
	if r.records != nil {
		tbls := make([]*records.Table, len(descs))
		for i, d := range descs {
			tbls[i] = d.table
		}
		if err := r.records.AddTables(tbls...); err != nil {
			return fmt.Errorf("deploying %s: %w", owner, err)
		}
	}
	for _, d := range descs {
		r.byPath[d.path.String()] = d
	}
	r.owners[owner] = append(r.owners[owner], descs...)
	return nil
}

// Undeploy removes every descriptor deployed under owner and returns them.
// Stored records are kept.
func (r *Registry) Undeploy(owner string) []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	descs := r.owners[owner]
	delete(r.owners, owner)
	for _, d := range descs {
		delete(r.byPath, d.path.String())
	}
	if r.records != nil && len(descs) > 0 {
		tbls := make([]*records.Table, len(descs))
		for i, d := range descs {
			tbls[i] = d.table
		}
		r.records.RemoveTables(tbls...)
	}
	return descs
}

func (r *Registry) HasDedicatedRecord(p schema.Path) bool {
	_, ok := r.Descriptor(p)
	return ok
}

func (r *Registry) Descriptor(p schema.Path) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.byPath[p.String()]
	return d, d != nil
}

func (r *Registry) StorageOf(p schema.Path) Storage {
	d, ok := r.Descriptor(p)
	switch {
	case !ok:
		return BlobBacked
	case d.HasBlob():
		return StoredParent
	default:
		return Columnar
	}
}

// StoredParentOf returns the descriptor of the nearest proper ancestor of p
// that has a record type, if that record type has a blob. A columnar
// ancestor without a blob means p cannot be stored, and ok is false.
func (r *Registry) StoredParentOf(p schema.Path) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for a := p.Parent(); !a.IsRoot(); a = a.Parent() {
		if d := r.byPath[a.String()]; d != nil {
			return d, d.HasBlob()
		}
	}
	return nil, false
}

// Descriptors returns every deployed descriptor sorted by path.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Descriptor, 0, len(r.byPath))
	for _, d := range r.byPath {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].path.String() < result[j].path.String()
	})
	return result
}

func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.owners))
	for o := range r.owners {
		result = append(result, o)
	}
	slices.Sort(result)
	return result
}
