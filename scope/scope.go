// Package scope holds the nodes materialized during one unit of work.
//
// A Scope keeps at most one live instance per node id, collects the
// stored-parent roots that changed, and maintains an Index over everything it
// has seen. It is not safe for concurrent use; every session gets its own.
package scope

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/schema"
)

type Scope struct {
	token  uuid.UUID
	logger *slog.Logger

	roots map[string]*node.Node
	dirty []*node.Node
	index *Index

	hits   int
	misses int
}

type Stats struct {
	Hits   int
	Misses int
	Live   int
	Dirty  int
}

func New(logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	token := uuid.New()
	return &Scope{
		token:  token,
		logger: logger.With("scope", token.String()),
		roots:  make(map[string]*node.Node),
		index:  NewIndex(),
	}
}

// Token identifies the scope in logs and change notifications.
func (s *Scope) Token() uuid.UUID {
	return s.token
}

func (s *Scope) Index() *Index {
	return s.index
}

// Lookup returns the cached root with the given id, or nil.
func (s *Scope) Lookup(id nodeid.ID) *node.Node {
	return s.roots[id.String()]
}

// GetOrMaterialize returns the cached root with the given id, calling load on
// a miss. A nil node from load means there is no such node; nothing is cached
// then, so a later call after the node is created will load it again.
func (s *Scope) GetOrMaterialize(path schema.Path, id nodeid.ID, load func() (*node.Node, error)) (*node.Node, error) {
	if n := s.roots[id.String()]; n != nil {
		s.hits++
		return n, nil
	}
	s.misses++
	n, err := load()
	if err != nil || n == nil {
		return nil, err
	}
	s.logger.Debug("scope: materialized", "path", path.String(), "id", id.String())
	s.Put(n)
	return n, nil
}

// Put registers root, replacing nothing: if a root with the same id is
// already cached, that instance wins and is returned.
func (s *Scope) Put(root *node.Node) *node.Node {
	k := root.ID().String()
	if existing := s.roots[k]; existing != nil {
		return existing
	}
	s.roots[k] = root
	root.SetObserver(s)
	root.WalkLoaded(func(n *node.Node) bool {
		s.index.Add(n)
		return true
	})
	if root.IsDirty() {
		s.MarkDirty(root)
	}
	return root
}

// Evict forgets the root with the given id and its index entries. Pending
// changes of the evicted tree are dropped.
func (s *Scope) Evict(id nodeid.ID) bool {
	k := id.String()
	root := s.roots[k]
	if root == nil {
		return false
	}
	delete(s.roots, k)
	root.SetObserver(nil)
	s.index.RemoveNode(root.ID().XPath())
	s.unmarkDirty(root)
	return true
}

// EvictBelow evicts the root with the given id and every root below it,
// returning how many were evicted. Removing a record removes the records
// below it, so their cached trees must go too.
func (s *Scope) EvictBelow(id nodeid.ID) int {
	var victims []nodeid.ID
	for _, root := range s.roots {
		if root.ID().HasPrefix(id) {
			victims = append(victims, root.ID())
		}
	}
	for _, v := range victims {
		s.Evict(v)
	}
	if len(victims) > 0 {
		s.logger.Debug("scope: evicted", "id", id.String(), "roots", len(victims))
	}
	return len(victims)
}

// MarkDirty queues root for write-back. Marking twice is a no-op.
func (s *Scope) MarkDirty(root *node.Node) {
	for _, d := range s.dirty {
		if d == root {
			return
		}
	}
	s.dirty = append(s.dirty, root)
}

func (s *Scope) unmarkDirty(root *node.Node) {
	for i, d := range s.dirty {
		if d == root {
			s.dirty = append(s.dirty[:i], s.dirty[i+1:]...)
			return
		}
	}
}

// Dirty returns the queued roots in the order they were first changed.
func (s *Scope) Dirty() []*node.Node {
	return append([]*node.Node(nil), s.dirty...)
}

// DrainDirty returns the queued roots and empties the queue.
func (s *Scope) DrainDirty() []*node.Node {
	result := s.dirty
	s.dirty = nil
	return result
}

// Reset forgets everything, as if the scope was just created.
func (s *Scope) Reset() {
	for _, root := range s.roots {
		root.SetObserver(nil)
	}
	s.roots = make(map[string]*node.Node)
	s.dirty = nil
	s.index = NewIndex()
}

func (s *Scope) Stats() Stats {
	return Stats{
		Hits:   s.hits,
		Misses: s.misses,
		Live:   len(s.roots),
		Dirty:  len(s.dirty),
	}
}

func (s *Scope) Loaded(n *node.Node) {
	s.index.Add(n)
	for _, c := range n.AllChildren() {
		s.index.Add(c)
	}
}

func (s *Scope) AttrChanged(n *node.Node, name schema.QName, old node.Attr, hadOld bool) {
	if a, ok := n.Attr(name); ok {
		s.index.SetAttr(n, name, a)
	} else {
		s.index.RemoveAttr(n, name)
	}
}

func (s *Scope) LeafListChanged(n *node.Node, name schema.QName) {
	s.index.SetLeafList(n, name, n.LeafList(name).Items())
}

func (s *Scope) Removed(n *node.Node) {
	s.index.RemoveNode(n.ID().XPath())
}

func (s *Scope) Dirtied(root *node.Node) {
	s.MarkDirty(root)
}
