// Package blobstore stores schema subtrees that have no record type of their
// own. Their nodes live in the XML blob of the nearest ancestor that does
// have one, the stored-parent.
//
// Reads and writes go through the stored-parent's tree as materialized in
// the caller's scope: the first access parses the blob, later accesses
// within the same scope see the same nodes, including changes not yet
// written back. EndModify serializes every changed stored-parent once and
// puts its record.
//
// Stored-parent roots themselves are records. Operations on them go to the
// columnar store and the live root is kept in sync.
package blobstore

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/andreyvit/confstore/columnar"
	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/scope"
	"github.com/andreyvit/confstore/storeerr"
	"github.com/andreyvit/confstore/xmlblob"
)

type Store struct {
	cols   *columnar.Store
	cat    schema.Catalog
	reg    *registry.Registry
	m      *xmlblob.Marshaller
	logger *slog.Logger
}

func New(cols *columnar.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	reg := cols.Registry()
	return &Store{
		cols: cols,
		cat:  cols.Catalog(),
		reg:  reg,
		m: &xmlblob.Marshaller{
			Catalog: cols.Catalog(),
			Skip:    reg.HasDedicatedRecord,
		},
		logger: logger,
	}
}

func (s *Store) Marshaller() *xmlblob.Marshaller {
	return s.m
}

// WriteBack describes the blobs written by EndModify.
type WriteBack struct {
	Roots []nodeid.ID
	Bytes int
}

// rootDescriptor returns the descriptor of path if path is a stored-parent.
func (s *Store) rootDescriptor(path schema.Path) (*registry.Descriptor, bool) {
	d, ok := s.reg.Descriptor(path)
	if !ok || !d.HasBlob() {
		return nil, false
	}
	return d, true
}

// location is a blob-backed parent id resolved against its stored-parent.
type location struct {
	sp   *registry.Descriptor
	spID nodeid.ID
	// steps are the data nodes between the stored-parent (exclusive) and
	// the parent (inclusive), top down.
	steps []schema.Path
}

// resolve finds the stored-parent of the instances of path below parentID.
func (s *Store) resolve(op string, path schema.Path, parentID nodeid.ID) (*location, error) {
	sp, ok := s.reg.StoredParentOf(path)
	if !ok {
		if sp == nil {
			return nil, storeerr.Errorf(storeerr.Structural, op, path, parentID, storeerr.ErrNoRecordType, "no ancestor has a record type")
		}
		return nil, storeerr.Errorf(storeerr.Structural, op, path, parentID, storeerr.ErrNoRecordType, "nearest record type %s has no blob field", sp.Table().Name())
	}
	p, ok := schema.DataParent(s.cat, path)
	if !ok {
		return nil, storeerr.Errorf(storeerr.Structural, op, path, parentID, storeerr.ErrNoRecordType, "top-level node")
	}
	if err := nodeid.Validate(s.cat, p, parentID); err != nil {
		return nil, err
	}
	loc := &location{sp: sp, spID: parentID}
	for !p.Equal(sp.Path()) {
		loc.steps = append(loc.steps, p)
		var err error
		loc.spID, err = nodeid.ParentIDOf(s.cat, p, loc.spID)
		if err != nil {
			return nil, err
		}
		p, _ = schema.DataParent(s.cat, p)
	}
	slices.Reverse(loc.steps)
	return loc, nil
}

// descend walks from the stored-parent root to the node parentID names.
// With create, missing containers on the way are created; a missing list
// entry always yields nil, and then nothing is created.
func (s *Store) descend(root *node.Node, loc *location, parentID nodeid.ID, create bool) (*node.Node, error) {
	cur := root
	i := loc.spID.Len()
	for j, p := range loc.steps {
		if err := cur.Load(); err != nil {
			return nil, err
		}
		var key nodeid.Key
		kind := s.cat.Kind(p)
		switch kind {
		case schema.KindList:
			key = parentID.At(i + 1).Key
			i += 2
		case schema.KindContainer:
			i++
		case schema.KindLeaf, schema.KindLeafList, schema.KindChoice, schema.KindCase, schema.KindUnknown:
			return nil, storeerr.Errorf(storeerr.Structural, "descend", p, parentID, storeerr.ErrMalformedID, "%v nodes have no children", kind)
		default:
			panic("unsupported node kind " + kind.String())
		}
		next := cur.Child(p.Last(), key)
		if next == nil {
			if !create || kind != schema.KindContainer || !s.allContainers(loc.steps[j+1:]) {
				return nil, nil
			}
			next = node.New(p, key)
			next.SetID(parentID.Prefix(i))
			cur.InsertChild(next, node.AtEnd)
		}
		cur = next
	}
	if err := cur.Load(); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Store) allContainers(paths []schema.Path) bool {
	for _, p := range paths {
		if s.cat.Kind(p) != schema.KindContainer {
			return false
		}
	}
	return true
}

// loadRoot returns the live stored-parent root with the given id, reading
// its record on the first access in sc.
func (s *Store) loadRoot(tx *records.Tx, sc *scope.Scope, d *registry.Descriptor, id nodeid.ID) (*node.Node, error) {
	return sc.GetOrMaterialize(d.Path(), id, func() (*node.Node, error) {
		_, row, err := s.cols.LoadRow(tx, d.Path(), id, records.LockRead)
		if err != nil || row == nil {
			return nil, err
		}
		return s.materialize(d, row)
	})
}

// writeRoot is loadRoot for callers about to change the tree. The record is
// write-locked even when the root is already live.
func (s *Store) writeRoot(tx *records.Tx, sc *scope.Scope, d *registry.Descriptor, id nodeid.ID) (*node.Node, error) {
	_, row, err := s.cols.LoadRow(tx, d.Path(), id, records.LockWrite)
	if err != nil {
		return nil, err
	}
	if row == nil {
		sc.Evict(id)
		return nil, nil
	}
	return sc.GetOrMaterialize(d.Path(), id, func() (*node.Node, error) {
		return s.materialize(d, row)
	})
}

func (s *Store) materialize(d *registry.Descriptor, row any) (*node.Node, error) {
	root, err := s.cols.NodeFromRow(d, row)
	if err != nil {
		return nil, err
	}
	if err := s.m.Load(d.Blob(row), root); err != nil {
		return nil, err
	}
	return root, nil
}

// live swaps freshly read root nodes for the scope's instances.
func (s *Store) live(sc *scope.Scope, d *registry.Descriptor, fresh []*node.Node) ([]*node.Node, error) {
	result := make([]*node.Node, 0, len(fresh))
	for _, n := range fresh {
		root, err := sc.GetOrMaterialize(d.Path(), n.ID(), func() (*node.Node, error) {
			if err := s.m.Load(d.Blob(n.Record()), n); err != nil {
				return nil, err
			}
			return n, nil
		})
		if err != nil {
			return nil, err
		}
		result = append(result, root)
	}
	return result, nil
}

// parent returns the live node parentID names, or nil if it doesn't exist.
func (s *Store) parent(tx *records.Tx, sc *scope.Scope, op string, path schema.Path, parentID nodeid.ID, write, create bool) (*node.Node, error) {
	loc, err := s.resolve(op, path, parentID)
	if err != nil {
		return nil, err
	}
	var root *node.Node
	if write {
		root, err = s.writeRoot(tx, sc, loc.sp, loc.spID)
	} else {
		root, err = s.loadRoot(tx, sc, loc.sp, loc.spID)
	}
	if err != nil || root == nil {
		return nil, err
	}
	return s.descend(root, loc, parentID, create)
}

func loaded(n *node.Node) (*node.Node, error) {
	if n == nil {
		return nil, nil
	}
	if err := n.Load(); err != nil {
		return nil, err
	}
	return n, nil
}

func loadAll(nodes []*node.Node) ([]*node.Node, error) {
	for _, n := range nodes {
		if err := n.Load(); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// Find returns the live instance of path with the given key below parentID,
// or nil.
func (s *Store) Find(tx *records.Tx, sc *scope.Scope, path schema.Path, key nodeid.Key, parentID nodeid.ID) (*node.Node, error) {
	id, err := nodeid.ChildID(s.cat, parentID, path, key)
	if err != nil {
		return nil, err
	}
	if d, ok := s.rootDescriptor(path); ok {
		return s.loadRoot(tx, sc, d, id)
	}
	parent, err := s.parent(tx, sc, "Find", path, parentID, false, false)
	if err != nil || parent == nil {
		return nil, err
	}
	key, err = nodeid.KeyFromID(s.cat, path, id)
	if err != nil {
		return nil, err
	}
	return loaded(parent.Child(path.Last(), key))
}

// List returns every instance of path in every stored-parent.
func (s *Store) List(tx *records.Tx, sc *scope.Scope, path schema.Path) ([]*node.Node, error) {
	if d, ok := s.rootDescriptor(path); ok {
		fresh, err := s.cols.List(tx, path)
		if err != nil {
			return nil, err
		}
		return s.live(sc, d, fresh)
	}
	sp, ok := s.reg.StoredParentOf(path)
	if !ok {
		return nil, storeerr.Errorf(storeerr.Structural, "List", path, nil, storeerr.ErrNoRecordType, "no stored-parent")
	}
	nodes, err := s.List(tx, sc, sp.Path())
	if err != nil {
		return nil, err
	}
	var chain []schema.Path
	for _, p := range schema.DataAncestors(s.cat, path) {
		if p.Len() > sp.Path().Len() {
			chain = append(chain, p)
		}
	}
	for _, p := range append(chain, path) {
		var next []*node.Node
		for _, n := range nodes {
			if err := n.Load(); err != nil {
				return nil, err
			}
			next = append(next, n.Children(p.Last())...)
		}
		nodes = next
	}
	return loadAll(nodes)
}

// ListChildren returns the live instances of childPath below parentID in
// document order.
func (s *Store) ListChildren(tx *records.Tx, sc *scope.Scope, childPath schema.Path, parentID nodeid.ID) ([]*node.Node, error) {
	return s.FindMany(tx, sc, childPath, nil, parentID)
}

// FindMany returns the live instances of path below parentID whose leafs
// equal every value in match.
func (s *Store) FindMany(tx *records.Tx, sc *scope.Scope, path schema.Path, match map[schema.QName]string, parentID nodeid.ID) ([]*node.Node, error) {
	if d, ok := s.rootDescriptor(path); ok {
		fresh, err := s.cols.FindMany(tx, path, match, parentID)
		if err != nil {
			return nil, err
		}
		return s.live(sc, d, fresh)
	}
	names, err := namesOf(s.cat, "FindMany", path, parentID, match, schema.KindLeaf)
	if err != nil {
		return nil, err
	}
	parent, err := s.parent(tx, sc, "FindMany", path, parentID, false, false)
	if err != nil || parent == nil {
		return nil, err
	}
	var result []*node.Node
	for _, c := range parent.Children(path.Last()) {
		if err := c.Load(); err != nil {
			return nil, err
		}
		if matches(c, names, match) {
			result = append(result, c)
		}
	}
	return result, nil
}

func matches(n *node.Node, names []schema.QName, match map[schema.QName]string) bool {
	for _, name := range names {
		if a, ok := n.Attr(name); !ok || a.Value != match[name] {
			return false
		}
	}
	return true
}

// namesOf returns the keys of m in schema order, failing if any of them is
// not a child of path of the given kind.
func namesOf[V any](cat schema.Catalog, op string, path schema.Path, id nodeid.ID, m map[schema.QName]V, kind schema.Kind) ([]schema.QName, error) {
	if len(m) == 0 {
		return nil, nil
	}
	for name := range m {
		if dc, ok := schema.DataChildNamed(cat, path, name); !ok || dc.Kind != kind {
			return nil, storeerr.Errorf(storeerr.Structural, op, path, id, nil, "%v is not a %v of %v", name, kind, path.Last())
		}
	}
	var result []schema.QName
	for _, dc := range schema.DataChildren(cat, path) {
		if _, ok := m[dc.Name]; ok {
			result = append(result, dc.Name)
		}
	}
	return result, nil
}

// Create adds n below parentID. A stored-parent root is persisted at once
// with an empty blob; any other node is attached to the live tree, which
// becomes dirty. Missing containers between the stored-parent and the new
// node are created; a missing list entry is ErrParentNotFound.
func (s *Store) Create(tx *records.Tx, sc *scope.Scope, n *node.Node, parentID nodeid.ID, insertIndex int) error {
	path := n.Path()
	if _, ok := s.rootDescriptor(path); ok {
		if err := s.cols.Create(tx, n, parentID, insertIndex); err != nil {
			return err
		}
		if err := s.assignIDs(n, n.ID()); err != nil {
			return err
		}
		// The record is new, so anything cached under its id is left over
		// from a removal earlier in this scope.
		for _, c := range n.AllChildren() {
			s.qualifyTree(c)
		}
		sc.EvictBelow(n.ID())
		sc.Put(n)
		if len(n.AllChildren()) > 0 {
			sc.MarkDirty(n)
		}
		return nil
	}
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return err
	}
	if n.Parent() != nil {
		return storeerr.Errorf(storeerr.Structural, "Create", path, id, nil, "node is already attached to %v", n.Parent())
	}
	if _, err := s.keyOf("Create", path, id, n.Key()); err != nil {
		return err
	}
	s.qualifyTree(n)
	parent, err := s.parent(tx, sc, "Create", path, parentID, true, true)
	if err != nil {
		return err
	}
	if parent == nil {
		return storeerr.Errorf(storeerr.Structural, "Create", path, id, storeerr.ErrParentNotFound, "")
	}
	return s.attach(parent, n, id, insertIndex)
}

// qualify gives an identity reference without a namespace the namespace of
// its leaf. That is what an unprefixed value means once it is in a blob.
func (s *Store) qualify(path schema.Path, name schema.QName, a node.Attr) node.Attr {
	if a.Namespace != "" {
		return a
	}
	if dc, ok := schema.DataChildNamed(s.cat, path, name); ok && s.cat.IsIdentityRef(dc.Path) {
		a.Namespace = name.Namespace
	}
	return a
}

func (s *Store) qualifyTree(n *node.Node) {
	for name, a := range n.Attrs() {
		if q := s.qualify(n.Path(), name, a); q != a {
			n.InitAttr(name, q)
		}
	}
	for _, name := range n.LeafListNames() {
		items := n.LeafList(name).Items()
		qualified := make([]node.Attr, len(items))
		changed := false
		for i, a := range items {
			qualified[i] = s.qualify(n.Path(), name, a)
			changed = changed || qualified[i] != a
		}
		if changed {
			n.InitLeafList(name, qualified)
		}
	}
	for _, c := range n.AllChildren() {
		s.qualifyTree(c)
	}
}

// keyOf returns the key of id, failing unless it lists the same leafs as
// key in the same order.
func (s *Store) keyOf(op string, path schema.Path, id nodeid.ID, key nodeid.Key) (nodeid.Key, error) {
	k, err := nodeid.KeyFromID(s.cat, path, id)
	if err != nil {
		return nodeid.Key{}, err
	}
	if !k.Equal(key) {
		return nodeid.Key{}, storeerr.Errorf(storeerr.Structural, op, path, id, storeerr.ErrMalformedID, "key leafs %v are not in key order", key)
	}
	return k, nil
}

func (s *Store) attach(parent, n *node.Node, id nodeid.ID, insertIndex int) error {
	path := n.Path()
	key, err := s.keyOf("Create", path, id, n.Key())
	if err != nil {
		return err
	}
	if parent.Child(path.Last(), key) != nil {
		return storeerr.Errorf(storeerr.Structural, "Create", path, id, storeerr.ErrAlreadyExists, "")
	}
	if err := s.assignIDs(n, id); err != nil {
		return err
	}
	index := node.AtEnd
	if s.cat.IsOrderedByUser(path) {
		index = insertIndex
	}
	parent.InsertChild(n, index)
	s.logger.Debug("blobstore: created", "path", path.String(), "id", id.String())
	return nil
}

// assignIDs gives n the given id and its descendants ids below it.
func (s *Store) assignIDs(n *node.Node, id nodeid.ID) error {
	n.SetID(id)
	for _, c := range n.AllChildren() {
		cid, err := nodeid.ChildID(s.cat, id, c.Path(), c.Key())
		if err != nil {
			return err
		}
		if err := s.assignIDs(c, cid); err != nil {
			return err
		}
	}
	return nil
}

// Update changes the live node n names and returns it. The contract is the
// columnar one: leafs are replaced and leaf-list values added, or with
// removeNode both are removed; a non-negative insertIndex moves an entry
// of an ordered list; updating a missing node creates it.
func (s *Store) Update(tx *records.Tx, sc *scope.Scope, n *node.Node, parentID nodeid.ID, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr, insertIndex int, removeNode bool) (*node.Node, error) {
	path := n.Path()
	if d, ok := s.rootDescriptor(path); ok {
		return s.updateRoot(tx, sc, d, n, parentID, attrs, leafLists, insertIndex, removeNode)
	}
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return nil, err
	}
	attrNames, err := namesOf(s.cat, "Update", path, id, attrs, schema.KindLeaf)
	if err != nil {
		return nil, err
	}
	llNames, err := namesOf(s.cat, "Update", path, id, leafLists, schema.KindLeafList)
	if err != nil {
		return nil, err
	}
	attrs, leafLists = s.qualifyChanges(path, attrs, leafLists)
	parent, err := s.parent(tx, sc, "Update", path, parentID, true, !removeNode)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		if removeNode {
			return nil, nil
		}
		return nil, storeerr.Errorf(storeerr.Structural, "Update", path, id, storeerr.ErrParentNotFound, "")
	}
	key, err := nodeid.KeyFromID(s.cat, path, id)
	if err != nil {
		return nil, err
	}
	live, err := loaded(parent.Child(path.Last(), key))
	if err != nil {
		return nil, err
	}
	if live == nil {
		if removeNode {
			return nil, nil
		}
		fresh := node.New(path, key)
		for _, name := range attrNames {
			fresh.InitAttr(name, attrs[name])
		}
		for _, name := range llNames {
			for _, a := range leafLists[name] {
				fresh.InitLeafListItem(name, a)
			}
		}
		s.logger.Debug("blobstore: update of a missing node creates it", "path", path.String(), "id", id.String())
		if err := s.attach(parent, fresh, id, insertIndex); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	keys := s.cat.KeyDefinitionOf(path)
	for _, name := range attrNames {
		if !slices.Contains(keys, name) {
			continue
		}
		if cur, _ := live.Attr(name); removeNode || cur.Value != attrs[name].Value {
			return nil, storeerr.Errorf(storeerr.Structural, "Update", path, id, nil, "cannot change key leaf %v", name)
		}
	}
	for _, name := range attrNames {
		switch {
		case slices.Contains(keys, name):
		case removeNode:
			live.RemoveAttr(name)
		default:
			live.SetAttr(name, attrs[name])
		}
	}
	for _, name := range llNames {
		for _, a := range leafLists[name] {
			if removeNode {
				live.RemoveFromLeafList(name, a)
			} else {
				live.AddToLeafList(name, a)
			}
		}
	}
	if insertIndex >= 0 && s.cat.IsOrderedByUser(path) {
		parent.MoveChild(live, insertIndex)
	}
	return live, nil
}

func (s *Store) qualifyChanges(path schema.Path, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr) (map[schema.QName]node.Attr, map[schema.QName][]node.Attr) {
	qa := make(map[schema.QName]node.Attr, len(attrs))
	for name, a := range attrs {
		qa[name] = s.qualify(path, name, a)
	}
	ql := make(map[schema.QName][]node.Attr, len(leafLists))
	for name, items := range leafLists {
		for _, a := range items {
			ql[name] = append(ql[name], s.qualify(path, name, a))
		}
	}
	return qa, ql
}

func (s *Store) updateRoot(tx *records.Tx, sc *scope.Scope, d *registry.Descriptor, n *node.Node, parentID nodeid.ID, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr, insertIndex int, removeNode bool) (*node.Node, error) {
	fresh, err := s.cols.Update(tx, n, parentID, attrs, leafLists, insertIndex, removeNode)
	if err != nil || fresh == nil {
		return nil, err
	}
	if live := sc.Lookup(fresh.ID()); live != nil {
		live.SyncLeafs(fresh)
		live.SetRecord(fresh.Record())
		return live, nil
	}
	nodes, err := s.live(sc, d, []*node.Node{fresh})
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// Remove detaches the live node n names. Removing a stored-parent root
// deletes its record, with its blob and columnar descendants. It reports
// whether the node existed.
func (s *Store) Remove(tx *records.Tx, sc *scope.Scope, n *node.Node, parentID nodeid.ID) (bool, error) {
	path := n.Path()
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return false, err
	}
	if _, ok := s.rootDescriptor(path); ok {
		removed, err := s.cols.Remove(tx, n, parentID)
		if err != nil {
			return false, err
		}
		sc.EvictBelow(id)
		return removed, nil
	}
	parent, err := s.parent(tx, sc, "Remove", path, parentID, true, false)
	if err != nil || parent == nil {
		return false, err
	}
	key, err := nodeid.KeyFromID(s.cat, path, id)
	if err != nil {
		return false, err
	}
	live := parent.Child(path.Last(), key)
	if live == nil {
		return false, nil
	}
	parent.RemoveChild(live)
	s.logger.Debug("blobstore: removed", "path", path.String(), "id", id.String())
	return true, nil
}

// RemoveAll removes every instance of childPath below parent and returns
// how many there were.
func (s *Store) RemoveAll(tx *records.Tx, sc *scope.Scope, parent *node.Node, childPath schema.Path, grandParentID nodeid.ID) (int, error) {
	if _, ok := s.rootDescriptor(childPath); ok {
		roots, err := s.cols.ListChildren(tx, childPath, parent.ID())
		if err != nil {
			return 0, err
		}
		count, err := s.cols.RemoveAll(tx, parent, childPath, grandParentID)
		if err != nil {
			return 0, err
		}
		for _, r := range roots {
			sc.EvictBelow(r.ID())
		}
		return count, nil
	}
	live, err := s.parent(tx, sc, "RemoveAll", childPath, parent.ID(), true, false)
	if err != nil || live == nil {
		return 0, err
	}
	children := live.Children(childPath.Last())
	for _, c := range children {
		live.RemoveChild(c)
	}
	return len(children), nil
}

// EndModify writes the blob of every dirty stored-parent in sc into its
// record and marks the trees clean. Each root is serialized and put once,
// however many changes it saw.
func (s *Store) EndModify(tx *records.Tx, sc *scope.Scope) (WriteBack, error) {
	var wb WriteBack
	dirty := sc.DrainDirty()
	for i, root := range dirty {
		if err := s.writeBack(tx, root, &wb); err != nil {
			for _, r := range dirty[i:] {
				sc.MarkDirty(r)
			}
			return wb, err
		}
	}
	return wb, nil
}

func (s *Store) writeBack(tx *records.Tx, root *node.Node, wb *WriteBack) error {
	d, ok := s.rootDescriptor(root.Path())
	if !ok {
		return storeerr.Errorf(storeerr.Structural, "EndModify", root.Path(), root.ID(), storeerr.ErrNoRecordType, "dirty root has no blob field")
	}
	blob, err := s.m.Serialize(root)
	if err != nil {
		return err
	}
	_, row, err := s.cols.LoadRow(tx, d.Path(), root.ID(), records.LockWrite)
	if err != nil {
		return err
	}
	if row == nil {
		s.logger.Warn("blobstore: dirty root has no record, dropping changes", "path", root.Path().String(), "id", root.ID().String())
		return nil
	}
	d.SetBlob(row, blob)
	if err := s.cols.PutRow(tx, d, row, root.ID()); err != nil {
		return err
	}
	root.SetRecord(row)
	root.MarkClean()
	wb.Roots = append(wb.Roots, root.ID())
	wb.Bytes += len(blob)
	s.logger.Debug("blobstore: wrote back", "path", root.Path().String(), "id", root.ID().String(), "bytes", len(blob))
	return nil
}

func (wb WriteBack) String() string {
	return fmt.Sprintf("%d roots, %d bytes", len(wb.Roots), wb.Bytes)
}
