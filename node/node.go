// Package node defines the in-memory configuration node shared by both
// store backends.
//
// Columnar nodes are flat: their attributes and leaf-lists come from one
// record and they own no children. Blob-backed nodes form a tree under a
// stored-parent root; the root owns the tree, tracks whether anything below
// it changed, and reports changes to an Observer (the request scope).
package node

import (
	"fmt"
	"slices"

	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/schema"
)

// AtEnd as an insert index appends.
const AtEnd = -1

// Observer is notified about changes to a tree. It is set on the root and
// receives events for every node below it.
type Observer interface {
	// Loaded is called when n's attributes and children become visible,
	// either by lazy loading or by attaching n to a tree.
	Loaded(n *Node)
	AttrChanged(n *Node, name schema.QName, old Attr, hadOld bool)
	// LeafListChanged is called after items were added to or removed from
	// leaf-list name of n.
	LeafListChanged(n *Node, name schema.QName)
	// Removed is called after n has been detached from its parent.
	Removed(n *Node)
	// Dirtied is called once per clean-to-dirty transition of root.
	Dirtied(root *Node)
}

// Loader fills in a lazily materialized node using the Init methods.
type Loader func(n *Node) error

type Node struct {
	path schema.Path
	id   nodeid.ID
	key  nodeid.Key

	attrs     map[schema.QName]Attr
	attrOrder []schema.QName
	leafLists map[schema.QName]*LeafList
	llOrder   []schema.QName

	parent     *Node
	children   map[schema.QName][]*Node
	childOrder []schema.QName

	loader  Loader
	loading bool
	loadErr error

	source   any
	record   any
	observer Observer
	modified bool
	dirty    bool
}

// New returns a loaded, detached node. For list entries the key leafs are
// also set as attributes.
func New(path schema.Path, key nodeid.Key) *Node {
	n := &Node{path: path, key: key}
	for _, l := range key.Leafs() {
		n.InitAttr(l.Name, Value(l.Value))
	}
	return n
}

// NewLazy returns a node whose content is filled in by load on first access.
func NewLazy(path schema.Path, id nodeid.ID, key nodeid.Key, source any, load Loader) *Node {
	n := New(path, key)
	n.id = id
	n.source = source
	n.loader = load
	return n
}

func (n *Node) Path() schema.Path { return n.path }
func (n *Node) ID() nodeid.ID { return n.id }
func (n *Node) Key() nodeid.Key { return n.key }
func (n *Node) Parent() *Node { return n.parent }

func (n *Node) String() string {
	return fmt.Sprintf("%v @ %v", n.path, n.id)
}

// SetID assigns the instance id. Stores call it when a detached node is
// created or found.
func (n *Node) SetID(id nodeid.ID) {
	n.id = id
}

func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Source is the marshaller's handle to the serialized form n was read from,
// or nil for nodes created in memory.
func (n *Node) Source() any { return n.source }
func (n *Node) SetSource(src any) { n.source = src }

// Record is the backing record of columnar nodes and stored-parent roots.
func (n *Node) Record() any { return n.record }
func (n *Node) SetRecord(record any) { n.record = record }

func (n *Node) SetObserver(o Observer) {
	n.observer = o
}

func (n *Node) observerOf() Observer {
	return n.Root().observer
}

// Load runs the pending loader, if any. A failed load is remembered and
// returned again on later calls.
func (n *Node) Load() error {
	if n.loader == nil || n.loading {
		return n.loadErr
	}
	n.loading = true
	load := n.loader
	err := load(n)
	n.loading = false
	n.loader = nil
	if err != nil {
		n.loadErr = err
		return err
	}
	if o := n.observerOf(); o != nil {
		o.Loaded(n)
	}
	return nil
}

func (n *Node) IsLoaded() bool {
	return n.loader == nil
}

// Err returns the error of a failed lazy load.
func (n *Node) Err() error {
	return n.loadErr
}

func (n *Node) ensureLoaded() {
	_ = n.Load()
}

// IsDirty reports whether n is a root with unsaved changes.
func (n *Node) IsDirty() bool {
	return n.dirty
}

// IsModified reports whether n or a loaded descendant changed since it was
// loaded or last cleaned.
func (n *Node) IsModified() bool {
	return n.modified
}

func (n *Node) touch() {
	for c := n; c != nil; c = c.parent {
		c.modified = true
	}
	root := n.Root()
	if !root.dirty {
		root.dirty = true
		if root.observer != nil {
			root.observer.Dirtied(root)
		}
	}
}

// MarkClean clears the dirty and modified flags of the whole loaded tree.
// Called after a successful write-back.
func (n *Node) MarkClean() {
	n.dirty = false
	n.WalkLoaded(func(c *Node) bool {
		c.modified = false
		return true
	})
}

// Attr returns the value of leaf name.
func (n *Node) Attr(name schema.QName) (Attr, bool) {
	n.ensureLoaded()
	a, ok := n.attrs[name]
	return a, ok
}

func (n *Node) AttrNames() []schema.QName {
	n.ensureLoaded()
	return slices.Clone(n.attrOrder)
}

func (n *Node) Attrs() map[schema.QName]Attr {
	n.ensureLoaded()
	result := make(map[schema.QName]Attr, len(n.attrs))
	for k, v := range n.attrs {
		result[k] = v
	}
	return result
}

// SetAttr sets leaf name and marks the tree dirty if the value changed.
func (n *Node) SetAttr(name schema.QName, a Attr) {
	if n.setAttr(name, a) {
		n.touch()
	}
}

// SyncAttr sets leaf name without dirtying the tree. It is used for values
// stored outside the blob, such as the record-backed leafs of a root.
func (n *Node) SyncAttr(name schema.QName, a Attr) {
	n.setAttr(name, a)
}

// SyncLeafs replaces the leafs and leaf-lists of n with those of from
// without dirtying the tree. The observer hears about every leaf that
// changed.
func (n *Node) SyncLeafs(from *Node) {
	n.ensureLoaded()
	old, oldLists := n.attrs, n.leafLists
	n.attrs, n.attrOrder = nil, nil
	n.leafLists, n.llOrder = nil, nil
	for _, name := range from.AttrNames() {
		a, _ := from.Attr(name)
		n.InitAttr(name, a)
	}
	for _, name := range from.LeafListNames() {
		for _, a := range from.LeafList(name).Items() {
			n.InitLeafListItem(name, a)
		}
	}
	o := n.observerOf()
	if o == nil {
		return
	}
	for name, a := range old {
		if cur, ok := n.attrs[name]; !ok || cur != a {
			o.AttrChanged(n, name, a, true)
		}
	}
	for name := range n.attrs {
		if _, had := old[name]; !had {
			o.AttrChanged(n, name, Attr{}, false)
		}
	}
	for name, ll := range oldLists {
		if !ll.Equal(n.leafLists[name]) {
			o.LeafListChanged(n, name)
		}
	}
	for name := range n.leafLists {
		if _, had := oldLists[name]; !had {
			o.LeafListChanged(n, name)
		}
	}
}

func (n *Node) setAttr(name schema.QName, a Attr) bool {
	n.ensureLoaded()
	old, had := n.attrs[name]
	if had && old == a {
		return false
	}
	n.InitAttr(name, a)
	if o := n.observerOf(); o != nil {
		o.AttrChanged(n, name, old, had)
	}
	return true
}

func (n *Node) RemoveAttr(name schema.QName) bool {
	n.ensureLoaded()
	old, had := n.attrs[name]
	if !had {
		return false
	}
	delete(n.attrs, name)
	n.attrOrder = slices.DeleteFunc(n.attrOrder, func(q schema.QName) bool { return q == name })
	if o := n.observerOf(); o != nil {
		o.AttrChanged(n, name, old, true)
	}
	n.touch()
	return true
}

// LeafList returns a copy of leaf-list name, or nil.
func (n *Node) LeafList(name schema.QName) *LeafList {
	n.ensureLoaded()
	if ll := n.leafLists[name]; ll != nil {
		return ll.clone()
	}
	return nil
}

func (n *Node) LeafListNames() []schema.QName {
	n.ensureLoaded()
	return slices.Clone(n.llOrder)
}

func (n *Node) AddToLeafList(name schema.QName, a Attr) bool {
	n.ensureLoaded()
	if !n.leafListFor(name).Add(a) {
		return false
	}
	if o := n.observerOf(); o != nil {
		o.LeafListChanged(n, name)
	}
	n.touch()
	return true
}

func (n *Node) RemoveFromLeafList(name schema.QName, a Attr) bool {
	n.ensureLoaded()
	ll := n.leafLists[name]
	if ll == nil || !ll.Remove(a) {
		return false
	}
	if ll.Len() == 0 {
		delete(n.leafLists, name)
		n.llOrder = slices.DeleteFunc(n.llOrder, func(q schema.QName) bool { return q == name })
	}
	if o := n.observerOf(); o != nil {
		o.LeafListChanged(n, name)
	}
	n.touch()
	return true
}

func (n *Node) leafListFor(name schema.QName) *LeafList {
	ll := n.leafLists[name]
	if ll == nil {
		if n.leafLists == nil {
			n.leafLists = make(map[schema.QName]*LeafList)
		}
		ll = &LeafList{}
		n.leafLists[name] = ll
		n.llOrder = append(n.llOrder, name)
	}
	return ll
}

// Children returns the children named name in order.
func (n *Node) Children(name schema.QName) []*Node {
	n.ensureLoaded()
	return slices.Clone(n.children[name])
}

func (n *Node) ChildNames() []schema.QName {
	n.ensureLoaded()
	return slices.Clone(n.childOrder)
}

// AllChildren returns every child, grouped by name in first-seen order.
func (n *Node) AllChildren() []*Node {
	n.ensureLoaded()
	var result []*Node
	for _, name := range n.childOrder {
		result = append(result, n.children[name]...)
	}
	return result
}

// Child returns the child with the given name and key (the empty key for
// containers), or nil.
func (n *Node) Child(name schema.QName, key nodeid.Key) *Node {
	n.ensureLoaded()
	for _, c := range n.children[name] {
		if c.key.Equal(key) {
			return c
		}
	}
	return nil
}

// InsertChild attaches c at index among the children sharing its name, or
// at the end for AtEnd and out-of-range indexes.
func (n *Node) InsertChild(c *Node, index int) {
	n.ensureLoaded()
	if c.parent != nil {
		panic(fmt.Errorf("node %v is already attached to %v", c, c.parent))
	}
	n.insertChild(c, index)
	if o := n.observerOf(); o != nil {
		c.WalkLoaded(func(d *Node) bool {
			o.Loaded(d)
			return true
		})
	}
	n.touch()
}

func (n *Node) insertChild(c *Node, index int) {
	name := c.path.Last()
	if n.children == nil {
		n.children = make(map[schema.QName][]*Node)
	}
	list, seen := n.children[name]
	if !seen {
		n.childOrder = append(n.childOrder, name)
	}
	if index < 0 || index > len(list) {
		index = len(list)
	}
	n.children[name] = slices.Insert(list, index, c)
	c.parent = n
}

// RemoveChild detaches c from n.
func (n *Node) RemoveChild(c *Node) bool {
	n.ensureLoaded()
	if !n.detach(c) {
		return false
	}
	if o := n.observerOf(); o != nil {
		o.Removed(c)
	}
	n.touch()
	return true
}

func (n *Node) detach(c *Node) bool {
	name := c.path.Last()
	list := n.children[name]
	i := slices.Index(list, c)
	if i < 0 {
		return false
	}
	n.children[name] = slices.Delete(list, i, i+1)
	c.parent = nil
	return true
}

// MoveChild moves c to index among its same-named siblings.
func (n *Node) MoveChild(c *Node, index int) bool {
	n.ensureLoaded()
	list := n.children[c.path.Last()]
	i := slices.Index(list, c)
	if i < 0 {
		return false
	}
	if index < 0 || index >= len(list) {
		index = len(list) - 1
	}
	if i == index {
		return false
	}
	list = slices.Delete(list, i, i+1)
	n.children[c.path.Last()] = slices.Insert(list, index, c)
	n.touch()
	return true
}

// IndexOf returns the position of c among its same-named siblings.
func (n *Node) IndexOf(c *Node) int {
	return slices.Index(n.children[c.path.Last()], c)
}

// WalkLoaded visits n and its loaded descendants depth-first without
// triggering lazy loads. Returning false skips a node's children.
func (n *Node) WalkLoaded(f func(n *Node) bool) {
	if !f(n) || !n.IsLoaded() {
		return
	}
	for _, name := range n.childOrder {
		for _, c := range n.children[name] {
			c.WalkLoaded(f)
		}
	}
}

// InitAttr sets a leaf while building a node. It neither dirties the tree
// nor notifies the observer.
func (n *Node) InitAttr(name schema.QName, a Attr) {
	if n.attrs == nil {
		n.attrs = make(map[schema.QName]Attr)
	}
	if _, ok := n.attrs[name]; !ok {
		n.attrOrder = append(n.attrOrder, name)
	}
	n.attrs[name] = a
}

// InitLeafListItem appends to a leaf-list while building a node.
func (n *Node) InitLeafListItem(name schema.QName, a Attr) {
	n.leafListFor(name).Add(a)
}

// InitLeafList replaces the items of a leaf-list while building a node,
// keeping its place among the node's leaf-lists.
func (n *Node) InitLeafList(name schema.QName, items []Attr) {
	ll := n.leafListFor(name)
	ll.items = nil
	for _, a := range items {
		ll.Add(a)
	}
}

// InitChild appends a child while building a node.
func (n *Node) InitChild(c *Node) {
	n.insertChild(c, AtEnd)
}
