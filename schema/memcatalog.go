package schema

import (
	"fmt"
	"sync"
)

// MemCatalog is an in-memory Catalog assembled with Add or loaded from YAML.
// It is safe for concurrent reads once built.
type MemCatalog struct {
	mu    sync.RWMutex
	nodes map[string]*memNode
	roots []Child
}

type memNode struct {
	path          Path
	kind          Kind
	children      []Child
	keys          []QName
	orderedByUser bool
	identityRef   bool
}

// NodeOpt customizes a node added to a MemCatalog.
type NodeOpt func(n *memNode)

// Keys declares the key leafs of a list, in key order. The key leafs
// themselves still have to be added as children.
func Keys(keys ...QName) NodeOpt {
	return func(n *memNode) {
		n.keys = append([]QName(nil), keys...)
	}
}

func OrderedByUser() NodeOpt {
	return func(n *memNode) {
		n.orderedByUser = true
	}
}

func IdentityRef() NodeOpt {
	return func(n *memNode) {
		n.identityRef = true
	}
}

var _ Catalog = (*MemCatalog)(nil)

func NewMemCatalog() *MemCatalog {
	return &MemCatalog{
		nodes: make(map[string]*memNode),
	}
}

// Add declares a node under parent and returns its path. Panics if parent is
// unknown, if the name is taken, or if the kind cannot be nested there; the
// catalog is expected to be built by trusted code.
func (c *MemCatalog) Add(parent Path, name QName, kind Kind, opts ...NodeOpt) Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	if kind == KindUnknown {
		panic(fmt.Errorf("%v/%v: unknown kind", parent, name))
	}
	var siblings *[]Child
	if parent.IsRoot() {
		siblings = &c.roots
	} else {
		pn := c.nodes[parent.String()]
		if pn == nil {
			panic(fmt.Errorf("%v: parent not in catalog", parent))
		}
		switch pn.kind {
		case KindLeaf, KindLeafList:
			panic(fmt.Errorf("%v: %v cannot have children", parent, pn.kind))
		case KindChoice:
			if kind != KindCase {
				panic(fmt.Errorf("%v: choice may only contain cases, got %v", parent, kind))
			}
		}
		siblings = &pn.children
	}
	for _, ch := range *siblings {
		if ch.Name == name {
			panic(fmt.Errorf("%v: duplicate child %v", parent, name))
		}
	}
	*siblings = append(*siblings, Child{Name: name, Kind: kind})

	p := parent.Child(name)
	n := &memNode{path: p, kind: kind}
	for _, opt := range opts {
		opt(n)
	}
	if len(n.keys) > 0 && kind != KindList {
		panic(fmt.Errorf("%v: only lists have keys", p))
	}
	c.nodes[p.String()] = n
	return p
}

func (c *MemCatalog) Container(parent Path, name QName, opts ...NodeOpt) Path {
	return c.Add(parent, name, KindContainer, opts...)
}

// List adds a list and its key leafs.
func (c *MemCatalog) List(parent Path, name QName, keys []QName, opts ...NodeOpt) Path {
	p := c.Add(parent, name, KindList, append([]NodeOpt{Keys(keys...)}, opts...)...)
	for _, k := range keys {
		c.Add(p, k, KindLeaf)
	}
	return p
}

func (c *MemCatalog) Leaf(parent Path, name QName, opts ...NodeOpt) Path {
	return c.Add(parent, name, KindLeaf, opts...)
}

func (c *MemCatalog) LeafList(parent Path, name QName, opts ...NodeOpt) Path {
	return c.Add(parent, name, KindLeafList, opts...)
}

func (c *MemCatalog) node(p Path) *memNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[p.String()]
}

func (c *MemCatalog) Kind(p Path) Kind {
	if n := c.node(p); n != nil {
		return n.kind
	}
	return KindUnknown
}

func (c *MemCatalog) ChildrenOf(p Path) []Child {
	if p.IsRoot() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return append([]Child(nil), c.roots...)
	}
	if n := c.node(p); n != nil {
		return append([]Child(nil), n.children...)
	}
	return nil
}

func (c *MemCatalog) KeyDefinitionOf(p Path) []QName {
	if n := c.node(p); n != nil {
		return append([]QName(nil), n.keys...)
	}
	return nil
}

func (c *MemCatalog) ParentOf(p Path) (Path, bool) {
	if p.Len() <= 1 || c.node(p) == nil {
		return Path{}, false
	}
	return p.Parent(), true
}

func (c *MemCatalog) IsOrderedByUser(p Path) bool {
	n := c.node(p)
	return n != nil && n.orderedByUser
}

func (c *MemCatalog) IsIdentityRef(p Path) bool {
	n := c.node(p)
	return n != nil && n.identityRef
}

// Walk visits every node depth-first in schema order.
func (c *MemCatalog) Walk(f func(p Path, kind Kind, depth int)) {
	var walk func(p Path, depth int)
	walk = func(p Path, depth int) {
		for _, ch := range c.ChildrenOf(p) {
			cp := p.Child(ch.Name)
			f(cp, ch.Kind, depth)
			walk(cp, depth+1)
		}
	}
	walk(Root, 0)
}
