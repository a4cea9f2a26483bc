package scope

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/schema"
)

// Index maps prefix-free node paths to nodes and leaf paths to values, and
// buckets leaf paths by schema path and value for reverse lookups such as
// "which ports reference this profile".
//
// Leaf paths are the node path plus "/" and the leaf's local name. Each
// leaf-list item is indexed as a leaf of its own at the leaf-list path plus
// [.="value"], so items share value buckets with plain leafs.
type Index struct {
	nodes   map[string]*node.Node
	attrs   map[string]indexedAttr
	lists   map[string][]string
	byValue map[string]map[string]map[string]struct{}
}

type indexedAttr struct {
	typePath string
	node     string
	attr     node.Attr
}

func NewIndex() *Index {
	return &Index{
		nodes:   make(map[string]*node.Node),
		attrs:   make(map[string]indexedAttr),
		lists:   make(map[string][]string),
		byValue: make(map[string]map[string]map[string]struct{}),
	}
}

func attrPath(n *node.Node, name schema.QName) string {
	return n.ID().XPath() + "/" + name.Local
}

// Add indexes n and, if n is loaded, its leafs. Adding never triggers a
// lazy load.
func (ix *Index) Add(n *node.Node) {
	ix.nodes[n.ID().XPath()] = n
	if !n.IsLoaded() {
		return
	}
	for name, a := range n.Attrs() {
		ix.SetAttr(n, name, a)
	}
	for _, name := range n.LeafListNames() {
		ix.SetLeafList(n, name, n.LeafList(name).Items())
	}
}

// SetAttr indexes the current value of leaf name of n.
func (ix *Index) SetAttr(n *node.Node, name schema.QName, a node.Attr) {
	ap := attrPath(n, name)
	ix.removeAttr(ap)
	ix.put(ap, indexedAttr{typePath: n.Path().Child(name).String(), node: n.ID().XPath(), attr: a})
}

// SetLeafList indexes items as the current content of leaf-list name of n.
func (ix *Index) SetLeafList(n *node.Node, name schema.QName, items []node.Attr) {
	lp := attrPath(n, name)
	ix.removeLeafList(lp)
	if len(items) == 0 {
		return
	}
	tp := n.Path().Child(name).String()
	np := n.ID().XPath()
	paths := make([]string, 0, len(items))
	for _, a := range items {
		ip := lp + "[.=" + strconv.Quote(a.String()) + "]"
		ix.put(ip, indexedAttr{typePath: tp, node: np, attr: a})
		paths = append(paths, ip)
	}
	ix.lists[lp] = paths
}

func (ix *Index) removeLeafList(lp string) {
	for _, ip := range ix.lists[lp] {
		ix.removeAttr(ip)
	}
	delete(ix.lists, lp)
}

func (ix *Index) put(ap string, ia indexedAttr) {
	ix.attrs[ap] = ia
	tp, a := ia.typePath, ia.attr
	values := ix.byValue[tp]
	if values == nil {
		values = make(map[string]map[string]struct{})
		ix.byValue[tp] = values
	}
	paths := values[a.Value]
	if paths == nil {
		paths = make(map[string]struct{})
		values[a.Value] = paths
	}
	paths[ap] = struct{}{}
}

func (ix *Index) RemoveAttr(n *node.Node, name schema.QName) {
	ix.removeAttr(attrPath(n, name))
}

func (ix *Index) removeAttr(ap string) {
	old, ok := ix.attrs[ap]
	if !ok {
		return
	}
	delete(ix.attrs, ap)
	values := ix.byValue[old.typePath]
	paths := values[old.attr.Value]
	delete(paths, ap)
	if len(paths) == 0 {
		delete(values, old.attr.Value)
	}
	if len(values) == 0 {
		delete(ix.byValue, old.typePath)
	}
}

// RemoveNode removes the node at path and everything below it, including
// their leafs and any value bucket left empty. It returns the number of
// nodes removed.
func (ix *Index) RemoveNode(path string) int {
	under := func(p string) bool {
		return p == path || strings.HasPrefix(p, path+"/")
	}
	var count int
	for p := range ix.nodes {
		if under(p) {
			delete(ix.nodes, p)
			count++
		}
	}
	for ap := range ix.attrs {
		if strings.HasPrefix(ap, path+"/") {
			ix.removeAttr(ap)
		}
	}
	for lp := range ix.lists {
		if strings.HasPrefix(lp, path+"/") {
			delete(ix.lists, lp)
		}
	}
	return count
}

// Node returns the node at the given prefix-free path.
func (ix *Index) Node(path string) *node.Node {
	return ix.nodes[path]
}

func (ix *Index) Attr(path string) (node.Attr, bool) {
	ia, ok := ix.attrs[path]
	return ia.attr, ok
}

// AttrsWithValue returns the sorted paths of indexed leafs at schema path
// typePath whose value is value.
func (ix *Index) AttrsWithValue(typePath schema.Path, value string) []string {
	paths := ix.byValue[typePath.String()][value]
	if len(paths) == 0 {
		return nil
	}
	result := make([]string, 0, len(paths))
	for p := range paths {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// NodesWithValue returns the nodes owning the leafs AttrsWithValue finds.
func (ix *Index) NodesWithValue(typePath schema.Path, value string) []*node.Node {
	var result []*node.Node
	seen := make(map[*node.Node]bool)
	for _, ap := range ix.AttrsWithValue(typePath, value) {
		if n := ix.nodes[ix.attrs[ap].node]; n != nil && !seen[n] {
			seen[n] = true
			result = append(result, n)
		}
	}
	return result
}

// Len returns the number of indexed nodes, leafs and value buckets.
func (ix *Index) Len() (nodes, attrs, buckets int) {
	for _, values := range ix.byValue {
		buckets += len(values)
	}
	return len(ix.nodes), len(ix.attrs), buckets
}
