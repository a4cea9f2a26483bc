package node

import (
	"fmt"
	"io"
	"strings"
)

// Equal compares the content of two trees: attributes, leaf-lists and
// children in order. Ids and record handles are ignored. Both trees are
// loaded fully.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.path.Equal(b.path) || !a.key.Equal(b.key) {
		return false
	}
	aa, ba := a.Attrs(), b.Attrs()
	if len(aa) != len(ba) {
		return false
	}
	for k, v := range aa {
		if w, ok := ba[k]; !ok || w != v {
			return false
		}
	}
	if len(a.leafLists) != len(b.leafLists) {
		return false
	}
	for k, ll := range a.leafLists {
		if !ll.Equal(b.leafLists[k]) {
			return false
		}
	}
	ac, bc := a.AllChildren(), b.AllChildren()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

// Fprint writes an indented outline of the tree, loading it fully.
func Fprint(w io.Writer, n *Node) error {
	return fprint(w, n, 0)
}

func fprint(w io.Writer, n *Node, depth int) error {
	indent := strings.Repeat("  ", depth)
	name := n.path.Last().Local
	if !n.key.IsEmpty() {
		name += fmt.Sprint(n.key.Values())
	}
	if _, err := fmt.Fprintf(w, "%s%s\n", indent, name); err != nil {
		return err
	}
	if err := n.Load(); err != nil {
		return err
	}
	for _, q := range n.attrOrder {
		if _, err := fmt.Fprintf(w, "%s  %s = %v\n", indent, q.Local, n.attrs[q]); err != nil {
			return err
		}
	}
	for _, q := range n.llOrder {
		if _, err := fmt.Fprintf(w, "%s  %s = %v\n", indent, q.Local, n.leafLists[q].Items()); err != nil {
			return err
		}
	}
	for _, c := range n.AllChildren() {
		if err := fprint(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
