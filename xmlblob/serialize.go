package xmlblob

import (
	"bytes"
	"encoding/xml"
	"slices"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

// Serialize writes the blob of a stored-parent root. Elements of unmodified
// nodes are copied from the source; modified ones keep their start tag,
// untouched content and position. New leafs and children are appended
// before the end tag, or placed before the next existing sibling when they
// were inserted among existing list entries.
func (m *Marshaller) Serialize(root *node.Node) ([]byte, error) {
	w := &writer{m: m}
	if err := w.node(root, true, nil); err != nil {
		return nil, storeerr.Wrap(storeerr.Marshalling, "serialize", root.Path(), root.ID(), err)
	}
	return w.buf.Bytes(), nil
}

type writer struct {
	m   *Marshaller
	buf bytes.Buffer
}

func sourceOf(n *node.Node) *element {
	el, _ := n.Source().(*element)
	return el
}

func (w *writer) node(n *node.Node, isRoot bool, outer *nsScope) error {
	el := sourceOf(n)
	switch {
	case el != nil && !n.IsModified():
		w.buf.Write(el.bytes())
		return nil
	case el != nil:
		return w.rewrite(n, el, isRoot)
	default:
		return w.fresh(n, isRoot, outer)
	}
}

// fresh writes a node that has no source element.
func (w *writer) fresh(n *node.Node, isRoot bool, outer *nsScope) error {
	name := n.Path().Last()
	scope := w.openTag(name, outer, nil)
	w.buf.WriteByte('>')
	if !isRoot {
		for _, q := range n.AttrNames() {
			a, _ := n.Attr(q)
			w.leaf(n.Path().Child(q), q, a, scope)
		}
		for _, q := range n.LeafListNames() {
			for _, a := range n.LeafList(q).Items() {
				w.leaf(n.Path().Child(q), q, a, scope)
			}
		}
	}
	for _, c := range n.AllChildren() {
		if err := w.node(c, false, scope); err != nil {
			return err
		}
	}
	w.closeTag(name)
	return nil
}

// openTag writes "<name" plus a default namespace declaration when name's
// namespace differs from the one in effect, and extra prefix declarations.
// The caller writes the closing '>'.
func (w *writer) openTag(name schema.QName, outer *nsScope, extra map[string]string) *nsScope {
	w.buf.WriteByte('<')
	w.buf.WriteString(name.Local)
	var attrs []xml.Attr
	if outer.defaultNS() != name.Namespace {
		w.buf.WriteString(` xmlns="`)
		xml.EscapeText(&w.buf, []byte(name.Namespace))
		w.buf.WriteByte('"')
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: name.Namespace})
	}
	prefixes := make([]string, 0, len(extra))
	for p := range extra {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)
	for _, p := range prefixes {
		w.buf.WriteString(` xmlns:`)
		w.buf.WriteString(p)
		w.buf.WriteString(`="`)
		xml.EscapeText(&w.buf, []byte(extra[p]))
		w.buf.WriteByte('"')
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: "xmlns", Local: p}, Value: extra[p]})
	}
	return outer.with(attrs)
}

func (w *writer) closeTag(name schema.QName) {
	w.buf.WriteString("</")
	w.buf.WriteString(name.Local)
	w.buf.WriteByte('>')
}

// leaf writes a leaf or one leaf-list item as a new element.
func (w *writer) leaf(p schema.Path, name schema.QName, a node.Attr, outer *nsScope) {
	var extra map[string]string
	inner := outer
	if outer.defaultNS() != name.Namespace {
		inner = outer.with([]xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: name.Namespace}})
	}
	text, prefix, needDecl := w.identityText(p, a, inner)
	if needDecl {
		extra = map[string]string{prefix: a.Namespace}
	}
	w.openTag(name, outer, extra)
	w.buf.WriteByte('>')
	xml.EscapeText(&w.buf, []byte(text))
	w.closeTag(name)
}

// identityText renders a leaf value. Identity references are written as
// prefix:value, reusing a prefix bound in scope when there is one; needDecl
// asks the caller to declare prefix. An identity without a namespace is
// written bare and reads back in the leaf's own namespace.
func (w *writer) identityText(p schema.Path, a node.Attr, scope *nsScope) (text string, prefix string, needDecl bool) {
	if !w.m.Catalog.IsIdentityRef(p) || a.Namespace == "" || a.Namespace == scope.defaultNS() {
		return a.Value, "", false
	}
	if pfx, ok := scope.prefixFor(a.Namespace); ok {
		return pfx + ":" + a.Value, pfx, false
	}
	pfx := scope.unusedPrefix()
	return pfx + ":" + a.Value, pfx, true
}

// replaceLeaf writes a changed leaf in place of its source element c,
// keeping c's tags when possible.
func (w *writer) replaceLeaf(p schema.Path, name schema.QName, a node.Attr, c *element, outer *nsScope) {
	text, _, needDecl := w.identityText(p, a, c.scope)
	if needDecl || c.selfClosing {
		w.leaf(p, name, a, outer)
		return
	}
	w.buf.Write(c.startTag())
	xml.EscapeText(&w.buf, []byte(text))
	w.buf.Write(c.endTag())
}

// sourceMode says what to do with the source elements of a leaf-list.
type sourceMode int

const (
	copySource sourceMode = iota + 1
	dropSource
)

// childPlan tracks how the live children sharing one name are written
// against their source elements.
type childPlan struct {
	live     []*node.Node
	assigned map[*element]*node.Node
	inOrder  bool
	next     int
	started  bool
}

func (w *writer) planChildren(n *node.Node, el *element) map[schema.QName]*childPlan {
	plans := make(map[schema.QName]*childPlan)
	for _, name := range n.ChildNames() {
		live := n.Children(name)
		plan := &childPlan{live: live, assigned: make(map[*element]*node.Node), inOrder: true}
		used := make(map[*node.Node]bool)
		for _, c := range live {
			if src := sourceOf(c); src != nil {
				plan.assigned[src] = c
				used[c] = true
			}
		}
		// a removed entry re-created with the same key takes its old place
		for _, src := range el.childElements() {
			if src.name.Space != name.Namespace || src.name.Local != name.Local || plan.assigned[src] != nil {
				continue
			}
			for _, c := range live {
				if !used[c] && sourceOf(c) == nil && c.Key().Equal(src.key) {
					plan.assigned[src] = c
					used[c] = true
					break
				}
			}
		}
		last := -1
		for _, src := range el.childElements() {
			if c := plan.assigned[src]; c != nil {
				i := slices.Index(live, c)
				if i < last {
					plan.inOrder = false
				}
				last = i
			}
		}
		plans[name] = plan
	}
	return plans
}

// rewrite writes a modified node that has a source element.
func (w *writer) rewrite(n *node.Node, el *element, isRoot bool) error {
	if err := n.Load(); err != nil {
		return err
	}
	if el.selfClosing {
		tag := el.startTag()
		tag = bytes.TrimSuffix(tag, []byte("/>"))
		w.buf.Write(tag)
		w.buf.WriteByte('>')
	} else {
		w.buf.Write(el.startTag())
	}

	plans := w.planChildren(n, el)
	attrsDone := make(map[schema.QName]bool)
	leafListModes := make(map[schema.QName]sourceMode)

	for _, pc := range el.content {
		c := pc.elem
		if c == nil {
			w.buf.Write(el.raw[pc.start:pc.end])
			continue
		}
		dc, ok := w.m.match(n.Path(), c)
		if !ok || (isRoot && (dc.Kind == schema.KindLeaf || dc.Kind == schema.KindLeafList)) {
			w.buf.Write(c.bytes())
			continue
		}
		switch dc.Kind {
		case schema.KindLeaf:
			if attrsDone[dc.Name] {
				continue
			}
			attrsDone[dc.Name] = true
			a, has := n.Attr(dc.Name)
			if !has {
				continue
			}
			if old, err := w.m.leafValue(c, dc.Path); err == nil && old == a {
				w.buf.Write(c.bytes())
			} else {
				w.replaceLeaf(dc.Path, dc.Name, a, c, el.scope)
			}

		case schema.KindLeafList:
			mode, seen := leafListModes[dc.Name]
			if !seen {
				items := n.LeafList(dc.Name).Items()
				old, err := w.sourceLeafList(el, dc)
				if err == nil && slices.Equal(old, items) {
					mode = copySource
				} else {
					mode = dropSource
					for _, a := range items {
						w.leaf(dc.Path, dc.Name, a, el.scope)
					}
				}
				leafListModes[dc.Name] = mode
			}
			if mode == copySource {
				w.buf.Write(c.bytes())
			}

		case schema.KindContainer, schema.KindList:
			plan := plans[dc.Name]
			if plan == nil {
				continue
			}
			if !plan.inOrder {
				if !plan.started {
					plan.started = true
					for _, live := range plan.live {
						if err := w.node(live, false, el.scope); err != nil {
							return err
						}
					}
					plan.next = len(plan.live)
				}
				continue
			}
			plan.started = true
			live := plan.assigned[c]
			if live == nil {
				continue
			}
			j := slices.Index(plan.live, live)
			for _, pending := range plan.live[plan.next:j] {
				if err := w.node(pending, false, el.scope); err != nil {
					return err
				}
			}
			if err := w.node(live, false, el.scope); err != nil {
				return err
			}
			plan.next = j + 1

		default:
			panic("unsupported node kind " + dc.Kind.String())
		}
	}

	if !isRoot {
		for _, q := range n.AttrNames() {
			if attrsDone[q] {
				continue
			}
			a, _ := n.Attr(q)
			w.leaf(n.Path().Child(q), q, a, el.scope)
		}
		for _, q := range n.LeafListNames() {
			if _, seen := leafListModes[q]; seen {
				continue
			}
			for _, a := range n.LeafList(q).Items() {
				w.leaf(n.Path().Child(q), q, a, el.scope)
			}
		}
	}
	for _, name := range n.ChildNames() {
		plan := plans[name]
		for _, c := range plan.live[plan.next:] {
			if err := w.node(c, false, el.scope); err != nil {
				return err
			}
		}
	}

	if el.selfClosing {
		w.buf.WriteString("</")
		w.buf.WriteString(rawName(el.rawName))
		w.buf.WriteByte('>')
	} else {
		w.buf.Write(el.endTag())
	}
	return nil
}

func (w *writer) sourceLeafList(el *element, dc schema.DataChild) ([]node.Attr, error) {
	var result []node.Attr
	for _, c := range el.childElements() {
		if c.name.Space == dc.Name.Namespace && c.name.Local == dc.Name.Local {
			a, err := w.m.leafValue(c, dc.Path)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(result, a) {
				result = append(result, a)
			}
		}
	}
	return result, nil
}
