// Package xmlblob maps between the XML blob of a stored-parent record and its
// in-memory node tree.
//
// The blob is one XML element for the stored-parent itself. Its children are
// matched against the schema by namespace and local name: leafs become
// attributes, leaf-lists accumulate in document order, containers and list
// entries become lazily loaded child nodes. Everything else is kept verbatim.
//
// Serialization works from the original bytes: untouched elements are copied
// byte for byte, so rewriting a blob after changing one list entry leaves
// every other entry exactly as it was.
package xmlblob

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

// Marshaller is stateless apart from its configuration and safe for
// concurrent use; the trees it builds are not.
type Marshaller struct {
	Catalog schema.Catalog

	// Skip reports schema paths that are stored outside the blob, such as
	// descendants with a record type of their own. Their elements are kept
	// verbatim and never materialized.
	Skip func(p schema.Path) bool
}

func (m *Marshaller) skip(p schema.Path) bool {
	return m.Skip != nil && m.Skip(p)
}

// Document is a parsed blob. An empty blob has no root element.
type Document struct {
	raw  []byte
	root *element
}

func (doc *Document) IsEmpty() bool {
	return doc.root == nil
}

// Parse checks that blob is a single well-formed element named after the
// last component of path. It tokenizes the whole blob once but only keeps
// the positions of the root's immediate children.
func (m *Marshaller) Parse(blob []byte, path schema.Path) (*Document, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return &Document{}, nil
	}
	start, err := findRootStart(blob)
	if err != nil {
		return nil, err
	}
	root, err := scanElement(blob, start, nil)
	if err != nil {
		return nil, err
	}
	if err := checkTrailer(blob[root.end:]); err != nil {
		return nil, err
	}
	if want := path.Last(); root.name.Space != want.Namespace || root.name.Local != want.Local {
		return nil, fmt.Errorf("root element is {%s}%s, wanted %v", root.name.Space, root.name.Local, want)
	}
	return &Document{raw: blob, root: root}, nil
}

func findRootStart(blob []byte) (int, error) {
	d := xml.NewDecoder(bytes.NewReader(blob))
	for {
		before := int(d.InputOffset())
		tok, err := d.RawToken()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("no root element")
			}
			return 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return before, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return 0, fmt.Errorf("text before root element at offset %d", before)
			}
		case xml.EndElement:
			return 0, fmt.Errorf("unexpected </%s> at offset %d", rawName(t.Name), before)
		}
	}
}

func checkTrailer(rest []byte) error {
	d := xml.NewDecoder(bytes.NewReader(rest))
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return errors.New("text after root element")
			}
		case xml.StartElement:
			return fmt.Errorf("second root element <%s>", rawName(t.Name))
		case xml.EndElement:
			return fmt.Errorf("unexpected </%s> after root element", rawName(t.Name))
		}
	}
}

// Materialize attaches the document's children to root as lazily loaded
// nodes. The root's own leafs live in its record and are ignored here.
func (m *Marshaller) Materialize(doc *Document, root *node.Node) error {
	if doc.root == nil {
		return nil
	}
	root.SetSource(doc.root)
	return m.fill(root, doc.root, true)
}

// Load parses blob and materializes it into root. Errors are Marshalling
// errors naming root's path and id.
func (m *Marshaller) Load(blob []byte, root *node.Node) error {
	doc, err := m.Parse(blob, root.Path())
	if err == nil {
		err = m.Materialize(doc, root)
	}
	if err != nil {
		return storeerr.Wrap(storeerr.Marshalling, "parse blob", root.Path(), root.ID(), err)
	}
	return nil
}

func (m *Marshaller) load(n *node.Node) error {
	el, ok := n.Source().(*element)
	if !ok {
		return nil
	}
	err := el.expand()
	if err == nil {
		err = m.fill(n, el, false)
	}
	if err != nil {
		return storeerr.Wrap(storeerr.Marshalling, "load", n.Path(), n.ID(), err)
	}
	return nil
}

// fill turns el's immediate children into n's content.
func (m *Marshaller) fill(n *node.Node, el *element, isRoot bool) error {
	seen := make(map[schema.QName]bool)
	for _, c := range el.childElements() {
		dc, ok := m.match(n.Path(), c)
		if !ok {
			continue
		}
		switch dc.Kind {
		case schema.KindLeaf:
			if isRoot {
				continue
			}
			a, err := m.leafValue(c, dc.Path)
			if err != nil {
				return err
			}
			if seen[dc.Name] {
				return fmt.Errorf("leaf %v appears twice", dc.Name)
			}
			seen[dc.Name] = true
			n.InitAttr(dc.Name, a)
		case schema.KindLeafList:
			if isRoot {
				continue
			}
			a, err := m.leafValue(c, dc.Path)
			if err != nil {
				return err
			}
			n.InitLeafListItem(dc.Name, a)
		case schema.KindContainer:
			if seen[dc.Name] {
				return fmt.Errorf("container %v appears twice", dc.Name)
			}
			seen[dc.Name] = true
			n.InitChild(node.NewLazy(dc.Path, n.ID().Container(dc.Name), nodeid.Key{}, c, m.load))
		case schema.KindList:
			key, err := m.entryKey(c, dc.Path)
			if err != nil {
				return err
			}
			if n.Child(dc.Name, key) != nil {
				return fmt.Errorf("list entry %v%v appears twice", dc.Name.Local, key)
			}
			c.key = key
			n.InitChild(node.NewLazy(dc.Path, n.ID().Entry(dc.Name, key), key, c, m.load))
		default:
			panic("unsupported node kind " + dc.Kind.String())
		}
	}
	return nil
}

// match finds the schema child of parent that element c stands for.
func (m *Marshaller) match(parent schema.Path, c *element) (schema.DataChild, bool) {
	dc, ok := schema.DataChildNamed(m.Catalog, parent, schema.Q(c.name.Space, c.name.Local))
	if !ok || m.skip(dc.Path) {
		return schema.DataChild{}, false
	}
	return dc, true
}

func (m *Marshaller) leafValue(c *element, p schema.Path) (node.Attr, error) {
	if err := c.expand(); err != nil {
		return node.Attr{}, err
	}
	text := c.text.String()
	if !m.Catalog.IsIdentityRef(p) {
		return node.Value(text), nil
	}
	text = strings.TrimSpace(text)
	prefix, local, found := strings.Cut(text, ":")
	if !found {
		prefix, local = "", text
	}
	ns, ok := c.scope.lookup(prefix)
	if !ok {
		return node.Attr{}, fmt.Errorf("identity %q of %v uses undeclared prefix %q", text, p.Last(), prefix)
	}
	return node.IdentityRef(ns, local), nil
}

// entryKey reads the key leafs of a list entry element.
func (m *Marshaller) entryKey(c *element, p schema.Path) (nodeid.Key, error) {
	names := m.Catalog.KeyDefinitionOf(p)
	if len(names) == 0 {
		return nodeid.Key{}, nil
	}
	if err := c.expand(); err != nil {
		return nodeid.Key{}, err
	}
	values := make([]string, len(names))
	found := make([]bool, len(names))
	for _, k := range c.childElements() {
		for i, name := range names {
			if !found[i] && k.name.Space == name.Namespace && k.name.Local == name.Local {
				if err := k.expand(); err != nil {
					return nodeid.Key{}, err
				}
				values[i] = k.text.String()
				found[i] = true
			}
		}
	}
	for i, ok := range found {
		if !ok {
			return nodeid.Key{}, fmt.Errorf("%v entry at offset %d has no key leaf %v", p.Last(), c.start, names[i])
		}
	}
	return nodeid.KeyOf(names, values), nil
}
