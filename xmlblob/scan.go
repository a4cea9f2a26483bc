package xmlblob

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andreyvit/confstore/nodeid"
)

// nsScope holds the namespace declarations in effect inside an element.
// The empty prefix is the default namespace.
type nsScope struct {
	parent   *nsScope
	prefixes map[string]string
}

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

func (s *nsScope) with(attrs []xml.Attr) *nsScope {
	var decls map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			prefix = ""
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		default:
			continue
		}
		if decls == nil {
			decls = make(map[string]string)
		}
		decls[prefix] = a.Value
	}
	if decls == nil {
		return s
	}
	return &nsScope{parent: s, prefixes: decls}
}

func (s *nsScope) lookup(prefix string) (string, bool) {
	for c := s; c != nil; c = c.parent {
		if ns, ok := c.prefixes[prefix]; ok {
			return ns, true
		}
	}
	switch prefix {
	case "":
		return "", true
	case "xml":
		return xmlNamespace, true
	default:
		return "", false
	}
}

func (s *nsScope) defaultNS() string {
	ns, _ := s.lookup("")
	return ns
}

// prefixFor returns a non-empty prefix currently bound to ns.
func (s *nsScope) prefixFor(ns string) (string, bool) {
	seen := make(map[string]bool)
	for c := s; c != nil; c = c.parent {
		for p, v := range c.prefixes {
			if seen[p] {
				continue
			}
			seen[p] = true
			if p != "" && v == ns {
				return p, true
			}
		}
	}
	return "", false
}

// unusedPrefix picks a prefix that is not bound in s.
func (s *nsScope) unusedPrefix() string {
	for i := 1; ; i++ {
		p := fmt.Sprintf("ns%d", i)
		if _, bound := s.lookup(p); !bound {
			return p
		}
	}
}

func (s *nsScope) resolve(name xml.Name) (xml.Name, error) {
	ns, ok := s.lookup(name.Space)
	if !ok {
		return xml.Name{}, fmt.Errorf("undeclared namespace prefix %q on <%s>", name.Space, rawName(name))
	}
	return xml.Name{Space: ns, Local: name.Local}, nil
}

func rawName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// element is a span of the blob holding one XML element. Offsets index raw:
// the start tag is raw[start:open], the content raw[open:close] and the end
// tag raw[close:end]. Self-closing elements have open == close == end.
type element struct {
	raw         []byte
	start, open int
	close, end  int
	selfClosing bool
	name        xml.Name // resolved namespace in Space
	rawName     xml.Name // prefix in Space
	outer       *nsScope
	scope       *nsScope

	scanned bool
	content []piece
	text    strings.Builder

	// key is set for list entries when their parent is materialized.
	key nodeid.Key
}

// piece is an immediate content item of an element: a child element, or a
// run of text, comment or processing instruction kept as raw bytes.
type piece struct {
	start, end int
	elem       *element
}

func (el *element) bytes() []byte {
	return el.raw[el.start:el.end]
}

func (el *element) startTag() []byte {
	return el.raw[el.start:el.open]
}

func (el *element) endTag() []byte {
	return el.raw[el.close:el.end]
}

// scanElement tokenizes the element whose start tag begins at raw[start],
// checking the whole subtree and recording its immediate content.
func scanElement(raw []byte, start int, outer *nsScope) (*element, error) {
	d := xml.NewDecoder(bytes.NewReader(raw[start:]))
	var el *element
	var cur *element
	var open []xml.Name
	for {
		before := start + int(d.InputOffset())
		tok, err := d.RawToken()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		after := start + int(d.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			switch len(open) {
			case 0:
				el = &element{raw: raw, start: before, open: after, rawName: t.Name, outer: outer}
				el.scope = outer.with(t.Attr)
				if el.name, err = el.scope.resolve(t.Name); err != nil {
					return nil, err
				}
			case 1:
				cur = &element{raw: raw, start: before, open: after, rawName: t.Name, outer: el.scope}
				cur.scope = el.scope.with(t.Attr)
				if cur.name, err = cur.scope.resolve(t.Name); err != nil {
					return nil, err
				}
			}
			open = append(open, t.Name)

		case xml.EndElement:
			if len(open) == 0 {
				return nil, fmt.Errorf("unexpected </%s> at offset %d", rawName(t.Name), before)
			}
			if top := open[len(open)-1]; top != t.Name {
				return nil, fmt.Errorf("element <%s> closed by </%s> at offset %d", rawName(top), rawName(t.Name), before)
			}
			open = open[:len(open)-1]
			switch len(open) {
			case 0:
				el.close, el.end = before, after
				el.selfClosing = before == after
				if el.selfClosing {
					el.close = el.open
				}
				el.scanned = true
				return el, nil
			case 1:
				cur.close, cur.end = before, after
				cur.selfClosing = before == after
				if cur.selfClosing {
					cur.close = cur.open
				}
				el.content = append(el.content, piece{start: cur.start, end: cur.end, elem: cur})
				cur = nil
			}

		case xml.CharData:
			if len(open) == 0 {
				return nil, fmt.Errorf("text outside of element at offset %d", before)
			}
			if len(open) == 1 {
				el.content = append(el.content, piece{start: before, end: after})
				el.text.Write(t)
			}

		default:
			if len(open) == 0 {
				return nil, fmt.Errorf("unexpected %T before element at offset %d", tok, before)
			}
			if len(open) == 1 {
				el.content = append(el.content, piece{start: before, end: after})
			}
		}
	}
}

// expand scans el's content if it has not been scanned yet.
func (el *element) expand() error {
	if el.scanned {
		return nil
	}
	full, err := scanElement(el.raw, el.start, el.outer)
	if err != nil {
		return err
	}
	el.content = full.content
	el.text.WriteString(full.text.String())
	el.scanned = true
	return nil
}

func (el *element) childElements() []*element {
	var result []*element
	for _, pc := range el.content {
		if pc.elem != nil {
			result = append(result, pc.elem)
		}
	}
	return result
}
