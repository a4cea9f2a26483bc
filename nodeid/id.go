// Package nodeid implements hierarchical node identifiers and the codec that
// maps them to list keys and parent identifiers using the schema.
package nodeid

import (
	"fmt"
	"strings"

	"github.com/andreyvit/confstore/schema"
)

// Step is one component of an ID: either a named step (a data node's element
// name) or a keyed step (the key of the list entry named by the preceding
// step).
type Step struct {
	Name  schema.QName
	Keyed bool
	Key   Key
}

func Named(name schema.QName) Step {
	return Step{Name: name}
}

func Keyed(key Key) Step {
	return Step{Keyed: true, Key: key}
}

func (s Step) Equal(another Step) bool {
	if s.Keyed != another.Keyed {
		return false
	}
	if s.Keyed {
		return s.Key.Equal(another.Key)
	}
	return s.Name == another.Name
}

// ID identifies one node instance. IDs are immutable values; the zero ID is
// the root.
type ID struct {
	steps []Step
}

var Root = ID{}

func New(steps ...Step) ID {
	if len(steps) == 0 {
		return ID{}
	}
	return ID{steps: append([]Step(nil), steps...)}
}

func (id ID) Len() int { return len(id.steps) }
func (id ID) IsRoot() bool { return len(id.steps) == 0 }
func (id ID) At(i int) Step { return id.steps[i] }

func (id ID) Steps() []Step {
	return append([]Step(nil), id.steps...)
}

func (id ID) Last() Step {
	if len(id.steps) == 0 {
		return Step{}
	}
	return id.steps[len(id.steps)-1]
}

func (id ID) Prefix(n int) ID {
	if n <= 0 {
		return ID{}
	}
	if n > len(id.steps) {
		panic(fmt.Errorf("id %v has no prefix of length %d", id, n))
	}
	return ID{steps: append([]Step(nil), id.steps[:n]...)}
}

func (id ID) Append(more ...Step) ID {
	steps := make([]Step, 0, len(id.steps)+len(more))
	steps = append(steps, id.steps...)
	steps = append(steps, more...)
	return ID{steps: steps}
}

// Entry returns the id of a list entry below id.
func (id ID) Entry(name schema.QName, key Key) ID {
	return id.Append(Named(name), Keyed(key))
}

// Container returns the id of a container below id.
func (id ID) Container(name schema.QName) ID {
	return id.Append(Named(name))
}

func (id ID) HasPrefix(prefix ID) bool {
	if len(prefix.steps) > len(id.steps) {
		return false
	}
	for i, s := range prefix.steps {
		if !id.steps[i].Equal(s) {
			return false
		}
	}
	return true
}

func (id ID) Equal(another ID) bool {
	return len(id.steps) == len(another.steps) && id.HasPrefix(another)
}

// String returns the canonical form, for example
//
//	/{urn:dh}device-holder[name='OLT-1']/ports/port[id='1']
//
// Namespaces are printed where they change. Parse accepts the result.
func (id ID) String() string {
	return id.format(false)
}

// XPath returns the prefix-free form, /device-holder[name='OLT-1']/ports.
func (id ID) XPath() string {
	return id.format(true)
}

func (id ID) format(prefixFree bool) string {
	if len(id.steps) == 0 {
		return "/"
	}
	var buf strings.Builder
	var ns string
	first := true
	for _, s := range id.steps {
		if s.Keyed {
			writeKey(&buf, s.Key, ns, prefixFree)
			continue
		}
		buf.WriteByte('/')
		if !prefixFree && (s.Name.Namespace != ns || first) {
			if s.Name.Namespace != "" || !first {
				writeNS(&buf, s.Name.Namespace)
			}
		}
		ns = s.Name.Namespace
		first = false
		buf.WriteString(s.Name.Local)
	}
	return buf.String()
}

func writeNS(buf *strings.Builder, ns string) {
	buf.WriteByte('{')
	buf.WriteString(ns)
	buf.WriteByte('}')
}

func writeKey(buf *strings.Builder, k Key, elementNS string, prefixFree bool) {
	if k.IsEmpty() {
		buf.WriteString("[]")
		return
	}
	for _, l := range k.leafs {
		buf.WriteByte('[')
		if !prefixFree && l.Name.Namespace != elementNS {
			writeNS(buf, l.Name.Namespace)
		}
		buf.WriteString(l.Name.Local)
		buf.WriteByte('=')
		writeQuoted(buf, l.Value)
		buf.WriteByte(']')
	}
}

// writeQuoted uses single quotes unless the value has some and no double
// quotes; when it has both, embedded single quotes are doubled.
func writeQuoted(buf *strings.Builder, v string) {
	hasSingle := strings.IndexByte(v, '\'') >= 0
	if hasSingle && strings.IndexByte(v, '"') < 0 {
		buf.WriteByte('"')
		buf.WriteString(v)
		buf.WriteByte('"')
		return
	}
	buf.WriteByte('\'')
	if hasSingle {
		buf.WriteString(strings.ReplaceAll(v, "'", "''"))
	} else {
		buf.WriteString(v)
	}
	buf.WriteByte('\'')
}

// Parse parses the canonical form produced by ID.String.
func Parse(s string) (ID, error) {
	if s == "/" || s == "" {
		return ID{}, nil
	}
	p := &idParser{s: s}
	id, err := p.parse()
	if err != nil {
		return ID{}, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id, nil
}

func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

type idParser struct {
	s   string
	i   int
	ns  string
	seq []Step
}

func (p *idParser) eof() bool { return p.i >= len(p.s) }

func (p *idParser) parse() (ID, error) {
	for !p.eof() {
		if p.s[p.i] != '/' {
			return ID{}, fmt.Errorf("expected / at %d", p.i)
		}
		p.i++
		if !p.eof() && p.s[p.i] == '{' {
			ns, err := p.namespace()
			if err != nil {
				return ID{}, err
			}
			p.ns = ns
		}
		local := p.name()
		if local == "" {
			return ID{}, fmt.Errorf("empty step at %d", p.i)
		}
		p.seq = append(p.seq, Named(schema.Q(p.ns, local)))

		if !p.eof() && p.s[p.i] == '[' {
			key, err := p.key()
			if err != nil {
				return ID{}, err
			}
			p.seq = append(p.seq, Keyed(key))
		}
	}
	return ID{steps: p.seq}, nil
}

func (p *idParser) namespace() (string, error) {
	end := strings.IndexByte(p.s[p.i:], '}')
	if end < 0 {
		return "", fmt.Errorf("unterminated namespace at %d", p.i)
	}
	ns := p.s[p.i+1 : p.i+end]
	p.i += end + 1
	return ns, nil
}

func (p *idParser) name() string {
	start := p.i
	for !p.eof() {
		switch p.s[p.i] {
		case '/', '[', ']', '=', '{', '}':
			return p.s[start:p.i]
		}
		p.i++
	}
	return p.s[start:p.i]
}

func (p *idParser) key() (Key, error) {
	if strings.HasPrefix(p.s[p.i:], "[]") {
		p.i += 2
		return Key{}, nil
	}
	var leafs []KeyLeaf
	for !p.eof() && p.s[p.i] == '[' {
		p.i++
		ns := p.ns
		if !p.eof() && p.s[p.i] == '{' {
			var err error
			ns, err = p.namespace()
			if err != nil {
				return Key{}, err
			}
		}
		local := p.name()
		if local == "" {
			return Key{}, fmt.Errorf("empty key name at %d", p.i)
		}
		if p.eof() || p.s[p.i] != '=' {
			return Key{}, fmt.Errorf("expected = at %d", p.i)
		}
		p.i++
		v, err := p.quoted()
		if err != nil {
			return Key{}, err
		}
		if p.eof() || p.s[p.i] != ']' {
			return Key{}, fmt.Errorf("expected ] at %d", p.i)
		}
		p.i++
		leafs = append(leafs, KeyLeaf{schema.Q(ns, local), v})
	}
	return NewKey(leafs...), nil
}

func (p *idParser) quoted() (string, error) {
	if p.eof() || (p.s[p.i] != '\'' && p.s[p.i] != '"') {
		return "", fmt.Errorf("expected quoted value at %d", p.i)
	}
	q := p.s[p.i]
	p.i++
	var buf strings.Builder
	for {
		end := strings.IndexByte(p.s[p.i:], q)
		if end < 0 {
			return "", fmt.Errorf("unterminated value at %d", p.i)
		}
		buf.WriteString(p.s[p.i : p.i+end])
		p.i += end + 1
		if !p.eof() && p.s[p.i] == q {
			buf.WriteByte(q)
			p.i++
			continue
		}
		return buf.String(), nil
	}
}
