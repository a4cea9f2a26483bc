package schema

import (
	"fmt"
	"strings"
)

// Path identifies a type of node by the chain of qualified names from the
// schema root. Paths are immutable; every derived path gets its own backing
// array.
type Path struct {
	qs []QName
}

// Root is the empty path.
var Root = Path{}

func NewPath(qs ...QName) Path {
	if len(qs) == 0 {
		return Path{}
	}
	return Path{qs: append([]QName(nil), qs...)}
}

func (p Path) Len() int { return len(p.qs) }
func (p Path) IsRoot() bool { return len(p.qs) == 0 }
func (p Path) At(i int) QName { return p.qs[i] }

func (p Path) Components() []QName {
	return append([]QName(nil), p.qs...)
}

func (p Path) Last() QName {
	if len(p.qs) == 0 {
		return QName{}
	}
	return p.qs[len(p.qs)-1]
}

func (p Path) Parent() Path {
	if len(p.qs) <= 1 {
		return Path{}
	}
	return p.Prefix(len(p.qs) - 1)
}

func (p Path) Prefix(n int) Path {
	if n <= 0 {
		return Path{}
	}
	if n > len(p.qs) {
		panic(fmt.Errorf("path %v has no prefix of length %d", p, n))
	}
	return Path{qs: append([]QName(nil), p.qs[:n]...)}
}

func (p Path) Child(q QName) Path {
	qs := make([]QName, len(p.qs)+1)
	copy(qs, p.qs)
	qs[len(p.qs)] = q
	return Path{qs: qs}
}

func (p Path) Append(more ...QName) Path {
	qs := make([]QName, 0, len(p.qs)+len(more))
	qs = append(qs, p.qs...)
	qs = append(qs, more...)
	return Path{qs: qs}
}

// Suffix returns the components of p after the given prefix. ok is false if
// prefix is not a prefix of p.
func (p Path) Suffix(prefix Path) ([]QName, bool) {
	if !p.HasPrefix(prefix) {
		return nil, false
	}
	return append([]QName(nil), p.qs[len(prefix.qs):]...), true
}

func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.qs) > len(p.qs) {
		return false
	}
	for i, q := range prefix.qs {
		if p.qs[i] != q {
			return false
		}
	}
	return true
}

func (p Path) Equal(another Path) bool {
	return len(p.qs) == len(another.qs) && p.HasPrefix(another)
}

// String returns the canonical form of the path. A namespace is printed on
// the first component and wherever it differs from the previous component's.
// The result is suitable as a map key and is accepted by ParsePath.
func (p Path) String() string {
	if len(p.qs) == 0 {
		return "/"
	}
	var buf strings.Builder
	var ns string
	for i, q := range p.qs {
		buf.WriteByte('/')
		if i == 0 || q.Namespace != ns {
			if q.Namespace != "" || i > 0 {
				buf.WriteByte('{')
				buf.WriteString(q.Namespace)
				buf.WriteByte('}')
			}
			ns = q.Namespace
		}
		buf.WriteString(q.Local)
	}
	return buf.String()
}

// XPath returns the prefix-free form, /a/b/c.
func (p Path) XPath() string {
	if len(p.qs) == 0 {
		return "/"
	}
	var buf strings.Builder
	for _, q := range p.qs {
		buf.WriteByte('/')
		buf.WriteString(q.Local)
	}
	return buf.String()
}

func ParsePath(s string) (Path, error) {
	if s == "/" || s == "" {
		return Path{}, nil
	}
	if s[0] != '/' {
		return Path{}, fmt.Errorf("invalid schema path %q: must start with /", s)
	}
	var qs []QName
	var ns string
	i := 0
	for i < len(s) {
		if s[i] != '/' {
			return Path{}, fmt.Errorf("invalid schema path %q at %d", s, i)
		}
		i++
		if i < len(s) && s[i] == '{' {
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return Path{}, fmt.Errorf("invalid schema path %q: unterminated namespace", s)
			}
			ns = s[i+1 : i+end]
			i += end + 1
		}
		start := i
		for i < len(s) && s[i] != '/' {
			i++
		}
		if start == i {
			return Path{}, fmt.Errorf("invalid schema path %q: empty component", s)
		}
		qs = append(qs, QName{Namespace: ns, Local: s[start:i]})
	}
	return Path{qs: qs}, nil
}

func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}
