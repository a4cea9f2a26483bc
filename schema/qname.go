package schema

import (
	"fmt"
	"strings"
)

// QName is a namespace-qualified name of a schema element or attribute.
type QName struct {
	Namespace string
	Local     string
}

func Q(namespace, local string) QName {
	return QName{Namespace: namespace, Local: local}
}

func (q QName) IsZero() bool {
	return q.Namespace == "" && q.Local == ""
}

// String returns the Clark notation, {namespace}local.
func (q QName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return "{" + q.Namespace + "}" + q.Local
}

func (q QName) Less(another QName) bool {
	if q.Namespace != another.Namespace {
		return q.Namespace < another.Namespace
	}
	return q.Local < another.Local
}

// ParseQName parses the Clark notation produced by QName.String.
func ParseQName(s string) (QName, error) {
	if !strings.HasPrefix(s, "{") {
		if s == "" || strings.ContainsAny(s, "{}/") {
			return QName{}, fmt.Errorf("invalid qname %q", s)
		}
		return QName{Local: s}, nil
	}
	end := strings.IndexByte(s, '}')
	if end < 0 || end == len(s)-1 {
		return QName{}, fmt.Errorf("invalid qname %q", s)
	}
	return QName{Namespace: s[1:end], Local: s[end+1:]}, nil
}
