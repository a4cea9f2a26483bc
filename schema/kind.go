package schema

import "fmt"

// Kind is the kind of a schema node. Container, List, Leaf and LeafList are
// data nodes; Choice and Case are transparent layers that never appear in
// instance data and contribute no node identifier step.
type Kind int

const (
	KindUnknown Kind = iota
	KindContainer
	KindList
	KindLeaf
	KindLeafList
	KindChoice
	KindCase
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindContainer: "container",
	KindList:      "list",
	KindLeaf:      "leaf",
	KindLeafList:  "leaf-list",
	KindChoice:    "choice",
	KindCase:      "case",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) IsDataNode() bool {
	switch k {
	case KindContainer, KindList, KindLeaf, KindLeafList:
		return true
	case KindUnknown, KindChoice, KindCase:
		return false
	default:
		panic(fmt.Errorf("unsupported node kind %v", k))
	}
}

func (k Kind) IsLayer() bool {
	return k == KindChoice || k == KindCase
}

// HasChildren reports whether instances of this kind hold child nodes.
func (k Kind) HasChildren() bool {
	return k == KindContainer || k == KindList
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != int(KindUnknown) && name == s {
			return Kind(k), nil
		}
	}
	switch s {
	case "leaflist", "leaf_list":
		return KindLeafList, nil
	}
	return KindUnknown, fmt.Errorf("unknown node kind %q", s)
}
