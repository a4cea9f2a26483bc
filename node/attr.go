package node

import (
	"slices"
)

// Attr is the value of a leaf. Namespace is only set for identity
// references, where Value is the identity's local name.
type Attr struct {
	Value     string
	Namespace string
}

func Value(v string) Attr {
	return Attr{Value: v}
}

func IdentityRef(ns, v string) Attr {
	return Attr{Value: v, Namespace: ns}
}

func (a Attr) String() string {
	if a.Namespace == "" {
		return a.Value
	}
	return "{" + a.Namespace + "}" + a.Value
}

// LeafList is an ordered set of values: insertion order is kept and a value
// appears at most once.
type LeafList struct {
	items []Attr
}

func NewLeafList(items ...Attr) *LeafList {
	ll := &LeafList{}
	for _, a := range items {
		ll.Add(a)
	}
	return ll
}

func (ll *LeafList) Len() int {
	if ll == nil {
		return 0
	}
	return len(ll.items)
}

func (ll *LeafList) Items() []Attr {
	if ll == nil {
		return nil
	}
	return slices.Clone(ll.items)
}

func (ll *LeafList) Values() []string {
	if ll == nil {
		return nil
	}
	result := make([]string, len(ll.items))
	for i, a := range ll.items {
		result[i] = a.Value
	}
	return result
}

func (ll *LeafList) Contains(a Attr) bool {
	return ll != nil && slices.Contains(ll.items, a)
}

// Add appends a unless it is already present, and reports whether it did.
func (ll *LeafList) Add(a Attr) bool {
	if slices.Contains(ll.items, a) {
		return false
	}
	ll.items = append(ll.items, a)
	return true
}

func (ll *LeafList) Remove(a Attr) bool {
	i := slices.Index(ll.items, a)
	if i < 0 {
		return false
	}
	ll.items = slices.Delete(ll.items, i, i+1)
	return true
}

func (ll *LeafList) Equal(another *LeafList) bool {
	return slices.Equal(ll.Items(), another.Items())
}

func (ll *LeafList) clone() *LeafList {
	return &LeafList{items: slices.Clone(ll.items)}
}
