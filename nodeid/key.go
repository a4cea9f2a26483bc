package nodeid

import (
	"strings"

	"github.com/andreyvit/confstore/schema"
)

type KeyLeaf struct {
	Name  schema.QName
	Value string
}

// Key is the ordered set of key-leaf values identifying one list entry.
// The zero Key is the empty key, which is what containers and keyless lists
// have; all empty keys are equal.
type Key struct {
	leafs []KeyLeaf
}

func NewKey(leafs ...KeyLeaf) Key {
	if len(leafs) == 0 {
		return Key{}
	}
	return Key{leafs: append([]KeyLeaf(nil), leafs...)}
}

// KeyOf pairs names with values positionally. Panics if the lengths differ.
func KeyOf(names []schema.QName, values []string) Key {
	if len(names) != len(values) {
		panic("nodeid.KeyOf: names and values differ in length")
	}
	leafs := make([]KeyLeaf, len(names))
	for i := range names {
		leafs[i] = KeyLeaf{names[i], values[i]}
	}
	return NewKey(leafs...)
}

func (k Key) Len() int { return len(k.leafs) }
func (k Key) IsEmpty() bool { return len(k.leafs) == 0 }
func (k Key) At(i int) KeyLeaf { return k.leafs[i] }

func (k Key) Leafs() []KeyLeaf {
	return append([]KeyLeaf(nil), k.leafs...)
}

func (k Key) Names() []schema.QName {
	names := make([]schema.QName, len(k.leafs))
	for i, l := range k.leafs {
		names[i] = l.Name
	}
	return names
}

func (k Key) Values() []string {
	values := make([]string, len(k.leafs))
	for i, l := range k.leafs {
		values[i] = l.Value
	}
	return values
}

func (k Key) Get(name schema.QName) (string, bool) {
	for _, l := range k.leafs {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Equal compares names and values in order.
func (k Key) Equal(another Key) bool {
	if len(k.leafs) != len(another.leafs) {
		return false
	}
	for i, l := range k.leafs {
		if l != another.leafs[i] {
			return false
		}
	}
	return true
}

// SameNames reports whether k has exactly the given names, in order.
func (k Key) SameNames(names []schema.QName) bool {
	if len(k.leafs) != len(names) {
		return false
	}
	for i, l := range k.leafs {
		if l.Name != names[i] {
			return false
		}
	}
	return true
}

// Reorder returns k rearranged into the order of names. ok is false unless k
// holds exactly those names.
func (k Key) Reorder(names []schema.QName) (Key, bool) {
	if len(k.leafs) != len(names) {
		return Key{}, false
	}
	if k.SameNames(names) {
		return k, true
	}
	leafs := make([]KeyLeaf, len(names))
	for i, name := range names {
		v, found := k.Get(name)
		if !found {
			return Key{}, false
		}
		leafs[i] = KeyLeaf{name, v}
	}
	return Key{leafs: leafs}, true
}

// String returns the predicate form, [a='1'][b='2'], with key names in Clark
// notation. The empty key prints as [].
func (k Key) String() string {
	var buf strings.Builder
	writeKey(&buf, k, "", false)
	return buf.String()
}
