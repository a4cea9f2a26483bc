package nodeid

import (
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

// stepCount returns how many id steps an instance of a node of the given
// kind contributes, or -1 for unknown nodes.
func stepCount(kind schema.Kind) int {
	switch kind {
	case schema.KindList:
		return 2
	case schema.KindContainer, schema.KindLeaf, schema.KindLeafList:
		return 1
	case schema.KindChoice, schema.KindCase:
		return 0
	case schema.KindUnknown:
		return -1
	default:
		panic("unsupported node kind " + kind.String())
	}
}

func malformed(op string, path schema.Path, id ID, format string, args ...any) error {
	return storeerr.Errorf(storeerr.Structural, op, path, id, storeerr.ErrMalformedID, format, args...)
}

// KeyFromID extracts the key of the list entry identified by id. Non-list
// nodes have the empty key.
func KeyFromID(cat schema.Catalog, path schema.Path, id ID) (Key, error) {
	kind := cat.Kind(path)
	if kind == schema.KindUnknown {
		return Key{}, malformed("KeyFromID", path, id, "unknown schema path")
	}
	if kind != schema.KindList {
		return Key{}, nil
	}
	n := len(id.steps)
	if n < 2 {
		return Key{}, malformed("KeyFromID", path, id, "too short for a list entry")
	}
	named, keyed := id.steps[n-2], id.steps[n-1]
	if named.Keyed || named.Name != path.Last() || !keyed.Keyed {
		return Key{}, malformed("KeyFromID", path, id, "does not end in a %v entry", path.Last())
	}
	defs := cat.KeyDefinitionOf(path)
	if !keyed.Key.SameNames(defs) {
		return Key{}, malformed("KeyFromID", path, id, "key %v does not match key definition %v", keyed.Key, defs)
	}
	return keyed.Key, nil
}

// ParentIDOf strips the steps contributed by the data node at path, giving
// the id of its nearest data-node ancestor (or Root for top-level nodes).
func ParentIDOf(cat schema.Catalog, path schema.Path, id ID) (ID, error) {
	kind := cat.Kind(path)
	n := stepCount(kind)
	if n < 0 {
		return ID{}, malformed("ParentIDOf", path, id, "unknown schema path")
	}
	if n == 0 {
		return ID{}, malformed("ParentIDOf", path, id, "%v nodes have no instances", kind)
	}
	if len(id.steps) < n {
		return ID{}, malformed("ParentIDOf", path, id, "too short for a %v", kind)
	}
	named := id.steps[len(id.steps)-n]
	if named.Keyed || named.Name != path.Last() {
		return ID{}, malformed("ParentIDOf", path, id, "does not end in %v", path.Last())
	}
	if n == 2 && !id.steps[len(id.steps)-1].Keyed {
		return ID{}, malformed("ParentIDOf", path, id, "list entry without key")
	}
	return id.Prefix(len(id.steps) - n), nil
}

// ChildID builds the id of the node at path below parentID. For lists the
// key is put into key-definition order; it must hold exactly the key leafs.
func ChildID(cat schema.Catalog, parentID ID, path schema.Path, key Key) (ID, error) {
	switch kind := cat.Kind(path); kind {
	case schema.KindList:
		ordered, ok := key.Reorder(cat.KeyDefinitionOf(path))
		if !ok {
			return ID{}, malformed("ChildID", path, parentID, "key %v does not match key definition %v", key, cat.KeyDefinitionOf(path))
		}
		return parentID.Entry(path.Last(), ordered), nil
	case schema.KindContainer, schema.KindLeaf, schema.KindLeafList:
		if !key.IsEmpty() {
			return ID{}, malformed("ChildID", path, parentID, "%v nodes have no key", kind)
		}
		return parentID.Container(path.Last()), nil
	case schema.KindChoice, schema.KindCase, schema.KindUnknown:
		return ID{}, malformed("ChildID", path, parentID, "no instances of %v nodes", kind)
	default:
		panic("unsupported node kind " + kind.String())
	}
}

// Validate checks id against the full nesting of path: step count, step
// names and key names.
func Validate(cat schema.Catalog, path schema.Path, id ID) error {
	kind := cat.Kind(path)
	if kind == schema.KindUnknown {
		return malformed("Validate", path, id, "unknown schema path")
	}
	if kind.IsLayer() {
		return malformed("Validate", path, id, "%v nodes have no instances", kind)
	}
	i := 0
	for _, p := range append(schema.DataAncestors(cat, path), path) {
		k := cat.Kind(p)
		if i >= len(id.steps) {
			return malformed("Validate", path, id, "missing step for %v", p.Last())
		}
		s := id.steps[i]
		if s.Keyed || s.Name != p.Last() {
			return malformed("Validate", path, id, "step %d: wanted %v", i, p.Last())
		}
		i++
		if k == schema.KindList {
			if i >= len(id.steps) || !id.steps[i].Keyed {
				return malformed("Validate", path, id, "missing key for %v", p.Last())
			}
			if defs := cat.KeyDefinitionOf(p); !id.steps[i].Key.SameNames(defs) {
				return malformed("Validate", path, id, "key of %v does not match %v", p.Last(), defs)
			}
			i++
		}
	}
	if i != len(id.steps) {
		return malformed("Validate", path, id, "%d extra steps", len(id.steps)-i)
	}
	return nil
}
