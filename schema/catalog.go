package schema

// Child is one declared child of a schema node.
type Child struct {
	Name QName
	Kind Kind
}

// Catalog is the read-only schema provider. Paths passed to a Catalog include
// choice and case layers.
type Catalog interface {
	// Kind returns KindUnknown for paths the catalog doesn't know.
	Kind(p Path) Kind

	// ChildrenOf returns the declared children in schema order. ChildrenOf(Root)
	// returns the top-level nodes.
	ChildrenOf(p Path) []Child

	// KeyDefinitionOf returns the key leaf names of a list, in key order.
	KeyDefinitionOf(p Path) []QName

	// ParentOf returns the parent path; ok is false for top-level nodes and
	// unknown paths.
	ParentOf(p Path) (parent Path, ok bool)

	IsOrderedByUser(p Path) bool

	// IsIdentityRef reports whether a leaf or leaf-list holds identity
	// references, whose values carry a namespace.
	IsIdentityRef(p Path) bool
}

// DataChild is a data-node child reached from a parent by descending through
// any number of choice/case layers.
type DataChild struct {
	Path Path
	Name QName
	Kind Kind
}

// DataChildren flattens choice/case layers below p.
func DataChildren(cat Catalog, p Path) []DataChild {
	var result []DataChild
	for _, ch := range cat.ChildrenOf(p) {
		cp := p.Child(ch.Name)
		if ch.Kind.IsLayer() {
			result = append(result, DataChildren(cat, cp)...)
		} else {
			result = append(result, DataChild{Path: cp, Name: ch.Name, Kind: ch.Kind})
		}
	}
	return result
}

// DataChildNamed finds the data child of p with the given element name.
func DataChildNamed(cat Catalog, p Path, name QName) (DataChild, bool) {
	for _, ch := range DataChildren(cat, p) {
		if ch.Name == name {
			return ch, true
		}
	}
	return DataChild{}, false
}

// DataParent returns the nearest ancestor of p that is a data node, skipping
// choice/case layers. ok is false for top-level data nodes.
func DataParent(cat Catalog, p Path) (Path, bool) {
	for {
		parent, ok := cat.ParentOf(p)
		if !ok {
			return Path{}, false
		}
		if !cat.Kind(parent).IsLayer() {
			return parent, true
		}
		p = parent
	}
}

// DataAncestors returns the data-node ancestors of p from the top level down,
// excluding p itself.
func DataAncestors(cat Catalog, p Path) []Path {
	var result []Path
	for {
		parent, ok := DataParent(cat, p)
		if !ok {
			break
		}
		result = append(result, parent)
		p = parent
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}
