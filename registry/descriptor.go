package registry

import (
	"fmt"
	"slices"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

// ParentIDField is the match field holding the parent node id string.
const ParentIDField = "parent_id"

// Descriptor maps one schema path to a record type. All access to rows goes
// through closures captured by Define, so rows are plain structs and no
// reflection happens per call.
//
// Leafs use the zero value for absence: an empty string column means the
// leaf is not set.
type Descriptor struct {
	path  schema.Path
	table *records.Table

	parentID    func(row any) string
	setParentID func(row any, v string)
	keys        []*leafField
	attrs       []*leafField
	leafLists   []*leafListField
	order       *orderField
	blob        *blobField
	children    []*childrenField
}

type leafField struct {
	name schema.QName
	get  func(row any) node.Attr
	set  func(row any, a node.Attr)
}

type leafListField struct {
	name schema.QName
	get  func(row any) []string
	set  func(row any, v []string)
}

type orderField struct {
	get func(row any) int
	set func(row any, v int)
}

type blobField struct {
	get func(row any) []byte
	set func(row any, v []byte)
}

type childrenField struct {
	path schema.Path
	get  func(row any) []string
	set  func(row any, v []string)
}

type Builder[Row any] struct {
	d          *Descriptor
	schemaVer  uint64
	seenFields map[schema.QName]bool
}

// Define describes how rows of type *Row store nodes at path. The builder
// must call ParentID; list entries must declare their key leafs with Key in
// key order. Panics on invalid definitions.
func Define[Row any](table string, path schema.Path, f func(b *Builder[Row])) *Descriptor {
	d := &Descriptor{path: path}
	b := &Builder[Row]{d: d, seenFields: make(map[schema.QName]bool)}
	f(b)
	if d.parentID == nil {
		panic(fmt.Sprintf("registry.Define(%s): no ParentID defined", table))
	}

	d.table = records.DefineTable[Row](table, func(tb *records.TableBuilder[Row]) {
		tb.Key(func(row *Row) records.Key {
			return d.RowKey(row)
		})
		tb.Field(ParentIDField, func(row *Row) string {
			return d.parentID(row)
		})
		for _, fld := range d.leafs() {
			get := fld.get
			tb.Field(fld.name.String(), func(row *Row) string {
				return get(row).Value
			})
		}
		if b.schemaVer != 0 {
			tb.SetSchemaVersion(b.schemaVer)
		}
		if d.blob != nil {
			tb.SuppressContentWhenLogging()
		}
	})
	return d
}

func (b *Builder[Row]) claim(name schema.QName) {
	if b.seenFields[name] {
		panic(fmt.Errorf("%v: leaf %v defined twice", b.d.path, name))
	}
	b.seenFields[name] = true
}

func (b *Builder[Row]) ParentID(get func(row *Row) string, set func(row *Row, v string)) {
	b.d.parentID = func(row any) string { return get(row.(*Row)) }
	b.d.setParentID = func(row any, v string) { set(row.(*Row), v) }
}

// Key declares the next key leaf. Key leafs are also readable as attributes.
func (b *Builder[Row]) Key(name schema.QName, get func(row *Row) string, set func(row *Row, v string)) {
	b.claim(name)
	b.d.keys = append(b.d.keys, stringField(name, get, set))
}

func (b *Builder[Row]) Attr(name schema.QName, get func(row *Row) string, set func(row *Row, v string)) {
	b.claim(name)
	b.d.attrs = append(b.d.attrs, stringField(name, get, set))
}

// IdentityRef declares a leaf whose value carries a namespace.
func (b *Builder[Row]) IdentityRef(name schema.QName, get func(row *Row) (ns, value string), set func(row *Row, ns, value string)) {
	b.claim(name)
	b.d.attrs = append(b.d.attrs, &leafField{
		name: name,
		get: func(row any) node.Attr {
			ns, v := get(row.(*Row))
			return node.Attr{Value: v, Namespace: ns}
		},
		set: func(row any, a node.Attr) {
			set(row.(*Row), a.Namespace, a.Value)
		},
	})
}

func (b *Builder[Row]) LeafList(name schema.QName, get func(row *Row) []string, set func(row *Row, v []string)) {
	b.claim(name)
	b.d.leafLists = append(b.d.leafLists, &leafListField{
		name: name,
		get:  func(row any) []string { return get(row.(*Row)) },
		set:  func(row any, v []string) { set(row.(*Row), v) },
	})
}

// Order declares the position column of an ordered-by-user list.
func (b *Builder[Row]) Order(get func(row *Row) int, set func(row *Row, v int)) {
	b.d.order = &orderField{
		get: func(row any) int { return get(row.(*Row)) },
		set: func(row any, v int) { set(row.(*Row), v) },
	}
}

// Blob declares the field holding the serialized subtree of every
// descendant that has no record type of its own. It makes the path a
// stored-parent.
func (b *Builder[Row]) Blob(get func(row *Row) []byte, set func(row *Row, v []byte)) {
	b.d.blob = &blobField{
		get: func(row any) []byte { return get(row.(*Row)) },
		set: func(row any, v []byte) { set(row.(*Row), v) },
	}
}

// Children declares a field listing the ids of the child records at
// childPath. The columnar store keeps it in sync on create and remove.
func (b *Builder[Row]) Children(childPath schema.Path, get func(row *Row) []string, set func(row *Row, v []string)) {
	b.d.children = append(b.d.children, &childrenField{
		path: childPath,
		get:  func(row any) []string { return get(row.(*Row)) },
		set:  func(row any, v []string) { set(row.(*Row), v) },
	})
}

func (b *Builder[Row]) SchemaVersion(ver uint64) {
	b.schemaVer = ver
}

func stringField[Row any](name schema.QName, get func(row *Row) string, set func(row *Row, v string)) *leafField {
	return &leafField{
		name: name,
		get:  func(row any) node.Attr { return node.Value(get(row.(*Row))) },
		set:  func(row any, a node.Attr) { set(row.(*Row), a.Value) },
	}
}

func (d *Descriptor) Path() schema.Path { return d.path }
func (d *Descriptor) Table() *records.Table { return d.table }
func (d *Descriptor) NewRow() any { return d.table.NewRow() }
func (d *Descriptor) HasBlob() bool { return d.blob != nil }
func (d *Descriptor) IsOrdered() bool { return d.order != nil }
func (d *Descriptor) String() string { return d.table.Name() + " " + d.path.String() }

func (d *Descriptor) KeyNames() []schema.QName {
	names := make([]schema.QName, len(d.keys))
	for i, k := range d.keys {
		names[i] = k.name
	}
	return names
}

func (d *Descriptor) leafs() []*leafField {
	return append(slices.Clone(d.keys), d.attrs...)
}

func (d *Descriptor) leaf(name schema.QName) *leafField {
	for _, fld := range d.keys {
		if fld.name == name {
			return fld
		}
	}
	for _, fld := range d.attrs {
		if fld.name == name {
			return fld
		}
	}
	return nil
}

func (d *Descriptor) leafList(name schema.QName) *leafListField {
	for _, fld := range d.leafLists {
		if fld.name == name {
			return fld
		}
	}
	return nil
}

func (d *Descriptor) childrenAt(p schema.Path) *childrenField {
	for _, fld := range d.children {
		if fld.path.Equal(p) {
			return fld
		}
	}
	return nil
}

// PrimaryKey builds the record key of the node with the given key below
// parentID: the parent id string, then the key values in key order.
func (d *Descriptor) PrimaryKey(parentID nodeid.ID, key nodeid.Key) (records.Key, error) {
	ordered, ok := key.Reorder(d.KeyNames())
	if !ok {
		return nil, storeerr.Errorf(storeerr.Structural, "PrimaryKey", d.path, parentID, storeerr.ErrMalformedID, "key %v does not match record key %v", key, d.KeyNames())
	}
	pk := make(records.Key, 0, 1+ordered.Len())
	pk = append(pk, parentID.String())
	pk = append(pk, ordered.Values()...)
	return pk, nil
}

func (d *Descriptor) RowKey(row any) records.Key {
	pk := make(records.Key, 0, 1+len(d.keys))
	pk = append(pk, d.parentID(row))
	for _, fld := range d.keys {
		pk = append(pk, fld.get(row).Value)
	}
	return pk
}

func (d *Descriptor) RowParentID(row any) (nodeid.ID, error) {
	s := d.parentID(row)
	id, err := nodeid.Parse(s)
	if err != nil {
		return nodeid.ID{}, storeerr.Errorf(storeerr.Structural, "RowParentID", d.path, nil, storeerr.ErrMalformedID, "table %s: %v", d.table.Name(), err)
	}
	return id, nil
}

func (d *Descriptor) SetParentID(row any, id nodeid.ID) {
	d.setParentID(row, id.String())
}

func (d *Descriptor) RowNodeKey(row any) nodeid.Key {
	if len(d.keys) == 0 {
		return nodeid.Key{}
	}
	leafs := make([]nodeid.KeyLeaf, len(d.keys))
	for i, fld := range d.keys {
		leafs[i] = nodeid.KeyLeaf{Name: fld.name, Value: fld.get(row).Value}
	}
	return nodeid.NewKey(leafs...)
}

// SetNodeKey writes the key leafs. It fails if key has other leafs than
// the record's key.
func (d *Descriptor) SetNodeKey(row any, key nodeid.Key) error {
	ordered, ok := key.Reorder(d.KeyNames())
	if !ok {
		return storeerr.Errorf(storeerr.Structural, "SetNodeKey", d.path, nil, storeerr.ErrMalformedID, "key %v does not match record key %v", key, d.KeyNames())
	}
	for i, fld := range d.keys {
		fld.set(row, node.Value(ordered.At(i).Value))
	}
	return nil
}

// LoadNode copies the leafs and leaf-lists of row into n.
func (d *Descriptor) LoadNode(n *node.Node, row any) {
	for _, fld := range d.leafs() {
		if a := fld.get(row); a.Value != "" {
			n.InitAttr(fld.name, a)
		}
	}
	for _, fld := range d.leafLists {
		for _, v := range fld.get(row) {
			n.InitLeafListItem(fld.name, node.Value(v))
		}
	}
}

// StoreNode copies the leafs and leaf-lists of n into row. Leafs without a
// column are a structural error.
func (d *Descriptor) StoreNode(row any, n *node.Node) error {
	for _, name := range n.AttrNames() {
		a, _ := n.Attr(name)
		if !d.SetAttr(row, name, a) {
			return storeerr.Errorf(storeerr.Structural, "StoreNode", d.path, n.ID(), nil, "table %s has no column for leaf %v", d.table.Name(), name)
		}
	}
	for _, name := range n.LeafListNames() {
		if !d.SetLeafList(row, name, n.LeafList(name).Values()) {
			return storeerr.Errorf(storeerr.Structural, "StoreNode", d.path, n.ID(), nil, "table %s has no column for leaf-list %v", d.table.Name(), name)
		}
	}
	return nil
}

func (d *Descriptor) Attr(row any, name schema.QName) (node.Attr, bool) {
	fld := d.leaf(name)
	if fld == nil {
		return node.Attr{}, false
	}
	a := fld.get(row)
	return a, a.Value != ""
}

// SetAttr reports false if the record has no column for name.
func (d *Descriptor) SetAttr(row any, name schema.QName, a node.Attr) bool {
	fld := d.leaf(name)
	if fld == nil {
		return false
	}
	fld.set(row, a)
	return true
}

func (d *Descriptor) ClearAttr(row any, name schema.QName) bool {
	return d.SetAttr(row, name, node.Attr{})
}

func (d *Descriptor) LeafList(row any, name schema.QName) ([]string, bool) {
	fld := d.leafList(name)
	if fld == nil {
		return nil, false
	}
	return fld.get(row), true
}

func (d *Descriptor) SetLeafList(row any, name schema.QName, values []string) bool {
	fld := d.leafList(name)
	if fld == nil {
		return false
	}
	fld.set(row, values)
	return true
}

func (d *Descriptor) Order(row any) int {
	if d.order == nil {
		return 0
	}
	return d.order.get(row)
}

func (d *Descriptor) SetOrder(row any, v int) {
	if d.order != nil {
		d.order.set(row, v)
	}
}

func (d *Descriptor) Blob(row any) []byte {
	if d.blob == nil {
		return nil
	}
	return d.blob.get(row)
}

func (d *Descriptor) SetBlob(row any, v []byte) {
	if d.blob == nil {
		panic(fmt.Errorf("%v: no blob field", d))
	}
	d.blob.set(row, v)
}

// HasChildren reports whether rows keep a child collection for childPath.
func (d *Descriptor) HasChildren(childPath schema.Path) bool {
	return d.childrenAt(childPath) != nil
}

func (d *Descriptor) ChildRefs(row any, childPath schema.Path) []string {
	if fld := d.childrenAt(childPath); fld != nil {
		return fld.get(row)
	}
	return nil
}

func (d *Descriptor) SetChildRefs(row any, childPath schema.Path, refs []string) {
	if fld := d.childrenAt(childPath); fld != nil {
		fld.set(row, refs)
	}
}

// Match builds the record match for children of parentID whose leafs equal
// the given values.
func (d *Descriptor) Match(parentID nodeid.ID, leafs map[schema.QName]string) (records.Match, error) {
	m := records.Match{ParentIDField: parentID.String()}
	for name, v := range leafs {
		if d.leaf(name) == nil {
			return nil, storeerr.Errorf(storeerr.Structural, "Match", d.path, parentID, nil, "table %s has no column for leaf %v", d.table.Name(), name)
		}
		m[name.String()] = v
	}
	return m, nil
}
