// Package columnar stores schema subtrees that have a record type of their
// own: every list entry or container instance is one record, addressed by
// its parent's node id and its key values.
//
// All operations run inside a records.Tx supplied by the caller. Pure reads
// take read locks; every read that precedes a write takes a write lock up
// front so two sessions never deadlock upgrading.
package columnar

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

// Store has no state of its own beyond its collaborators and is safe for
// concurrent use with distinct transactions.
type Store struct {
	cat    schema.Catalog
	reg    *registry.Registry
	logger *slog.Logger
}

func New(cat schema.Catalog, reg *registry.Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cat: cat, reg: reg, logger: logger}
}

func (s *Store) Catalog() schema.Catalog { return s.cat }
func (s *Store) Registry() *registry.Registry { return s.reg }

func (s *Store) descriptor(op string, p schema.Path, id fmt.Stringer) (*registry.Descriptor, error) {
	d, ok := s.reg.Descriptor(p)
	if !ok {
		return nil, storeerr.Errorf(storeerr.Structural, op, p, id, storeerr.ErrNoRecordType, "")
	}
	return d, nil
}

// NodeFromRow builds a detached node for a record of d.
func (s *Store) NodeFromRow(d *registry.Descriptor, row any) (*node.Node, error) {
	parentID, err := d.RowParentID(row)
	if err != nil {
		return nil, err
	}
	key := d.RowNodeKey(row)
	id, err := nodeid.ChildID(s.cat, parentID, d.Path(), key)
	if err != nil {
		return nil, err
	}
	n := node.New(d.Path(), key)
	n.SetID(id)
	n.SetRecord(row)
	d.LoadNode(n, row)
	return n, nil
}

func (s *Store) nodesFromRows(d *registry.Descriptor, rows []any) ([]*node.Node, error) {
	if d.IsOrdered() {
		sortByOrder(d, rows)
	}
	result := make([]*node.Node, 0, len(rows))
	for _, row := range rows {
		n, err := s.NodeFromRow(d, row)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, nil
}

// sortByOrder keeps siblings together and orders them by the order column.
// Rows come in key order, so siblings are already adjacent.
func sortByOrder(d *registry.Descriptor, rows []any) {
	slices.SortStableFunc(rows, func(a, b any) int {
		ka, kb := d.RowKey(a), d.RowKey(b)
		if c := cmp.Compare(ka[0], kb[0]); c != 0 {
			return c
		}
		return cmp.Compare(d.Order(a), d.Order(b))
	})
}

// List returns every instance of path.
func (s *Store) List(tx *records.Tx, path schema.Path) ([]*node.Node, error) {
	d, err := s.descriptor("List", path, nil)
	if err != nil {
		return nil, err
	}
	rows, err := tx.FindByMatch(d.Table(), records.Match{})
	if err != nil {
		return nil, storeerr.Wrap(storeerr.Structural, "List", path, nil, err)
	}
	return s.nodesFromRows(d, rows)
}

// ListChildren returns the instances of childPath below parentID, in user
// order for ordered lists and key order otherwise.
func (s *Store) ListChildren(tx *records.Tx, childPath schema.Path, parentID nodeid.ID) ([]*node.Node, error) {
	return s.FindMany(tx, childPath, nil, parentID)
}

// Find returns the instance of path with the given key below parentID, or
// nil.
func (s *Store) Find(tx *records.Tx, path schema.Path, key nodeid.Key, parentID nodeid.ID) (*node.Node, error) {
	d, err := s.descriptor("Find", path, parentID)
	if err != nil {
		return nil, err
	}
	row, err := s.findRow(tx, d, parentID, key, records.LockRead)
	if err != nil || row == nil {
		return nil, err
	}
	return s.NodeFromRow(d, row)
}

func (s *Store) findRow(tx *records.Tx, d *registry.Descriptor, parentID nodeid.ID, key nodeid.Key, mode records.LockMode) (any, error) {
	pk, err := d.PrimaryKey(parentID, key)
	if err != nil {
		return nil, err
	}
	row, err := tx.FindByPrimaryKey(d.Table(), pk, mode)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.Structural, "Find", d.Path(), parentID.Entry(d.Path().Last(), key), err)
	}
	return row, nil
}

// FindMany returns the instances of path below parentID whose leafs equal
// every value in match. An empty match lists all children.
func (s *Store) FindMany(tx *records.Tx, path schema.Path, match map[schema.QName]string, parentID nodeid.ID) ([]*node.Node, error) {
	d, err := s.descriptor("FindMany", path, parentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.matchRows(tx, d, match, parentID)
	if err != nil {
		return nil, err
	}
	return s.nodesFromRows(d, rows)
}

func (s *Store) matchRows(tx *records.Tx, d *registry.Descriptor, match map[schema.QName]string, parentID nodeid.ID) ([]any, error) {
	m, err := d.Match(parentID, match)
	if err != nil {
		return nil, err
	}
	rows, err := tx.FindByMatch(d.Table(), m)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.Structural, "FindMany", d.Path(), parentID, err)
	}
	return rows, nil
}

// Create persists n as a new record below parentID. For ordered lists
// insertIndex places the entry; node.AtEnd appends it. n receives its id
// and record. Creating an existing entry fails with ErrAlreadyExists.
func (s *Store) Create(tx *records.Tx, n *node.Node, parentID nodeid.ID, insertIndex int) error {
	path := n.Path()
	d, err := s.descriptor("Create", path, parentID)
	if err != nil {
		return err
	}
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return err
	}
	existing, err := s.findRow(tx, d, parentID, n.Key(), records.LockWrite)
	if err != nil {
		return err
	}
	if existing != nil {
		return storeerr.Errorf(storeerr.Structural, "Create", path, id, storeerr.ErrAlreadyExists, "")
	}

	row := d.NewRow()
	d.SetParentID(row, parentID)
	if err := d.SetNodeKey(row, n.Key()); err != nil {
		return err
	}
	if err := d.StoreNode(row, n); err != nil {
		return err
	}
	if err := s.updateParentRefs(tx, path, parentID, id, true); err != nil {
		return err
	}
	if d.IsOrdered() {
		order, err := s.openSlot(tx, d, parentID, insertIndex, nil)
		if err != nil {
			return err
		}
		d.SetOrder(row, order)
	}
	if err := s.put(tx, d, row, id); err != nil {
		return err
	}
	n.SetID(id)
	n.SetRecord(row)
	s.logger.Debug("columnar: created", "path", path.String(), "id", id.String())
	return nil
}

func (s *Store) put(tx *records.Tx, d *registry.Descriptor, row any, id nodeid.ID) error {
	if err := tx.Put(d.Table(), row); err != nil {
		return storeerr.Wrap(storeerr.Structural, "persist", d.Path(), id, err)
	}
	return nil
}

// openSlot makes room for an entry at index among the ordered siblings
// below parentID, shifting every sibling whose order is at least index, and
// returns the order the entry should take. Negative or past-the-end indexes
// append after the largest order. skip is excluded from the siblings.
func (s *Store) openSlot(tx *records.Tx, d *registry.Descriptor, parentID nodeid.ID, index int, skip records.Key) (int, error) {
	siblings, err := s.matchRows(tx, d, nil, parentID)
	if err != nil {
		return 0, err
	}
	maxOrder := -1
	for _, sib := range siblings {
		if skip != nil && d.RowKey(sib).Equal(skip) {
			continue
		}
		maxOrder = max(maxOrder, d.Order(sib))
	}
	if index < 0 || index > maxOrder {
		return maxOrder + 1, nil
	}
	for _, sib := range siblings {
		if skip != nil && d.RowKey(sib).Equal(skip) {
			continue
		}
		if o := d.Order(sib); o >= index {
			d.SetOrder(sib, o+1)
			if err := s.put(tx, d, sib, parentID); err != nil {
				return 0, err
			}
		}
	}
	return index, nil
}

// closeSlot shifts every sibling after order back by one.
func (s *Store) closeSlot(tx *records.Tx, d *registry.Descriptor, parentID nodeid.ID, order int, skip records.Key) error {
	siblings, err := s.matchRows(tx, d, nil, parentID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if skip != nil && d.RowKey(sib).Equal(skip) {
			continue
		}
		if o := d.Order(sib); o > order {
			d.SetOrder(sib, o-1)
			if err := s.put(tx, d, sib, parentID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update changes the record of n below parentID and returns the updated
// node. attrs and leafLists are merged into the record: leafs are replaced,
// leaf-list values added. With removeNode the listed leafs are cleared and
// the listed leaf-list values removed instead. A non-negative insertIndex
// moves an ordered entry.
//
// Updating a missing record creates it; removing from a missing record does
// nothing and returns nil.
func (s *Store) Update(tx *records.Tx, n *node.Node, parentID nodeid.ID, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr, insertIndex int, removeNode bool) (*node.Node, error) {
	path := n.Path()
	d, err := s.descriptor("Update", path, parentID)
	if err != nil {
		return nil, err
	}
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return nil, err
	}
	row, err := s.findRow(tx, d, parentID, n.Key(), records.LockWrite)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if removeNode {
			return nil, nil
		}
		fresh := node.New(path, n.Key())
		for name, a := range attrs {
			fresh.InitAttr(name, a)
		}
		for name, items := range leafLists {
			for _, a := range items {
				fresh.InitLeafListItem(name, a)
			}
		}
		s.logger.Debug("columnar: update of a missing record creates it", "path", path.String(), "id", id.String())
		if err := s.Create(tx, fresh, parentID, insertIndex); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	if err := s.applyChanges(d, row, id, attrs, leafLists, removeNode); err != nil {
		return nil, err
	}
	if d.IsOrdered() && insertIndex >= 0 {
		old := d.Order(row)
		self := d.RowKey(row)
		if err := s.closeSlot(tx, d, parentID, old, self); err != nil {
			return nil, err
		}
		order, err := s.openSlot(tx, d, parentID, insertIndex, self)
		if err != nil {
			return nil, err
		}
		d.SetOrder(row, order)
	}
	if err := s.put(tx, d, row, id); err != nil {
		return nil, err
	}
	return s.NodeFromRow(d, row)
}

func (s *Store) applyChanges(d *registry.Descriptor, row any, id nodeid.ID, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr, removeNode bool) error {
	keys := d.KeyNames()
	for name, a := range attrs {
		if slices.Contains(keys, name) {
			if cur, _ := d.Attr(row, name); removeNode || cur.Value != a.Value {
				return storeerr.Errorf(storeerr.Structural, "Update", d.Path(), id, nil, "cannot change key leaf %v", name)
			}
			continue
		}
		if removeNode {
			a = node.Attr{}
		}
		if !d.SetAttr(row, name, a) {
			return storeerr.Errorf(storeerr.Structural, "Update", d.Path(), id, nil, "table %s has no column for leaf %v", d.Table().Name(), name)
		}
	}
	for name, items := range leafLists {
		cur, ok := d.LeafList(row, name)
		if !ok {
			return storeerr.Errorf(storeerr.Structural, "Update", d.Path(), id, nil, "table %s has no column for leaf-list %v", d.Table().Name(), name)
		}
		updated := slices.Clone(cur)
		for _, a := range items {
			if removeNode {
				updated = slices.DeleteFunc(updated, func(v string) bool { return v == a.Value })
			} else if !slices.Contains(updated, a.Value) {
				updated = append(updated, a.Value)
			}
		}
		if len(updated) == 0 {
			updated = nil
		}
		d.SetLeafList(row, name, updated)
	}
	return nil
}

// Remove deletes the record of n below parentID together with the records
// of its columnar descendants. It reports whether the record existed.
func (s *Store) Remove(tx *records.Tx, n *node.Node, parentID nodeid.ID) (bool, error) {
	path := n.Path()
	d, err := s.descriptor("Remove", path, parentID)
	if err != nil {
		return false, err
	}
	row, err := s.findRow(tx, d, parentID, n.Key(), records.LockWrite)
	if err != nil || row == nil {
		return false, err
	}
	id, err := nodeid.ChildID(s.cat, parentID, path, n.Key())
	if err != nil {
		return false, err
	}
	if err := s.removeRow(tx, d, row, id); err != nil {
		return false, err
	}
	if d.IsOrdered() {
		if err := s.closeSlot(tx, d, parentID, d.Order(row), d.RowKey(row)); err != nil {
			return false, err
		}
	}
	if err := s.updateParentRefs(tx, path, parentID, id, false); err != nil {
		return false, err
	}
	s.logger.Debug("columnar: removed", "path", path.String(), "id", id.String())
	return true, nil
}

func (s *Store) removeRow(tx *records.Tx, d *registry.Descriptor, row any, id nodeid.ID) error {
	if err := s.removeDescendants(tx, d.Path(), id); err != nil {
		return err
	}
	if err := tx.DeleteByKey(d.Table(), d.RowKey(row)); err != nil {
		return storeerr.Wrap(storeerr.Structural, "Remove", d.Path(), id, err)
	}
	return nil
}

// removeDescendants deletes the records of every columnar child type of
// path below id, recursively.
func (s *Store) removeDescendants(tx *records.Tx, path schema.Path, id nodeid.ID) error {
	for _, cd := range s.reg.Descriptors() {
		if parent, ok := schema.DataParent(s.cat, cd.Path()); !ok || !parent.Equal(path) {
			continue
		}
		rows, err := s.matchRows(tx, cd, nil, id)
		if err != nil {
			return err
		}
		for _, row := range rows {
			childID, err := nodeid.ChildID(s.cat, id, cd.Path(), cd.RowNodeKey(row))
			if err != nil {
				return err
			}
			if err := s.removeRow(tx, cd, row, childID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveAll deletes every instance of childPath below parent, whose own
// parent is grandParentID. It returns the number of records removed.
func (s *Store) RemoveAll(tx *records.Tx, parent *node.Node, childPath schema.Path, grandParentID nodeid.ID) (int, error) {
	d, err := s.descriptor("RemoveAll", childPath, parent.ID())
	if err != nil {
		return 0, err
	}
	rows, err := s.matchRows(tx, d, nil, parent.ID())
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		childID, err := nodeid.ChildID(s.cat, parent.ID(), childPath, d.RowNodeKey(row))
		if err != nil {
			return 0, err
		}
		if err := s.removeRow(tx, d, row, childID); err != nil {
			return 0, err
		}
	}
	if len(rows) > 0 {
		if err := s.clearParentRefs(tx, parent, childPath, grandParentID); err != nil {
			return 0, err
		}
	}
	s.logger.Debug("columnar: removed all", "path", childPath.String(), "parent", parent.ID().String(), "count", len(rows))
	return len(rows), nil
}

// parentRecord finds the record of the data parent of childPath when that
// record keeps a child collection for childPath.
func (s *Store) parentRecord(tx *records.Tx, childPath schema.Path, parentID nodeid.ID, grandParentID *nodeid.ID) (*registry.Descriptor, any, error) {
	parentPath, ok := schema.DataParent(s.cat, childPath)
	if !ok {
		return nil, nil, nil
	}
	pd, ok := s.reg.Descriptor(parentPath)
	if !ok || !pd.HasChildren(childPath) {
		return nil, nil, nil
	}
	var gp nodeid.ID
	if grandParentID != nil {
		gp = *grandParentID
	} else {
		var err error
		if gp, err = nodeid.ParentIDOf(s.cat, parentPath, parentID); err != nil {
			return nil, nil, err
		}
	}
	key, err := nodeid.KeyFromID(s.cat, parentPath, parentID)
	if err != nil {
		return nil, nil, err
	}
	row, err := s.findRow(tx, pd, gp, key, records.LockWrite)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, storeerr.Errorf(storeerr.Structural, "parent refs", parentPath, parentID, storeerr.ErrParentNotFound, "")
	}
	return pd, row, nil
}

func (s *Store) updateParentRefs(tx *records.Tx, childPath schema.Path, parentID, childID nodeid.ID, add bool) error {
	pd, row, err := s.parentRecord(tx, childPath, parentID, nil)
	if err != nil || pd == nil {
		return err
	}
	ref := childID.String()
	refs := slices.Clone(pd.ChildRefs(row, childPath))
	if add {
		if slices.Contains(refs, ref) {
			return nil
		}
		refs = append(refs, ref)
	} else {
		i := slices.Index(refs, ref)
		if i < 0 {
			return nil
		}
		refs = slices.Delete(refs, i, i+1)
	}
	pd.SetChildRefs(row, childPath, refs)
	return s.put(tx, pd, row, parentID)
}

func (s *Store) clearParentRefs(tx *records.Tx, parent *node.Node, childPath schema.Path, grandParentID nodeid.ID) error {
	pd, row, err := s.parentRecord(tx, childPath, parent.ID(), &grandParentID)
	if err != nil || pd == nil {
		return err
	}
	if len(pd.ChildRefs(row, childPath)) == 0 {
		return nil
	}
	pd.SetChildRefs(row, childPath, nil)
	return s.put(tx, pd, row, parent.ID())
}

// LoadRow fetches the record of the node at path with the given id for
// writing. Blob-backed stores use it to reach the stored-parent record.
func (s *Store) LoadRow(tx *records.Tx, path schema.Path, id nodeid.ID, mode records.LockMode) (*registry.Descriptor, any, error) {
	d, err := s.descriptor("LoadRow", path, id)
	if err != nil {
		return nil, nil, err
	}
	key, err := nodeid.KeyFromID(s.cat, path, id)
	if err != nil {
		return nil, nil, err
	}
	parentID, err := nodeid.ParentIDOf(s.cat, path, id)
	if err != nil {
		return nil, nil, err
	}
	row, err := s.findRow(tx, d, parentID, key, mode)
	return d, row, err
}

// PutRow persists a record fetched with LoadRow.
func (s *Store) PutRow(tx *records.Tx, d *registry.Descriptor, row any, id nodeid.ID) error {
	return s.put(tx, d, row, id)
}
