package confstore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/scope"
	"github.com/andreyvit/confstore/storeerr"
)

var ErrSessionDone = errors.New("session already ended")

// Session is one unit of work: a record transaction plus the scope holding
// every node materialized through it. Nodes returned by a session are only
// valid until it ends. A Session is not safe for concurrent use.
type Session struct {
	store    *Store
	tx       *records.Tx
	scope    *scope.Scope
	logger   *slog.Logger
	writable bool
	done     bool
	started  time.Time
	changes  []Change
}

func (s *Store) newSession(tx *records.Tx, writable bool) *Session {
	sc := scope.New(s.logger)
	ss := &Session{
		store:    s,
		tx:       tx,
		scope:    sc,
		logger:   s.logger.With("scope", sc.Token().String()),
		writable: writable,
		started:  time.Now(),
	}
	if writable {
		tx.OnChange(func(chg *records.Change) {
			s.metrics.recordWritten(chg.Table().Name(), chg.Op().String())
		})
	}
	return ss
}

func (ss *Session) Scope() *scope.Scope {
	return ss.scope
}

func (ss *Session) Tx() *records.Tx {
	return ss.tx
}

func (ss *Session) IsWritable() bool {
	return ss.writable
}

// Changes returns the changes made so far, in order.
func (ss *Session) Changes() []Change {
	return ss.changes
}

func (ss *Session) check(op string, path schema.Path, id nodeid.ID, write bool) error {
	if ss.done {
		return storeerr.Errorf(storeerr.Structural, op, path, id, ErrSessionDone, "")
	}
	if write && !ss.writable {
		return storeerr.Errorf(storeerr.Structural, op, path, id, records.ErrReadOnly, "")
	}
	return nil
}

func (ss *Session) storageOf(op string, path schema.Path) registry.Storage {
	st := ss.store.reg.StorageOf(path)
	ss.store.metrics.operation(st.String(), op)
	return st
}

func (ss *Session) record(op Op, path schema.Path, id nodeid.ID) {
	ss.changes = append(ss.changes, Change{
		op:      op,
		path:    path,
		id:      id,
		storage: ss.store.reg.StorageOf(path),
	})
}

func (ss *Session) fail(err error) error {
	ss.store.metrics.failed(err)
	return err
}

// Find returns the node of path with the given key below parentID, or nil.
func (ss *Session) Find(path schema.Path, key nodeid.Key, parentID nodeid.ID) (*node.Node, error) {
	if err := ss.check("Find", path, parentID, false); err != nil {
		return nil, err
	}
	n, err := ss.find(ss.storageOf("Find", path) == registry.Columnar, path, key, parentID)
	if err != nil {
		return nil, ss.fail(err)
	}
	return n, nil
}

// List returns every node of path.
func (ss *Session) List(path schema.Path) ([]*node.Node, error) {
	if err := ss.check("List", path, nodeid.Root, false); err != nil {
		return nil, err
	}
	var nodes []*node.Node
	var err error
	if ss.storageOf("List", path) == registry.Columnar {
		nodes, err = ss.store.cols.List(ss.tx, path)
	} else {
		nodes, err = ss.store.blobs.List(ss.tx, ss.scope, path)
	}
	if err != nil {
		return nil, ss.fail(err)
	}
	return nodes, nil
}

// ListChildren returns the nodes of childPath below parentID, ordered lists
// in their user order.
func (ss *Session) ListChildren(childPath schema.Path, parentID nodeid.ID) ([]*node.Node, error) {
	if err := ss.check("ListChildren", childPath, parentID, false); err != nil {
		return nil, err
	}
	var nodes []*node.Node
	var err error
	if ss.storageOf("ListChildren", childPath) == registry.Columnar {
		nodes, err = ss.store.cols.ListChildren(ss.tx, childPath, parentID)
	} else {
		nodes, err = ss.store.blobs.ListChildren(ss.tx, ss.scope, childPath, parentID)
	}
	if err != nil {
		return nil, ss.fail(err)
	}
	return nodes, nil
}

// FindMany returns the nodes of path below parentID whose leafs equal all
// the values in match.
func (ss *Session) FindMany(path schema.Path, match map[schema.QName]string, parentID nodeid.ID) ([]*node.Node, error) {
	if err := ss.check("FindMany", path, parentID, false); err != nil {
		return nil, err
	}
	var nodes []*node.Node
	var err error
	if ss.storageOf("FindMany", path) == registry.Columnar {
		nodes, err = ss.store.cols.FindMany(ss.tx, path, match, parentID)
	} else {
		nodes, err = ss.store.blobs.FindMany(ss.tx, ss.scope, path, match, parentID)
	}
	if err != nil {
		return nil, ss.fail(err)
	}
	return nodes, nil
}

// Create adds n below parentID. insertIndex positions entries of ordered
// lists; node.AtEnd appends.
func (ss *Session) Create(n *node.Node, parentID nodeid.ID, insertIndex int) error {
	path := n.Path()
	if err := ss.check("Create", path, parentID, true); err != nil {
		return err
	}
	var err error
	if ss.storageOf("Create", path) == registry.Columnar {
		err = ss.store.cols.Create(ss.tx, n, parentID, insertIndex)
	} else {
		err = ss.store.blobs.Create(ss.tx, ss.scope, n, parentID, insertIndex)
	}
	if err != nil {
		return ss.fail(err)
	}
	ss.record(OpCreate, path, n.ID())
	return nil
}

// Update applies attrs and leafLists to the node n names, creating it if
// needed; a created node is reported as OpCreate. With removeNode set, the
// listed leafs and leaf-list values are removed instead. insertIndex, if not
// negative, moves an ordered entry.
func (ss *Session) Update(n *node.Node, parentID nodeid.ID, attrs map[schema.QName]node.Attr, leafLists map[schema.QName][]node.Attr, insertIndex int, removeNode bool) (*node.Node, error) {
	path := n.Path()
	if err := ss.check("Update", path, parentID, true); err != nil {
		return nil, err
	}
	columnar := ss.storageOf("Update", path) == registry.Columnar
	op := OpUpdate
	if !removeNode {
		existing, err := ss.find(columnar, path, n.Key(), parentID)
		if err != nil {
			return nil, ss.fail(err)
		}
		if existing == nil {
			op = OpCreate
		}
	}
	var result *node.Node
	var err error
	if columnar {
		result, err = ss.store.cols.Update(ss.tx, n, parentID, attrs, leafLists, insertIndex, removeNode)
	} else {
		result, err = ss.store.blobs.Update(ss.tx, ss.scope, n, parentID, attrs, leafLists, insertIndex, removeNode)
	}
	if err != nil {
		return nil, ss.fail(err)
	}
	if result != nil {
		ss.record(op, path, result.ID())
	}
	return result, nil
}

func (ss *Session) find(columnar bool, path schema.Path, key nodeid.Key, parentID nodeid.ID) (*node.Node, error) {
	if columnar {
		return ss.store.cols.Find(ss.tx, path, key, parentID)
	}
	return ss.store.blobs.Find(ss.tx, ss.scope, path, key, parentID)
}

// Remove deletes the node n names and reports whether it existed.
func (ss *Session) Remove(n *node.Node, parentID nodeid.ID) (bool, error) {
	path := n.Path()
	if err := ss.check("Remove", path, parentID, true); err != nil {
		return false, err
	}
	id, err := nodeid.ChildID(ss.store.cat, parentID, path, n.Key())
	if err != nil {
		return false, ss.fail(err)
	}
	var removed bool
	columnar := ss.storageOf("Remove", path) == registry.Columnar
	if columnar {
		removed, err = ss.store.cols.Remove(ss.tx, n, parentID)
	} else {
		removed, err = ss.store.blobs.Remove(ss.tx, ss.scope, n, parentID)
	}
	if err != nil {
		return false, ss.fail(err)
	}
	if removed {
		if columnar {
			// the cascade may have deleted stored-parents cached below id
			ss.scope.EvictBelow(id)
		}
		ss.record(OpRemove, path, id)
	}
	return removed, nil
}

// RemoveAll removes every node of childPath below parent and returns how
// many were removed.
func (ss *Session) RemoveAll(parent *node.Node, childPath schema.Path, grandParentID nodeid.ID) (int, error) {
	if err := ss.check("RemoveAll", childPath, parent.ID(), true); err != nil {
		return 0, err
	}
	columnar := ss.storageOf("RemoveAll", childPath) == registry.Columnar
	var victims []*node.Node
	var err error
	if columnar {
		victims, err = ss.store.cols.ListChildren(ss.tx, childPath, parent.ID())
	} else {
		victims, err = ss.store.blobs.ListChildren(ss.tx, ss.scope, childPath, parent.ID())
	}
	if err != nil {
		return 0, ss.fail(err)
	}
	ids := make([]nodeid.ID, len(victims))
	for i, v := range victims {
		ids[i] = v.ID()
	}

	var count int
	if columnar {
		count, err = ss.store.cols.RemoveAll(ss.tx, parent, childPath, grandParentID)
	} else {
		count, err = ss.store.blobs.RemoveAll(ss.tx, ss.scope, parent, childPath, grandParentID)
	}
	if err != nil {
		return 0, ss.fail(err)
	}
	for _, id := range ids {
		if columnar {
			ss.scope.EvictBelow(id)
		}
		ss.record(OpRemove, childPath, id)
	}
	return count, nil
}

// EndModify writes back every changed stored-parent, commits the
// transaction and delivers the session's changes to Options.OnChange. On
// failure the session is rolled back.
func (ss *Session) EndModify() error {
	if ss.done {
		return ErrSessionDone
	}
	if !ss.writable {
		ss.Abort()
		return nil
	}
	wb, err := ss.store.blobs.EndModify(ss.tx, ss.scope)
	if err != nil {
		ss.abort("failed")
		return ss.fail(err)
	}
	if err := ss.tx.Commit(); err != nil {
		ss.abort("failed")
		return ss.fail(storeerr.Wrap(storeerr.KindOf(err), "EndModify", nil, nil, err))
	}
	ss.finish("committed")
	ss.store.metrics.wroteBack(len(wb.Roots), wb.Bytes)
	ss.logger.Debug("confstore: committed", "writeback", wb.String(), "changes", len(ss.changes))
	if ss.store.notify != nil && len(ss.changes) > 0 {
		ss.store.notify(ss.changes)
	}
	return nil
}

// Abort discards the session: staged records are rolled back and every
// materialized node is dropped. Safe to call after EndModify.
func (ss *Session) Abort() {
	ss.abort("aborted")
}

func (ss *Session) abort(outcome string) {
	if ss.done {
		return
	}
	ss.tx.Rollback()
	ss.finish(outcome)
	ss.scope.Reset()
}

func (ss *Session) finish(outcome string) {
	ss.done = true
	st := ss.scope.Stats()
	ss.store.metrics.scopeLookups(st.Hits, st.Misses)
	ss.store.metrics.sessionEnded(outcome, ss.started)
}
