package columnar

import (
	"errors"
	"reflect"
	"testing"

	"github.com/andreyvit/confstore/confstoretest"
	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

var q = confstoretest.Q

func setup(t *testing.T) (*confstoretest.Env, *Store) {
	env := confstoretest.New(t)
	return env, New(env.Catalog, env.Registry, env.Logger)
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func createHolder(t *testing.T, s *Store, tx *records.Tx, name string) *node.Node {
	t.Helper()
	n := node.New(confstoretest.Holder, confstoretest.HolderKey(name))
	ok(t, s.Create(tx, n, nodeid.Root, node.AtEnd))
	return n
}

func createCard(t *testing.T, s *Store, tx *records.Tx, holder, slot string, index int) *node.Node {
	t.Helper()
	n := node.New(confstoretest.Card, confstoretest.CardKey(slot))
	n.InitAttr(q("model"), node.Value("m"+slot))
	ok(t, s.Create(tx, n, confstoretest.HolderID(holder), index))
	return n
}

func slotsAndOrders(t *testing.T, s *Store, tx *records.Tx, holder string) (slots []string, orders []int) {
	t.Helper()
	d, _ := s.Registry().Descriptor(confstoretest.Card)
	cards, err := s.ListChildren(tx, confstoretest.Card, confstoretest.HolderID(holder))
	ok(t, err)
	for _, c := range cards {
		slot, _ := c.Attr(q("slot"))
		slots = append(slots, slot.Value)
		orders = append(orders, d.Order(c.Record()))
	}
	return slots, orders
}

func TestCreateAndFind(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()

	h := node.New(confstoretest.Holder, confstoretest.HolderKey("OLT-1"))
	h.InitAttr(q("description"), node.Value("rack 4"))
	h.InitAttr(q("type"), node.IdentityRef(confstoretest.TypesNS, "olt"))
	h.InitLeafListItem(q("tag"), node.Value("lab"))
	ok(t, s.Create(tx, h, nodeid.Root, node.AtEnd))
	deepEqual(t, h.ID().String(), confstoretest.HolderID("OLT-1").String())
	if h.Record() == nil {
		t.Fatalf("Create did not attach the record")
	}

	found, err := s.Find(tx, confstoretest.Holder, confstoretest.HolderKey("OLT-1"), nodeid.Root)
	ok(t, err)
	if found == nil || !node.Equal(found, h) {
		t.Fatalf("Find = %v, wanted %v", found, h)
	}
	deepEqual(t, found.ID().String(), h.ID().String())

	missing, err := s.Find(tx, confstoretest.Holder, confstoretest.HolderKey("OLT-2"), nodeid.Root)
	ok(t, err)
	if missing != nil {
		t.Fatalf("Find(missing) = %v, wanted nil", missing)
	}

	err = s.Create(tx, node.New(confstoretest.Holder, confstoretest.HolderKey("OLT-1")), nodeid.Root, node.AtEnd)
	if !errors.Is(err, storeerr.ErrAlreadyExists) || !storeerr.IsStructural(err) {
		t.Fatalf("Create(duplicate) = %v, wanted structural ErrAlreadyExists", err)
	}

	ok(t, tx.Commit())
	deepEqual(t, env.HolderRow("OLT-1").Descr, "rack 4")
	deepEqual(t, env.HolderRow("OLT-1").TypeNS, confstoretest.TypesNS)
}

func TestChildCollectionIsMaintained(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "OLT-1")
	c1 := createCard(t, s, tx, "OLT-1", "1", node.AtEnd)
	createCard(t, s, tx, "OLT-1", "2", node.AtEnd)
	ok(t, tx.Commit())

	e := []string{
		confstoretest.CardID("OLT-1", "1").String(),
		confstoretest.CardID("OLT-1", "2").String(),
	}
	deepEqual(t, env.HolderRow("OLT-1").CardIDs, e)

	tx = env.Begin()
	removed, err := s.Remove(tx, c1, confstoretest.HolderID("OLT-1"))
	ok(t, err)
	deepEqual(t, removed, true)
	removed, err = s.Remove(tx, c1, confstoretest.HolderID("OLT-1"))
	ok(t, err)
	deepEqual(t, removed, false)
	ok(t, tx.Commit())
	deepEqual(t, env.HolderRow("OLT-1").CardIDs, e[1:])

	tx = env.Begin()
	err = s.Create(tx, node.New(confstoretest.Card, confstoretest.CardKey("9")), confstoretest.HolderID("nope"), node.AtEnd)
	if !errors.Is(err, storeerr.ErrParentNotFound) {
		t.Fatalf("Create under a missing parent = %v, wanted ErrParentNotFound", err)
	}
}

func TestOrderedInsert(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	for _, slot := range []string{"a", "b", "c"} {
		createCard(t, s, tx, "h", slot, node.AtEnd)
	}
	slots, orders := slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"a", "b", "c"})
	deepEqual(t, orders, []int{0, 1, 2})

	createCard(t, s, tx, "h", "d", 1)
	slots, orders = slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"a", "d", "b", "c"})
	deepEqual(t, orders, []int{0, 1, 2, 3})

	createCard(t, s, tx, "h", "e", 100)
	slots, _ = slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"a", "d", "b", "c", "e"})
	ok(t, tx.Commit())

	tx = env.Begin()
	slots, orders = slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"a", "d", "b", "c", "e"})
	deepEqual(t, orders, []int{0, 1, 2, 3, 4})
}

func TestMoveAndRemoveKeepOrderDense(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	for _, slot := range []string{"a", "b", "c", "d"} {
		createCard(t, s, tx, "h", slot, node.AtEnd)
	}

	moved, err := s.Update(tx, node.New(confstoretest.Card, confstoretest.CardKey("d")), confstoretest.HolderID("h"), nil, nil, 1, false)
	ok(t, err)
	slots, orders := slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"a", "d", "b", "c"})
	deepEqual(t, orders, []int{0, 1, 2, 3})
	if m, _ := moved.Attr(q("model")); m.Value != "md" {
		t.Fatalf("moved card lost its model: %v", m)
	}

	_, err = s.Update(tx, node.New(confstoretest.Card, confstoretest.CardKey("a")), confstoretest.HolderID("h"), nil, nil, 3, false)
	ok(t, err)
	slots, orders = slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"d", "b", "c", "a"})
	deepEqual(t, orders, []int{0, 1, 2, 3})

	_, err = s.Remove(tx, node.New(confstoretest.Card, confstoretest.CardKey("b")), confstoretest.HolderID("h"))
	ok(t, err)
	slots, orders = slotsAndOrders(t, s, tx, "h")
	deepEqual(t, slots, []string{"d", "c", "a"})
	deepEqual(t, orders, []int{0, 1, 2})
}

func TestUpdate(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	card := createCard(t, s, tx, "h", "1", node.AtEnd)
	hid := confstoretest.HolderID("h")

	updated, err := s.Update(tx, card, hid,
		map[schema.QName]node.Attr{q("model"): node.Value("X")},
		map[schema.QName][]node.Attr{q("tag"): {node.Value("a"), node.Value("b")}},
		node.AtEnd, false)
	ok(t, err)
	deepEqual(t, updated.LeafList(q("tag")).Values(), []string{"a", "b"})

	updated, err = s.Update(tx, card, hid, nil,
		map[schema.QName][]node.Attr{q("tag"): {node.Value("b"), node.Value("c")}},
		node.AtEnd, false)
	ok(t, err)
	deepEqual(t, updated.LeafList(q("tag")).Values(), []string{"a", "b", "c"})

	updated, err = s.Update(tx, card, hid,
		map[schema.QName]node.Attr{q("model"): {}},
		map[schema.QName][]node.Attr{q("tag"): {node.Value("a"), node.Value("c")}},
		node.AtEnd, true)
	ok(t, err)
	if _, has := updated.Attr(q("model")); has {
		t.Fatalf("model not removed")
	}
	deepEqual(t, updated.LeafList(q("tag")).Values(), []string{"b"})

	_, err = s.Update(tx, card, hid, map[schema.QName]node.Attr{q("bogus"): node.Value("1")}, nil, node.AtEnd, false)
	if !storeerr.IsStructural(err) {
		t.Fatalf("Update of an unknown leaf = %v, wanted structural error", err)
	}
	_, err = s.Update(tx, card, hid, map[schema.QName]node.Attr{q("slot"): node.Value("2")}, nil, node.AtEnd, false)
	if !storeerr.IsStructural(err) {
		t.Fatalf("Update of a key leaf = %v, wanted structural error", err)
	}
}

func TestUpdateOfMissingRecordCreatesIt(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	hid := confstoretest.HolderID("h")
	ghost := node.New(confstoretest.Card, confstoretest.CardKey("7"))

	n, err := s.Update(tx, ghost, hid, nil, nil, node.AtEnd, true)
	ok(t, err)
	if n != nil {
		t.Fatalf("removing from a missing record created %v", n)
	}

	n, err = s.Update(tx, ghost, hid, map[schema.QName]node.Attr{q("model"): node.Value("Z")}, nil, node.AtEnd, false)
	ok(t, err)
	deepEqual(t, n.ID().String(), confstoretest.CardID("h", "7").String())

	found, err := s.Find(tx, confstoretest.Card, confstoretest.CardKey("7"), hid)
	ok(t, err)
	if m, _ := found.Attr(q("model")); m.Value != "Z" {
		t.Fatalf("model = %v, wanted Z", m)
	}
}

func TestFindMany(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	createHolder(t, s, tx, "other")
	for _, slot := range []string{"1", "2", "3"} {
		createCard(t, s, tx, "h", slot, node.AtEnd)
	}
	createCard(t, s, tx, "other", "1", node.AtEnd)
	_, err := s.Update(tx, node.New(confstoretest.Card, confstoretest.CardKey("3")), confstoretest.HolderID("h"),
		map[schema.QName]node.Attr{q("model"): node.Value("m1")}, nil, node.AtEnd, false)
	ok(t, err)

	found, err := s.FindMany(tx, confstoretest.Card, map[schema.QName]string{q("model"): "m1"}, confstoretest.HolderID("h"))
	ok(t, err)
	var ids []string
	for _, n := range found {
		ids = append(ids, n.ID().String())
	}
	deepEqual(t, ids, []string{confstoretest.CardID("h", "1").String(), confstoretest.CardID("h", "3").String()})

	all, err := s.List(tx, confstoretest.Card)
	ok(t, err)
	deepEqual(t, len(all), 4)

	_, err = s.FindMany(tx, confstoretest.Card, map[schema.QName]string{q("nope"): "x"}, confstoretest.HolderID("h"))
	if !storeerr.IsStructural(err) {
		t.Fatalf("FindMany on an unknown leaf = %v, wanted structural error", err)
	}
}

func TestRemoveCascadesAndRemoveAll(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	h := createHolder(t, s, tx, "h")
	card := createCard(t, s, tx, "h", "1", node.AtEnd)
	createCard(t, s, tx, "h", "2", node.AtEnd)
	for _, id := range []string{"1", "2"} {
		cp := node.New(confstoretest.CardPort, confstoretest.PortKey(id))
		ok(t, s.Create(tx, cp, card.ID(), node.AtEnd))
	}
	cps, err := s.ListChildren(tx, confstoretest.CardPort, card.ID())
	ok(t, err)
	deepEqual(t, len(cps), 2)

	_, err = s.Remove(tx, card, confstoretest.HolderID("h"))
	ok(t, err)
	cps, err = s.List(tx, confstoretest.CardPort)
	ok(t, err)
	deepEqual(t, len(cps), 0)

	count, err := s.RemoveAll(tx, h, confstoretest.Card, nodeid.Root)
	ok(t, err)
	deepEqual(t, count, 1)
	ok(t, tx.Commit())
	deepEqual(t, len(env.HolderRow("h").CardIDs), 0)
}

func TestErrors(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()

	_, err := s.Find(tx, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("h"))
	if !errors.Is(err, storeerr.ErrNoRecordType) || !storeerr.IsStructural(err) {
		t.Fatalf("Find on a blob-backed path = %v, wanted ErrNoRecordType", err)
	}

	_, err = s.Find(tx, confstoretest.Card, confstoretest.PortKey("1"), confstoretest.HolderID("h"))
	if !errors.Is(err, storeerr.ErrMalformedID) {
		t.Fatalf("Find with a wrong key = %v, wanted ErrMalformedID", err)
	}
}

func TestLockConflictIsContention(t *testing.T) {
	env, s := setup(t)
	tx := env.Begin()
	createHolder(t, s, tx, "h")
	createCard(t, s, tx, "h", "1", node.AtEnd)
	ok(t, tx.Commit())

	writer := env.Begin()
	_, err := s.Update(writer, node.New(confstoretest.Card, confstoretest.CardKey("1")), confstoretest.HolderID("h"),
		map[schema.QName]node.Attr{q("model"): node.Value("new")}, nil, node.AtEnd, false)
	ok(t, err)

	reader, err := env.DB.BeginRead()
	ok(t, err)
	defer reader.Close()
	_, err = s.Find(reader, confstoretest.Card, confstoretest.CardKey("1"), confstoretest.HolderID("h"))
	if !storeerr.IsContention(err) || !errors.Is(err, records.ErrLockConflict) {
		t.Fatalf("Find under a writer = %v, wanted contention", err)
	}
}
