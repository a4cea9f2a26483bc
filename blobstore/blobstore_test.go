package blobstore

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/confstore/columnar"
	"github.com/andreyvit/confstore/confstoretest"
	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/scope"
	"github.com/andreyvit/confstore/storeerr"
)

var q = confstoretest.Q

type fixture struct {
	env  *confstoretest.Env
	cols *columnar.Store
	s    *Store
}

func setup(t *testing.T) *fixture {
	env := confstoretest.New(t)
	cols := columnar.New(env.Catalog, env.Registry, env.Logger)
	return &fixture{env: env, cols: cols, s: New(cols, env.Logger)}
}

func (f *fixture) scope() *scope.Scope {
	return scope.New(f.env.Logger)
}

// putHolder commits a holder record with the given blob.
func (f *fixture) putHolder(t *testing.T, name, blob string) {
	t.Helper()
	d, _ := f.env.Registry.Descriptor(confstoretest.Holder)
	ok(t, f.env.DB.Write(func(tx *records.Tx) error {
		return tx.Put(d.Table(), &confstoretest.HolderRow{
			ParentID: nodeid.Root.String(),
			Name:     name,
			Blob:     []byte(blob),
		})
	}))
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

func newPort(id, speed string) *node.Node {
	p := node.New(confstoretest.Port, confstoretest.PortKey(id))
	if speed != "" {
		p.InitAttr(q("speed"), node.Value(speed))
	}
	return p
}

func portIDs(t *testing.T, nodes []*node.Node) []string {
	t.Helper()
	var result []string
	for _, n := range nodes {
		id, _ := n.Attr(q("id"))
		result = append(result, id.Value)
	}
	return result
}

const threePorts = `<device-holder xmlns="urn:example:dh">
  <ports>
    <port><id>1</id><speed>1G</speed></port>
    <port><id>2</id><speed>1G</speed></port>
    <port><id>3</id></port>
  </ports>
</device-holder>`

func TestDeviceHolderPortsScenario(t *testing.T) {
	f := setup(t)
	sc := f.scope()
	tx := f.env.Begin()

	holder := node.New(confstoretest.Holder, confstoretest.HolderKey("OLT-1"))
	ok(t, f.s.Create(tx, sc, holder, nodeid.Root, node.AtEnd))
	if sc.Lookup(confstoretest.HolderID("OLT-1")) != holder {
		t.Fatalf("created root is not live in the scope")
	}

	p1 := newPort("1", "1G")
	ok(t, f.s.Create(tx, sc, p1, confstoretest.PortsID("OLT-1"), node.AtEnd))
	ok(t, f.s.Create(tx, sc, newPort("2", ""), confstoretest.PortsID("OLT-1"), node.AtEnd))

	found, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("OLT-1"))
	ok(t, err)
	if found != p1 {
		t.Fatalf("Find = %v, wanted the port created in this scope", found)
	}
	deepEqual(t, found.ID().String(), confstoretest.PortID("OLT-1", "1").String())

	d, row, err := f.cols.LoadRow(tx, confstoretest.Holder, confstoretest.HolderID("OLT-1"), records.LockNone)
	ok(t, err)
	if b := d.Blob(row); len(b) != 0 {
		t.Fatalf("blob written before EndModify: %q", b)
	}

	wb, err := f.s.EndModify(tx, sc)
	ok(t, err)
	deepEqual(t, len(wb.Roots), 1)
	ok(t, tx.Commit())

	e := `<device-holder xmlns="urn:example:dh"><ports><port><id>1</id><speed>1G</speed></port><port><id>2</id></port></ports></device-holder>`
	deepEqual(t, f.env.Blob("OLT-1"), e)
	deepEqual(t, wb.Bytes, len(e))

	rtx, err := f.env.DB.BeginRead()
	ok(t, err)
	defer rtx.Close()
	ports, err := f.s.ListChildren(rtx, f.scope(), confstoretest.Port, confstoretest.PortsID("OLT-1"))
	ok(t, err)
	deepEqual(t, portIDs(t, ports), []string{"1", "2"})
	speed, _ := ports[0].Attr(q("speed"))
	deepEqual(t, speed.Value, "1G")
}

func TestWriteBackMinimality(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)

	sc := f.scope()
	tx := f.env.Begin()
	p2 := newPort("2", "")
	for _, speed := range []string{"2G", "5G", "10G"} {
		_, err := f.s.Update(tx, sc, p2, confstoretest.PortsID("h"), map[schema.QName]node.Attr{q("speed"): node.Value(speed)}, nil, node.AtEnd, false)
		ok(t, err)
	}
	_, err := f.s.Update(tx, sc, p2, confstoretest.PortsID("h"), nil, map[schema.QName][]node.Attr{q("vlan"): {node.Value("100")}}, node.AtEnd, false)
	ok(t, err)
	deepEqual(t, len(sc.Dirty()), 1)

	wb, err := f.s.EndModify(tx, sc)
	ok(t, err)
	deepEqual(t, len(wb.Roots), 1)

	wb, err = f.s.EndModify(tx, sc)
	ok(t, err)
	deepEqual(t, len(wb.Roots), 0)
	ok(t, tx.Commit())

	e := strings.Replace(threePorts,
		"<port><id>2</id><speed>1G</speed></port>",
		"<port><id>2</id><speed>10G</speed><vlan>100</vlan></port>", 1)
	deepEqual(t, f.env.Blob("h"), e)
}

func TestAtMostOneInstance(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "a", threePorts)
	f.putHolder(t, "b", "")
	sc := f.scope()
	tx := f.env.Begin()

	h1, err := f.s.Find(tx, sc, confstoretest.Holder, confstoretest.HolderKey("a"), nodeid.Root)
	ok(t, err)
	h2, err := f.s.Find(tx, sc, confstoretest.Holder, confstoretest.HolderKey("a"), nodeid.Root)
	ok(t, err)
	require.Same(t, h1, h2)

	all, err := f.s.List(tx, sc, confstoretest.Holder)
	ok(t, err)
	require.Len(t, all, 2)
	require.Same(t, h1, all[0])

	pa, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("3"), confstoretest.PortsID("a"))
	ok(t, err)
	pb, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("3"), confstoretest.PortsID("a"))
	ok(t, err)
	require.Same(t, pa, pb)
	pa.SetAttr(q("speed"), node.Value("40G"))
	speed, _ := pb.Attr(q("speed"))
	require.Equal(t, "40G", speed.Value)

	ports, err := f.s.List(tx, sc, confstoretest.Port)
	ok(t, err)
	require.Equal(t, []string{"1", "2", "3"}, portIDs(t, ports))
	require.Same(t, pa, ports[2])
}

func TestOrderedInsertAndMove(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()

	ok(t, f.s.Create(tx, sc, newPort("4", ""), confstoretest.PortsID("h"), 1))
	ports, err := f.s.ListChildren(tx, sc, confstoretest.Port, confstoretest.PortsID("h"))
	ok(t, err)
	deepEqual(t, portIDs(t, ports), []string{"1", "4", "2", "3"})

	_, err = f.s.Update(tx, sc, newPort("3", ""), confstoretest.PortsID("h"), nil, nil, 0, false)
	ok(t, err)
	ports, err = f.s.ListChildren(tx, sc, confstoretest.Port, confstoretest.PortsID("h"))
	ok(t, err)
	deepEqual(t, portIDs(t, ports), []string{"3", "1", "4", "2"})

	_, err = f.s.EndModify(tx, sc)
	ok(t, err)
	ok(t, tx.Commit())

	rtx, err := f.env.DB.BeginRead()
	ok(t, err)
	defer rtx.Close()
	ports, err = f.s.ListChildren(rtx, f.scope(), confstoretest.Port, confstoretest.PortsID("h"))
	ok(t, err)
	deepEqual(t, portIDs(t, ports), []string{"3", "1", "4", "2"})
}

func TestUpdateContract(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()
	parent := confstoretest.PortsID("h")

	vlans := map[schema.QName][]node.Attr{q("vlan"): {node.Value("10"), node.Value("20")}}
	p1, err := f.s.Update(tx, sc, newPort("1", ""), parent, nil, vlans, node.AtEnd, false)
	ok(t, err)
	deepEqual(t, p1.LeafList(q("vlan")).Values(), []string{"10", "20"})

	_, err = f.s.Update(tx, sc, newPort("1", ""), parent,
		map[schema.QName]node.Attr{q("speed"): {}},
		map[schema.QName][]node.Attr{q("vlan"): {node.Value("10")}}, node.AtEnd, true)
	ok(t, err)
	deepEqual(t, p1.LeafList(q("vlan")).Values(), []string{"20"})
	if _, found := p1.Attr(q("speed")); found {
		t.Fatalf("speed survived removeNode")
	}

	_, err = f.s.Update(tx, sc, newPort("1", ""), parent, map[schema.QName]node.Attr{q("id"): node.Value("9")}, nil, node.AtEnd, false)
	require.True(t, storeerr.IsStructural(err), "key change: %v", err)

	_, err = f.s.Update(tx, sc, newPort("1", ""), parent, map[schema.QName]node.Attr{q("nope"): node.Value("x")}, nil, node.AtEnd, false)
	require.True(t, storeerr.IsStructural(err), "unknown leaf: %v", err)

	p9, err := f.s.Update(tx, sc, newPort("9", ""), parent, map[schema.QName]node.Attr{q("speed"): node.Value("1G")}, nil, node.AtEnd, false)
	ok(t, err)
	require.NotNil(t, p9)
	ports, err := f.s.FindMany(tx, sc, confstoretest.Port, map[schema.QName]string{q("speed"): "1G"}, parent)
	ok(t, err)
	deepEqual(t, portIDs(t, ports), []string{"2", "9"})

	gone, err := f.s.Update(tx, sc, newPort("77", ""), parent, map[schema.QName]node.Attr{q("speed"): {}}, nil, node.AtEnd, true)
	ok(t, err)
	if gone != nil {
		t.Fatalf("removeNode on a missing port returned %v", gone)
	}
}

func TestRemove(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()
	parent := confstoretest.PortsID("h")

	p2, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("2"), parent)
	ok(t, err)
	removed, err := f.s.Remove(tx, sc, p2, parent)
	ok(t, err)
	deepEqual(t, removed, true)
	removed, err = f.s.Remove(tx, sc, p2, parent)
	ok(t, err)
	deepEqual(t, removed, false)
	if sc.Index().Node(confstoretest.PortID("h", "2").XPath()) != nil {
		t.Fatalf("removed port still indexed")
	}

	ports, err := f.s.Find(tx, sc, confstoretest.Ports, nodeid.Key{}, confstoretest.HolderID("h"))
	ok(t, err)
	count, err := f.s.RemoveAll(tx, sc, ports, confstoretest.Port, confstoretest.HolderID("h"))
	ok(t, err)
	deepEqual(t, count, 2)

	_, err = f.s.EndModify(tx, sc)
	ok(t, err)
	ok(t, tx.Commit())
	blob := f.env.Blob("h")
	deepEqual(t, strings.Count(blob, "<port>"), 0)
	deepEqual(t, strings.Count(blob, "<ports>"), 1)
}

func TestRootUpdateKeepsTreeClean(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()

	live, err := f.s.Find(tx, sc, confstoretest.Holder, confstoretest.HolderKey("h"), nodeid.Root)
	ok(t, err)
	updated, err := f.s.Update(tx, sc, node.New(confstoretest.Holder, confstoretest.HolderKey("h")), nodeid.Root,
		map[schema.QName]node.Attr{q("description"): node.Value("rack 7")}, nil, node.AtEnd, false)
	ok(t, err)
	require.Same(t, live, updated)
	descr, _ := live.Attr(q("description"))
	require.Equal(t, "rack 7", descr.Value)
	require.Empty(t, sc.Dirty())

	e := []string{confstoretest.HolderID("h").XPath() + "/description"}
	require.Equal(t, e, sc.Index().AttrsWithValue(confstoretest.Holder.Child(q("description")), "rack 7"))

	ok(t, tx.Commit())
	require.Equal(t, "rack 7", f.env.HolderRow("h").Descr)
	require.Equal(t, threePorts, f.env.Blob("h"))
}

func TestRemoveRootEvicts(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()

	p1, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("h"))
	ok(t, err)
	p1.SetAttr(q("speed"), node.Value("2G"))
	require.Len(t, sc.Dirty(), 1)

	removed, err := f.s.Remove(tx, sc, node.New(confstoretest.Holder, confstoretest.HolderKey("h")), nodeid.Root)
	ok(t, err)
	require.True(t, removed)
	require.Nil(t, sc.Lookup(confstoretest.HolderID("h")))
	require.Empty(t, sc.Dirty())

	wb, err := f.s.EndModify(tx, sc)
	ok(t, err)
	require.Empty(t, wb.Roots)
	ok(t, tx.Commit())
	require.Nil(t, f.env.HolderRow("h"))
}

func TestMissingStoredParent(t *testing.T) {
	f := setup(t)
	sc := f.scope()
	tx := f.env.Begin()

	p, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("nope"))
	ok(t, err)
	require.Nil(t, p)
	ports, err := f.s.ListChildren(tx, sc, confstoretest.Port, confstoretest.PortsID("nope"))
	ok(t, err)
	require.Empty(t, ports)

	err = f.s.Create(tx, sc, newPort("1", ""), confstoretest.PortsID("nope"), node.AtEnd)
	require.True(t, errors.Is(err, storeerr.ErrParentNotFound), "Create = %v", err)
	require.True(t, storeerr.IsStructural(err))

	_, err = f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.HolderID("x"))
	require.True(t, errors.Is(err, storeerr.ErrMalformedID), "Find with a short parent id = %v", err)
}

func TestBrokenBlobIsScopedToItsStoredParent(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "bad", `<device-holder xmlns="urn:example:dh"><ports>`)
	f.putHolder(t, "good", threePorts)
	sc := f.scope()
	tx := f.env.Begin()

	_, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("bad"))
	require.True(t, storeerr.IsMarshalling(err), "Find in a broken blob = %v", err)
	require.Contains(t, err.Error(), "device-holder[name='bad']")

	p, err := f.s.Find(tx, sc, confstoretest.Port, confstoretest.PortKey("1"), confstoretest.PortsID("good"))
	ok(t, err)
	require.NotNil(t, p)
}

func TestDuplicateCreate(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", threePorts)
	sc := f.scope()
	tx := f.env.Begin()

	err := f.s.Create(tx, sc, newPort("2", ""), confstoretest.PortsID("h"), node.AtEnd)
	require.True(t, errors.Is(err, storeerr.ErrAlreadyExists), "Create = %v", err)
	require.Empty(t, sc.Dirty())
}

func TestRemoveAncestorEvictsStoredParentsBelow(t *testing.T) {
	f := setup(t)
	cportID := confstoretest.CardPortID("h", "1", "1")
	createAll := func(tx *records.Tx, sc *scope.Scope) {
		t.Helper()
		ok(t, f.s.Create(tx, sc, node.New(confstoretest.Holder, confstoretest.HolderKey("h")), nodeid.Root, node.AtEnd))
		ok(t, f.cols.Create(tx, node.New(confstoretest.Card, confstoretest.CardKey("1")), confstoretest.HolderID("h"), node.AtEnd))
		ok(t, f.s.Create(tx, sc, node.New(confstoretest.CardPort, confstoretest.PortKey("1")), confstoretest.CardID("h", "1"), node.AtEnd))
	}

	sc := f.scope()
	tx := f.env.Begin()
	createAll(tx, sc)
	settings := node.New(confstoretest.Settings, nodeid.Key{})
	settings.InitAttr(q("mode"), node.Value("auto"))
	ok(t, f.s.Create(tx, sc, settings, cportID, node.AtEnd))
	_, err := f.s.EndModify(tx, sc)
	ok(t, err)
	ok(t, tx.Commit())
	require.Contains(t, string(f.env.CardPortRow("h", "1", "1").Blob), "<mode>auto</mode>")

	sc = f.scope()
	tx = f.env.Begin()
	live, err := f.s.Find(tx, sc, confstoretest.Settings, nodeid.Key{}, cportID)
	ok(t, err)
	require.NotNil(t, live)
	live.SetAttr(q("mode"), node.Value("manual"))
	require.Len(t, sc.Dirty(), 1)

	removed, err := f.s.Remove(tx, sc, node.New(confstoretest.Holder, confstoretest.HolderKey("h")), nodeid.Root)
	ok(t, err)
	require.True(t, removed)
	require.Nil(t, sc.Lookup(cportID))
	require.Empty(t, sc.Dirty())
	cp, err := f.s.Find(tx, sc, confstoretest.CardPort, confstoretest.PortKey("1"), confstoretest.CardID("h", "1"))
	ok(t, err)
	require.Nil(t, cp)

	createAll(tx, sc)
	again, err := f.s.Find(tx, sc, confstoretest.Settings, nodeid.Key{}, cportID)
	ok(t, err)
	require.Nil(t, again)
	fresh := node.New(confstoretest.Settings, nodeid.Key{})
	ok(t, f.s.Create(tx, sc, fresh, cportID, node.AtEnd))

	_, err = f.s.EndModify(tx, sc)
	ok(t, err)
	ok(t, tx.Commit())
	blob := string(f.env.CardPortRow("h", "1", "1").Blob)
	require.NotContains(t, blob, "mode")
	require.Contains(t, blob, "settings")
}

func TestFailedCreateLeavesTreeUntouched(t *testing.T) {
	f := setup(t)
	blob := `<device-holder xmlns="urn:example:dh"><system><hostname>olt</hostname></system></device-holder>`
	f.putHolder(t, "h", blob)
	sc := f.scope()
	tx := f.env.Begin()

	err := f.s.Create(tx, sc, node.New(confstoretest.PortQoS, nodeid.Key{}), confstoretest.PortID("h", "9"), node.AtEnd)
	require.True(t, errors.Is(err, storeerr.ErrParentNotFound), "Create under a missing port = %v", err)
	require.Empty(t, sc.Dirty())

	_, err = f.s.Update(tx, sc, node.New(confstoretest.PortQoS, nodeid.Key{}), confstoretest.PortID("h", "9"),
		map[schema.QName]node.Attr{q("profile"): node.Value("gold")}, nil, node.AtEnd, false)
	require.True(t, errors.Is(err, storeerr.ErrParentNotFound), "Update under a missing port = %v", err)
	require.Empty(t, sc.Dirty())

	holder := sc.Lookup(confstoretest.HolderID("h"))
	require.NotNil(t, holder)
	require.Empty(t, holder.Children(q("ports")))

	wb, err := f.s.EndModify(tx, sc)
	ok(t, err)
	require.Empty(t, wb.Roots)
	ok(t, tx.Commit())
	deepEqual(t, f.env.Blob("h"), blob)
}

func TestIdentityWithoutNamespaceRoundTrips(t *testing.T) {
	f := setup(t)
	f.putHolder(t, "h", "")
	sc := f.scope()
	tx := f.env.Begin()

	p := newPort("1", "")
	p.InitAttr(q("type"), node.Value("ethernet"))
	ok(t, f.s.Create(tx, sc, p, confstoretest.PortsID("h"), node.AtEnd))
	want := node.IdentityRef(confstoretest.NS, "ethernet")
	typ, _ := p.Attr(q("type"))
	deepEqual(t, typ, want)

	updated, err := f.s.Update(tx, sc, newPort("2", ""), confstoretest.PortsID("h"),
		map[schema.QName]node.Attr{q("type"): node.Value("ethernet")}, nil, node.AtEnd, false)
	ok(t, err)
	typ, _ = updated.Attr(q("type"))
	deepEqual(t, typ, want)

	_, err = f.s.EndModify(tx, sc)
	ok(t, err)
	ok(t, tx.Commit())

	rtx, err := f.env.DB.BeginRead()
	ok(t, err)
	defer rtx.Close()
	ports, err := f.s.ListChildren(rtx, f.scope(), confstoretest.Port, confstoretest.PortsID("h"))
	ok(t, err)
	require.Len(t, ports, 2)
	for _, port := range ports {
		typ, _ := port.Attr(q("type"))
		deepEqual(t, typ, want)
	}
}
