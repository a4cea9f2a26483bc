package xmlblob

import (
	"strings"
	"testing"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	nsDH    = "urn:example:dh"
	nsTypes = "urn:example:types"
	nsX     = "urn:example:x"
)

func q(local string) schema.QName { return schema.Q(nsDH, local) }

var (
	dhPath    = schema.NewPath(q("device-holder"))
	portsPath = dhPath.Child(q("ports"))
	portPath  = portsPath.Child(q("port"))
	cardPath  = dhPath.Child(q("card"))
)

func testCatalog() *schema.MemCatalog {
	cat := schema.NewMemCatalog()
	dh := cat.List(schema.Root, q("device-holder"), []schema.QName{q("name")})
	cat.Leaf(dh, q("description"))
	ports := cat.Container(dh, q("ports"))
	port := cat.List(ports, q("port"), []schema.QName{q("id")}, schema.OrderedByUser())
	cat.Leaf(port, q("speed"))
	cat.Leaf(port, q("type"), schema.IdentityRef())
	cat.LeafList(port, q("vlan"))
	sys := cat.Container(dh, q("system"))
	cat.Leaf(sys, q("hostname"))
	mode := cat.Add(dh, q("mode"), schema.KindChoice)
	adv := cat.Add(mode, q("advanced"), schema.KindCase)
	cat.List(adv, q("route"), []schema.QName{q("a"), q("b"), schema.Q(nsX, "c")})
	card := cat.List(dh, q("card"), []schema.QName{q("slot")})
	cat.Leaf(card, q("model"))
	return cat
}

func newMarshaller() *Marshaller {
	return &Marshaller{
		Catalog: testCatalog(),
		Skip:    func(p schema.Path) bool { return p.Equal(cardPath) },
	}
}

func newRoot(name string) *node.Node {
	key := nodeid.KeyOf([]schema.QName{q("name")}, []string{name})
	root := node.New(dhPath, key)
	root.SetID(nodeid.Root.Entry(q("device-holder"), key))
	return root
}

func portKey(id string) nodeid.Key {
	return nodeid.KeyOf([]schema.QName{q("id")}, []string{id})
}

const sample = `<device-holder xmlns="urn:example:dh" xmlns:t="urn:example:types">
  <description>ignored, lives in the record</description>
  <ports>
    <port><id>1</id><speed>10G</speed><type>t:ethernet</type></port>
    <port><id>2</id><speed>1G</speed><vlan>10</vlan><vlan>20</vlan></port>
  </ports>
  <x:vendor xmlns:x="urn:vendor">opaque</x:vendor>
  <card><slot>1</slot><model>A</model></card>
</device-holder>`

func loadSample(t *testing.T) (*Marshaller, *node.Node) {
	t.Helper()
	m := newMarshaller()
	root := newRoot("OLT-1")
	require.NoError(t, m.Load([]byte(sample), root))
	return m, root
}

func ports(t *testing.T, root *node.Node) *node.Node {
	t.Helper()
	c := root.Children(q("ports"))
	require.Len(t, c, 1)
	return c[0]
}

func serialize(t *testing.T, m *Marshaller, root *node.Node) string {
	t.Helper()
	blob, err := m.Serialize(root)
	require.NoError(t, err)
	return string(blob)
}

func TestParseSample(t *testing.T) {
	_, root := loadSample(t)

	if _, ok := root.Attr(q("description")); ok {
		t.Fatalf("root leafs must not be read from the blob")
	}
	if names := root.ChildNames(); len(names) != 1 || names[0] != q("ports") {
		t.Fatalf("root children = %v, wanted only ports (card has its own records)", names)
	}

	p := ports(t, root)
	if p.IsLoaded() {
		t.Fatalf("ports loaded eagerly")
	}
	list := p.Children(q("port"))
	require.Len(t, list, 2)
	if list[0].IsLoaded() || list[1].IsLoaded() {
		t.Fatalf("port entries loaded eagerly")
	}
	if e := "/device-holder[name='OLT-1']/ports/port[id='2']"; list[1].ID().XPath() != e {
		t.Fatalf("port id = %s, wanted %s", list[1].ID().XPath(), e)
	}

	a, _ := list[0].Attr(q("type"))
	require.Equal(t, node.IdentityRef(nsTypes, "ethernet"), a)
	require.Equal(t, []string{"10", "20"}, list[1].LeafList(q("vlan")).Values())
	speed, _ := list[1].Attr(q("speed"))
	require.Equal(t, "1G", speed.Value)
}

func TestUnmodifiedTreeIsCopied(t *testing.T) {
	m, root := loadSample(t)
	ports(t, root).Children(q("port"))[1].Attr(q("speed"))
	require.Equal(t, sample, serialize(t, m, root))
}

func TestChangedLeafKeepsSiblings(t *testing.T) {
	m, root := loadSample(t)
	p2 := ports(t, root).Child(q("port"), portKey("2"))
	p2.SetAttr(q("speed"), node.Value("25G"))
	require.True(t, root.IsDirty())

	e := strings.Replace(sample, "<speed>1G</speed>", "<speed>25G</speed>", 1)
	require.Equal(t, e, serialize(t, m, root))
}

func TestInsertBeforeExistingEntry(t *testing.T) {
	m, root := loadSample(t)
	p := ports(t, root)
	p3 := node.New(portPath, portKey("3"))
	p3.SetID(p.ID().Entry(q("port"), p3.Key()))
	p3.InitAttr(q("speed"), node.Value("100M"))
	p.InsertChild(p3, 1)

	e := strings.Replace(sample, "<port><id>2</id>", "<port><id>3</id><speed>100M</speed></port><port><id>2</id>", 1)
	require.Equal(t, e, serialize(t, m, root))
}

func TestAppendAndRemove(t *testing.T) {
	m, root := loadSample(t)
	p := ports(t, root)
	p.RemoveChild(p.Child(q("port"), portKey("1")))
	p4 := node.New(portPath, portKey("4"))
	p4.SetID(p.ID().Entry(q("port"), p4.Key()))
	p.InsertChild(p4, node.AtEnd)

	e := strings.Replace(sample, `<port><id>1</id><speed>10G</speed><type>t:ethernet</type></port>`, "", 1)
	e = strings.Replace(e, "</port>\n  </ports>", "</port>\n  <port><id>4</id></port></ports>", 1)
	require.Equal(t, e, serialize(t, m, root))
}

func TestRecreatedEntryKeepsPosition(t *testing.T) {
	m, root := loadSample(t)
	p := ports(t, root)
	p.RemoveChild(p.Child(q("port"), portKey("1")))
	again := node.New(portPath, portKey("1"))
	again.SetID(p.ID().Entry(q("port"), again.Key()))
	p.InsertChild(again, 0)

	e := strings.Replace(sample, `<port><id>1</id><speed>10G</speed><type>t:ethernet</type></port>`, "<port><id>1</id></port>", 1)
	require.Equal(t, e, serialize(t, m, root))
}

func TestMovedEntriesAreRewrittenInOrder(t *testing.T) {
	m, root := loadSample(t)
	p := ports(t, root)
	p.MoveChild(p.Child(q("port"), portKey("2")), 0)

	out := serialize(t, m, root)
	i1, i2 := strings.Index(out, "<id>1</id>"), strings.Index(out, "<id>2</id>")
	if i1 < 0 || i2 < 0 || i2 > i1 {
		t.Fatalf("port 2 must come first:\n%s", out)
	}

	reloaded := newRoot("OLT-1")
	require.NoError(t, m.Load([]byte(out), reloaded))
	require.True(t, node.Equal(root, reloaded))
}

func TestIdentityRefPrefixes(t *testing.T) {
	m, root := loadSample(t)
	p1 := ports(t, root).Child(q("port"), portKey("1"))
	p1.SetAttr(q("type"), node.IdentityRef(nsTypes, "gpon"))
	e := strings.Replace(sample, "t:ethernet", "t:gpon", 1)
	require.Equal(t, e, serialize(t, m, root))

	p1.SetAttr(q("type"), node.IdentityRef("urn:other", "fiber"))
	out := serialize(t, m, root)
	require.Contains(t, out, `<type xmlns:ns1="urn:other">ns1:fiber</type>`)

	reloaded := newRoot("OLT-1")
	require.NoError(t, m.Load([]byte(out), reloaded))
	a, _ := ports(t, reloaded).Child(q("port"), portKey("1")).Attr(q("type"))
	require.Equal(t, node.IdentityRef("urn:other", "fiber"), a)
}

func TestBareIdentityReadsBackInLeafNamespace(t *testing.T) {
	m, root := loadSample(t)
	p1 := ports(t, root).Child(q("port"), portKey("1"))
	p1.SetAttr(q("type"), node.Value("copper"))
	out := serialize(t, m, root)
	require.Contains(t, out, ">copper</type>")

	reloaded := newRoot("OLT-1")
	require.NoError(t, m.Load([]byte(out), reloaded))
	a, _ := ports(t, reloaded).Child(q("port"), portKey("1")).Attr(q("type"))
	require.Equal(t, node.IdentityRef(nsDH, "copper"), a)
}

func TestLeafListChange(t *testing.T) {
	m, root := loadSample(t)
	p2 := ports(t, root).Child(q("port"), portKey("2"))
	p2.RemoveFromLeafList(q("vlan"), node.Value("10"))
	p2.AddToLeafList(q("vlan"), node.Value("30"))

	e := strings.Replace(sample, "<vlan>10</vlan><vlan>20</vlan>", "<vlan>20</vlan><vlan>30</vlan>", 1)
	require.Equal(t, e, serialize(t, m, root))
}

func TestEmptyBlob(t *testing.T) {
	m := newMarshaller()
	root := newRoot("OLT-1")
	require.NoError(t, m.Load(nil, root))
	require.Empty(t, root.AllChildren())
	require.Equal(t, `<device-holder xmlns="urn:example:dh"></device-holder>`, serialize(t, m, root))

	sys := node.New(dhPath.Child(q("system")), nodeid.Key{})
	sys.SetID(root.ID().Container(q("system")))
	sys.InitAttr(q("hostname"), node.Value("a<b"))
	root.InsertChild(sys, node.AtEnd)
	require.Equal(t, `<device-holder xmlns="urn:example:dh"><system><hostname>a&lt;b</hostname></system></device-holder>`, serialize(t, m, root))
}

func TestMalformedBlobs(t *testing.T) {
	m := newMarshaller()
	for _, blob := range []string{
		`<device-holder xmlns="urn:example:dh"><ports></device-holder>`,
		`<device-holder xmlns="urn:example:dh">`,
		`<other xmlns="urn:example:dh"/>`,
		`<p:device-holder/>`,
		`<device-holder xmlns="urn:example:dh"/><device-holder xmlns="urn:example:dh"/>`,
		`junk`,
	} {
		err := m.Load([]byte(blob), newRoot("x"))
		if storeerr.KindOf(err) != storeerr.Marshalling {
			t.Errorf("Load(%s) = %v, wanted marshalling error", blob, err)
			continue
		}
		if !strings.Contains(err.Error(), "device-holder[name='x']") {
			t.Errorf("error %q does not name the node", err)
		}
	}
}

func TestBrokenSubtreeFailsOnlyWhenLoaded(t *testing.T) {
	m := newMarshaller()
	root := newRoot("x")
	blob := `<device-holder xmlns="urn:example:dh"><ports><port><speed>1</speed></port></ports><system><hostname>h</hostname></system></device-holder>`
	require.NoError(t, m.Load([]byte(blob), root))

	p := ports(t, root)
	err := p.Load()
	require.Equal(t, storeerr.Marshalling, storeerr.KindOf(err))
	require.Equal(t, err, p.Err())

	sys := root.Children(q("system"))[0]
	h, ok := sys.Attr(q("hostname"))
	require.True(t, ok)
	require.Equal(t, "h", h.Value)
}

func TestCompositeKeys(t *testing.T) {
	m := newMarshaller()
	root := newRoot("x")
	blob := `<device-holder xmlns="urn:example:dh"><route><b>2</b><c xmlns="urn:example:x">3</c><a>1</a></route></device-holder>`
	require.NoError(t, m.Load([]byte(blob), root))

	routes := root.Children(q("route"))
	require.Len(t, routes, 1)
	key := nodeid.KeyOf([]schema.QName{q("a"), q("b"), schema.Q(nsX, "c")}, []string{"1", "2", "3"})
	require.True(t, routes[0].Key().Equal(key), "key = %v", routes[0].Key())

	routePath := dhPath.Append(q("mode"), q("advanced"), q("route"))
	k, err := nodeid.KeyFromID(m.Catalog, routePath, routes[0].ID())
	require.NoError(t, err)
	require.True(t, k.Equal(key))
}

func TestPropertyRoundTrip(t *testing.T) {
	m := newMarshaller()
	values := rapid.StringOf(rapid.RuneFrom([]rune("ab1 <>&'\"")))
	ids := rapid.SampledFrom([]string{"1", "2", "3", "4", "5"})
	typeNS := rapid.SampledFrom([]string{nsTypes, nsDH, "urn:other"})

	rapid.Check(t, func(t *rapid.T) {
		root := newRoot("OLT-1")
		if rapid.Bool().Draw(t, "hasPorts") {
			p := node.New(portsPath, nodeid.Key{})
			p.SetID(root.ID().Container(q("ports")))
			seen := make(map[string]bool)
			for i, n := 0, rapid.IntRange(0, 4).Draw(t, "nports"); i < n; i++ {
				id := ids.Draw(t, "id")
				if seen[id] {
					continue
				}
				seen[id] = true
				e := node.New(portPath, portKey(id))
				e.SetID(p.ID().Entry(q("port"), e.Key()))
				if rapid.Bool().Draw(t, "speed") {
					e.InitAttr(q("speed"), node.Value(values.Draw(t, "speedv")))
				}
				if rapid.Bool().Draw(t, "type") {
					e.InitAttr(q("type"), node.IdentityRef(typeNS.Draw(t, "typens"), "eth"))
				}
				for j, k := 0, rapid.IntRange(0, 3).Draw(t, "nvlan"); j < k; j++ {
					e.InitLeafListItem(q("vlan"), node.Value(values.Draw(t, "vlan")))
				}
				p.InitChild(e)
			}
			root.InitChild(p)
		}
		if rapid.Bool().Draw(t, "hasRoute") {
			key := nodeid.KeyOf([]schema.QName{q("a"), q("b"), schema.Q(nsX, "c")},
				[]string{values.Draw(t, "a"), values.Draw(t, "b"), values.Draw(t, "c")})
			r := node.New(dhPath.Append(q("mode"), q("advanced"), q("route")), key)
			r.SetID(root.ID().Entry(q("route"), key))
			root.InitChild(r)
		}

		blob, err := m.Serialize(root)
		if err != nil {
			t.Fatal(err)
		}
		reloaded := newRoot("OLT-1")
		if err := m.Load(blob, reloaded); err != nil {
			t.Fatalf("Load(%s): %v", blob, err)
		}
		if !node.Equal(root, reloaded) {
			t.Fatalf("round trip changed the tree:\n%s", blob)
		}
		again, err := m.Serialize(reloaded)
		if err != nil {
			t.Fatal(err)
		}
		if string(again) != string(blob) {
			t.Fatalf("untouched reload serialized differently:\n%s\n%s", blob, again)
		}
	})
}
