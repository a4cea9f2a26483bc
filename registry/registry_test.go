package registry

import (
	"errors"
	"reflect"
	"testing"

	"github.com/andreyvit/confstore/node"
	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/schema"
	"github.com/andreyvit/confstore/storeerr"
)

const ns = "urn:example:dh"

func q(local string) schema.QName { return schema.Q(ns, local) }

var (
	dhPath    = schema.NewPath(q("device-holder"))
	portsPath = dhPath.Child(q("ports"))
	portPath  = portsPath.Child(q("port"))
	cardPath  = dhPath.Child(q("card"))
)

type holderRow struct {
	ParentID string   `msgpack:"parent"`
	Name     string   `msgpack:"name"`
	Descr    string   `msgpack:"descr,omitempty"`
	Type     string   `msgpack:"type,omitempty"`
	TypeNS   string   `msgpack:"type_ns,omitempty"`
	Tags     []string `msgpack:"tags,omitempty"`
	CardIDs  []string `msgpack:"cards,omitempty"`
	Blob     []byte   `msgpack:"blob,omitempty"`
}

type cardRow struct {
	ParentID string `msgpack:"parent"`
	Slot     string `msgpack:"slot"`
	Sub      string `msgpack:"sub"`
	Pos      int    `msgpack:"pos"`
}

func holderDesc(table string) *Descriptor {
	return Define(table, dhPath, func(b *Builder[holderRow]) {
		b.ParentID(func(r *holderRow) string { return r.ParentID }, func(r *holderRow, v string) { r.ParentID = v })
		b.Key(q("name"), func(r *holderRow) string { return r.Name }, func(r *holderRow, v string) { r.Name = v })
		b.Attr(q("description"), func(r *holderRow) string { return r.Descr }, func(r *holderRow, v string) { r.Descr = v })
		b.IdentityRef(q("type"),
			func(r *holderRow) (string, string) { return r.TypeNS, r.Type },
			func(r *holderRow, ns, v string) { r.TypeNS, r.Type = ns, v })
		b.LeafList(q("tag"), func(r *holderRow) []string { return r.Tags }, func(r *holderRow, v []string) { r.Tags = v })
		b.Children(cardPath, func(r *holderRow) []string { return r.CardIDs }, func(r *holderRow, v []string) { r.CardIDs = v })
		b.Blob(func(r *holderRow) []byte { return r.Blob }, func(r *holderRow, v []byte) { r.Blob = v })
	})
}

func cardDesc() *Descriptor {
	return Define("cards", cardPath, func(b *Builder[cardRow]) {
		b.ParentID(func(r *cardRow) string { return r.ParentID }, func(r *cardRow, v string) { r.ParentID = v })
		b.Key(q("slot"), func(r *cardRow) string { return r.Slot }, func(r *cardRow, v string) { r.Slot = v })
		b.Key(q("sub"), func(r *cardRow) string { return r.Sub }, func(r *cardRow, v string) { r.Sub = v })
		b.Order(func(r *cardRow) int { return r.Pos }, func(r *cardRow, v int) { r.Pos = v })
	})
}

func TestPrimaryKey(t *testing.T) {
	d := cardDesc()
	parent := nodeid.Root.Entry(q("device-holder"), nodeid.KeyOf([]schema.QName{q("name")}, []string{"OLT-1"}))
	key := nodeid.KeyOf([]schema.QName{q("sub"), q("slot")}, []string{"b", "3"})

	pk, err := d.PrimaryKey(parent, key)
	if err != nil {
		t.Fatal(err)
	}
	if e := (records.Key{parent.String(), "3", "b"}); !pk.Equal(e) {
		t.Fatalf("PrimaryKey = %v, wanted %v", pk, e)
	}

	row := d.NewRow()
	d.SetParentID(row, parent)
	if err := d.SetNodeKey(row, key); err != nil {
		t.Fatal(err)
	}
	if rk := d.RowKey(row); !rk.Equal(pk) {
		t.Fatalf("RowKey = %v, wanted %v", rk, pk)
	}
	if k := d.RowNodeKey(row); !k.Equal(nodeid.KeyOf([]schema.QName{q("slot"), q("sub")}, []string{"3", "b"})) {
		t.Fatalf("RowNodeKey = %v", k)
	}
	if pid, err := d.RowParentID(row); err != nil || !pid.Equal(parent) {
		t.Fatalf("RowParentID = %v, %v", pid, err)
	}

	_, err = d.PrimaryKey(parent, nodeid.KeyOf([]schema.QName{q("slot")}, []string{"3"}))
	if storeerr.KindOf(err) != storeerr.Structural {
		t.Fatalf("PrimaryKey with a partial key = %v, wanted structural error", err)
	}
}

func TestLoadAndStoreNode(t *testing.T) {
	d := holderDesc("holders")
	row := &holderRow{Name: "OLT-1", Descr: "rack 4", Type: "olt", TypeNS: "urn:example:types", Tags: []string{"a", "b"}}

	n := node.New(dhPath, d.RowNodeKey(row))
	d.LoadNode(n, row)
	if a, _ := n.Attr(q("type")); a != node.IdentityRef("urn:example:types", "olt") {
		t.Fatalf("type = %v", a)
	}
	if e := []string{"a", "b"}; !reflect.DeepEqual(n.LeafList(q("tag")).Values(), e) {
		t.Fatalf("tags = %v, wanted %v", n.LeafList(q("tag")).Values(), e)
	}
	if _, ok := n.Attr(q("description")); !ok {
		t.Fatalf("description not loaded")
	}

	out := &holderRow{}
	if err := d.StoreNode(out, n); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, row) {
		t.Fatalf("StoreNode = %+v, wanted %+v", out, row)
	}

	n.SetAttr(q("bogus"), node.Value("x"))
	if err := d.StoreNode(out, n); storeerr.KindOf(err) != storeerr.Structural {
		t.Fatalf("StoreNode with an unknown leaf = %v, wanted structural error", err)
	}
}

func TestMatchFields(t *testing.T) {
	d := cardDesc()
	m, err := d.Match(nodeid.Root, map[schema.QName]string{q("slot"): "1"})
	if err != nil {
		t.Fatal(err)
	}
	if e := (records.Match{ParentIDField: "/", q("slot").String(): "1"}); !reflect.DeepEqual(m, e) {
		t.Fatalf("Match = %v, wanted %v", m, e)
	}
	if _, err := d.Match(nodeid.Root, map[schema.QName]string{q("speed"): "1"}); err == nil {
		t.Fatalf("Match accepted an unknown leaf")
	}
	if d.Table().FieldNamed(q("sub").String()) == nil || d.Table().FieldNamed(ParentIDField) == nil {
		t.Fatalf("table fields = %v", d.Table().Fields())
	}
}

func TestStorageOf(t *testing.T) {
	r := New(nil)
	if err := r.Deploy("dh", holderDesc("holders"), cardDesc()); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path schema.Path
		e    Storage
	}{
		{dhPath, StoredParent},
		{cardPath, Columnar},
		{portsPath, BlobBacked},
		{portPath, BlobBacked},
	}
	for _, tt := range tests {
		if a := r.StorageOf(tt.path); a != tt.e {
			t.Errorf("StorageOf(%v) = %v, wanted %v", tt.path, a, tt.e)
		}
	}

	if d, ok := r.StoredParentOf(portPath); !ok || !d.Path().Equal(dhPath) {
		t.Fatalf("StoredParentOf(port) = %v, %v", d, ok)
	}
	if _, ok := r.StoredParentOf(cardPath.Child(q("x"))); ok {
		t.Fatalf("a columnar ancestor without blob must not be a stored-parent")
	}
	if _, ok := r.StoredParentOf(dhPath); ok {
		t.Fatalf("top-level path has no stored-parent")
	}
}

func TestDeployIsAllOrNothing(t *testing.T) {
	recs := records.NewSchema()
	r := New(recs)
	if err := r.Deploy("a", holderDesc("holders")); err != nil {
		t.Fatal(err)
	}

	err := r.Deploy("b", cardDesc(), holderDesc("holders2"))
	if !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("Deploy(dup path) = %v, wanted ErrAlreadyDeployed", err)
	}
	if r.HasDedicatedRecord(cardPath) || recs.TableNamed("cards") != nil {
		t.Fatalf("failed deploy left cards registered")
	}

	other := Define("holders", schema.NewPath(q("other")), func(b *Builder[cardRow]) {
		b.ParentID(func(r *cardRow) string { return r.ParentID }, func(r *cardRow, v string) { r.ParentID = v })
	})
	err = r.Deploy("b", cardDesc(), other)
	if !errors.Is(err, records.ErrTableExists) {
		t.Fatalf("Deploy(dup table) = %v, wanted ErrTableExists", err)
	}
	if r.HasDedicatedRecord(cardPath) {
		t.Fatalf("failed deploy left cards registered")
	}

	if err := r.Deploy("b", cardDesc()); err != nil {
		t.Fatal(err)
	}
	if e := []string{"a", "b"}; !reflect.DeepEqual(r.Owners(), e) {
		t.Fatalf("Owners = %v, wanted %v", r.Owners(), e)
	}
	if n := len(r.Descriptors()); n != 2 {
		t.Fatalf("len(Descriptors) = %d, wanted 2", n)
	}

	removed := r.Undeploy("a")
	if len(removed) != 1 || r.HasDedicatedRecord(dhPath) || recs.TableNamed("holders") != nil {
		t.Fatalf("Undeploy left holders behind")
	}
	if !r.HasDedicatedRecord(cardPath) {
		t.Fatalf("Undeploy removed another owner's descriptor")
	}
}

func TestDefinePanics(t *testing.T) {
	mustPanic := func(name string, f func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		f()
	}
	mustPanic("no ParentID", func() {
		Define("x", dhPath, func(b *Builder[cardRow]) {})
	})
	mustPanic("duplicate leaf", func() {
		Define("x", dhPath, func(b *Builder[cardRow]) {
			b.ParentID(func(r *cardRow) string { return r.ParentID }, func(r *cardRow, v string) { r.ParentID = v })
			b.Key(q("slot"), func(r *cardRow) string { return r.Slot }, func(r *cardRow, v string) { r.Slot = v })
			b.Attr(q("slot"), func(r *cardRow) string { return r.Slot }, func(r *cardRow, v string) { r.Slot = v })
		})
	})
}
