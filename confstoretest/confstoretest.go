// Package confstoretest provides the device-holder schema, record types and
// an in-memory environment shared by the store tests.
package confstoretest

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/records"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
)

const (
	NS      = "urn:example:dh"
	TypesNS = "urn:example:types"
)

func Q(local string) schema.QName { return schema.Q(NS, local) }

var (
	Holder   = schema.NewPath(Q("device-holder"))
	Ports    = Holder.Child(Q("ports"))
	Port     = Ports.Child(Q("port"))
	System   = Holder.Child(Q("system"))
	PortQoS  = Port.Child(Q("qos"))
	Card     = Holder.Child(Q("card"))
	CardPort = Card.Child(Q("cport"))
	Settings = CardPort.Child(Q("settings"))
)

// Catalog returns:
//
//	device-holder[name]          record with blob
//	  description, type (identity), tag*
//	  ports/port[id]             blob, ordered by user
//	    speed, type (identity), vlan*
//	    qos/profile
//	  system/hostname            blob
//	  card[slot]                 record, ordered by user
//	    model, tag*
//	    cport[id]                record with blob
//	      speed
//	      settings/mode          blob
func Catalog() *schema.MemCatalog {
	cat := schema.NewMemCatalog()
	dh := cat.List(schema.Root, Q("device-holder"), []schema.QName{Q("name")})
	cat.Leaf(dh, Q("description"))
	cat.Leaf(dh, Q("type"), schema.IdentityRef())
	cat.LeafList(dh, Q("tag"))

	ports := cat.Container(dh, Q("ports"))
	port := cat.List(ports, Q("port"), []schema.QName{Q("id")}, schema.OrderedByUser())
	cat.Leaf(port, Q("speed"))
	cat.Leaf(port, Q("type"), schema.IdentityRef())
	cat.LeafList(port, Q("vlan"))
	qos := cat.Container(port, Q("qos"))
	cat.Leaf(qos, Q("profile"))

	sys := cat.Container(dh, Q("system"))
	cat.Leaf(sys, Q("hostname"))

	card := cat.List(dh, Q("card"), []schema.QName{Q("slot")}, schema.OrderedByUser())
	cat.Leaf(card, Q("model"))
	cat.LeafList(card, Q("tag"))
	cport := cat.List(card, Q("cport"), []schema.QName{Q("id")})
	cat.Leaf(cport, Q("speed"))
	settings := cat.Container(cport, Q("settings"))
	cat.Leaf(settings, Q("mode"))
	return cat
}

type HolderRow struct {
	ParentID string   `msgpack:"p"`
	Name     string   `msgpack:"n"`
	Descr    string   `msgpack:"d,omitempty"`
	Type     string   `msgpack:"t,omitempty"`
	TypeNS   string   `msgpack:"tns,omitempty"`
	Tags     []string `msgpack:"tags,omitempty"`
	CardIDs  []string `msgpack:"cards,omitempty"`
	Blob     []byte   `msgpack:"blob,omitempty"`
}

type CardRow struct {
	ParentID string   `msgpack:"p"`
	Slot     string   `msgpack:"s"`
	Model    string   `msgpack:"m,omitempty"`
	Tags     []string `msgpack:"tags,omitempty"`
	Pos      int      `msgpack:"o"`
}

type CardPortRow struct {
	ParentID string `msgpack:"p"`
	ID       string `msgpack:"id"`
	Speed    string `msgpack:"sp,omitempty"`
	Blob     []byte `msgpack:"blob,omitempty"`
}

// Descriptors returns fresh descriptors for the record-backed paths.
func Descriptors() []*registry.Descriptor {
	holders := registry.Define("holders", Holder, func(b *registry.Builder[HolderRow]) {
		b.ParentID(func(r *HolderRow) string { return r.ParentID }, func(r *HolderRow, v string) { r.ParentID = v })
		b.Key(Q("name"), func(r *HolderRow) string { return r.Name }, func(r *HolderRow, v string) { r.Name = v })
		b.Attr(Q("description"), func(r *HolderRow) string { return r.Descr }, func(r *HolderRow, v string) { r.Descr = v })
		b.IdentityRef(Q("type"),
			func(r *HolderRow) (string, string) { return r.TypeNS, r.Type },
			func(r *HolderRow, ns, v string) { r.TypeNS, r.Type = ns, v })
		b.LeafList(Q("tag"), func(r *HolderRow) []string { return r.Tags }, func(r *HolderRow, v []string) { r.Tags = v })
		b.Children(Card, func(r *HolderRow) []string { return r.CardIDs }, func(r *HolderRow, v []string) { r.CardIDs = v })
		b.Blob(func(r *HolderRow) []byte { return r.Blob }, func(r *HolderRow, v []byte) { r.Blob = v })
	})
	cards := registry.Define("cards", Card, func(b *registry.Builder[CardRow]) {
		b.ParentID(func(r *CardRow) string { return r.ParentID }, func(r *CardRow, v string) { r.ParentID = v })
		b.Key(Q("slot"), func(r *CardRow) string { return r.Slot }, func(r *CardRow, v string) { r.Slot = v })
		b.Attr(Q("model"), func(r *CardRow) string { return r.Model }, func(r *CardRow, v string) { r.Model = v })
		b.LeafList(Q("tag"), func(r *CardRow) []string { return r.Tags }, func(r *CardRow, v []string) { r.Tags = v })
		b.Order(func(r *CardRow) int { return r.Pos }, func(r *CardRow, v int) { r.Pos = v })
	})
	cports := registry.Define("cports", CardPort, func(b *registry.Builder[CardPortRow]) {
		b.ParentID(func(r *CardPortRow) string { return r.ParentID }, func(r *CardPortRow, v string) { r.ParentID = v })
		b.Key(Q("id"), func(r *CardPortRow) string { return r.ID }, func(r *CardPortRow, v string) { r.ID = v })
		b.Attr(Q("speed"), func(r *CardPortRow) string { return r.Speed }, func(r *CardPortRow, v string) { r.Speed = v })
		b.Blob(func(r *CardPortRow) []byte { return r.Blob }, func(r *CardPortRow, v []byte) { r.Blob = v })
	})
	return []*registry.Descriptor{holders, cards, cports}
}

func HolderKey(name string) nodeid.Key {
	return nodeid.KeyOf([]schema.QName{Q("name")}, []string{name})
}

func HolderID(name string) nodeid.ID {
	return nodeid.Root.Entry(Q("device-holder"), HolderKey(name))
}

func PortKey(id string) nodeid.Key {
	return nodeid.KeyOf([]schema.QName{Q("id")}, []string{id})
}

func PortsID(holder string) nodeid.ID {
	return HolderID(holder).Container(Q("ports"))
}

func PortID(holder, id string) nodeid.ID {
	return PortsID(holder).Entry(Q("port"), PortKey(id))
}

func CardKey(slot string) nodeid.Key {
	return nodeid.KeyOf([]schema.QName{Q("slot")}, []string{slot})
}

func CardID(holder, slot string) nodeid.ID {
	return HolderID(holder).Entry(Q("card"), CardKey(slot))
}

func CardPortID(holder, slot, id string) nodeid.ID {
	return CardID(holder, slot).Entry(Q("cport"), PortKey(id))
}

// Env is a catalog, a registry with the device-holder record types deployed
// and an in-memory record database.
type Env struct {
	T        testing.TB
	Catalog  *schema.MemCatalog
	Registry *registry.Registry
	Records  *records.Schema
	DB       *records.DB
	Logger   *slog.Logger
}

func New(t testing.TB) *Env {
	recs := records.NewSchema()
	reg := registry.New(recs)
	if err := reg.Deploy("device-holder", Descriptors()...); err != nil {
		t.Fatal(err)
	}
	db := records.OpenMemory(recs, records.Options{
		Verbose:   true,
		IsTesting: true,
		Logf:      t.Logf,
	})
	t.Cleanup(func() { db.Close() })
	return &Env{
		T:        t,
		Catalog:  Catalog(),
		Registry: reg,
		Records:  recs,
		DB:       db,
		Logger:   Logger(t),
	}
}

// Logger returns a debug-level logger writing to the test log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// Begin starts a write transaction closed when the test ends.
func (e *Env) Begin() *records.Tx {
	tx, err := e.DB.BeginUpdate()
	if err != nil {
		e.T.Fatal(err)
	}
	e.T.Cleanup(tx.Close)
	return tx
}

// HolderRow reads a committed holder record, or returns nil.
func (e *Env) HolderRow(name string) *HolderRow {
	d, _ := e.Registry.Descriptor(Holder)
	var row *HolderRow
	err := e.DB.Read(func(tx *records.Tx) error {
		r, err := tx.FindByPrimaryKey(d.Table(), records.Key{nodeid.Root.String(), name}, records.LockNone)
		if r != nil {
			row = r.(*HolderRow)
		}
		return err
	})
	if err != nil {
		e.T.Fatal(err)
	}
	return row
}

// CardPortRow reads a committed card port record, or returns nil.
func (e *Env) CardPortRow(holder, slot, id string) *CardPortRow {
	d, _ := e.Registry.Descriptor(CardPort)
	var row *CardPortRow
	err := e.DB.Read(func(tx *records.Tx) error {
		r, err := tx.FindByPrimaryKey(d.Table(), records.Key{CardID(holder, slot).String(), id}, records.LockNone)
		if r != nil {
			row = r.(*CardPortRow)
		}
		return err
	})
	if err != nil {
		e.T.Fatal(err)
	}
	return row
}

// Blob returns the committed blob of a holder as a string.
func (e *Env) Blob(name string) string {
	if row := e.HolderRow(name); row != nil {
		return string(row.Blob)
	}
	return ""
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}
