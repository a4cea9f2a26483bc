package records

import (
	"fmt"
	"reflect"
)

type Table struct {
	name            string
	latestSchemaVer uint64
	rowType         reflect.Type // *Row
	newRow          func() any
	keyOf           func(row any) Key
	fields          []*Field
	fieldsByName    map[string]*Field
	suppressContent bool
}

// Field is a named string projection of a row, used for matching.
type Field struct {
	name string
	get  func(row any) string
}

func (f *Field) Name() string {
	return f.name
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) String() string {
	return tbl.name
}

func (tbl *Table) SchemaVersion() uint64 {
	return tbl.latestSchemaVer
}

func (tbl *Table) Fields() []*Field {
	return append([]*Field(nil), tbl.fields...)
}

func (tbl *Table) FieldNamed(name string) *Field {
	return tbl.fieldsByName[name]
}

func (tbl *Table) NewRow() any {
	return tbl.newRow()
}

func (tbl *Table) RowKey(row any) Key {
	return tbl.keyOf(row)
}

func (tbl *Table) checkRow(row any) error {
	if reflect.TypeOf(row) != tbl.rowType {
		return tableErrf(tbl, nil, nil, "row must be %v, got %T", tbl.rowType, row)
	}
	if reflect.ValueOf(row).IsNil() {
		return tableErrf(tbl, nil, nil, "nil row")
	}
	return nil
}

func (tbl *Table) decodeRow(data []byte) (any, error) {
	row := tbl.newRow()
	if err := decodeRow(data, row); err != nil {
		return nil, err
	}
	return row, nil
}

type TableBuilder[Row any] struct {
	tbl *Table
}

// DefineTable describes a table of *Row values. The builder must set a Key.
// Panics on invalid definitions, which are programming errors.
func DefineTable[Row any](name string, f func(b *TableBuilder[Row])) *Table {
	rowPtrType := reflect.TypeOf((**Row)(nil)).Elem()
	if rowPtrType.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("DefineTable(%s): Row must be a struct", name))
	}
	if name == "" {
		panic("DefineTable: empty name")
	}
	tbl := &Table{
		name:            name,
		latestSchemaVer: 1,
		rowType:         rowPtrType,
		newRow:          func() any { return new(Row) },
		fieldsByName:    make(map[string]*Field),
	}
	b := TableBuilder[Row]{
		tbl: tbl,
	}
	f(&b)
	if tbl.keyOf == nil {
		panic(fmt.Sprintf("DefineTable(%s): no Key defined", name))
	}
	return tbl
}

func (b *TableBuilder[Row]) Key(f func(row *Row) Key) {
	b.tbl.keyOf = func(row any) Key {
		return f(row.(*Row))
	}
}

func (b *TableBuilder[Row]) Field(name string, get func(row *Row) string) {
	if b.tbl.fieldsByName[name] != nil {
		panic(fmt.Errorf("table %s already has field named %q", b.tbl.name, name))
	}
	fld := &Field{
		name: name,
		get: func(row any) string {
			return get(row.(*Row))
		},
	}
	b.tbl.fields = append(b.tbl.fields, fld)
	b.tbl.fieldsByName[name] = fld
}

func (b *TableBuilder[Row]) SetSchemaVersion(ver uint64) {
	if ver == 0 || ver > maxSchemaVersion {
		panic(fmt.Errorf("table %s: invalid schema version %d", b.tbl.name, ver))
	}
	b.tbl.latestSchemaVer = ver
}

func (b *TableBuilder[Row]) SuppressContentWhenLogging() {
	b.tbl.suppressContent = true
}
