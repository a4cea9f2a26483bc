package records

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Schema is the set of tables a DB knows about. Unlike a static schema,
// tables come and go while the DB is open, as record types are deployed and
// undeployed; buckets are created lazily on first write.
type Schema struct {
	mu                sync.RWMutex
	tablesByLowerName map[string]*Table
	tablesByRowType   map[reflect.Type]*Table
}

func NewSchema() *Schema {
	return &Schema{
		tablesByLowerName: make(map[string]*Table),
		tablesByRowType:   make(map[reflect.Type]*Table),
	}
}

// AddTables adds all tables or none.
func (scm *Schema) AddTables(tbls ...*Table) error {
	scm.mu.Lock()
	defer scm.mu.Unlock()
	seenNames := make(map[string]bool)
	seenTypes := make(map[reflect.Type]bool)
	for _, tbl := range tbls {
		lower := strings.ToLower(tbl.name)
		if scm.tablesByLowerName[lower] != nil || seenNames[lower] {
			return tableErrf(tbl, nil, ErrTableExists, "")
		}
		if scm.tablesByRowType[tbl.rowType] != nil || seenTypes[tbl.rowType] {
			return tableErrf(tbl, nil, ErrTableExists, "row type %v is already used", tbl.rowType)
		}
		seenNames[lower] = true
		seenTypes[tbl.rowType] = true
	}
	for _, tbl := range tbls {
		scm.tablesByLowerName[strings.ToLower(tbl.name)] = tbl
		scm.tablesByRowType[tbl.rowType] = tbl
	}
	return nil
}

func (scm *Schema) AddTable(tbl *Table) error {
	return scm.AddTables(tbl)
}

// RemoveTables forgets the tables. Stored rows are kept.
func (scm *Schema) RemoveTables(tbls ...*Table) {
	scm.mu.Lock()
	defer scm.mu.Unlock()
	for _, tbl := range tbls {
		lower := strings.ToLower(tbl.name)
		if scm.tablesByLowerName[lower] == tbl {
			delete(scm.tablesByLowerName, lower)
			delete(scm.tablesByRowType, tbl.rowType)
		}
	}
}

// Tables returns the tables sorted by name.
func (scm *Schema) Tables() []*Table {
	scm.mu.RLock()
	defer scm.mu.RUnlock()
	result := make([]*Table, 0, len(scm.tablesByLowerName))
	for _, tbl := range scm.tablesByLowerName {
		result = append(result, tbl)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].name < result[j].name
	})
	return result
}

func (scm *Schema) TableNamed(name string) *Table {
	scm.mu.RLock()
	defer scm.mu.RUnlock()
	return scm.tablesByLowerName[strings.ToLower(name)]
}

func (scm *Schema) TableByRow(row any) (*Table, error) {
	rt := reflect.TypeOf(row)
	if rt == nil || rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected pointer to a table row type, got %v", rt)
	}
	scm.mu.RLock()
	tbl := scm.tablesByRowType[rt]
	scm.mu.RUnlock()
	if tbl == nil {
		return nil, fmt.Errorf("%w %v", ErrUnknownRow, rt)
	}
	return tbl, nil
}
