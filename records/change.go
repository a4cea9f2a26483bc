package records

import "fmt"

type (
	// Change describes one row written or deleted by Flush.
	Change struct {
		table *Table
		op    Op
		key   Key
		row   any
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (chg *Change) Table() *Table {
	return chg.table
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) Key() Key {
	return chg.key
}
func (chg *Change) HasRow() bool {
	return chg.row != nil
}

// Row is the row as it was put; nil for deletions.
func (chg *Change) Row() any {
	return chg.row
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
