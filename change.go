package confstore

import (
	"fmt"

	"github.com/andreyvit/confstore/nodeid"
	"github.com/andreyvit/confstore/registry"
	"github.com/andreyvit/confstore/schema"
)

type (
	// Change describes one node created, updated or removed by a session.
	// Changes are delivered to Options.OnChange after a successful
	// EndModify, in the order they were made.
	Change struct {
		op      Op
		path    schema.Path
		id      nodeid.ID
		storage registry.Storage
	}

	Op int
)

const (
	OpNone   Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
	OpRemove Op = 3
)

func (chg Change) Op() Op {
	return chg.op
}
func (chg Change) Path() schema.Path {
	return chg.path
}
func (chg Change) ID() nodeid.ID {
	return chg.id
}

// Storage says which backend holds the node.
func (chg Change) Storage() registry.Storage {
	return chg.storage
}

func (chg Change) String() string {
	return fmt.Sprintf("%v %v", chg.op, chg.id)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
