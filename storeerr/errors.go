// Package storeerr defines the error taxonomy shared by the store backends.
//
// Absence is never an error: lookups return nil or an empty slice. Everything
// that does come back as an error carries a Kind, the operation, the schema
// path and the node id involved.
package storeerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/confstore/records"
)

type Kind int

const (
	// Structural errors are caller or deployment bugs: an id that does not
	// fit the schema, a schema path with no record type, a missing parent.
	Structural Kind = iota + 1

	// Contention means the record layer refused a lock. The caller may retry
	// the whole unit of work.
	Contention

	// Marshalling means a blob could not be parsed or serialized. It is
	// scoped to one stored-parent.
	Marshalling
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Contention:
		return "contention"
	case Marshalling:
		return "marshalling"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrNoRecordType   = errors.New("no record type registered")
	ErrAlreadyExists  = errors.New("already exists")
	ErrParentNotFound = errors.New("parent not found")
	ErrMalformedID    = errors.New("malformed node id")
)

type Error struct {
	Kind Kind
	Op   string
	Path string
	ID   string
	Msg  string
	Err  error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	var buf strings.Builder
	if e.Op != "" {
		buf.WriteString(e.Op)
		buf.WriteString(" ")
	}
	buf.WriteString(e.Path)
	if e.ID != "" {
		buf.WriteString(" @ ")
		buf.WriteString(e.ID)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// Errorf builds an Error. path and id are anything with a String method (or
// strings); nil values are omitted.
func Errorf(kind Kind, op string, path, id fmt.Stringer, err error, format string, args ...any) error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if path != nil {
		e.Path = path.String()
	}
	if id != nil {
		e.ID = id.String()
	}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}

// Wrap classifies an error coming out of the record layer. Lock conflicts
// become Contention, anything else keeps the given kind. Nil stays nil.
func Wrap(kind Kind, op string, path, id fmt.Stringer, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, records.ErrLockConflict) {
		kind = Contention
	}
	return Errorf(kind, op, path, id, err, "")
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Contention for a bare lock conflict, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, records.ErrLockConflict) {
		return Contention
	}
	return 0
}

func IsStructural(err error) bool  { return KindOf(err) == Structural }
func IsContention(err error) bool  { return KindOf(err) == Contention }
func IsMarshalling(err error) bool { return KindOf(err) == Marshalling }
