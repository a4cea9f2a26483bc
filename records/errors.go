package records

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLockConflict is returned when a row lock cannot be granted because
	// another transaction holds an incompatible one. Locks are never waited
	// for.
	ErrLockConflict = errors.New("lock conflict")

	ErrReadOnly    = errors.New("transaction is read-only")
	ErrTxClosed    = errors.New("transaction is closed")
	ErrUnknownRow  = errors.New("no table defined for row type")
	ErrTableExists = errors.New("table already defined")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// Error shows the offending data in hex, abbreviated in the middle when long.
func (e *DataError) Error() string {
	const head, tail = 64, 32
	var buf strings.Builder
	buf.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&buf, ": %v", e.Err)
	}
	if n := len(e.Data); n <= head+tail {
		fmt.Fprintf(&buf, ": (%d) %x", n, e.Data)
	} else {
		fmt.Fprintf(&buf, ": (%d) %x...%x", n, e.Data[:head], e.Data[n-tail:])
	}
	return buf.String()
}

type TableError struct {
	Table string
	Key   Key
	Msg   string
	Err   error
}

func tableErrf(tbl *Table, key Key, err error, format string, args ...any) error {
	var name string
	if tbl != nil {
		name = tbl.name
	}
	return &TableError{name, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Key != nil {
		buf.WriteString("/" + e.Key.String())
	}
	for _, part := range []string{e.Msg, errString(e.Err)} {
		if part != "" {
			buf.WriteString(": " + part)
		}
	}
	return buf.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
