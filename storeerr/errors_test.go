package storeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/andreyvit/confstore/records"
)

type str string

func (s str) String() string { return string(s) }

func TestErrorMessageCarriesPathAndID(t *testing.T) {
	err := Errorf(Structural, "create", str("/{urn:a}x"), str("/{urn:a}x[k='1']"), ErrNoRecordType, "")
	if e := "create /{urn:a}x @ /{urn:a}x[k='1']: no record type registered"; err.Error() != e {
		t.Fatalf("Error() = %q, wanted %q", err.Error(), e)
	}
	if !errors.Is(err, ErrNoRecordType) {
		t.Fatalf("errors.Is(ErrNoRecordType) = false")
	}
	if KindOf(err) != Structural || !IsStructural(err) {
		t.Fatalf("KindOf = %v, wanted structural", KindOf(err))
	}
}

func TestWrapClassifiesLockConflicts(t *testing.T) {
	lockErr := fmt.Errorf("ports/1: %w", records.ErrLockConflict)
	err := Wrap(Structural, "find", str("/p"), nil, lockErr)
	if KindOf(err) != Contention {
		t.Fatalf("KindOf = %v, wanted contention", KindOf(err))
	}
	if !errors.Is(err, records.ErrLockConflict) {
		t.Fatalf("wrapped error lost the lock conflict")
	}
	if KindOf(lockErr) != Contention {
		t.Fatalf("a bare lock conflict must be contention")
	}
	if Wrap(Marshalling, "x", nil, nil, nil) != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}

	inner := Errorf(Marshalling, "parse", str("/p"), nil, nil, "bad blob")
	if Wrap(Structural, "outer", nil, nil, inner) != inner {
		t.Fatalf("Wrap must keep an existing *Error as is")
	}
	if KindOf(errors.New("x")) != 0 {
		t.Fatalf("plain errors have no kind")
	}
}
