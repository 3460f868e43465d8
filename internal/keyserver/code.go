// Package keyserver implements the three operation drivers (fetch,
// publish, search), the error taxonomy they report through, and the
// top-level controller that wires a parsed request to the directory
// gateway.
package keyserver

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Code is one of the helper's public error categories. Its
// numeric value is also the process exit status for a fatal failure.
type Code int

const (
	CodeOK Code = iota
	CodeInternal
	CodeNoMemory
	CodeVersionMismatch
	CodeGeneral
	CodeUnreachable
	CodeKeyNotFound
	CodeKeyExists
	CodeKeyIncomplete
	CodeNotSupported
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInternal:
		return "internal"
	case CodeNoMemory:
		return "no-memory"
	case CodeVersionMismatch:
		return "version-mismatch"
	case CodeGeneral:
		return "general"
	case CodeUnreachable:
		return "unreachable"
	case CodeKeyNotFound:
		return "key-not-found"
	case CodeKeyExists:
		return "key-exists"
	case CodeKeyIncomplete:
		return "key-incomplete"
	case CodeNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Failure pairs a Code with the underlying cause, if any. Operation
// drivers return *Failure so the controller can both print the code in
// a response record and derive the process exit status from it.
type Failure struct {
	Code Code
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Code.String()
	}

	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a *Failure.
func Fail(code Code, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

// MapLDAPError maps a directory-gateway error to the helper's public
// error taxonomy: entry-already-exists becomes
// key-exists, a network-level failure becomes unreachable, and every
// other LDAP result code becomes general. An error that carries no
// *ldap.Error at all is treated as unreachable.
func MapLDAPError(err error) Code {
	if err == nil {
		return CodeOK
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		switch ldapErr.ResultCode {
		case ldap.LDAPResultEntryAlreadyExists:
			return CodeKeyExists
		case ldap.ErrorNetwork:
			return CodeUnreachable
		default:
			return CodeGeneral
		}
	}

	// A dial/bind failure that never produced an *ldap.Error (e.g. a
	// bare net.OpError from a refused connection) is still unreachable.
	return CodeUnreachable
}
