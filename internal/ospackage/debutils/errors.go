package debutils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies package database failures.
type ErrorKind int

const (
	// KindNotFound means the package is neither installed nor known to the
	// package cache.
	KindNotFound ErrorKind = iota + 1
	// KindOperationFailed means apt or dpkg ran and failed.
	KindOperationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "package not found"
	case KindOperationFailed:
		return "package operation failed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// PackageError is the only error type the package layer raises for package
// failures.
type PackageError struct {
	Kind    ErrorKind
	Package string
	Message string
	Err     error
}

func (e *PackageError) Error() string {
	msg := e.Kind.String()
	if e.Package != "" {
		msg += ": " + e.Package
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PackageError) Unwrap() error { return e.Err }

func notFound(pkg, msg string, err error) error {
	return &PackageError{Kind: KindNotFound, Package: pkg, Message: msg, Err: err}
}

func operationFailed(pkg, msg string, err error) error {
	return &PackageError{Kind: KindOperationFailed, Package: pkg, Message: msg, Err: err}
}

// KindOf returns the kind of a PackageError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pkgErr *PackageError
	if errors.As(err, &pkgErr) {
		return pkgErr.Kind
	}
	return 0
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
