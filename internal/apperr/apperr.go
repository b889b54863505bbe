// Package apperr defines the error kinds shared by the clipstash packages.
//
// Every failure that crosses a package boundary is wrapped in an *Error that
// carries a Kind. Callers branch on the kind with errors.Is against the
// sentinels below, or read it with KindOf:
//
//	if errors.Is(err, apperr.ErrStorage) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the subsystem that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindSerialization
	KindClipboard
	KindStorage
	KindConfig
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindClipboard:
		return "clipboard"
	case KindStorage:
		return "storage"
	case KindConfig:
		return "config"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrIO            = &Error{Kind: KindIO}
	ErrSerialization = &Error{Kind: KindSerialization}
	ErrClipboard     = &Error{Kind: KindClipboard}
	ErrStorage       = &Error{Kind: KindStorage}
	ErrConfig        = &Error{Kind: KindConfig}
	ErrUnexpected    = &Error{Kind: KindUnexpected}
)

// Error is a classified error. Op names the failed operation ("store get",
// "clipboard read"); Err is the underlying cause and may be nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with kind and op. A nil err still produces an error so that
// callers can report conditions without an underlying cause.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is formatted from format and args.
// %w verbs are honoured.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or any *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// ErrorKind returns the kind as a string for callers that classify errors
// without importing this package.
func (e *Error) ErrorKind() string { return e.Kind.String() }

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
