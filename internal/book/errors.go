package book

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the book package.
var (
	// ErrUnreadable indicates the input is not a readable EPUB archive.
	ErrUnreadable = errors.New("book: unreadable package")

	// ErrNoReadingOrder indicates the package declares no usable spine.
	ErrNoReadingOrder = errors.New("book: no reading order")

	// ErrUnresolvable indicates a link that matches no document in the package.
	ErrUnresolvable = errors.New("book: unresolvable link")
)

// ErrorKind classifies package open failures.
type ErrorKind int

const (
	Unreadable ErrorKind = iota + 1
	NoReadingOrder
)

func (k ErrorKind) String() string {
	switch k {
	case Unreadable:
		return "unreadable"
	case NoReadingOrder:
		return "no reading order"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// PackageError is returned by Open when a package cannot be turned into a book.
type PackageError struct {
	Kind ErrorKind
	Err  error
}

func (e *PackageError) Error() string {
	if e.Err == nil {
		return "book: " + e.Kind.String()
	}
	return fmt.Sprintf("book: %s: %v", e.Kind, e.Err)
}

func (e *PackageError) Unwrap() error { return e.Err }

// Is matches the sentinel corresponding to the error kind.
func (e *PackageError) Is(target error) bool {
	switch target {
	case ErrUnreadable:
		return e.Kind == Unreadable
	case ErrNoReadingOrder:
		return e.Kind == NoReadingOrder
	}
	return false
}

func unreadable(format string, args ...any) error {
	return &PackageError{Kind: Unreadable, Err: fmt.Errorf(format, args...)}
}

// LinkError reports a link that could not be resolved to any document.
type LinkError struct {
	Href string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("book: unresolvable link %q", e.Href)
}

func (e *LinkError) Is(target error) bool { return target == ErrUnresolvable }
