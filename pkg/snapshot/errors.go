package snapshot

import (
	"fmt"

	rerrors "github.com/vango-dev/resume/internal/errors"
	"github.com/vango-dev/resume/pkg/reactive"
)

// NonSerializableValueError reports a value no codec accepts, such as a Go
// function, a channel, or an unregistered struct type.
type NonSerializableValueError struct {
	Path string
	Type string
}

func (e *NonSerializableValueError) Error() string {
	return fmt.Sprintf("snapshot: cannot serialize %s at %s", e.Type, e.Path)
}

// Diagnostic returns the coded form of the error.
func (e *NonSerializableValueError) Diagnostic() *rerrors.Error {
	if e.Type == pendingPromiseType {
		return rerrors.New("R103").WithPath(e.Path)
	}
	return rerrors.New("R100").WithPath(e.Path).WithDetail("Value of type " + e.Type + ".")
}

// CyclicScalarReferenceError reports an entry that references a scalar
// entry still being decoded. Only object-like values may form cycles.
type CyclicScalarReferenceError struct {
	Index int
	Tag   string
}

func (e *CyclicScalarReferenceError) Error() string {
	return fmt.Sprintf("snapshot: entry %d (%s) references itself while decoding", e.Index, e.Tag)
}

// Diagnostic returns the coded form of the error.
func (e *CyclicScalarReferenceError) Diagnostic() *rerrors.Error {
	return rerrors.New("R101").WithPath(fmt.Sprintf("entries[%d]", e.Index))
}

// UnknownTagError reports an entry tag with no registered codec, or a
// snapshot version this package cannot read (tag "v<version>").
type UnknownTagError struct {
	Tag   string
	Index int
}

func (e *UnknownTagError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("snapshot: unsupported format %q", e.Tag)
	}
	return fmt.Sprintf("snapshot: unknown tag %q at entry %d", e.Tag, e.Index)
}

// Diagnostic returns the coded form of the error.
func (e *UnknownTagError) Diagnostic() *rerrors.Error {
	d := rerrors.New("R102").WithDetail(fmt.Sprintf("Tag %q.", e.Tag))
	if e.Index >= 0 {
		d = d.WithPath(fmt.Sprintf("entries[%d]", e.Index))
	}
	return d
}

// MalformedEntryError reports a payload that does not match its tag.
type MalformedEntryError struct {
	Index  int
	Tag    string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("snapshot: malformed %q entry %d: %s", e.Tag, e.Index, e.Reason)
}

// Diagnostic returns the coded form of the error.
func (e *MalformedEntryError) Diagnostic() *rerrors.Error {
	return rerrors.New("R120").WithPath(fmt.Sprintf("entries[%d]", e.Index)).WithDetail(e.Reason)
}

// IndexOutOfRangeError reports a reference outside the entry table.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("snapshot: index %d out of range [0,%d)", e.Index, e.Len)
}

// Unwrap lets callers treat the error as an unbound graph index.
func (e *IndexOutOfRangeError) Unwrap() error { return reactive.ErrUnknownIndex }

// Diagnostic returns the coded form of the error.
func (e *IndexOutOfRangeError) Diagnostic() *rerrors.Error {
	return rerrors.New("R121").WithPath(fmt.Sprintf("entries[%d]", e.Index))
}
