package domain

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is; the wrapping *Error carries the
// offending file and column.
var (
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrEmptyResult        = errors.New("empty result")
	ErrNoData             = errors.New("no data")
	ErrInvalidInterval    = errors.New("invalid interval")
	ErrEmptyJoin          = errors.New("empty join")
	ErrMissingDependency  = errors.New("missing dependency")
)

// Error is a stage failure of a specific kind.
type Error struct {
	Kind   error
	Op     string
	File   string
	Column string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.File != "" {
		b.WriteString(" file=")
		b.WriteString(e.File)
	}
	if e.Column != "" {
		b.WriteString(" column=")
		b.WriteString(e.Column)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, column string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Column: column, Err: cause}
}

// WithFile attaches a file path to a stage error. Errors that are not *Error
// are returned unchanged.
func WithFile(err error, file string) error {
	var de *Error
	if errors.As(err, &de) && de.File == "" {
		clone := *de
		clone.File = file
		return &clone
	}
	return err
}
