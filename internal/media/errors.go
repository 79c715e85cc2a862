package media

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure kind. Every error returned by the
// pipeline matches exactly one of these via errors.Is.
var (
	ErrConfig   = errors.New("config error")
	ErrOpen     = errors.New("open error")
	ErrIO       = errors.New("i/o error")
	ErrParse    = errors.New("parse error")
	ErrDecode   = errors.New("decode error")
	ErrEncode   = errors.New("encode error")
	ErrProtocol = errors.New("protocol error")
)

// Error records which pipeline stage failed, the failure kind (one of the
// sentinels above) and the underlying cause.
type Error struct {
	Stage string
	Kind  error
	Err   error
}

// NewError builds an *Error. If err already is an *Error it is returned
// unchanged so the innermost stage is reported.
func NewError(stage string, kind, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(stage string, kind error, format string, args ...any) error {
	return &Error{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}
