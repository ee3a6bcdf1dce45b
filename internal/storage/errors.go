package storage

import (
	"errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("store closed")
)

// Fault is the error returned by every failing store call. It names the
// operation and wraps the cause, which may be a sentinel above or an
// engine error.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return "storage " + f.Op + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Wrap turns err into a *Fault for op. Errors that already carry a Fault
// are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// OpOf returns the operation recorded in err, or "" when err is not a Fault.
func OpOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Op
	}
	return ""
}
