package sequencer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sarchlab/cadence/sim/timing"
)

// ErrInvalidArgument is the cause of every error returned for a bad
// combination of parameters.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// CallbackError is what observers receive when a callback fails.
type CallbackError struct {
	Position timing.VTimeInBar
	Label    string
	Err      error
}

func (e *CallbackError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("callback at %s: %v", e.Position, e.Err)
	}

	return fmt.Sprintf("callback %q at %s: %v", e.Label, e.Position, e.Err)
}

// Unwrap returns the error the callback returned.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered callback panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	return fn()
}
