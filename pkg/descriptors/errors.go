package descriptors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrMalformedDescriptor is fatal to driver start.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDescriptor, fmt.Sprintf(format, args...))
}
