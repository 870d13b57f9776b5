package irq

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsatisfied reports a request the controller cannot perform for
	// the vector, such as raising a source without a software trigger.
	ErrUnsatisfied = errors.New("irq: request unsatisfied")

	// ErrInvalidVector reports a vector outside the wired hardware sources.
	// It matches ErrUnsatisfied with errors.Is.
	ErrInvalidVector = fmt.Errorf("%w: invalid vector", ErrUnsatisfied)

	ErrInvalidProcessor = errors.New("irq: invalid processor")
)
