package database

import (
	"errors"
	"fmt"
)

// InfrastructureError marks store-level failures (connection lost, lock
// primitive unsupported). It is fatal for the calling worker's iteration
// and stops the pool when it escapes a processing cycle.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure: %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// infraErr wraps err as an InfrastructureError.
func infraErr(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err is (or wraps) an InfrastructureError.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
