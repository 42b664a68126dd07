// Package service implements the observer workflows on top of the record
// store, the capture device and the inference client.
package service

import (
	"errors"
	"fmt"
)

// ErrValidation marks a request the caller has to fix.
var ErrValidation = errors.New("validation error")

// ErrNoCaptures is returned by Send when there is nothing to send.
var ErrNoCaptures = fmt.Errorf("%w: no captures", ErrValidation)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
