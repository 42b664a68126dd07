package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUpstream wraps every failure of the inference provider.
	ErrUpstream = errors.New("upstream inference failed")

	// ErrFatalAPI marks upstream errors that will not go away on their own
	// (credentials, billing, quota, rate limiting).
	ErrFatalAPI = errors.New("fatal API error")
)

// fatalMarkers are matched case-insensitively against provider error text.
var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and returns
// everything else unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}

func upstreamError(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstream, wrapFatalError(err))
}
