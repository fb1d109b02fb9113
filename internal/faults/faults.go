// Package faults defines the error taxonomy shared by the pipeline
// components. Components wrap these sentinels with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is regardless of which
// provider produced them.
package faults

import "errors"

var (
	// ErrUpstreamUnavailable marks a non-success transport response from
	// the screener, the annotator or the messaging sink.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedResponse marks a response body that does not contain the
	// expected structured payload.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrPersistence marks a storage read or write failure.
	ErrPersistence = errors.New("persistence error")

	// ErrConfiguration marks a missing required credential or handle,
	// detected before any outbound call is attempted.
	ErrConfiguration = errors.New("configuration error")
)
