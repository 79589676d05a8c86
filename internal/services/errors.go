package services

import "errors"

// Error kinds the checkout flow distinguishes. Everything else the
// backend can do wrong collapses into a generic wrapped error.
var (
	// ErrUnauthenticated means no usable credential, or the backend
	// rejected the one we sent. The user has to sign in again.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrMalformedResponse means a success-shaped reply was missing the
	// fields we need (no checkout URL and no recognizable status). Fatal
	// for the attempt; never retried automatically.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrConnectivity means the request never got a usable reply at the
	// transport level. Surfaced as transient; the user decides to retry.
	ErrConnectivity = errors.New("could not reach payment service")
)
