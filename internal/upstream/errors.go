// Package upstream defines the failure taxonomy shared by the external
// provider clients. Both the generation and metadata clients map transport
// and HTTP-level failures onto these sentinels so callers can branch with
// errors.Is instead of inspecting status codes.
package upstream

import "errors"

var (
	// ErrUnavailable covers network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrRejected covers auth, quota and validation refusals.
	ErrRejected = errors.New("upstream rejected request")

	// ErrMalformed covers response envelopes that could not be decoded.
	ErrMalformed = errors.New("upstream response malformed")
)
