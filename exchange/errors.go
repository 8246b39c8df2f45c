package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameters means the exchange request lacked the code,
	// verifier or redirect URI.
	ErrMissingParameters = errors.New("exchange: missing required parameters")

	// ErrServerMisconfigured means the client credentials are not set on the
	// service side.
	ErrServerMisconfigured = errors.New("exchange: client credentials not configured")

	// ErrUnauthorized means the identity request carried no usable bearer
	// token.
	ErrUnauthorized = errors.New("exchange: missing or invalid authorization")

	// ErrNoAccessToken means the provider answered the token request without
	// an access token.
	ErrNoAccessToken = errors.New("exchange: provider response contains no access token")

	// ErrHandleNotFound means the provider user payload lacked a username.
	ErrHandleNotFound = errors.New("exchange: no username in provider response")
)

// UpstreamError reports a failed call to the provider. Status is the
// provider's HTTP status, or zero when the call itself failed before a
// response. Body is truncated provider output kept for diagnostics; it never
// contains our credentials.
type UpstreamError struct {
	Op     string
	Status int
	Body   []byte
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exchange: %s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("exchange: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
