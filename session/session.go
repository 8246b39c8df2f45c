// Package session stores the two pieces of shared mutable state in the
// login flow: the in-flight attempt (the single-use verifier/state pair of a
// not-yet-completed login) and the persisted auth record.
//
// The Store interface keeps the backend swappable: sealed browser cookies
// for the stateless deployment, Redis for server-side sessions, and an
// in-memory store for tests and embedding.
package session

import (
	"context"
	"time"
)

// Attempt is the transient record of a not-yet-completed login. It is
// single-use: the callback handler consumes and clears it.
type Attempt struct {
	Verifier  string    `cbor:"1,keyasint"`
	State     string    `cbor:"2,keyasint"`
	CreatedAt time.Time `cbor:"3,keyasint,omitempty"`
}

// Record is the durable authentication state.
// Authenticated implies a non-empty Handle.
type Record struct {
	Authenticated bool   `cbor:"1,keyasint"`
	Handle        string `cbor:"2,keyasint,omitempty"`
}

// Store holds at most one in-flight attempt per browser session (starting a
// new login overwrites a stale one; last writer wins) and one persisted
// record. Writes must be immediately durable to the store's scope.
type Store interface {
	// SaveInFlight replaces any existing in-flight attempt.
	SaveInFlight(ctx context.Context, a Attempt) error
	// LoadInFlight returns the current attempt, if any.
	LoadInFlight(ctx context.Context) (Attempt, bool, error)
	// ClearInFlight removes the attempt. Clearing an empty store is a no-op.
	ClearInFlight(ctx context.Context) error

	// LoadRecord returns the persisted record; a missing record reads as the
	// zero Record (logged out).
	LoadRecord(ctx context.Context) (Record, error)
	// SaveRecord replaces the persisted record.
	SaveRecord(ctx context.Context, rec Record) error
}

// DefaultAttemptTTL bounds how long an in-flight attempt stays valid. An
// authorization redirect that takes longer than this has gone stale.
const DefaultAttemptTTL = time.Hour

// DefaultRecordTTL bounds how long a persisted record survives without a
// fresh login.
const DefaultRecordTTL = 30 * 24 * time.Hour
