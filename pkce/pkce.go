// Package pkce produces the artifacts of an OAuth 2.0
// Authorization-Code-with-PKCE login attempt: the code verifier, its S256
// code challenge, and the CSRF state parameter.
//
// Generation is pure apart from the random source; nothing in this package
// performs I/O or stores state.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	insecurerand "math/rand/v2"
)

// verifierAlphabet is the RFC 7636 "unreserved" character set allowed in a
// code verifier.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// stateAlphabet is the character set used for state tokens.
const stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	// MinVerifierLen and MaxVerifierLen are the RFC 7636 bounds on the code
	// verifier length.
	MinVerifierLen = 43
	MaxVerifierLen = 128

	// StateLen is the length of generated state tokens.
	StateLen = 32
)

// ErrInsecureRandom is returned, together with a usable value, when the
// secure random source failed and the generator fell back to math/rand.
// Callers must treat this as a degraded-security condition; rejecting the
// login attempt is the safe choice.
var ErrInsecureRandom = errors.New("pkce: secure random source unavailable, used insecure fallback")

// Generator produces verifiers and state tokens.
//
// The zero value reads from crypto/rand and returns an error if that source
// fails. Set InsecureFallback to instead degrade to math/rand; degraded
// values are reported via ErrInsecureRandom.
type Generator struct {
	// Source overrides the random source. Nil means crypto/rand.Reader.
	Source io.Reader

	// InsecureFallback enables a best-effort math/rand fallback when the
	// source fails.
	InsecureFallback bool
}

// Verifier returns a fresh code verifier of random length in
// [MinVerifierLen, MaxVerifierLen], drawn from the unreserved alphabet.
func (g *Generator) Verifier() (string, error) {
	// One extra byte picks the length.
	buf := make([]byte, 1+MaxVerifierLen)
	secure, err := g.read(buf)
	if err != nil {
		return "", err
	}
	n := MinVerifierLen + int(buf[0])%(MaxVerifierLen-MinVerifierLen+1)
	v := mapToAlphabet(buf[1:1+n], verifierAlphabet)
	if !secure {
		return v, ErrInsecureRandom
	}
	return v, nil
}

// State returns a fresh CSRF state token of StateLen characters.
func (g *Generator) State() (string, error) {
	buf := make([]byte, StateLen)
	secure, err := g.read(buf)
	if err != nil {
		return "", err
	}
	s := mapToAlphabet(buf, stateAlphabet)
	if !secure {
		return s, ErrInsecureRandom
	}
	return s, nil
}

// Challenge derives the S256 code challenge for a verifier: the base64url
// encoding, without padding, of the SHA-256 digest of the verifier's UTF-8
// bytes. Deterministic and pure.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// read fills b from the configured source. It reports whether the bytes came
// from a cryptographically secure source.
func (g *Generator) read(b []byte) (secure bool, err error) {
	src := g.Source
	if src == nil {
		src = rand.Reader
	}
	if _, err := io.ReadFull(src, b); err == nil {
		return true, nil
	} else if !g.InsecureFallback {
		return false, err
	}
	for i := range b {
		b[i] = byte(insecurerand.UintN(256))
	}
	return false, nil
}

func mapToAlphabet(b []byte, alphabet string) string {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = alphabet[int(c)%len(alphabet)]
	}
	return string(out)
}
