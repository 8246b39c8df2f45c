package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("session: invalid cookie format")
	ErrCookieInvalid = errors.New("session: invalid cookie")
	ErrCookieConfig  = errors.New("session: invalid cookie configuration")
)

// maxCookieLen bounds the amount of attacker-controlled data we will decode
// for a cookie value. Browsers cap individual cookie values around 4KB; we
// enforce our own limit.
const maxCookieLen = 8192

// KeySize is the required byte length of a cookie sealing key
// (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// Cookie seals values into a browser cookie with authenticated encryption.
//
// Wire format: [keyID] "." base64url(nonce || sealed), where
// sealed = AEAD.Seal(plaintext, aad) with aad binding the cookie name,
// domain, path and secure flag. Values are CBOR-encoded before sealing.
//
// Key rotation: keys holds every accepted key; keyID selects the one used
// for sealing.
type Cookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	keyID string
	keys  map[string][]byte
}

// CookieOption configures a Cookie.
type CookieOption func(*Cookie)

// WithPath sets the cookie path. Default "/".
func WithPath(path string) CookieOption {
	return func(c *Cookie) { c.path = path }
}

// WithDomain sets the cookie domain. Default empty (host-only).
func WithDomain(domain string) CookieOption {
	return func(c *Cookie) { c.domain = domain }
}

// WithSecure sets the Secure flag. Default true; disable only for local
// plain-HTTP development.
func WithSecure(secure bool) CookieOption {
	return func(c *Cookie) { c.secure = secure }
}

// WithSameSite sets the SameSite attribute. Default Lax, which still sends
// the cookie on the top-level navigation back from the authorization server.
func WithSameSite(s http.SameSite) CookieOption {
	return func(c *Cookie) { c.sameSite = s }
}

// NewCookie creates a sealed-cookie codec. Every key must be KeySize bytes
// and keyID must be present in keys.
func NewCookie(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*Cookie, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrCookieConfig)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID %q not found in keys", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if len(k) != KeySize {
			return nil, fmt.Errorf("%w: key %q has length %d, want %d", ErrCookieConfig, id, len(k), KeySize)
		}
	}
	c := &Cookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		keyID:    keyID,
		keys:     keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path == "" {
		c.path = "/"
	}
	return c, nil
}

// Name returns the cookie name.
func (c *Cookie) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// aad binds the cookie attributes to the sealed value so a value cannot be
// replayed under a different name/scope.
func (c *Cookie) aad() []byte {
	secureStr := "f"
	if c.secure {
		secureStr = "t"
	}
	return []byte(c.name + ":" + c.domain + ":" + c.path + ":" + secureStr)
}

// Encode marshals and seals v into an http.Cookie with the given max age in
// seconds.
func (c *Cookie) Encode(v any, maxAge int) (*http.Cookie, error) {
	if c == nil {
		return nil, ErrCookieConfig
	}
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(c.keys[c.keyID])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, c.aad())
	val := c.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed)

	return &http.Cookie{
		Name:     c.name,
		Value:    val,
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}, nil
}

// Decode opens the cookie value into v.
func (c *Cookie) Decode(ck *http.Cookie, v any) error {
	if c == nil {
		return ErrCookieConfig
	}
	if ck == nil || ck.Value == "" || len(ck.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(ck.Value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return ErrCookieFormat
	}
	key, ok := c.keys[keyID]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return ErrCookieFormat
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, c.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	return cbor.Unmarshal(plain, v)
}

// Clear returns a cookie that removes this cookie from the client.
func (c *Cookie) Clear() *http.Cookie {
	if c == nil {
		return nil
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
}
