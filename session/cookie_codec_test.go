package session

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func testKeys() map[string][]byte {
	return map[string][]byte{
		"k1": []byte("0123456789abcdef0123456789abcdef"),
		"k2": []byte("fedcba9876543210fedcba9876543210"),
	}
}

func TestNewCookieValidation(t *testing.T) {
	keys := testKeys()
	if _, err := NewCookie("", "k1", keys); !errors.Is(err, ErrCookieConfig) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := NewCookie("a", "missing", keys); !errors.Is(err, ErrCookieConfig) {
		t.Errorf("unknown keyID: got %v", err)
	}
	if _, err := NewCookie("a", "k1", map[string][]byte{"k1": []byte("short")}); !errors.Is(err, ErrCookieConfig) {
		t.Errorf("short key: got %v", err)
	}
	if _, err := NewCookie("a", "k1", nil); !errors.Is(err, ErrCookieConfig) {
		t.Errorf("no keys: got %v", err)
	}
}

func TestCookieRoundTrip(t *testing.T) {
	c, err := NewCookie("sess", "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}

	in := Attempt{Verifier: "verifier-value", State: "state-value"}
	ck, err := c.Encode(in, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if ck.Name != "sess" || !ck.HttpOnly || !ck.Secure || ck.MaxAge != 3600 {
		t.Errorf("cookie attributes: %+v", ck)
	}
	if !strings.HasPrefix(ck.Value, "k1.") {
		t.Errorf("value %q lacks keyID prefix", ck.Value)
	}
	if strings.Contains(ck.Value, "verifier-value") {
		t.Error("plaintext leaked into cookie value")
	}

	var out Attempt
	if err := c.Decode(ck, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestCookieKeyRotation(t *testing.T) {
	keys := testKeys()
	old, err := NewCookie("sess", "k1", keys)
	if err != nil {
		t.Fatal(err)
	}
	ck, err := old.Encode(Record{Authenticated: true, Handle: "jack"}, 60)
	if err != nil {
		t.Fatal(err)
	}

	// New deployment seals with k2 but still accepts k1.
	rotated, err := NewCookie("sess", "k2", keys)
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := rotated.Decode(ck, &rec); err != nil {
		t.Fatalf("decode under rotated keyID: %v", err)
	}
	if rec.Handle != "jack" {
		t.Errorf("got %+v", rec)
	}

	// A codec that has dropped k1 rejects the old cookie.
	dropped, err := NewCookie("sess", "k2", map[string][]byte{"k2": keys["k2"]})
	if err != nil {
		t.Fatal(err)
	}
	if err := dropped.Decode(ck, &rec); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("dropped key: got %v", err)
	}
}

func TestCookieDecodeRejectsTampering(t *testing.T) {
	c, err := NewCookie("sess", "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	ck, err := c.Encode(Attempt{Verifier: "v", State: "s"}, 60)
	if err != nil {
		t.Fatal(err)
	}

	var out Attempt
	cases := map[string]string{
		"empty":        "",
		"no dot":       "k1",
		"bad base64":   "k1.!!!",
		"truncated":    ck.Value[:len(ck.Value)/2],
		"bit flipped":  ck.Value[:len(ck.Value)-2] + "AA",
		"oversized":    "k1." + strings.Repeat("A", maxCookieLen),
	}
	for name, val := range cases {
		if err := c.Decode(&http.Cookie{Name: "sess", Value: val}, &out); err == nil {
			t.Errorf("%s: decode accepted malformed value", name)
		}
	}
	if err := c.Decode(nil, &out); err == nil {
		t.Error("nil cookie accepted")
	}
}

func TestCookieAADBindsScope(t *testing.T) {
	keys := testKeys()
	a, err := NewCookie("sess", "k1", keys, WithPath("/auth"))
	if err != nil {
		t.Fatal(err)
	}
	ck, err := a.Encode(Record{Authenticated: true}, 60)
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewCookie("sess", "k1", keys, WithPath("/other"))
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := b.Decode(ck, &rec); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("cross-path decode: got %v, want ErrCookieInvalid", err)
	}
}

func TestCookieClear(t *testing.T) {
	c, err := NewCookie("sess", "k1", testKeys(), WithPath("/p"), WithSecure(false))
	if err != nil {
		t.Fatal(err)
	}
	ck := c.Clear()
	if ck.Name != "sess" || ck.Value != "" || ck.MaxAge != -1 || ck.Path != "/p" {
		t.Errorf("clear cookie: %+v", ck)
	}
	if ck.Secure {
		t.Error("clear cookie ignored WithSecure(false)")
	}
}
