// Package config loads the settings of the two binaries from the
// environment, with a .env file picked up for local development.
//
// Provider credentials are deliberately not validated at load time: the app
// comes up without them and the affected operations fail with configuration
// errors, which keeps local development of the unauthenticated pages
// working.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lenxapp/onboard/session"
)

// Provider defaults for X.
const (
	DefaultAuthorizeURL = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL     = "https://api.twitter.com/2/oauth2/token"
	DefaultUserInfoURL  = "https://api.twitter.com/2/users/me"
	DefaultScopes       = "tweet.read users.read offline.access"
)

// Session store kinds accepted in SESSION_STORE.
const (
	StoreCookie = "cookie"
	StoreRedis  = "redis"
)

// App is the configuration of the public-facing binary.
type App struct {
	ListenAddr string
	PublicURL  string

	ClientID     string
	AuthorizeURL string
	Scopes       []string

	ExchangeURL string

	SessionStore string
	RedisURL     string

	CookieKeyID string
	CookieKeys  map[string][]byte
	// EphemeralCookieKey is set when no COOKIE_KEYS were provided and a
	// random key was generated. Sessions then do not survive a restart.
	EphemeralCookieKey bool

	InsecureCookies     bool
	AllowInsecureRandom bool
}

// RedirectURI is the callback URL registered with the provider, derived
// from the deployed origin.
func (a *App) RedirectURI() string {
	return strings.TrimSuffix(a.PublicURL, "/") + "/auth/x/callback"
}

// Exchange is the configuration of the trusted exchange binary.
type Exchange struct {
	ListenAddr  string
	MetricsAddr string

	ClientID     string
	ClientSecret string
	TokenURL     string
	UserInfoURL  string
}

// LoadApp reads the public binary's configuration from the environment.
func LoadApp() (*App, error) {
	_ = godotenv.Load()

	a := &App{
		ListenAddr:          getenv("ONBOARD_LISTEN_ADDR", ":8080"),
		PublicURL:           getenv("ONBOARD_PUBLIC_URL", "http://localhost:8080"),
		ClientID:            os.Getenv("X_CLIENT_ID"),
		AuthorizeURL:        getenv("X_AUTHORIZE_URL", DefaultAuthorizeURL),
		Scopes:              strings.Fields(getenv("X_SCOPES", DefaultScopes)),
		ExchangeURL:         getenv("EXCHANGE_URL", "http://127.0.0.1:8081"),
		SessionStore:        getenv("SESSION_STORE", StoreCookie),
		RedisURL:            getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		InsecureCookies:     getbool("ONBOARD_INSECURE_COOKIES"),
		AllowInsecureRandom: getbool("ONBOARD_ALLOW_INSECURE_RANDOM"),
	}

	switch a.SessionStore {
	case StoreCookie, StoreRedis:
	default:
		return nil, fmt.Errorf("config: SESSION_STORE must be %q or %q, got %q", StoreCookie, StoreRedis, a.SessionStore)
	}

	// The Redis store needs no sealing keys; only the cookie store gets
	// them, and only the cookie store falls back to an ephemeral key.
	if a.SessionStore == StoreCookie {
		keyID, keys, err := parseCookieKeys(os.Getenv("COOKIE_KEYS"))
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			keyID, keys, err = ephemeralKey()
			if err != nil {
				return nil, err
			}
			a.EphemeralCookieKey = true
		}
		if override := os.Getenv("COOKIE_KEY_ID"); override != "" {
			if _, ok := keys[override]; !ok {
				return nil, fmt.Errorf("config: COOKIE_KEY_ID %q not present in COOKIE_KEYS", override)
			}
			keyID = override
		}
		a.CookieKeyID = keyID
		a.CookieKeys = keys
	}
	return a, nil
}

// LoadExchange reads the trusted binary's configuration from the
// environment.
func LoadExchange() (*Exchange, error) {
	_ = godotenv.Load()

	return &Exchange{
		ListenAddr:   getenv("EXCHANGE_LISTEN_ADDR", ":8081"),
		MetricsAddr:  os.Getenv("EXCHANGE_METRICS_ADDR"),
		ClientID:     os.Getenv("X_CLIENT_ID"),
		ClientSecret: os.Getenv("X_CLIENT_SECRET"),
		TokenURL:     getenv("X_TOKEN_URL", DefaultTokenURL),
		UserInfoURL:  getenv("X_USERINFO_URL", DefaultUserInfoURL),
	}, nil
}

// parseCookieKeys parses "id:hexkey[,id:hexkey...]". The first entry is the
// sealing key. Every key must decode to session.KeySize bytes.
func parseCookieKeys(raw string) (string, map[string][]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, nil
	}
	keys := make(map[string][]byte)
	first := ""
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, hexKey, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return "", nil, fmt.Errorf("config: COOKIE_KEYS entry %q must be id:hexkey", entry)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return "", nil, fmt.Errorf("config: COOKIE_KEYS entry %q: %w", id, err)
		}
		if len(key) != session.KeySize {
			return "", nil, fmt.Errorf("config: COOKIE_KEYS entry %q: key must be %d bytes, got %d", id, session.KeySize, len(key))
		}
		if _, dup := keys[id]; dup {
			return "", nil, fmt.Errorf("config: COOKIE_KEYS entry %q duplicated", id)
		}
		keys[id] = key
		if first == "" {
			first = id
		}
	}
	return first, keys, nil
}

func ephemeralKey() (string, map[string][]byte, error) {
	key := make([]byte, session.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", nil, fmt.Errorf("config: generate ephemeral cookie key: %w", err)
	}
	return "ephemeral", map[string][]byte{"ephemeral": key}, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getbool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
