// Package authflow drives the Authorization-Code-with-PKCE login flow for a
// single browser session: starting an attempt, handling the provider
// callback, and maintaining the persisted auth record.
package authflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/lenxapp/onboard/pkce"
	"github.com/lenxapp/onboard/session"
)

// Phase identifies where a callback is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseExchanging
	PhaseResolvingIdentity
	PhaseCommitted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseExchanging:
		return "exchanging"
	case PhaseResolvingIdentity:
		return "resolving_identity"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TokenExchanger redeems an authorization code for an access token. The
// implementation lives behind the trusted boundary that holds the client
// secret.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, verifier string) (accessToken string, err error)
}

// IdentityResolver maps an access token to the provider handle of the user
// it belongs to.
type IdentityResolver interface {
	ResolveHandle(ctx context.Context, accessToken string) (handle string, err error)
}

// Config carries the provider-facing settings for the public half of the
// flow. Nothing in here is secret.
type Config struct {
	ClientID     string
	AuthorizeURL string
	RedirectURI  string
	Scopes       []string

	// AllowInsecureRandom lets Start proceed with math/rand-derived values
	// when the secure source fails, instead of refusing the attempt.
	AllowInsecureRandom bool
}

// Result is the terminal outcome of a handled callback.
type Result struct {
	Phase  Phase
	Reason FailureReason
	Record session.Record
	// Err is the underlying cause for a failed callback.
	Err error
}

// Controller owns the login state of one browser session.
//
// It is safe for concurrent use; a callback arriving while another is being
// handled is rejected with ErrCallbackInFlight rather than queued.
type Controller struct {
	cfg       Config
	store     session.Store
	exchanger TokenExchanger
	resolver  IdentityResolver
	gen       *pkce.Generator
	log       logrus.FieldLogger

	mu       sync.Mutex
	record   session.Record
	loading  bool
	handling bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default logs to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithGenerator overrides the PKCE generator, mainly for tests.
func WithGenerator(g *pkce.Generator) Option {
	return func(c *Controller) { c.gen = g }
}

// NewController builds a controller and rehydrates the persisted record from
// the store, so Record reflects a prior login immediately.
func NewController(ctx context.Context, cfg Config, store session.Store, exchanger TokenExchanger, resolver IdentityResolver, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("authflow: nil store")
	}
	if exchanger == nil {
		return nil, errors.New("authflow: nil token exchanger")
	}
	if resolver == nil {
		return nil, errors.New("authflow: nil identity resolver")
	}
	c := &Controller{
		cfg:       cfg,
		store:     store,
		exchanger: exchanger,
		resolver:  resolver,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gen == nil {
		c.gen = &pkce.Generator{InsecureFallback: cfg.AllowInsecureRandom}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	rec, err := store.LoadRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("authflow: load record: %w", err)
	}
	c.record = rec
	return c, nil
}

// Start begins a fresh login attempt: it generates a verifier/state pair,
// persists it as the in-flight attempt (overwriting any stale one) and
// returns the provider authorization URL to redirect the user to.
func (c *Controller) Start(ctx context.Context) (string, error) {
	switch {
	case c.cfg.ClientID == "":
		return "", &ConfigError{Field: "client id"}
	case c.cfg.AuthorizeURL == "":
		return "", &ConfigError{Field: "authorize url"}
	case c.cfg.RedirectURI == "":
		return "", &ConfigError{Field: "redirect uri"}
	}

	verifier, err := c.gen.Verifier()
	if err != nil && !errors.Is(err, pkce.ErrInsecureRandom) {
		return "", fmt.Errorf("authflow: generate verifier: %w", err)
	}
	degraded := errors.Is(err, pkce.ErrInsecureRandom)

	state, err := c.gen.State()
	if err != nil && !errors.Is(err, pkce.ErrInsecureRandom) {
		return "", fmt.Errorf("authflow: generate state: %w", err)
	}
	degraded = degraded || errors.Is(err, pkce.ErrInsecureRandom)
	if degraded {
		c.log.Warn("secure random source unavailable, login attempt uses degraded randomness")
	}

	if err := c.store.SaveInFlight(ctx, session.Attempt{Verifier: verifier, State: state}); err != nil {
		return "", fmt.Errorf("authflow: save attempt: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Scopes:      c.cfg.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: c.cfg.AuthorizeURL},
	}
	url := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	c.log.WithField("state", state).Debug("login attempt started")
	return url, nil
}

// HandleCallback runs the callback state machine to a terminal phase.
//
// The in-flight attempt is consumed before any network call, so a given
// authorization code is submitted for exchange at most once. On failure the
// persisted record is left untouched; only a committed callback writes it.
func (c *Controller) HandleCallback(ctx context.Context, code, state string) (Result, error) {
	c.mu.Lock()
	if c.handling {
		c.mu.Unlock()
		return Result{Phase: PhaseIdle}, ErrCallbackInFlight
	}
	c.handling = true
	c.loading = true
	c.mu.Unlock()

	res := c.handleCallback(ctx, code, state)

	c.mu.Lock()
	if res.Phase == PhaseCommitted {
		c.record = res.Record
	} else {
		res.Record = c.record
	}
	c.loading = false
	c.handling = false
	c.mu.Unlock()
	return res, nil
}

func (c *Controller) handleCallback(ctx context.Context, code, state string) Result {
	// Validating. The attempt is popped before anything else so every
	// terminal path leaves it cleared.
	attempt, found, err := c.store.LoadInFlight(ctx)
	if err != nil {
		c.log.WithError(err).Error("loading in-flight attempt failed")
		return Result{Phase: PhaseFailed, Reason: ReasonInvalidCallback, Err: err}
	}
	if found {
		if err := c.store.ClearInFlight(ctx); err != nil {
			c.log.WithError(err).Error("clearing in-flight attempt failed")
			return Result{Phase: PhaseFailed, Reason: ReasonInvalidCallback, Err: err}
		}
	}

	if verr := validate(code, state, attempt, found); verr != nil {
		c.log.WithError(verr).Info("callback rejected")
		return Result{Phase: PhaseFailed, Reason: ReasonInvalidCallback, Err: verr}
	}

	// Exchanging.
	token, err := c.exchanger.Exchange(ctx, code, attempt.Verifier)
	if err != nil {
		c.log.WithError(err).Warn("token exchange failed")
		return Result{Phase: PhaseFailed, Reason: ReasonAuthFailed, Err: err}
	}

	// ResolvingIdentity.
	handle, err := c.resolver.ResolveHandle(ctx, token)
	if err != nil {
		c.log.WithError(err).Warn("identity resolution failed")
		return Result{Phase: PhaseFailed, Reason: ReasonAuthFailed, Err: err}
	}

	rec := session.Record{Authenticated: true, Handle: handle}
	if err := c.store.SaveRecord(ctx, rec); err != nil {
		c.log.WithError(err).Error("persisting auth record failed")
		return Result{Phase: PhaseFailed, Reason: ReasonAuthFailed, Err: err}
	}
	c.log.WithField("handle", handle).Info("login committed")
	return Result{Phase: PhaseCommitted, Record: rec}
}

func validate(code, state string, attempt session.Attempt, found bool) error {
	if code == "" || state == "" {
		return &ValidationError{Detail: "missing code or state parameter"}
	}
	if !found {
		return &ValidationError{Detail: "no login attempt in flight"}
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(attempt.State)) != 1 {
		return &ValidationError{Detail: "state mismatch"}
	}
	return nil
}

// Logout clears the persisted record and any in-flight attempt. It does not
// contact the provider; issued tokens are not revoked.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.store.ClearInFlight(ctx); err != nil {
		return fmt.Errorf("authflow: clear attempt: %w", err)
	}
	if err := c.store.SaveRecord(ctx, session.Record{}); err != nil {
		return fmt.Errorf("authflow: clear record: %w", err)
	}
	c.mu.Lock()
	c.record = session.Record{}
	c.mu.Unlock()
	return nil
}

// Record returns the current auth record as last observed by this
// controller.
func (c *Controller) Record() session.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// Loading reports whether a callback is currently being handled.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}
