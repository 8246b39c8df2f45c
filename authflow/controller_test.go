package authflow

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/lenxapp/onboard/pkce"
	"github.com/lenxapp/onboard/session"
)

type fakeExchanger struct {
	token string
	err   error

	mu      sync.Mutex
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, code, verifier string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	handle string
	err    error
}

func (f *fakeResolver) ResolveHandle(ctx context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.handle, nil
}

func testConfig() Config {
	return Config{
		ClientID:     "client-id",
		AuthorizeURL: "https://twitter.com/i/oauth2/authorize",
		RedirectURI:  "https://app.example/auth/x/callback",
		Scopes:       []string{"tweet.read", "users.read"},
	}
}

func newTestController(t *testing.T, store session.Store, ex TokenExchanger, res IdentityResolver) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), testConfig(), store, ex, res)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// startAttempt runs Start and returns the state the controller embedded in
// the authorization URL.
func startAttempt(t *testing.T, c *Controller) string {
	t.Helper()
	raw, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("state")
}

func TestStartBuildsAuthorizationURL(t *testing.T) {
	store := session.NewMemoryStore()
	c := newTestController(t, store, &fakeExchanger{token: "tok"}, &fakeResolver{handle: "jack"})

	raw, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != "https://twitter.com/i/oauth2/authorize" {
		t.Errorf("authorize URL base = %q", got)
	}
	q := u.Query()
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://app.example/auth/x/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("scope") != "tweet.read users.read" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}

	a, found, err := store.LoadInFlight(context.Background())
	if err != nil || !found {
		t.Fatalf("attempt not persisted: found=%v err=%v", found, err)
	}
	if q.Get("state") != a.State {
		t.Error("URL state differs from persisted state")
	}
	if q.Get("code_challenge") != pkce.Challenge(a.Verifier) {
		t.Error("code_challenge does not match persisted verifier")
	}
}

func TestStartOverwritesStaleAttempt(t *testing.T) {
	store := session.NewMemoryStore()
	c := newTestController(t, store, &fakeExchanger{token: "tok"}, &fakeResolver{handle: "jack"})

	s1 := startAttempt(t, c)
	s2 := startAttempt(t, c)
	if s1 == s2 {
		t.Fatal("two attempts produced the same state")
	}
	a, _, _ := store.LoadInFlight(context.Background())
	if a.State != s2 {
		t.Error("stale attempt survived a restart of the flow")
	}
}

func TestStartMissingConfig(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"client id", func(c *Config) { c.ClientID = "" }},
		{"authorize url", func(c *Config) { c.AuthorizeURL = "" }},
		{"redirect uri", func(c *Config) { c.RedirectURI = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			c, err := NewController(context.Background(), cfg, session.NewMemoryStore(), &fakeExchanger{}, &fakeResolver{})
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Start(context.Background())
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("got %v, want ConfigError", err)
			}
			if cerr.Field != tc.name {
				t.Errorf("field = %q, want %q", cerr.Field, tc.name)
			}
		})
	}
}

func TestHandleCallbackHappyPath(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	ex := &fakeExchanger{token: "access-token"}
	c := newTestController(t, store, ex, &fakeResolver{handle: "jack"})

	state := startAttempt(t, c)
	res, err := c.HandleCallback(ctx, "auth-code", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseCommitted {
		t.Fatalf("phase = %v, want committed (cause: %v)", res.Phase, res.Err)
	}
	if !res.Record.Authenticated || res.Record.Handle != "jack" {
		t.Errorf("record = %+v", res.Record)
	}

	rec, err := store.LoadRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Authenticated || rec.Handle != "jack" {
		t.Errorf("persisted record = %+v", rec)
	}
	if got := c.Record(); got != rec {
		t.Errorf("Record() = %+v, store has %+v", got, rec)
	}
	if _, found, _ := store.LoadInFlight(ctx); found {
		t.Error("attempt not cleared on commit")
	}
	if c.Loading() {
		t.Error("loading still set after terminal phase")
	}
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	ex := &fakeExchanger{token: "tok"}
	c := newTestController(t, store, ex, &fakeResolver{handle: "jack"})

	startAttempt(t, c)
	res, err := c.HandleCallback(ctx, "auth-code", "forged-state")
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed || res.Reason != ReasonInvalidCallback {
		t.Fatalf("got phase=%v reason=%q", res.Phase, res.Reason)
	}
	var verr *ValidationError
	if !errors.As(res.Err, &verr) {
		t.Errorf("cause = %v, want ValidationError", res.Err)
	}
	if ex.callCount() != 0 {
		t.Error("code was submitted for exchange despite state mismatch")
	}
	if _, found, _ := store.LoadInFlight(ctx); found {
		t.Error("attempt not cleared on rejection")
	}
	if rec, _ := store.LoadRecord(ctx); rec.Authenticated {
		t.Error("rejected callback wrote the record")
	}
}

func TestHandleCallbackMissingParameters(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name        string
		code, state string
	}{
		{"no code", "", "some-state"},
		{"no state", "auth-code", ""},
		{"neither", "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			ex := &fakeExchanger{token: "tok"}
			c := newTestController(t, store, ex, &fakeResolver{handle: "jack"})
			startAttempt(t, c)

			res, err := c.HandleCallback(ctx, tc.code, tc.state)
			if err != nil {
				t.Fatal(err)
			}
			if res.Phase != PhaseFailed || res.Reason != ReasonInvalidCallback {
				t.Errorf("got phase=%v reason=%q", res.Phase, res.Reason)
			}
			if ex.callCount() != 0 {
				t.Error("exchange attempted")
			}
			if _, found, _ := store.LoadInFlight(ctx); found {
				t.Error("attempt not cleared")
			}
		})
	}
}

func TestHandleCallbackNoAttemptInFlight(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExchanger{token: "tok"}
	c := newTestController(t, session.NewMemoryStore(), ex, &fakeResolver{handle: "jack"})

	res, err := c.HandleCallback(ctx, "auth-code", "some-state")
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed || res.Reason != ReasonInvalidCallback {
		t.Errorf("got phase=%v reason=%q", res.Phase, res.Reason)
	}
	if ex.callCount() != 0 {
		t.Error("exchange attempted without an in-flight attempt")
	}
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	cause := errors.New("upstream said no")
	c := newTestController(t, store, &fakeExchanger{err: cause}, &fakeResolver{handle: "jack"})

	state := startAttempt(t, c)
	res, err := c.HandleCallback(ctx, "auth-code", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed || res.Reason != ReasonAuthFailed {
		t.Fatalf("got phase=%v reason=%q", res.Phase, res.Reason)
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("cause = %v", res.Err)
	}
	if _, found, _ := store.LoadInFlight(ctx); found {
		t.Error("attempt not cleared on exchange failure")
	}
}

func TestHandleCallbackResolveFailure(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	c := newTestController(t, store, &fakeExchanger{token: "tok"}, &fakeResolver{err: errors.New("no handle")})

	state := startAttempt(t, c)
	res, err := c.HandleCallback(ctx, "auth-code", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed || res.Reason != ReasonAuthFailed {
		t.Fatalf("got phase=%v reason=%q", res.Phase, res.Reason)
	}
	if rec, _ := store.LoadRecord(ctx); rec.Authenticated {
		t.Error("failed resolution wrote the record")
	}
}

func TestFailureLeavesPriorRecordIntact(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	if err := store.SaveRecord(ctx, session.Record{Authenticated: true, Handle: "prior"}); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, &fakeExchanger{err: errors.New("boom")}, &fakeResolver{handle: "new"})

	state := startAttempt(t, c)
	res, err := c.HandleCallback(ctx, "auth-code", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed {
		t.Fatalf("phase = %v", res.Phase)
	}
	rec, _ := store.LoadRecord(ctx)
	if !rec.Authenticated || rec.Handle != "prior" {
		t.Errorf("prior record clobbered: %+v", rec)
	}
	if got := c.Record(); got != rec {
		t.Errorf("Record() = %+v", got)
	}
}

func TestHandleCallbackReentrancy(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	ex := &fakeExchanger{
		token:   "tok",
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := newTestController(t, store, ex, &fakeResolver{handle: "jack"})
	state := startAttempt(t, c)

	done := make(chan Result, 1)
	go func() {
		res, err := c.HandleCallback(ctx, "auth-code", state)
		if err != nil {
			t.Error(err)
		}
		done <- res
	}()
	<-ex.started

	if !c.Loading() {
		t.Error("Loading() false while a callback is in flight")
	}
	if _, err := c.HandleCallback(ctx, "auth-code", state); !errors.Is(err, ErrCallbackInFlight) {
		t.Errorf("duplicate callback: got %v, want ErrCallbackInFlight", err)
	}

	close(ex.block)
	res := <-done
	if res.Phase != PhaseCommitted {
		t.Fatalf("first callback phase = %v", res.Phase)
	}
	if ex.callCount() != 1 {
		t.Errorf("exchange called %d times, want 1", ex.callCount())
	}
	if c.Loading() {
		t.Error("Loading() stuck after completion")
	}
}

func TestReplayedCallbackRejected(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	ex := &fakeExchanger{token: "tok"}
	c := newTestController(t, store, ex, &fakeResolver{handle: "jack"})

	state := startAttempt(t, c)
	if res, _ := c.HandleCallback(ctx, "auth-code", state); res.Phase != PhaseCommitted {
		t.Fatalf("first callback phase = %v", res.Phase)
	}
	// Same redirect delivered again: the attempt is gone, so the code is
	// never resubmitted.
	res, err := c.HandleCallback(ctx, "auth-code", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.Phase != PhaseFailed || res.Reason != ReasonInvalidCallback {
		t.Errorf("replay: phase=%v reason=%q", res.Phase, res.Reason)
	}
	if ex.callCount() != 1 {
		t.Errorf("code exchanged %d times, want 1", ex.callCount())
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	c := newTestController(t, store, &fakeExchanger{token: "tok"}, &fakeResolver{handle: "jack"})

	state := startAttempt(t, c)
	if res, _ := c.HandleCallback(ctx, "auth-code", state); res.Phase != PhaseCommitted {
		t.Fatal("login did not commit")
	}
	startAttempt(t, c)

	if err := c.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := c.Record(); rec.Authenticated || rec.Handle != "" {
		t.Errorf("Record() after logout = %+v", rec)
	}
	if rec, _ := store.LoadRecord(ctx); rec.Authenticated {
		t.Errorf("store record after logout = %+v", rec)
	}
	if _, found, _ := store.LoadInFlight(ctx); found {
		t.Error("logout left an in-flight attempt")
	}
}

func TestNewControllerRehydratesRecord(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	if err := store.SaveRecord(ctx, session.Record{Authenticated: true, Handle: "jack"}); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, &fakeExchanger{}, &fakeResolver{})
	if rec := c.Record(); !rec.Authenticated || rec.Handle != "jack" {
		t.Errorf("rehydrated record = %+v", rec)
	}
}

type failingRandom struct{}

func (failingRandom) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestStartRefusesDegradedRandomness(t *testing.T) {
	c := newTestController(t, session.NewMemoryStore(), &fakeExchanger{}, &fakeResolver{})
	c.gen = &pkce.Generator{Source: failingRandom{}}
	if _, err := c.Start(context.Background()); err == nil {
		t.Error("Start succeeded without a secure random source")
	}
}

func TestStartAllowsDegradedRandomnessWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.AllowInsecureRandom = true
	store := session.NewMemoryStore()
	c, err := NewController(context.Background(), cfg, store, &fakeExchanger{}, &fakeResolver{},
		WithGenerator(&pkce.Generator{Source: failingRandom{}, InsecureFallback: true}))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start with fallback: %v", err)
	}
	if raw == "" {
		t.Error("empty authorization URL")
	}
	if _, found, _ := store.LoadInFlight(context.Background()); !found {
		t.Error("attempt not persisted")
	}
}
