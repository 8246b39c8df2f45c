// Package web serves the public side of the login flow: the login page and
// the /auth/x/* endpoints that drive the flow controller.
package web

import (
	"errors"
	htmltmpl "html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lenxapp/onboard/authflow"
	"github.com/lenxapp/onboard/endpoint"
	"github.com/lenxapp/onboard/middleware"
	"github.com/lenxapp/onboard/session"
)

// sidCookieName carries the opaque session ID for the Redis-backed store.
const sidCookieName = "onboard_sid"

// StoreFactory builds the request-scoped session store. The factory decides
// where state lives (sealed cookies, Redis) and how it is keyed.
type StoreFactory func(w http.ResponseWriter, r *http.Request) (session.Store, error)

// CookieStores keeps all session state in the two sealed cookies.
func CookieStores(attempt, record *session.Cookie) StoreFactory {
	return func(w http.ResponseWriter, r *http.Request) (session.Store, error) {
		return session.NewCookieStore(w, r, attempt, record, session.DefaultAttemptTTL, session.DefaultRecordTTL)
	}
}

// RedisStores keeps session state in Redis, keyed by a generated session ID
// carried in a browser cookie. A presented ID must be a UUID; anything else
// is discarded and replaced, so clients cannot pick their own Redis keys.
func RedisStores(client redis.UniversalClient, secure bool) StoreFactory {
	return func(w http.ResponseWriter, r *http.Request) (session.Store, error) {
		sid := ""
		if ck, err := r.Cookie(sidCookieName); err == nil {
			if id, perr := uuid.Parse(ck.Value); perr == nil {
				sid = id.String()
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sidCookieName,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(session.DefaultRecordTTL / time.Second),
				Secure:   secure,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		return session.NewRedisStore(client, sid, session.DefaultAttemptTTL, session.DefaultRecordTTL)
	}
}

// Config carries the provider-facing settings for the public surface.
type Config struct {
	ClientID            string
	AuthorizeURL        string
	RedirectURI         string
	Scopes              []string
	AllowInsecureRandom bool
}

// Handler serves the login page and the auth endpoints.
type Handler struct {
	cfg       Config
	stores    StoreFactory
	exchanger authflow.TokenExchanger
	resolver  authflow.IdentityResolver
	log       logrus.FieldLogger
	page      *htmltmpl.Template
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger. Default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// New builds the public handler. The exchanger and resolver are usually an
// exchange.Client pointed at the trusted service.
func New(cfg Config, stores StoreFactory, exchanger authflow.TokenExchanger, resolver authflow.IdentityResolver, opts ...HandlerOption) (*Handler, error) {
	if stores == nil {
		return nil, errors.New("web: nil store factory")
	}
	if exchanger == nil || resolver == nil {
		return nil, errors.New("web: nil exchanger or resolver")
	}
	h := &Handler{
		cfg:       cfg,
		stores:    stores,
		exchanger: exchanger,
		resolver:  resolver,
		page:      htmltmpl.Must(htmltmpl.New("login").Parse(loginPage)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return h, nil
}

// Routes returns the HTTP surface with the shared processors applied.
func (h *Handler) Routes() http.Handler {
	procs := []endpoint.Processor{
		middleware.NewRequestIDProcessor(h.log),
		middleware.NewSecurityHeadersProcessor(),
	}
	mux := http.NewServeMux()
	mux.Handle("GET /login", endpoint.Handler(h.loginPage, procs...))
	mux.Handle("GET /auth/x/login", endpoint.Handler(h.startLogin, procs...))
	mux.Handle("GET /auth/x/callback", endpoint.Handler(h.callback, procs...))
	mux.Handle("GET /auth/x/logout", endpoint.Handler(h.logout, procs...))
	mux.Handle("GET /auth/x/status", endpoint.Handler(h.status, procs...))
	mux.Handle("GET /{$}", endpoint.Handler(h.root, procs...))
	return mux
}

// controller builds the request-scoped flow controller.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*authflow.Controller, error) {
	store, err := h.stores(w, r)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "session unavailable", err)
	}
	c, err := authflow.NewController(r.Context(), authflow.Config{
		ClientID:            h.cfg.ClientID,
		AuthorizeURL:        h.cfg.AuthorizeURL,
		RedirectURI:         h.cfg.RedirectURI,
		Scopes:              h.cfg.Scopes,
		AllowInsecureRandom: h.cfg.AllowInsecureRandom,
	}, store, h.exchanger, h.resolver, authflow.WithLogger(middleware.Logger(r.Context())))
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "session unavailable", err)
	}
	return c, nil
}

type loginPageParams struct {
	Error string `query:"error" maxLength:"64"`
}

type loginPageData struct {
	Authenticated bool
	Handle        string
	Error         string
	Message       string
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request, params loginPageParams) (endpoint.Renderer, error) {
	c, err := h.controller(w, r)
	if err != nil {
		return nil, err
	}
	rec := c.Record()
	data := loginPageData{
		Authenticated: rec.Authenticated,
		Handle:        rec.Handle,
		Error:         params.Error,
		Message:       errorMessage(params.Error),
	}
	return &endpoint.HTMLTemplateRenderer{Template: h.page, Values: data}, nil
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.RedirectRenderer{URL: "/login", Status: http.StatusFound}, nil
}

func (h *Handler) startLogin(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	c, err := h.controller(w, r)
	if err != nil {
		return nil, err
	}
	authURL, err := c.Start(r.Context())
	if err != nil {
		var cerr *authflow.ConfigError
		if errors.As(err, &cerr) {
			return nil, endpoint.Error(http.StatusInternalServerError, "login is not configured", err)
		}
		return nil, endpoint.Error(http.StatusInternalServerError, "could not start login", err)
	}
	return &endpoint.RedirectRenderer{URL: authURL, Status: http.StatusFound}, nil
}

type callbackParams struct {
	Code  string `query:"code" maxLength:"2048"`
	State string `query:"state" maxLength:"256"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params callbackParams) (endpoint.Renderer, error) {
	c, err := h.controller(w, r)
	if err != nil {
		return nil, err
	}
	res, err := c.HandleCallback(r.Context(), params.Code, params.State)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "could not complete login", err)
	}
	target := "/login"
	if res.Phase == authflow.PhaseFailed {
		target = "/login?error=" + string(res.Reason)
	}
	return &endpoint.RedirectRenderer{URL: target, Status: http.StatusFound}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	c, err := h.controller(w, r)
	if err != nil {
		return nil, err
	}
	if err := c.Logout(r.Context()); err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "could not log out", err)
	}
	return &endpoint.RedirectRenderer{URL: "/login", Status: http.StatusFound}, nil
}

type statusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Handle        string `json:"handle,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	c, err := h.controller(w, r)
	if err != nil {
		return nil, err
	}
	rec := c.Record()
	return &endpoint.JSONRenderer{Value: statusResponse{
		Authenticated: rec.Authenticated,
		Handle:        rec.Handle,
	}}, nil
}

func errorMessage(code string) string {
	switch code {
	case string(authflow.ReasonInvalidCallback):
		return "The sign-in response could not be validated. Please try again."
	case string(authflow.ReasonAuthFailed):
		return "Sign-in with X failed. Please try again."
	case "":
		return ""
	default:
		return "Something went wrong. Please try again."
	}
}

const loginPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; }
.error { color: #b00020; border: 1px solid #b00020; border-radius: 4px; padding: .75rem; }
a.button { display: inline-block; padding: .6rem 1.2rem; border-radius: 4px; background: #000; color: #fff; text-decoration: none; }
</style>
</head>
<body>
<h1>Sign in</h1>
{{if .Message}}<p class="error">{{.Message}}</p>{{end}}
{{if .Authenticated}}
<p>Signed in as <strong>@{{.Handle}}</strong>.</p>
<p><a class="button" href="/auth/x/logout">Sign out</a></p>
{{else}}
<p><a class="button" href="/auth/x/login">Continue with X</a></p>
{{end}}
</body>
</html>
`
