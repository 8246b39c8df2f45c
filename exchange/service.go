// Package exchange implements the trusted half of the login flow: redeeming
// authorization codes for access tokens with the client secret, and mapping
// access tokens to provider identities. It also provides the HTTP surface
// that exposes these two operations inside the trusted boundary, and a
// client for callers on the public side.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// maxUpstreamBody bounds how much of a provider response we read.
const maxUpstreamBody = 1 << 20

// Config carries the provider settings for the trusted side. ClientSecret
// never leaves this package.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserInfoURL  string
}

// Service performs the provider calls.
type Service struct {
	cfg     Config
	http    *http.Client
	log     logrus.FieldLogger
	metrics *Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) { s.http = c }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithMetrics attaches call counters.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds a service. Missing credentials are not an error here;
// they surface as ErrServerMisconfigured when an exchange is attempted.
func NewService(cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Exchange redeems an authorization code for an access token, authenticating
// with the client credentials over HTTP basic auth. Only the access token is
// returned; refresh tokens are never forwarded out of the trusted boundary.
func (s *Service) Exchange(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	if code == "" || verifier == "" || redirectURI == "" {
		return "", ErrMissingParameters
	}
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return "", ErrServerMisconfigured
	}

	conf := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	tok, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		uerr := upstreamError("token", err)
		s.log.WithError(uerr).Warn("token exchange failed")
		s.metrics.observeExchange("error")
		return "", uerr
	}
	if tok.AccessToken == "" {
		s.metrics.observeExchange("error")
		return "", ErrNoAccessToken
	}
	s.metrics.observeExchange("ok")
	return tok.AccessToken, nil
}

// UserInfo fetches the provider's current-user payload for a bearer token
// and returns it verbatim.
func (s *Service) UserInfo(ctx context.Context, accessToken string) ([]byte, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.http.Do(req)
	if err != nil {
		uerr := &UpstreamError{Op: "userinfo", Err: err}
		s.log.WithError(uerr).Warn("user info fetch failed")
		s.metrics.observeIdentityFetch("error")
		return nil, uerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		s.metrics.observeIdentityFetch("error")
		return nil, &UpstreamError{Op: "userinfo", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		uerr := &UpstreamError{Op: "userinfo", Status: resp.StatusCode, Body: body}
		s.log.WithField("status", resp.StatusCode).Warn("user info fetch rejected")
		s.metrics.observeIdentityFetch("error")
		return nil, uerr
	}
	s.metrics.observeIdentityFetch("ok")
	return body, nil
}

// ResolveHandle maps an access token to the provider username.
func (s *Service) ResolveHandle(ctx context.Context, accessToken string) (string, error) {
	body, err := s.UserInfo(ctx, accessToken)
	if err != nil {
		return "", err
	}
	handle := gjson.GetBytes(body, "data.username")
	if !handle.Exists() || handle.String() == "" {
		return "", ErrHandleNotFound
	}
	return handle.String(), nil
}

func upstreamError(op string, err error) *UpstreamError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &UpstreamError{Op: op, Status: re.Response.StatusCode, Body: re.Body, Err: err}
	}
	return &UpstreamError{Op: op, Err: err}
}
