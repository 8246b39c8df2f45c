package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Client calls the trusted-boundary HTTP surface from the public side. It
// implements the token-exchange and identity-resolution ports of the login
// controller.
type Client struct {
	baseURL     string
	redirectURI string
	http        *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientHTTP sets the HTTP client used for calls to the exchange
// service.
func WithClientHTTP(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient builds a client for the exchange service at baseURL. The
// redirect URI is the one the authorization code was issued for; the
// provider requires it to match on exchange.
func NewClient(baseURL, redirectURI string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		redirectURI: redirectURI,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange redeems the code via POST /auth/x/token.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (string, error) {
	payload, err := json.Marshal(tokenRequest{
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  c.redirectURI,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/x/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("exchange: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return "", &UpstreamError{Op: "token", Err: err}
	}
	if status != http.StatusOK {
		return "", &UpstreamError{Op: "token", Status: status, Body: body}
	}
	token := gjson.GetBytes(body, "access_token")
	if !token.Exists() || token.String() == "" {
		return "", ErrNoAccessToken
	}
	return token.String(), nil
}

// ResolveHandle maps the token to a username via GET /auth/x/user.
func (c *Client) ResolveHandle(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/x/user", nil)
	if err != nil {
		return "", fmt.Errorf("exchange: build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, status, err := c.do(req)
	if err != nil {
		return "", &UpstreamError{Op: "userinfo", Err: err}
	}
	if status != http.StatusOK {
		return "", &UpstreamError{Op: "userinfo", Status: status, Body: body}
	}
	handle := gjson.GetBytes(body, "data.username")
	if !handle.Exists() || handle.String() == "" {
		return "", ErrHandleNotFound
	}
	return handle.String(), nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
