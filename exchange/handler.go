package exchange

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lenxapp/onboard/endpoint"
)

type errorBody struct {
	Error string `json:"error"`
}

type tokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

type tokenParams struct {
	Req tokenRequest `body:",json"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type userParams struct {
	Authorization string `header:"Authorization"`
}

// Handler exposes the trusted-boundary HTTP surface:
//
//	POST /auth/x/token  {code, code_verifier, redirect_uri} -> {access_token}
//	GET  /auth/x/user   Authorization: Bearer <token>       -> provider payload
//
// Error responses are JSON objects of the form {"error": "..."}.
func Handler(svc *Service, processors ...endpoint.Processor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /auth/x/token", endpoint.Handler(svc.token, processors...))
	mux.Handle("GET /auth/x/user", endpoint.Handler(svc.user, processors...))
	return mux
}

func jsonError(status int, msg string) endpoint.Renderer {
	return &endpoint.JSONRenderer{Status: status, Value: errorBody{Error: msg}}
}

func (s *Service) token(w http.ResponseWriter, r *http.Request, params tokenParams) (endpoint.Renderer, error) {
	req := params.Req
	token, err := s.Exchange(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
	switch {
	case err == nil:
		return &endpoint.JSONRenderer{Status: http.StatusOK, Value: tokenResponse{AccessToken: token}}, nil
	case errors.Is(err, ErrMissingParameters):
		return jsonError(http.StatusBadRequest, "Missing required parameters"), nil
	case errors.Is(err, ErrServerMisconfigured):
		return jsonError(http.StatusInternalServerError, "Server configuration error"), nil
	default:
		return jsonError(upstreamStatus(err), "Failed to exchange code for token"), nil
	}
}

func (s *Service) user(w http.ResponseWriter, r *http.Request, params userParams) (endpoint.Renderer, error) {
	token, ok := strings.CutPrefix(params.Authorization, "Bearer ")
	if !ok || token == "" {
		return jsonError(http.StatusUnauthorized, "Missing or invalid authorization header"), nil
	}
	body, err := s.UserInfo(r.Context(), token)
	if err != nil {
		return jsonError(upstreamStatus(err), "Failed to fetch user info"), nil
	}
	return &endpoint.StringRenderer{
		Status:      http.StatusOK,
		Body:        string(body),
		ContentType: "application/json",
	}, nil
}

// upstreamStatus picks the pass-through status for a provider failure. A
// failure without an upstream status (network error, empty token) maps to
// 502.
func upstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Status != 0 {
		return ue.Status
	}
	return http.StatusBadGateway
}
