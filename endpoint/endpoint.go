// Package endpoint is the typed HTTP handler layer shared by the public web
// app and the trusted exchange service.
//
// A handler is written as a function taking a decoded params struct and
// returning a Renderer; the wrapper owns the rest of the request lifecycle:
//
//  1. run the Processor chain (request ID, security headers),
//  2. decode the request into the params struct via Unmarshal,
//  3. call the handler function,
//  4. run deferred header hooks (Commit), then render the response.
//
// Handlers never write to the ResponseWriter themselves; the Renderer they
// return produces the status, headers and body.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// EndpointError carries an HTTP status for an error returned by a handler or
// processor. The wrapper renders it as a plain text error response.
type EndpointError struct {
	Status  int
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error wraps err with a status and a client-safe message. If err already is
// an EndpointError it is returned unchanged, keeping the innermost status.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes one complete response: status, headers and body. A
// Renderer returning an error signals a failed write; by then the response
// may be partially committed, so the wrapper only falls back to a 500 when
// nothing was rendered.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor runs before decoding and the handler. It must either call next
// or return an error; it must not write the response body or status itself.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// EndpointFunc is the handler shape wrapped by Handler. params is populated
// from the request by Unmarshal before the function runs.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler adapts an EndpointFunc and its processors to http.Handler.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler wraps fn, with processors applied outermost-first. The helper
// exists so P is inferred from fn.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

type hooksKey struct{}

// Defer registers fn to run right before response headers are written, and
// reports whether it was registered. It returns false when the request is
// not being served by an EndpointHandler; callers that must not lose the
// write (cookie stores) fall back to writing immediately in that case.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) bool {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if !ok || hooks == nil {
		return false
	}
	*hooks = append(*hooks, fn)
	return true
}

// Commit runs the deferred hooks, newest first, and drops them so a second
// call is a no-op. The wrapper calls it once before rendering, on both the
// success and the error path.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if !ok || hooks == nil {
		return
	}
	for i := len(*hooks) - 1; i >= 0; i-- {
		(*hooks)[i](w)
	}
	*hooks = nil
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	// Each processor wraps the next; the innermost step decodes params,
	// runs the handler and renders.
	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < 0 || i > len(h.Processors) {
			return errors.New("endpoint: invalid processor index")
		}
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}

		Commit(r2.Context(), w2)
		return renderer.Render(w2, r2)
	}

	err := run(0, w, r)
	if err == nil {
		return
	}

	status := http.StatusInternalServerError
	message := ""
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	} else {
		message = err.Error()
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}
