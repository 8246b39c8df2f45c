package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lenxapp/onboard/endpoint"
)

const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestIDProcessor assigns each request an ID, echoes it in the
// X-Request-Id response header, and attaches a request-scoped log entry to
// the context. An ID supplied by the caller is reused so traces can cross
// the boundary between the public and trusted surfaces.
type RequestIDProcessor struct {
	log logrus.FieldLogger
}

// NewRequestIDProcessor builds the processor. A nil logger means the logrus
// standard logger.
func NewRequestIDProcessor(log logrus.FieldLogger) *RequestIDProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RequestIDProcessor{log: log}
}

// Process implements endpoint.Processor.
func (p *RequestIDProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	id := r.Header.Get(requestIDHeader)
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)

	entry := p.log.WithField("request_id", id)
	ctx := context.WithValue(r.Context(), requestIDKey{}, entry)
	return next(w, r.WithContext(ctx))
}

// Logger returns the request-scoped log entry, or the logrus standard
// logger when the request did not pass through a RequestIDProcessor.
func Logger(ctx context.Context) logrus.FieldLogger {
	if entry, ok := ctx.Value(requestIDKey{}).(logrus.FieldLogger); ok {
		return entry
	}
	return logrus.StandardLogger()
}

var _ endpoint.Processor = (*RequestIDProcessor)(nil)
