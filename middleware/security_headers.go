// Package middleware provides endpoint.Processor implementations shared by
// the public web surface and the trusted exchange surface.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lenxapp/onboard/endpoint"
)

// SecurityHeadersProcessor sets browser security headers on every response.
//
// Defaults suit the login pages: HSTS for a year with subdomains, no
// framing, nosniff, same-origin referrers only, and a CSP restricted to
// 'self'. The exchange surface uses NewAPISecurityHeadersProcessor, which
// tightens the CSP to 'none' since it serves no web content.
type SecurityHeadersProcessor struct {
	// HSTS configures Strict-Transport-Security. Nil disables the header.
	HSTS *HSTSConfig

	// ReferrerPolicy sets Referrer-Policy. Empty disables the header.
	ReferrerPolicy string

	// FrameOptions sets X-Frame-Options. Empty disables the header.
	FrameOptions string

	// ContentTypeOptions controls X-Content-Type-Options: nosniff.
	ContentTypeOptions bool

	// ContentSecurityPolicy sets Content-Security-Policy. Empty disables
	// the header.
	ContentSecurityPolicy string
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// MaxAge is the HSTS lifetime in seconds.
	MaxAge int

	// IncludeSubDomains applies HSTS to subdomains.
	IncludeSubDomains bool

	// Preload opts in to browser HSTS preload lists.
	Preload bool
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor creates a processor with defaults for web
// content.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTS: &HSTSConfig{
			MaxAge:            31536000,
			IncludeSubDomains: true,
		},
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FrameOptions:          "DENY",
		ContentTypeOptions:    true,
		ContentSecurityPolicy: "default-src 'self'; base-uri 'self'; form-action 'self'; frame-ancestors 'none'",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAPISecurityHeadersProcessor creates a processor with defaults for
// JSON-only surfaces.
func NewAPISecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	base := []SecurityHeadersOption{
		WithReferrerPolicy("no-referrer"),
		WithCSP("default-src 'none'; frame-ancestors 'none'"),
	}
	return NewSecurityHeadersProcessor(append(base, opts...)...)
}

// WithHSTS configures HSTS settings.
func WithHSTS(maxAge int, includeSubDomains, preload bool) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTS = &HSTSConfig{
			MaxAge:            maxAge,
			IncludeSubDomains: includeSubDomains,
			Preload:           preload,
		}
	}
}

// WithoutHSTS disables the HSTS header, for plain-HTTP development.
func WithoutHSTS() SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.HSTS = nil }
}

// WithReferrerPolicy sets the Referrer-Policy header value.
func WithReferrerPolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.ReferrerPolicy = policy }
}

// WithFrameOptions sets the X-Frame-Options header value.
func WithFrameOptions(options string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.FrameOptions = options }
}

// WithCSP sets the Content-Security-Policy header value.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.ContentSecurityPolicy = policy }
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.HSTS != nil {
		if hsts := formatHSTS(p.HSTS); hsts != "" {
			w.Header().Set("Strict-Transport-Security", hsts)
		}
	}
	if p.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		w.Header().Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		w.Header().Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	return next(w, r)
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
