// Package web holds the HTTP hardening applied to the history API.
package web

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/learnloop/chatrelay/internal/errors"
)

// SecurityHeaders defines the security headers to be applied to responses
type SecurityHeaders struct {
	CSP                 string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// APISecurityHeaders returns headers for JSON endpoints. Transport headers
// such as HSTS are left to the fronting proxy.
func APISecurityHeaders() *SecurityHeaders {
	return &SecurityHeaders{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// Apply applies the security headers directly to a ResponseWriter
func (sh *SecurityHeaders) Apply(w http.ResponseWriter) {
	set := func(name, value string) {
		if value != "" {
			w.Header().Set(name, value)
		}
	}
	set("Content-Security-Policy", sh.CSP)
	set("X-Content-Type-Options", sh.XContentTypeOptions)
	set("Referrer-Policy", sh.ReferrerPolicy)
	set("Cache-Control", sh.CacheControl)
}

// InputValidation bounds what an API request may carry.
type InputValidation struct {
	MaxPathLength   int
	MaxQueryLength  int
	MaxHeaderLength int
	// AllowedQueryParams is a whitelist; empty allows any.
	AllowedQueryParams map[string]bool
}

// APIInputValidation returns the limits applied to the history routes.
func APIInputValidation() *InputValidation {
	return &InputValidation{
		MaxPathLength:      1024,
		MaxQueryLength:     1024,
		MaxHeaderLength:    4096,
		AllowedQueryParams: map[string]bool{"limit": true},
	}
}

// ValidateRequest checks r against the rules. Failures are validation
// AppErrors suitable for the error middleware.
func (iv *InputValidation) ValidateRequest(r *http.Request) error {
	if len(r.URL.Path) > iv.MaxPathLength {
		return errors.ValidationError("PATH_TOO_LONG", "Request path too long")
	}
	if len(r.URL.RawQuery) > iv.MaxQueryLength {
		return errors.ValidationError("QUERY_TOO_LONG", "Query string too long")
	}

	if len(iv.AllowedQueryParams) > 0 {
		for param := range r.URL.Query() {
			if !iv.AllowedQueryParams[param] {
				return errors.ValidationError("INVALID_QUERY_PARAM", "Unsupported query parameter: "+param)
			}
		}
	}

	for name, values := range r.Header {
		for _, value := range values {
			if len(value) > iv.MaxHeaderLength {
				return errors.ValidationError("HEADER_TOO_LONG", "Header value too long: "+name)
			}
		}
	}

	for _, name := range []string{"Host", "X-Forwarded-For", "User-Agent", "Referer"} {
		if value := r.Header.Get(name); value != "" {
			if err := validateHeaderValue(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateHeaderValue checks header values for injection patterns
func validateHeaderValue(name, value string) error {
	if !utf8.ValidString(value) {
		return errors.ValidationError("INVALID_ENCODING", "Invalid character encoding in header: "+name)
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return errors.ValidationError("HEADER_INJECTION", "Invalid control characters in header: "+name)
	}
	if name == "Host" && strings.ContainsAny(value, " \t<>\"'") {
		return errors.ValidationError("INVALID_HOST", "Invalid characters in Host header")
	}
	return nil
}

// APIMiddleware applies headers and validation to every route of a
// subrouter. Rejections are rendered by em.
func APIMiddleware(em *errors.ErrorMiddleware, headers *SecurityHeaders, validation *InputValidation) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		checked := em.Wrap(func(w http.ResponseWriter, r *http.Request) error {
			if err := validation.ValidateRequest(r); err != nil {
				return err
			}
			next.ServeHTTP(w, r)
			return nil
		})
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers.Apply(w)
			checked.ServeHTTP(w, r)
		})
	}
}
