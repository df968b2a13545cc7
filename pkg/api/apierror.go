// Package api holds the HTTP building blocks shared by the prover server and
// its middleware: RFC 7807 problem responses, request decoding with schema
// validation, and per-IP rate limiting.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Machine-readable problem codes. Clients branch on these, never on Detail.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeBadConfig         = "BAD_CONFIG"
	CodeJSError           = "JS_ERROR"
	CodeFetchFailed       = "FETCH_FAILED"
	CodeInvalidText       = "INVALID_TEXT"
	CodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeAuthentication    = "AUTHENTICATION_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeInternal          = "INTERNAL"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Code is the stable machine-readable problem code.
	Code string `json:"code"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is the request path of the failed call.
	Instance string `json:"instance,omitempty"`
	// TraceID echoes the X-Request-ID of the failed call.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
}

// NewProblem builds a problem whose type URI is derived from code.
func NewProblem(status int, code, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   "urn:gpt-prover:problem:" + strings.ToLower(code),
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
		Detail: detail,
	}
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	if r != nil {
		p.Instance = r.URL.Path
	}
	p.TraceID = w.Header().Get("X-Request-ID")

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem response for the given status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	WriteProblem(w, r, NewProblem(status, code, detail))
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, CodeInvalidRequest, detail)
}

// WriteUnauthenticated writes a 401 error response. It means the caller's
// credentials could not be checked; a valid caller without rights gets 403.
func WriteUnauthenticated(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, http.StatusUnauthorized, CodeAuthentication, detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusNotFound, CodeNotFound, "No such endpoint")
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get("X-Request-ID"))
	WriteError(w, r, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred. Please try again later.")
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "error", err)
	}
}
