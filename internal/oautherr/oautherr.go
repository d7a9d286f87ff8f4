// Package oautherr implements the transport-agnostic OAuth 2.0 / OIDC
// error taxonomy and the three ways it is surfaced to a client, mirrored
// from dexidp/dex server/oauth2.go's displayedAuthErr / redirectedAuthErr /
// tokenErr trio.
package oautherr

import "fmt"

// Code is one of the OAuth2/OIDC error codes this server can return.
type Code string

const (
	InvalidRequest          Code = "invalid_request"
	InvalidClient           Code = "invalid_client"
	InvalidGrant            Code = "invalid_grant"
	InvalidScope            Code = "invalid_scope"
	UnauthorizedClient      Code = "unauthorized_client"
	UnsupportedGrantType    Code = "unsupported_grant_type"
	UnsupportedResponseType Code = "unsupported_response_type"
	AccessDenied            Code = "access_denied"
	AuthorizationPending    Code = "authorization_pending"
	SlowDown                Code = "slow_down"
	ExpiredToken            Code = "expired_token"
	LoginRequired           Code = "login_required"
	ConsentRequired         Code = "consent_required"
	InteractionRequired     Code = "interaction_required"
	ServerError             Code = "server_error"
	TemporarilyUnavailable  Code = "temporarily_unavailable"
	RateLimitExceeded       Code = "rate_limit_exceeded"
)

// Error is the protocol-level error carried between components. Transport
// layers (out of scope here) decide how to render it: JSON body on /token
// and /introspect, redirect on /authorize when a redirect_uri is trusted,
// or an error page otherwise.
type Error struct {
	Code        Code
	Description string
	// RetryAfterSeconds is set only for RateLimitExceeded.
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// New builds an Error with a formatted description.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// RateLimited builds a rate_limit_exceeded error carrying Retry-After.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{Code: RateLimitExceeded, RetryAfterSeconds: retryAfterSeconds}
}

// RedirectTarget is returned by the flow engine when a validation failure
// must be reported to the client by redirecting back with error/
// error_description query or fragment parameters.
type RedirectTarget struct {
	RedirectURI  string
	ResponseMode string // "query", "fragment", or "form_post"
	State        string
	Err          *Error
}

func (t *RedirectTarget) Error() string {
	return fmt.Sprintf("redirect to %s: %v", t.RedirectURI, t.Err)
}

// Unwrap exposes the underlying protocol error for errors.As/Is.
func (t *RedirectTarget) Unwrap() error { return t.Err }

// DisplayedTarget is returned when the failure occurs before a redirect_uri
// can be trusted (e.g. unknown client, mismatched redirect) and must be
// rendered as a standalone error page instead.
type DisplayedTarget struct {
	StatusCode int
	Message    string
}

func (t *DisplayedTarget) Error() string {
	return fmt.Sprintf("display %d: %s", t.StatusCode, t.Message)
}
