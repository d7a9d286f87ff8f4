package flow

import "net/url"

// Response is the fully assembled result of a completed (or failed)
// /authorize flow: where to send the user agent, how to encode the
// parameters, and the parameters themselves. Rendering — a 302 with a
// query/fragment, or a form_post HTML page — is the framing layer's job;
// this package only decides the parameters and the mode.
type Response struct {
	RedirectURI  string
	ResponseMode string // "query", "fragment", or "form_post"
	Params       map[string]string
}

// Encode renders Params as a URL-encoded query string, usable directly for
// "query" mode (appended to RedirectURI's query) or "fragment" mode
// (appended after a "#"). form_post mode renders the same Params as hidden
// form fields instead; that templating is transport-layer, not encoded
// here.
func (r Response) Encode() string {
	v := url.Values{}
	for k, val := range r.Params {
		v.Set(k, val)
	}
	return v.Encode()
}

// ErrorResponse builds the Response shape for a redirected error:
// error and error_description replace the success parameters, state is
// preserved if present.
func ErrorResponse(redirectURI, responseMode, state, code, description string) Response {
	params := map[string]string{"error": code}
	if description != "" {
		params["error_description"] = description
	}
	if state != "" {
		params["state"] = state
	}
	return Response{RedirectURI: redirectURI, ResponseMode: responseMode, Params: params}
}
