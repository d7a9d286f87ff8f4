// Package flow implements the /authorize state machine: the
// Authorization Code + PKCE + PAR + Hybrid/Implicit flow engine. It is
// transport-agnostic — the HTTP framing layer (out of scope here) parses
// form/query values into a Request, calls Engine.Validate, drives the
// returned FlowState through its authentication substates, and finally
// calls Engine.Complete to assemble the redirect response.
//
// Grounded on dexidp/dex's server/oauth2.go parseAuthorizationRequest and
// server/handlers.go handleAuthorization, generalized from dex's single
// connector-based login to an arbitrary authentication substate sequence
// (login -> MFA -> consent) carried in store.FlowState.
package flow

import (
	"strings"

	"github.com/nullstack-id/authd/internal/store"
)

// Request is the parsed /authorize request, before client/tenant
// resolution.
type Request struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string // space-separated, as presented
	Scope               string // space-separated, as presented
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	RequestURI          string // PAR request_uri, if present
	ResponseMode        string // caller override; "" means use the default
	DPoPJKT             string
	Prompt              string // space-separated: "none", "login", "consent"
}

// ResponseTypes splits ResponseType into its constituent members.
func (r Request) ResponseTypes() []string { return strings.Fields(r.ResponseType) }

// Scopes splits Scope into its constituent members.
func (r Request) Scopes() []string { return strings.Fields(r.Scope) }

// Prompts splits Prompt into its constituent members.
func (r Request) Prompts() []string { return strings.Fields(r.Prompt) }

// responseKinds is the parsed, deduplicated shape of a response_type: which
// of code/id_token/token are requested.
type responseKinds struct {
	code    bool
	idToken bool
	token   bool
}

func parseResponseKinds(types []string) (responseKinds, bool) {
	var rk responseKinds
	for _, t := range types {
		switch t {
		case "code":
			rk.code = true
		case "id_token":
			rk.idToken = true
		case "token":
			rk.token = true
		default:
			return responseKinds{}, false
		}
	}
	return rk, true
}

// ValidatedRequest is what Validate produces on success: the original
// request plus the resolved client/tenant-scoped decisions (effective PKCE
// requirement, effective response_mode, accepted scopes).
type ValidatedRequest struct {
	Request
	TenantID        string
	EffectiveScopes []string
	Kinds           responseKinds
	PAR             *store.PARRequest // non-nil if request_uri was consumed
}

// includesTokenLike reports whether the response includes id_token or
// token alongside/instead of code, the cases requiring a nonce and a
// fragment-default response_mode.
func (k responseKinds) includesTokenLike() bool { return k.idToken || k.token }
