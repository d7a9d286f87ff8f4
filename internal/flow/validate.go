package flow

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/nullstack-id/authd/internal/oautherr"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
)

// TenantStore resolves a tenant's enforcement policy.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (tenant.Tenant, error)
}

// Validate runs the /authorize validation sequence and either returns a
// ValidatedRequest ready to be passed to Start, or an error that is
// one of *oautherr.DisplayedTarget (redirect_uri itself could not be
// trusted) or *oautherr.RedirectTarget (every later failure, reported back
// to the client).
func (e *Engine) Validate(ctx context.Context, req Request, now time.Time) (ValidatedRequest, error) {
	// 8. PAR: consume first so request_uri parameters stand in for the
	// query parameters validation below runs against.
	if req.RequestURI != "" {
		par, err := e.par.Consume(ctx, req.RequestURI, req.ClientID, now)
		if err != nil {
			return ValidatedRequest{}, &oautherr.DisplayedTarget{
				StatusCode: 400,
				Message:    "invalid or expired request_uri",
			}
		}
		req = overlayPAR(req, par)
		vr, verr := e.validateResolved(ctx, req, now)
		if verr != nil {
			return ValidatedRequest{}, verr
		}
		vr.PAR = &par
		return vr, nil
	}
	return e.validateResolved(ctx, req, now)
}

func overlayPAR(req Request, par store.PARRequest) Request {
	get := func(k string) (string, bool) {
		v, ok := par.Parameters[k]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
	if v, ok := get("redirect_uri"); ok {
		req.RedirectURI = v
	}
	if v, ok := get("response_type"); ok {
		req.ResponseType = v
	}
	if v, ok := get("scope"); ok {
		req.Scope = v
	}
	if v, ok := get("state"); ok {
		req.State = v
	}
	if v, ok := get("nonce"); ok {
		req.Nonce = v
	}
	if v, ok := get("code_challenge"); ok {
		req.CodeChallenge = v
	}
	if v, ok := get("code_challenge_method"); ok {
		req.CodeChallengeMethod = v
	}
	if v, ok := get("prompt"); ok {
		req.Prompt = v
	}
	return req
}

func (e *Engine) validateResolved(ctx context.Context, req Request, now time.Time) (ValidatedRequest, error) {
	// 1. Resolve client; verify active.
	client, err := e.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return ValidatedRequest{}, &oautherr.DisplayedTarget{
			StatusCode: 400,
			Message:    "invalid client_id",
		}
	}

	ten, err := e.tenants.GetTenant(ctx, client.TenantID)
	if err != nil {
		return ValidatedRequest{}, &oautherr.DisplayedTarget{
			StatusCode: 500,
			Message:    "tenant resolution failed",
		}
	}

	// 2. Resolve redirect_uri.
	if !resolveRedirectURI(client, ten, req.RedirectURI) {
		return ValidatedRequest{}, &oautherr.DisplayedTarget{
			StatusCode: 400,
			Message:    "unregistered redirect_uri",
		}
	}

	redirectErr := func(mode string, code oautherr.Code, desc string) error {
		return &oautherr.RedirectTarget{
			RedirectURI:  req.RedirectURI,
			ResponseMode: mode,
			State:        req.State,
			Err:          oautherr.New(code, "%s", desc),
		}
	}

	// 3. response_type must be in client's allowed set.
	types := req.ResponseTypes()
	if len(types) == 0 {
		return ValidatedRequest{}, redirectErr(defaultResponseMode(req, responseKinds{}), oautherr.InvalidRequest, "no response_type provided")
	}
	kinds, ok := parseResponseKinds(types)
	if !ok {
		return ValidatedRequest{}, redirectErr(defaultResponseMode(req, responseKinds{}), oautherr.InvalidRequest, "invalid response_type")
	}
	mode := defaultResponseMode(req, kinds)
	if !client.AllowsResponseType(req.ResponseType) {
		return ValidatedRequest{}, redirectErr(mode, oautherr.UnsupportedResponseType, "response_type not allowed for this client")
	}
	if kinds.token && !kinds.code && !kinds.idToken {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidRequest, "response_type 'token' must be combined with 'code' and/or 'id_token'")
	}

	// 4. scope must be subset of client's allowed scopes; openid required
	// unless the flow is pure OAuth (no id_token/token-derived identity).
	scopes := req.Scopes()
	hasOpenID := false
	for _, s := range scopes {
		if s == "openid" {
			hasOpenID = true
			continue
		}
		if !client.AllowsScope(s) {
			return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidScope, "scope not allowed for this client: "+s)
		}
	}
	if !hasOpenID && (kinds.idToken || kinds.code) {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidScope, `missing required scope "openid"`)
	}

	// 5. state required if tenant enforces it.
	if ten.EnforceState && req.State == "" {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidRequest, "state is required")
	}

	// 6. nonce required for any response containing id_token.
	if kinds.idToken && req.Nonce == "" {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidRequest, "nonce is required when id_token is requested")
	}

	// 7. PKCE required for public clients (or tenant-wide policy); method
	// must be S256.
	requirePKCE := client.RequirePKCE || ten.RequirePKCE || client.ClientType == tenant.ClientPublic
	if requirePKCE && req.CodeChallenge == "" {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidRequest, "code_challenge is required")
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != "S256" {
		return ValidatedRequest{}, redirectErr(mode, oautherr.InvalidRequest, "only the S256 code_challenge_method is supported")
	}

	vr := ValidatedRequest{
		Request:         req,
		TenantID:        client.TenantID,
		EffectiveScopes: scopes,
		Kinds:           kinds,
	}
	vr.ResponseMode = mode
	return vr, nil
}

// defaultResponseMode picks the OIDC default: query for code, fragment for any
// response containing token/id_token, overridable by the caller.
func defaultResponseMode(req Request, kinds responseKinds) string {
	if req.ResponseMode != "" {
		return req.ResponseMode
	}
	if kinds.includesTokenLike() {
		return "fragment"
	}
	return "query"
}

// resolveRedirectURI resolves the presented redirect_uri: an exact match is
// always accepted, and so is a loopback URI for a public client when the
// tenant allows it. Past that, a public client on a tenant without strict
// redirect matching gets a longest-prefix match with matching
// scheme/host/port; a confidential client gets no prefix matching and
// needs an exact match. Grounded on dexidp/dex's validateRedirectURI
// (server/oauth2.go), generalized from dex's single localhost special case
// to a policy-driven longest-prefix match.
func resolveRedirectURI(client tenant.Client, ten tenant.Tenant, redirectURI string) bool {
	if client.AllowsRedirectURI(redirectURI) {
		return true
	}
	if client.ClientType == tenant.ClientPublic && ten.AllowLocalhostRedirect && isLoopback(redirectURI) {
		return true
	}
	if ten.EnforceRedirectMatch || client.ClientType != tenant.ClientPublic {
		return false
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	best := ""
	for _, registered := range client.RedirectURIs {
		ru, err := url.Parse(registered)
		if err != nil {
			continue
		}
		if ru.Scheme != u.Scheme || ru.Host != u.Host {
			continue
		}
		if len(ru.Path) > len(best) && isPathPrefix(ru.Path, u.Path) {
			best = ru.Path
		}
	}
	return best != ""
}

func isPathPrefix(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func isLoopback(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
