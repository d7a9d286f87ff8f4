// Package discovery builds the OIDC/OAuth2 issuer metadata document. It
// stops at producing the document and its cache directives; serving it
// over HTTP is the framing layer's job and out of this module's scope. Grounded on dexidp/dex's server/handlers.go discovery
// struct and discoveryHandler, generalized to a multi-tenant issuer and
// the grant/response-type surface this module actually supports.
package discovery

// CacheControl and Vary are the cacheable-response headers the discovery
// document is served with.
const (
	CacheControl = "public, max-age=3600"
	Vary         = "Accept-Encoding"
)

// Document is the issuer metadata document (RFC 8414 / OIDC Discovery).
type Document struct {
	Issuer                              string   `json:"issuer"`
	AuthorizationEndpoint               string   `json:"authorization_endpoint"`
	TokenEndpoint                       string   `json:"token_endpoint"`
	UserinfoEndpoint                    string   `json:"userinfo_endpoint"`
	JWKSURI                             string   `json:"jwks_uri"`
	PushedAuthorizationRequestEndpoint  string   `json:"pushed_authorization_request_endpoint,omitempty"`
	DeviceAuthorizationEndpoint         string   `json:"device_authorization_endpoint,omitempty"`
	BackchannelAuthenticationEndpoint   string   `json:"backchannel_authentication_endpoint,omitempty"`
	IntrospectionEndpoint               string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                  string   `json:"revocation_endpoint,omitempty"`
	ResponseTypesSupported              []string `json:"response_types_supported"`
	ResponseModesSupported              []string `json:"response_modes_supported"`
	GrantTypesSupported                 []string `json:"grant_types_supported"`
	SubjectTypesSupported               []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported    []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                     []string `json:"scopes_supported"`
	ClaimsSupported                     []string `json:"claims_supported"`
	TokenEndpointAuthMethodsSupported   []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported       []string `json:"code_challenge_methods_supported"`
	DPoPSigningAlgValuesSupported       []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

// Config parameterizes Build with the per-deployment values the rest of
// the document derives from.
type Config struct {
	Issuer            string
	SupportedAlgs     []string // keymanager algorithms actually provisioned
	SupportedGrants   []string
	SupportedResponse []string
	DPoPSupported     bool
}

// Build assembles the discovery document for one issuer.
// response_types_supported and grant_types_supported are copied from cfg
// as given (nothing is added to them). The fixed lists satisfy the
// required minimums: scopes_supported is a superset of {openid, profile, email},
// claims_supported a superset of {sub, iss, aud, exp, iat, name, email},
// and token_endpoint_auth_methods_supported a superset of
// {client_secret_post, client_secret_basic, none}.
func Build(cfg Config) Document {
	d := Document{
		Issuer:                 cfg.Issuer,
		AuthorizationEndpoint:  cfg.Issuer + "/authorize",
		TokenEndpoint:          cfg.Issuer + "/token",
		UserinfoEndpoint:       cfg.Issuer + "/userinfo",
		JWKSURI:                cfg.Issuer + "/.well-known/jwks.json",
		ResponseTypesSupported: cfg.SupportedResponse,
		ResponseModesSupported: []string{"query", "fragment", "form_post"},
		GrantTypesSupported:    cfg.SupportedGrants,
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgValuesSupported: cfg.SupportedAlgs,
		ScopesSupported: []string{"openid", "profile", "email", "offline_access"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"name", "email", "email_verified", "acr", "amr",
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post", "client_secret_basic", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256"},
	}

	if contains(cfg.SupportedGrants, "urn:ietf:params:oauth:grant-type:device_code") {
		d.DeviceAuthorizationEndpoint = cfg.Issuer + "/device/code"
	}
	if contains(cfg.SupportedGrants, "urn:openid:params:grant-type:ciba") {
		d.BackchannelAuthenticationEndpoint = cfg.Issuer + "/backchannel/authenticate"
	}
	d.PushedAuthorizationRequestEndpoint = cfg.Issuer + "/par"
	d.IntrospectionEndpoint = cfg.Issuer + "/introspect"
	d.RevocationEndpoint = cfg.Issuer + "/revoke"

	if cfg.DPoPSupported {
		d.DPoPSigningAlgValuesSupported = cfg.SupportedAlgs
	}
	return d
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
