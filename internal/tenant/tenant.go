// Package tenant defines the Tenant, Client, and User data model. These are the relational records everything else in the module
// reads and writes; persistence goes through internal/storeadapter, and
// client authentication is exposed through ClientAuthenticator so
// internal/admin and internal/tokenendpoint can verify credentials without
// importing storage details directly.
package tenant

import "time"

// Tenant is an immutable-after-provisioning process-wide mapping.
type Tenant struct {
	TenantID               string
	BaseDomain             string
	DefaultPartition       string
	RequirePKCE            bool
	EnforceRedirectMatch   bool
	EnforceState           bool
	AllowLocalhostRedirect bool
}

// ClientType enumerates OAuth2 client confidentiality.
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// TokenEndpointAuthMethod enumerates how a client authenticates at the
// token endpoint.
type TokenEndpointAuthMethod string

const (
	AuthClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	AuthClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
	AuthNone              TokenEndpointAuthMethod = "none"
	AuthPrivateKeyJWT     TokenEndpointAuthMethod = "private_key_jwt"
)

// Client is an OAuth2/OIDC client registration.
type Client struct {
	ClientID                string
	TenantID                string
	ClientType              ClientType
	ClientSecretHash        []byte // nil for public clients
	RedirectURIs            []string
	AllowedGrantTypes       []string
	AllowedResponseTypes    []string
	AllowedScopes           []string
	TokenEndpointAuthMethod TokenEndpointAuthMethod
	RequirePKCE             bool
	RequireDPoP             bool
	JWKS                    []byte // optional, for private_key_jwt / DPoP key discovery
}

// AllowsRedirectURI reports whether uri is registered for this client.
func (c Client) AllowsRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// AllowsGrantType reports whether grantType is permitted for this client.
func (c Client) AllowsGrantType(grantType string) bool {
	return stringInSlice(c.AllowedGrantTypes, grantType)
}

// AllowsResponseType reports whether responseType is permitted for this
// client.
func (c Client) AllowsResponseType(responseType string) bool {
	return stringInSlice(c.AllowedResponseTypes, responseType)
}

// AllowsScope reports whether scope is in this client's allowed set.
func (c Client) AllowsScope(scope string) bool {
	return stringInSlice(c.AllowedScopes, scope)
}

func stringInSlice(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// PIIStatus enumerates the PII-write lifecycle.
type PIIStatus string

const (
	PIINone    PIIStatus = "none"
	PIIPending PIIStatus = "pending"
	PIIActive  PIIStatus = "active"
	PIIFailed  PIIStatus = "failed"
	PIIDeleted PIIStatus = "deleted"
)

// UserType distinguishes first-party end users from machine/service
// accounts provisioned without interactive login.
type UserType string

const (
	UserTypeStandard UserType = "standard"
	UserTypeService  UserType = "service"
)

// CoreUser is the CORE-partition half of the split User record.
type CoreUser struct {
	TenantID            string
	UserID              string
	IsActive            bool
	UserType            UserType
	PIIPartition        string
	PIIStatus           PIIStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
	EmailVerified       bool
	LastLoginAt         time.Time
	ScheduledDeletionAt time.Time
}

// PIIUser is the partition-resident half of the split User record.
type PIIUser struct {
	UserID            string
	TenantID          string
	Email             string
	Name              string
	PreferredUsername string
	Phone             string
	Address           map[string]any
	CustomAttrs       map[string]any
}
