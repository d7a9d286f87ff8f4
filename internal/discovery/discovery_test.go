package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildIncludesRequiredMinimums(t *testing.T) {
	doc := Build(Config{
		Issuer:            "https://issuer.example",
		SupportedAlgs:     []string{"RS256"},
		SupportedGrants:   []string{"authorization_code"},
		SupportedResponse: []string{"code"},
	})

	assert.Contains(t, doc.ResponseTypesSupported, "code")
	assert.Contains(t, doc.ScopesSupported, "openid")
	assert.Contains(t, doc.ScopesSupported, "profile")
	assert.Contains(t, doc.ScopesSupported, "email")
	assert.Contains(t, doc.ClaimsSupported, "sub")
	assert.Contains(t, doc.TokenEndpointAuthMethodsSupported, "client_secret_post")
	assert.Contains(t, doc.TokenEndpointAuthMethodsSupported, "client_secret_basic")
	assert.Contains(t, doc.TokenEndpointAuthMethodsSupported, "none")
	assert.Equal(t, "https://issuer.example/.well-known/jwks.json", doc.JWKSURI)
}

func TestBuildAdvertisesDeviceAndCIBAOnlyWhenSupported(t *testing.T) {
	doc := Build(Config{
		Issuer:          "https://issuer.example",
		SupportedGrants: []string{"authorization_code"},
	})
	assert.Empty(t, doc.DeviceAuthorizationEndpoint)
	assert.Empty(t, doc.BackchannelAuthenticationEndpoint)

	doc = Build(Config{
		Issuer: "https://issuer.example",
		SupportedGrants: []string{
			"urn:ietf:params:oauth:grant-type:device_code",
			"urn:openid:params:grant-type:ciba",
		},
	})
	assert.Equal(t, "https://issuer.example/device/code", doc.DeviceAuthorizationEndpoint)
	assert.Equal(t, "https://issuer.example/backchannel/authenticate", doc.BackchannelAuthenticationEndpoint)
}

func TestBuildAdvertisesDPoPOnlyWhenEnabled(t *testing.T) {
	doc := Build(Config{Issuer: "https://issuer.example", SupportedAlgs: []string{"ES256"}, DPoPSupported: true})
	assert.Equal(t, []string{"ES256"}, doc.DPoPSigningAlgValuesSupported)

	doc = Build(Config{Issuer: "https://issuer.example", SupportedAlgs: []string{"ES256"}})
	assert.Empty(t, doc.DPoPSigningAlgValuesSupported)
}

func TestEveryIssuerEndpointSharesTheIssuerPrefix(t *testing.T) {
	doc := Build(Config{
		Issuer:          "https://tenant-a.issuer.example",
		SupportedGrants: []string{"urn:ietf:params:oauth:grant-type:device_code"},
	})
	for _, ep := range []string{
		doc.AuthorizationEndpoint, doc.TokenEndpoint, doc.UserinfoEndpoint, doc.JWKSURI,
		doc.DeviceAuthorizationEndpoint, doc.IntrospectionEndpoint, doc.RevocationEndpoint,
	} {
		assert.Contains(t, ep, doc.Issuer)
	}
}
