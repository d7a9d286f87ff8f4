package tokenendpoint

import (
	"context"
	"time"

	"github.com/nullstack-id/authd/internal/oautherr"
	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/store"
)

// DefaultDeviceCodeTTL is how long an issued device_code/user_code pair
// stays redeemable.
const DefaultDeviceCodeTTL = 10 * time.Minute

// DeviceAuthorizationRequest is the parsed POST /device_authorization body
// (RFC 8628 §3.1).
type DeviceAuthorizationRequest struct {
	ClientID     string
	ClientSecret string
	Scope        string
}

// DeviceAuthorizationResponse is the RFC 8628 §3.2 response shape.
type DeviceAuthorizationResponse struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int
	Interval                int
}

// AuthorizeDevice issues a fresh device_code/user_code pair in the pending
// state. The device then polls /token with grant_type device_code until
// the user resolves the request at the verification URI.
func (s *Service) AuthorizeDevice(ctx context.Context, req DeviceAuthorizationRequest, now time.Time) (DeviceAuthorizationResponse, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return DeviceAuthorizationResponse{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return DeviceAuthorizationResponse{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return DeviceAuthorizationResponse{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantDeviceCode) {
		return DeviceAuthorizationResponse{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the device_code grant")
	}
	scope := splitScope(req.Scope)
	for _, sc := range scope {
		if sc != "openid" && !client.AllowsScope(sc) {
			return DeviceAuthorizationResponse{}, oautherr.New(oautherr.InvalidScope, "scope not allowed for this client: %s", sc)
		}
	}

	deviceCode := oidccrypto.NewOpaqueToken(32)
	userCode := oidccrypto.NewUserCode()
	if err := s.devices.Store(ctx, store.DeviceCode{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		TenantID:   tenantID,
		ClientID:   req.ClientID,
		Scope:      scope,
	}, DefaultDeviceCodeTTL, now); err != nil {
		return DeviceAuthorizationResponse{}, oautherr.New(oautherr.TemporarilyUnavailable, "storage error: %v", err)
	}

	verificationURI := s.cfg.Issuer + "/device"
	return DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + userCode,
		ExpiresIn:               int(DefaultDeviceCodeTTL.Seconds()),
		Interval:                int(s.cfg.DeviceMinPollInterval.Seconds()),
	}, nil
}

// BackchannelAuthRequest is the parsed CIBA backchannel authentication
// request body.
type BackchannelAuthRequest struct {
	ClientID     string
	ClientSecret string
	Scope        string
	// LoginHint identifies the end user the client wants authenticated; how
	// it is resolved to a user and delivered to their device is the
	// out-of-scope identity layer's job.
	LoginHint string
}

// BackchannelAuthResponse is the CIBA authentication response shape.
type BackchannelAuthResponse struct {
	AuthReqID string
	ExpiresIn int
	Interval  int
}

// InitiateBackchannelAuth issues a fresh pending CIBA request, polled via grant_type ciba.
func (s *Service) InitiateBackchannelAuth(ctx context.Context, req BackchannelAuthRequest, now time.Time) (BackchannelAuthResponse, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return BackchannelAuthResponse{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return BackchannelAuthResponse{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return BackchannelAuthResponse{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantCIBA) {
		return BackchannelAuthResponse{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the ciba grant")
	}

	authReqID := oidccrypto.NewOpaqueToken(32)
	if err := s.ciba.Store(ctx, store.CIBARequest{
		AuthReqID: authReqID,
		TenantID:  tenantID,
		ClientID:  req.ClientID,
		Scope:     splitScope(req.Scope),
		Interval:  s.cfg.DeviceMinPollInterval,
	}, DefaultDeviceCodeTTL, now); err != nil {
		return BackchannelAuthResponse{}, oautherr.New(oautherr.TemporarilyUnavailable, "storage error: %v", err)
	}

	return BackchannelAuthResponse{
		AuthReqID: authReqID,
		ExpiresIn: int(DefaultDeviceCodeTTL.Seconds()),
		Interval:  int(s.cfg.DeviceMinPollInterval.Seconds()),
	}, nil
}
