// Package tokenendpoint implements the /token grant dispatch state
// machine for authorization_code, refresh_token, device_code, and ciba,
// including refresh-token reuse detection and DPoP proof binding. It owns no HTTP framing — callers parse the POST body
// into the per-grant request struct, call the matching method, and render
// whatever *oautherr.Error or Response comes back.
//
// Grounded on dexidp/dex's server/oauth2.go handleToken dispatch (the
// switch over grant_type feeding into handleAuthCode/handleRefreshToken/
// handleDeviceToken) and server/deviceflowhandlers.go's device polling
// response mapping, generalized to the multi-tenant stores in
// internal/store and extended with DPoP binding and refresh-family reuse
// detection.
package tokenendpoint

import (
	"context"
	"errors"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/nullstack-id/authd/internal/dpop"
	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/oautherr"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/internal/token"
	"github.com/nullstack-id/authd/pkg/log"
)

// Grant type identifiers accepted by Dispatch.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantCIBA              = "urn:openid:params:grant-type:ciba"
)

// DefaultDPoPProofTTL is how long a presented proof's jti stays in the
// replay barrier, bounding the window a captured proof stays dangerous in.
const DefaultDPoPProofTTL = 120 * time.Second

// DefaultDeviceMinPollInterval is RFC 8628's recommended minimum polling
// interval.
const DefaultDeviceMinPollInterval = 5 * time.Second

// Rotation outcome labels passed to Recorder.ObserveRefreshRotation.
// Mirrored (not imported) from internal/metrics so this package stays free
// of a prometheus dependency; internal/metrics.RotationOutcome* use the
// same string values.
const (
	outcomeIssued        = "issued"
	outcomeRotated       = "rotated"
	outcomeReuseDetected = "reuse_detected"
	outcomeNarrowed      = "narrowed"
)

// ClientAuthenticator verifies a client's credentials and resolves its
// tenant, the same contract internal/admin depends on so both packages
// share one implementation (internal/tenant.Authenticator).
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, clientID, clientSecret string) (tenantID string, err error)
}

// Config carries the fixed parameters a Service needs beyond its
// collaborating stores: issuer, signing algorithm, artifact lifetimes, and
// the token endpoint's own URL (for DPoP htu validation).
type Config struct {
	Issuer                string
	TokenEndpointURL      string
	Alg                   jose.SignatureAlgorithm
	AccessTokenTTL        time.Duration
	IDTokenTTL            time.Duration
	RefreshTokenTTL       time.Duration
	DeviceMinPollInterval time.Duration
}

// Recorder receives refresh token rotation outcomes for the rotation-outcome
// counter internal/metrics exposes. Declared here rather
// than imported from internal/metrics so this package never depends on
// prometheus directly; *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveRefreshRotation(outcome string)
}

// Service dispatches token endpoint grants.
type Service struct {
	auth       ClientAuthenticator
	clients    tenant.ClientStore
	codes      *store.AuthorizationCodeStore
	rotator    *store.RefreshTokenRotator
	devices    *store.DeviceCodeStore
	ciba       *store.CIBARequestStore
	revocation *store.TokenRevocationStore
	jtis       *store.DPoPJTIStore
	keys       *keymanager.Manager
	cfg        Config
	logger     log.Logger
	metrics    Recorder
	limiter    *rateLimit
}

// SetMetrics attaches a Recorder for rotation-outcome counters. Optional;
// a Service with no Recorder attached simply does not record them.
func (s *Service) SetMetrics(r Recorder) { s.metrics = r }

func (s *Service) observeRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveRefreshRotation(outcome)
	}
}

// rateLimit, when set via SetRateLimiter, throttles grant attempts per
// client_id.
type rateLimit struct {
	counter       *store.RateLimiterCounter
	windowSeconds int
	maxRequests   int
}

// SetRateLimiter attaches a per-client_id fixed-window limit to every grant
// attempt. Optional; a Service with none attached does not throttle.
func (s *Service) SetRateLimiter(counter *store.RateLimiterCounter, windowSeconds, maxRequests int) {
	s.limiter = &rateLimit{counter: counter, windowSeconds: windowSeconds, maxRequests: maxRequests}
}

func (s *Service) checkRateLimit(ctx context.Context, clientID string, now time.Time) error {
	if s.limiter == nil {
		return nil
	}
	result, err := s.limiter.counter.Increment(ctx, clientID, s.limiter.windowSeconds, s.limiter.maxRequests, now)
	if err != nil {
		s.logger.Warnf("tokenendpoint: rate limit counter error: %v", err)
	}
	if !result.Allowed {
		if s.metrics != nil {
			if rec, ok := s.metrics.(interface{ ObserveRateLimitRejection() }); ok {
				rec.ObserveRateLimitRejection()
			}
		}
		return oautherr.RateLimited(int(result.RetryAfter.Seconds()))
	}
	return nil
}

// NewService builds a token endpoint service from its collaborating stores.
func NewService(
	auth ClientAuthenticator,
	clients tenant.ClientStore,
	codes *store.AuthorizationCodeStore,
	rotator *store.RefreshTokenRotator,
	devices *store.DeviceCodeStore,
	ciba *store.CIBARequestStore,
	revocation *store.TokenRevocationStore,
	jtis *store.DPoPJTIStore,
	keys *keymanager.Manager,
	cfg Config,
	logger log.Logger,
) *Service {
	if cfg.DeviceMinPollInterval <= 0 {
		cfg.DeviceMinPollInterval = DefaultDeviceMinPollInterval
	}
	return &Service{
		auth: auth, clients: clients, codes: codes, rotator: rotator,
		devices: devices, ciba: ciba, revocation: revocation, jtis: jtis,
		keys: keys, cfg: cfg, logger: log.OrNop(logger),
	}
}

// Response is the successful token endpoint response shape.
type Response struct {
	AccessToken  string
	TokenType    string // "Bearer" or "DPoP"
	ExpiresIn    int
	IDToken      string
	RefreshToken string
	Scope        string
}

func splitScope(s string) []string {
	return strings.Fields(s)
}

func joinScope(scope []string) string {
	return strings.Join(scope, " ")
}

func hasScope(scope []string, want string) bool {
	for _, s := range scope {
		if s == want {
			return true
		}
	}
	return false
}

// verifyDPoP checks the proof presented with this request, if any, against
// the expected HTTP method/URL and replay barrier, returning its key
// thumbprint. An absent proof is not an error here — callers decide whether
// one was required.
func (s *Service) verifyDPoP(ctx context.Context, proof string, now time.Time) (jkt string, err error) {
	if proof == "" {
		return "", nil
	}
	_, jkt, err = dpop.CheckAndRecord(ctx, s.jtis, proof, "POST", s.cfg.TokenEndpointURL, DefaultDPoPProofTTL, now)
	if err != nil {
		if errors.Is(err, dpop.ErrReplayed) {
			if rec, ok := s.metrics.(interface{ ObserveDPoPReplayRejected() }); ok {
				rec.ObserveDPoPReplayRejected()
			}
		}
		return "", oautherr.New(oautherr.InvalidRequest, "invalid DPoP proof: %v", err)
	}
	return jkt, nil
}

func tokenType(jkt string) string {
	if jkt != "" {
		return "DPoP"
	}
	return "Bearer"
}

// ---------------------------------------------------------------------
// authorization_code
// ---------------------------------------------------------------------

// AuthorizationCodeRequest is the parsed grant_type=authorization_code
// request body.
type AuthorizationCodeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	Scope        string // optional; if present, must narrow the code's scope
	DPoPProof    string // optional RFC 9449 proof
}

// ExchangeAuthorizationCode implements the authorization_code grant: atomic
// consume, scope subset check, mint access/id/refresh tokens.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, req AuthorizationCodeRequest, now time.Time) (Response, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return Response{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantAuthorizationCode) {
		return Response{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the authorization_code grant")
	}

	jkt, err := s.verifyDPoP(ctx, req.DPoPProof, now)
	if err != nil {
		return Response{}, err
	}
	if client.RequireDPoP && jkt == "" {
		return Response{}, oautherr.New(oautherr.InvalidRequest, "DPoP proof is required for this client")
	}

	rec, err := s.codes.Consume(ctx, req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier, jkt, now)
	if err != nil {
		if err == store.ErrAlreadyConsumed {
			s.observeRotation(outcomeReuseDetected)
		}
		s.handleCodeReuse(ctx, req.Code, err, now)
		return Response{}, mapCodeConsumeError(err)
	}

	requestedScope := rec.Scope
	if req.Scope != "" {
		requestedScope = splitScope(req.Scope)
		if !scopeSubset(requestedScope, rec.Scope) {
			return Response{}, oautherr.New(oautherr.InvalidScope, "requested scope exceeds the scope granted to this code")
		}
	}

	resp, err := s.mintGrant(ctx, mintParams{
		TenantID:     tenantID,
		ClientID:     req.ClientID,
		UserID:       rec.UserID,
		Sub:          rec.Sub,
		Scope:        requestedScope,
		ACR:          rec.ACR,
		AMR:          rec.AMR,
		Nonce:        rec.Nonce,
		AuthTime:     rec.AuthTime,
		Code:         rec.Code,
		DPoPJKT:      jkt,
		IssueRefresh: client.AllowsGrantType(GrantRefreshToken),
	}, now)
	if err != nil {
		return Response{}, err
	}
	if resp.familyID != "" {
		if fErr := s.codes.SetIssuedFamily(ctx, rec.Code, resp.familyID); fErr != nil {
			s.logger.Warnf("tokenendpoint: record issued family for code: %v", fErr)
		}
	}
	return resp.Response, nil
}

// handleCodeReuse enforces the single-use code invariant: once a
// code has been consumed, any later exchange attempt must revoke the
// refresh family derived from it, not merely fail.
func (s *Service) handleCodeReuse(ctx context.Context, code string, consumeErr error, now time.Time) {
	if consumeErr != store.ErrAlreadyConsumed {
		return
	}
	rec, ok := s.codes.Peek(code)
	if !ok || rec.IssuedFamilyID == "" {
		return
	}
	if err := s.revocation.RevokeRefreshFamily(ctx, rec.IssuedFamilyID, now); err != nil {
		s.logger.Warnf("tokenendpoint: revoke family on code reuse: %v", err)
	}
}

func mapCodeConsumeError(err error) *oautherr.Error {
	switch err {
	case store.ErrNotFound, store.ErrAlreadyConsumed, store.ErrExpired,
		store.ErrClientMismatch, store.ErrRedirectMismatch,
		store.ErrPKCEMismatch, store.ErrDPoPMismatch:
		return oautherr.New(oautherr.InvalidGrant, "the authorization code is invalid, expired, or already used")
	default:
		return oautherr.New(oautherr.TemporarilyUnavailable, "storage error: %v", err)
	}
}

// ---------------------------------------------------------------------
// refresh_token
// ---------------------------------------------------------------------

// RefreshTokenRequest is the parsed grant_type=refresh_token request body.
type RefreshTokenRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scope        string // optional narrowing
	DPoPProof    string
}

// ExchangeRefreshToken implements the refresh_token grant: rotate, detect
// reuse, enforce scope narrowing and inherited DPoP binding, mint fresh
// access/refresh and (if openid remains in scope) id_token.
func (s *Service) ExchangeRefreshToken(ctx context.Context, req RefreshTokenRequest, now time.Time) (Response, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return Response{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantRefreshToken) {
		return Response{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the refresh_token grant")
	}

	jkt, err := s.verifyDPoP(ctx, req.DPoPProof, now)
	if err != nil {
		return Response{}, err
	}

	var requestedScope []string
	if req.Scope != "" {
		requestedScope = splitScope(req.Scope)
	}

	result, err := s.rotator.Exchange(ctx, req.RefreshToken, req.ClientID, store.ExchangeParams{
		RequestedScope:   requestedScope,
		PresentedDPoPJKT: jkt,
	}, s.cfg.RefreshTokenTTL, now)
	if err != nil {
		if err == store.ErrReuseDetected {
			s.observeRotation(outcomeReuseDetected)
		}
		return Response{}, mapRefreshExchangeError(err)
	}
	if requestedScope != nil {
		s.observeRotation(outcomeNarrowed)
	} else {
		s.observeRotation(outcomeRotated)
	}

	resp, err := s.mintGrant(ctx, mintParams{
		TenantID:      tenantID,
		ClientID:      req.ClientID,
		UserID:        result.Claims.UserID,
		Sub:           result.Claims.UserID,
		Scope:         result.Claims.Scope,
		ACR:           result.Claims.ACR,
		AMR:           result.Claims.AMR,
		Nonce:         result.Claims.Nonce,
		AuthTime:      now,
		DPoPJKT:       jkt,
		RefreshHandle: result.NewHandle,
	}, now)
	if err != nil {
		return Response{}, err
	}
	return resp.Response, nil
}

func mapRefreshExchangeError(err error) *oautherr.Error {
	switch err {
	case store.ErrReuseDetected:
		return oautherr.New(oautherr.InvalidGrant, "refresh token reuse detected; the token family has been revoked")
	case store.ErrScopeExpansion:
		return oautherr.New(oautherr.InvalidScope, "requested scope exceeds the scope granted to this refresh token")
	case store.ErrNotFound, store.ErrExpired, store.ErrClientMismatch, store.ErrDPoPMismatch:
		return oautherr.New(oautherr.InvalidGrant, "the refresh token is invalid or expired")
	default:
		return oautherr.New(oautherr.TemporarilyUnavailable, "storage error: %v", err)
	}
}

// ---------------------------------------------------------------------
// device_code (RFC 8628)
// ---------------------------------------------------------------------

// DeviceCodeRequest is the parsed
// grant_type=urn:ietf:params:oauth:grant-type:device_code request body.
type DeviceCodeRequest struct {
	ClientID     string
	ClientSecret string
	DeviceCode   string
	DPoPProof    string
}

// PollDeviceCode implements the device_code grant: slow_down while polled
// too fast, authorization_pending/access_denied/expired_token while
// unresolved, and token issuance exactly once on first observing approved.
func (s *Service) PollDeviceCode(ctx context.Context, req DeviceCodeRequest, now time.Time) (Response, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return Response{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantDeviceCode) {
		return Response{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the device_code grant")
	}

	jkt, err := s.verifyDPoP(ctx, req.DPoPProof, now)
	if err != nil {
		return Response{}, err
	}

	rec, err := s.devices.Poll(ctx, req.DeviceCode, s.cfg.DeviceMinPollInterval, now)
	if err != nil {
		return Response{}, mapPollError(err)
	}

	resp, err := s.mintGrant(ctx, mintParams{
		TenantID:     tenantID,
		ClientID:     req.ClientID,
		UserID:       rec.UserID,
		Sub:          rec.Sub,
		Scope:        rec.Scope,
		AuthTime:     now,
		DPoPJKT:      jkt,
		IssueRefresh: client.AllowsGrantType(GrantRefreshToken),
	}, now)
	if err != nil {
		return Response{}, err
	}
	return resp.Response, nil
}

// ---------------------------------------------------------------------
// ciba
// ---------------------------------------------------------------------

// CIBARequest is the parsed grant_type=urn:openid:params:grant-type:ciba
// request body.
type CIBARequest struct {
	ClientID     string
	ClientSecret string
	AuthReqID    string
	DPoPProof    string
}

// PollCIBA implements the ciba grant, analogous to device_code but keyed
// by auth_req_id.
func (s *Service) PollCIBA(ctx context.Context, req CIBARequest, now time.Time) (Response, error) {
	if err := s.checkRateLimit(ctx, req.ClientID, now); err != nil {
		return Response{}, err
	}
	tenantID, err := s.auth.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "client authentication failed")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return Response{}, oautherr.New(oautherr.InvalidClient, "unknown client")
	}
	if !client.AllowsGrantType(GrantCIBA) {
		return Response{}, oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the ciba grant")
	}

	jkt, err := s.verifyDPoP(ctx, req.DPoPProof, now)
	if err != nil {
		return Response{}, err
	}

	rec, err := s.ciba.Poll(ctx, req.AuthReqID, now)
	if err != nil {
		return Response{}, mapPollError(err)
	}

	resp, err := s.mintGrant(ctx, mintParams{
		TenantID:     tenantID,
		ClientID:     req.ClientID,
		UserID:       rec.UserID,
		Sub:          rec.Sub,
		Scope:        rec.Scope,
		AuthTime:     now,
		DPoPJKT:      jkt,
		IssueRefresh: client.AllowsGrantType(GrantRefreshToken),
	}, now)
	if err != nil {
		return Response{}, err
	}
	return resp.Response, nil
}

func mapPollError(err error) *oautherr.Error {
	switch err {
	case store.ErrSlowDown:
		return oautherr.New(oautherr.SlowDown, "polling too frequently")
	case store.ErrAuthorizationPending:
		return oautherr.New(oautherr.AuthorizationPending, "the end user has not yet completed the authorization request")
	case store.ErrAccessDenied:
		return oautherr.New(oautherr.AccessDenied, "the end user denied the authorization request")
	case store.ErrExpired:
		return oautherr.New(oautherr.ExpiredToken, "the device or backchannel authentication request has expired")
	case store.ErrAlreadyConsumed, store.ErrNotFound:
		return oautherr.New(oautherr.InvalidGrant, "the authorization request is unknown or already consumed")
	default:
		return oautherr.New(oautherr.TemporarilyUnavailable, "storage error: %v", err)
	}
}

// ---------------------------------------------------------------------
// shared token minting
// ---------------------------------------------------------------------

type mintParams struct {
	TenantID      string
	ClientID      string
	UserID        string
	Sub           string
	Scope         []string
	ACR           string
	AMR           []string
	Nonce         string
	AuthTime      time.Time
	Code          string // non-empty to include c_hash (authorization_code grant only)
	DPoPJKT       string
	IssueRefresh  bool
	RefreshHandle string // pre-rotated handle (refresh_token grant)
}

type mintResult struct {
	Response Response
	familyID string
}

// mintGrant mints access, id (iff openid in scope), and refresh (when
// requested) tokens for any grant, implementing the minting rules every
// grant shares: at_hash iff an access token is returned, c_hash iff a code is
// part of this exchange (authorization_code only), cnf.jkt iff DPoP-bound.
func (s *Service) mintGrant(ctx context.Context, p mintParams, now time.Time) (mintResult, error) {
	at, err := token.MintAccessToken(s.keys, token.AccessTokenRequest{
		TenantID: p.TenantID,
		Issuer:   s.cfg.Issuer,
		Alg:      s.cfg.Alg,
		Subject:  p.Sub,
		ClientID: p.ClientID,
		Scope:    p.Scope,
		ACR:      p.ACR,
		AMR:      p.AMR,
		DPoPJKT:  p.DPoPJKT,
		TTL:      s.cfg.AccessTokenTTL,
	}, now)
	if err != nil {
		return mintResult{}, oautherr.New(oautherr.ServerError, "mint access token: %v", err)
	}

	resp := Response{
		AccessToken: at.JWT,
		TokenType:   tokenType(p.DPoPJKT),
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       joinScope(p.Scope),
	}

	var familyID string
	if p.IssueRefresh {
		if p.RefreshHandle != "" {
			resp.RefreshToken = p.RefreshHandle
		} else {
			handle, fam, err := s.rotator.Mint(ctx, store.MintParams{
				ClientID: p.ClientID,
				UserID:   p.UserID,
				TenantID: p.TenantID,
				Scope:    p.Scope,
				ACR:      p.ACR,
				AMR:      p.AMR,
				DPoPJKT:  p.DPoPJKT,
				Nonce:    p.Nonce,
				TTL:      s.cfg.RefreshTokenTTL,
			}, now)
			if err != nil {
				return mintResult{}, oautherr.New(oautherr.ServerError, "mint refresh token: %v", err)
			}
			resp.RefreshToken = handle
			familyID = fam
			s.observeRotation(outcomeIssued)
		}
	} else if p.RefreshHandle != "" {
		resp.RefreshToken = p.RefreshHandle
	}

	if hasScope(p.Scope, "openid") {
		idt, _, err := token.MintIDToken(s.keys, token.IDTokenRequest{
			TenantID:    p.TenantID,
			Issuer:      s.cfg.Issuer,
			Alg:         s.cfg.Alg,
			Subject:     p.Sub,
			ClientID:    p.ClientID,
			Nonce:       p.Nonce,
			AuthTime:    p.AuthTime,
			ACR:         p.ACR,
			AMR:         p.AMR,
			AccessToken: at.JWT,
			Code:        p.Code,
			TTL:         s.cfg.IDTokenTTL,
		}, now)
		if err != nil {
			return mintResult{}, oautherr.New(oautherr.ServerError, "mint id token: %v", err)
		}
		resp.IDToken = idt
	}

	return mintResult{Response: resp, familyID: familyID}, nil
}

func scopeSubset(requested, granted []string) bool {
	allowed := make(map[string]struct{}, len(granted))
	for _, sc := range granted {
		allowed[sc] = struct{}{}
	}
	for _, sc := range requested {
		if _, ok := allowed[sc]; !ok {
			return false
		}
	}
	return true
}

// Dispatch routes a generic request by grant_type. Transport layers may call
// this directly or call the per-grant methods above.
func (s *Service) Dispatch(ctx context.Context, grantType string, body map[string]string, now time.Time) (Response, error) {
	switch grantType {
	case GrantAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, AuthorizationCodeRequest{
			ClientID:     body["client_id"],
			ClientSecret: body["client_secret"],
			Code:         body["code"],
			RedirectURI:  body["redirect_uri"],
			CodeVerifier: body["code_verifier"],
			Scope:        body["scope"],
			DPoPProof:    body["dpop_proof"],
		}, now)
	case GrantRefreshToken:
		return s.ExchangeRefreshToken(ctx, RefreshTokenRequest{
			ClientID:     body["client_id"],
			ClientSecret: body["client_secret"],
			RefreshToken: body["refresh_token"],
			Scope:        body["scope"],
			DPoPProof:    body["dpop_proof"],
		}, now)
	case GrantDeviceCode:
		return s.PollDeviceCode(ctx, DeviceCodeRequest{
			ClientID:     body["client_id"],
			ClientSecret: body["client_secret"],
			DeviceCode:   body["device_code"],
			DPoPProof:    body["dpop_proof"],
		}, now)
	case GrantCIBA:
		return s.PollCIBA(ctx, CIBARequest{
			ClientID:     body["client_id"],
			ClientSecret: body["client_secret"],
			AuthReqID:    body["auth_req_id"],
			DPoPProof:    body["dpop_proof"],
		}, now)
	default:
		return Response{}, oautherr.New(oautherr.UnsupportedGrantType, "unsupported grant_type %q", grantType)
	}
}
