package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/oidccrypto"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/internal/token"
	"github.com/nullstack-id/authd/pkg/log"
)

// ErrWrongState is returned when a transition is attempted from a state
// that does not permit it.
var ErrWrongState = errors.New("flow: transition not valid from current state")

const (
	StateReceived        = "Received"
	StateValidated       = "Validated"
	StatePARConsumed     = "PAR-Consumed"
	StateAuthenticated   = "Authenticated"
	StateMFARequired     = "MFA-Required"
	StateConsentRequired = "Consent-Required"
	StateComplete        = "Complete"
	StateError           = "Error"
)

// Config carries the fixed parameters an Engine needs beyond its
// collaborators: issuer string, artifact lifetimes, and the signing
// algorithm to mint with.
type Config struct {
	Issuer          string
	Alg             jose.SignatureAlgorithm
	FlowTTL         time.Duration
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration
}

// Engine drives the /authorize state machine. It owns no HTTP
// concerns: callers parse the request, drive Validate/Start/Authenticate/
// Complete, and render whatever Response comes back.
type Engine struct {
	clients tenant.ClientStore
	tenants TenantStore
	par     *store.PARRequestStore
	flows   *store.FlowStateStore
	codes   *store.AuthorizationCodeStore
	keys    *keymanager.Manager
	cfg     Config
	logger  log.Logger
}

// NewEngine builds a flow engine from its collaborating stores.
func NewEngine(clients tenant.ClientStore, tenants TenantStore, par *store.PARRequestStore, flows *store.FlowStateStore, codes *store.AuthorizationCodeStore, keys *keymanager.Manager, cfg Config, logger log.Logger) *Engine {
	return &Engine{clients: clients, tenants: tenants, par: par, flows: flows, codes: codes, keys: keys, cfg: cfg, logger: logger}
}

// Start records a validated request as a new flow and returns its flow_id.
// The flow enters PAR-Consumed if a PAR request_uri was redeemed, otherwise
// Validated.
func (e *Engine) Start(ctx context.Context, vr ValidatedRequest, now time.Time) (string, error) {
	flowID := uuid.NewString()
	state := StateValidated
	if vr.PAR != nil {
		state = StatePARConsumed
	}
	rec := store.FlowState{
		FlowID:   flowID,
		TenantID: vr.TenantID,
		ClientID: vr.ClientID,
		State:    state,
		AuthRequest: store.AuthorizationRequestParams{
			ClientID:      vr.ClientID,
			RedirectURI:   vr.RedirectURI,
			ResponseTypes: vr.ResponseTypes(),
			Scope:         vr.EffectiveScopes,
			State:         vr.State,
			Nonce:         vr.Nonce,
			PKCE: store.PKCE{
				CodeChallenge:       vr.CodeChallenge,
				CodeChallengeMethod: vr.CodeChallengeMethod,
			},
			DPoPJKT:      vr.DPoPJKT,
			ResponseMode: vr.ResponseMode,
			Prompt:       vr.Prompts(),
		},
	}
	if err := e.flows.Create(ctx, rec, e.cfg.FlowTTL, now); err != nil {
		return "", err
	}
	return flowID, nil
}

// Authenticate records a successful login against the flow, accumulating
// amr/acr. Valid from Validated, PAR-Consumed, or MFA-Required.
func (e *Engine) Authenticate(ctx context.Context, flowID, userID string, amr []string, acr string, now time.Time) (store.FlowState, error) {
	return e.flows.Transition(ctx, flowID, now, func(fs store.FlowState) (store.FlowState, error) {
		switch fs.State {
		case StateValidated, StatePARConsumed, StateMFARequired:
		default:
			return fs, ErrWrongState
		}
		fs.UserID = userID
		fs.AMR = appendUnique(fs.AMR, amr...)
		if acr != "" {
			fs.ACR = acr
		}
		fs.State = StateAuthenticated
		return fs, nil
	})
}

// RequireMFA moves an authenticated flow into MFA-Required, e.g. because a
// risk policy outside this package demanded a second factor.
func (e *Engine) RequireMFA(ctx context.Context, flowID string, now time.Time) (store.FlowState, error) {
	return e.flows.Transition(ctx, flowID, now, func(fs store.FlowState) (store.FlowState, error) {
		if fs.State != StateAuthenticated {
			return fs, ErrWrongState
		}
		fs.State = StateMFARequired
		return fs, nil
	})
}

// RequireConsent moves an authenticated flow into Consent-Required, e.g.
// because the client is requesting scopes the user has not previously
// approved, or prompt=consent was presented.
func (e *Engine) RequireConsent(ctx context.Context, flowID string, now time.Time) (store.FlowState, error) {
	return e.flows.Transition(ctx, flowID, now, func(fs store.FlowState) (store.FlowState, error) {
		if fs.State != StateAuthenticated {
			return fs, ErrWrongState
		}
		fs.State = StateConsentRequired
		return fs, nil
	})
}

// GrantConsent returns a Consent-Required flow to Authenticated once the
// user has approved the requested scopes.
func (e *Engine) GrantConsent(ctx context.Context, flowID string, now time.Time) (store.FlowState, error) {
	return e.flows.Transition(ctx, flowID, now, func(fs store.FlowState) (store.FlowState, error) {
		if fs.State != StateConsentRequired {
			return fs, ErrWrongState
		}
		fs.State = StateAuthenticated
		return fs, nil
	})
}

// Fail moves a flow to Error; the caller typically reports this back to
// the client via the flow's stored redirect_uri.
func (e *Engine) Fail(ctx context.Context, flowID string, now time.Time) error {
	_, err := e.flows.Transition(ctx, flowID, now, func(fs store.FlowState) (store.FlowState, error) {
		fs.State = StateError
		return fs, nil
	})
	return err
}

func appendUnique(existing []string, add ...string) []string {
	out := existing
	for _, a := range add {
		found := false
		for _, e := range out {
			if e == a {
				found = true
				break
			}
		}
		if !found {
			out = append(out, a)
		}
	}
	return out
}

// Complete mints the artifacts the flow's response_types call for,
// assembles the Response parameters, and deletes the flow state (single
// use). Valid only from Authenticated.
func (e *Engine) Complete(ctx context.Context, flowID string, now time.Time) (Response, error) {
	fs, err := e.flows.Get(flowID, now)
	if err != nil {
		return Response{}, err
	}
	if fs.State != StateAuthenticated {
		return Response{}, ErrWrongState
	}
	req := fs.AuthRequest
	kinds, _ := parseResponseKinds(req.ResponseTypes)

	resp := Response{
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
		Params:       map[string]string{},
	}
	if req.State != "" {
		resp.Params["state"] = req.State
	}

	var code, accessToken string
	if kinds.code {
		code = oidccrypto.NewOpaqueToken(96)
		if err := e.codes.Store(ctx, store.AuthorizationCode{
			Code:        code,
			TenantID:    fs.TenantID,
			ClientID:    fs.ClientID,
			UserID:      fs.UserID,
			Sub:         fs.UserID,
			RedirectURI: req.RedirectURI,
			Scope:       req.Scope,
			Nonce:       req.Nonce,
			AuthTime:    now,
			ACR:         fs.ACR,
			AMR:         fs.AMR,
			PKCE:        req.PKCE,
			DPoPJKT:     req.DPoPJKT,
		}, e.cfg.CodeTTL, now); err != nil {
			return Response{}, fmt.Errorf("flow: store authorization code: %w", err)
		}
		resp.Params["code"] = code
	}

	if kinds.token {
		at, err := token.MintAccessToken(e.keys, token.AccessTokenRequest{
			TenantID: fs.TenantID,
			Issuer:   e.cfg.Issuer,
			Alg:      e.cfg.Alg,
			Subject:  fs.UserID,
			ClientID: fs.ClientID,
			Scope:    req.Scope,
			ACR:      fs.ACR,
			AMR:      fs.AMR,
			DPoPJKT:  req.DPoPJKT,
			TTL:      e.cfg.AccessTokenTTL,
		}, now)
		if err != nil {
			return Response{}, fmt.Errorf("flow: mint access token: %w", err)
		}
		accessToken = at.JWT
		resp.Params["access_token"] = at.JWT
		resp.Params["token_type"] = "Bearer"
		resp.Params["expires_in"] = strconv.Itoa(int(e.cfg.AccessTokenTTL.Seconds()))
	}

	if kinds.idToken {
		idt, _, err := token.MintIDToken(e.keys, token.IDTokenRequest{
			TenantID:    fs.TenantID,
			Issuer:      e.cfg.Issuer,
			Alg:         e.cfg.Alg,
			Subject:     fs.UserID,
			ClientID:    fs.ClientID,
			Nonce:       req.Nonce,
			AuthTime:    now,
			ACR:         fs.ACR,
			AMR:         fs.AMR,
			AccessToken: accessToken,
			Code:        code,
			TTL:         e.cfg.IDTokenTTL,
		}, now)
		if err != nil {
			return Response{}, fmt.Errorf("flow: mint id token: %w", err)
		}
		resp.Params["id_token"] = idt
	}

	if err := e.flows.Complete(ctx, flowID); err != nil {
		return Response{}, err
	}
	return resp, nil
}
