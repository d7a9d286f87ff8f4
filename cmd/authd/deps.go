package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nullstack-id/authd/internal/admin"
	"github.com/nullstack-id/authd/internal/discovery"
	"github.com/nullstack-id/authd/internal/flow"
	"github.com/nullstack-id/authd/internal/keymanager"
	"github.com/nullstack-id/authd/internal/metrics"
	"github.com/nullstack-id/authd/internal/pii"
	"github.com/nullstack-id/authd/internal/settingsversion"
	"github.com/nullstack-id/authd/internal/store"
	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/internal/tokenendpoint"
	"github.com/nullstack-id/authd/pkg/log"
)

// algByName maps the SIGNING_ALG env value onto a go-jose algorithm,
// restricted to RS256, ES256, and EdDSA.
func algByName(name string) (jose.SignatureAlgorithm, error) {
	switch name {
	case "RS256":
		return jose.RS256, nil
	case "ES256":
		return jose.ES256, nil
	case "EdDSA":
		return jose.EdDSA, nil
	default:
		return "", fmt.Errorf("unsupported SIGNING_ALG %q (want RS256, ES256, or EdDSA)", name)
	}
}

// deps is every collaborator cmd/authd assembles from Config, grouped so
// serve's shutdown path can close them uniformly. An explicit dependency
// struct stands in for dex's ambient *server.Server fields: everything is
// constructed here and passed down explicitly, no package-level state.
type deps struct {
	logger log.Logger
	cfg    Config
	alg    jose.SignatureAlgorithm

	tenants *tenant.Registry
	auth    *tenant.Authenticator

	rotatingMu sync.Mutex
	rotating   map[string]bool // tenant IDs with a running key rotation loop

	sessions    *store.SessionStore
	codes       *store.AuthorizationCodeStore
	rotator     *store.RefreshTokenRotator
	challenges  *store.ChallengeStore
	devices     *store.DeviceCodeStore
	ciba        *store.CIBARequestStore
	par         *store.PARRequestStore
	jtis        *store.DPoPJTIStore
	revocation  *store.TokenRevocationStore
	rateLimiter *store.RateLimiterCounter
	flows       *store.FlowStateStore

	keys *keymanager.Manager

	engine      *flow.Engine
	tokens      *tokenendpoint.Service
	introspect  *admin.IntrospectionService
	revoke      *admin.RevocationService
	setupTokens *admin.SetupTokenStore

	partitionCache *pii.SettingsCache
	settings       *settingsversion.Store

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// buildDeps wires every store, the key manager, token endpoint, and flow
// engine from cfg, grounded on dex's cmd/dex/serve.go runServe: construct
// every storage/server collaborator up front, then hand them to whatever
// runs the protocol loop. This module has no HTTP layer to hand them to
// (out of scope), so serve's job ends at assembling deps and running the
// background maintenance loops every sharded store and the key manager need.
func buildDeps(cfg Config, logger log.Logger) (*deps, error) {
	alg, err := algByName(cfg.SigningAlg)
	if err != nil {
		return nil, err
	}

	tenants := tenant.NewRegistry()
	auth := tenant.NewAuthenticator(tenants)

	d := &deps{
		logger: logger,
		cfg:    cfg,
		alg:    alg,

		tenants:  tenants,
		auth:     auth,
		rotating: make(map[string]bool),

		sessions:   store.NewSessionStore(cfg.SessionShards, logger),
		codes:      store.NewAuthorizationCodeStore(cfg.CodeShards, logger),
		rotator:    store.NewRefreshTokenRotator(cfg.RefreshShards, logger),
		challenges: store.NewChallengeStore(cfg.ChallengeShards, logger),
		devices:    store.NewDeviceCodeStore(cfg.DeviceCodeShards, logger),
		ciba:       store.NewCIBARequestStore(cfg.CIBAShards, logger),
		par:        store.NewPARRequestStore(cfg.PARShards, logger),
		jtis:       store.NewDPoPJTIStore(cfg.DPoPJTIShards, logger),
		flows:      store.NewFlowStateStore(cfg.FlowStateShards, logger),

		partitionCache: pii.NewSettingsCache(10*time.Second, rand.Float64),
		settings:       settingsversion.New(cfg.SettingsShards, settingsversion.LoggingEventSink{Logger: logger}),

		registry: prometheus.NewRegistry(),
	}
	d.revocation = store.NewTokenRevocationStore(cfg.RevocationShards, d.rotator, logger)
	// Rate limiter fails open: fail-closed behavior is reserved for
	// brute-force-sensitive counters (SCIM auth, OTP), neither of which
	// lives on the token endpoint's grant dispatch path this limiter guards.
	d.rateLimiter = store.NewRateLimiterCounter(cfg.RateLimitShards, true, logger)

	d.metrics = metrics.New(d.registry)

	d.keys = keymanager.New(cfg.KeyManagerShards, keymanager.DefaultGracePeriod, logger)

	d.engine = flow.NewEngine(tenants, tenants, d.par, d.flows, d.codes, d.keys, flow.Config{
		Issuer:          cfg.IssuerURL,
		Alg:             alg,
		FlowTTL:         cfg.FlowTTL,
		CodeTTL:         cfg.CodeTTL,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		IDTokenTTL:      cfg.IDTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	}, logger)

	d.tokens = tokenendpoint.NewService(auth, tenants, d.codes, d.rotator, d.devices, d.ciba, d.revocation, d.jtis, d.keys, tokenendpoint.Config{
		Issuer:                cfg.IssuerURL,
		TokenEndpointURL:      cfg.IssuerURL + "/token",
		Alg:                   alg,
		AccessTokenTTL:        cfg.AccessTokenTTL,
		IDTokenTTL:            cfg.IDTokenTTL,
		RefreshTokenTTL:       cfg.RefreshTokenTTL,
		DeviceMinPollInterval: tokenendpoint.DefaultDeviceMinPollInterval,
	}, logger)
	d.tokens.SetMetrics(d.metrics)
	d.tokens.SetRateLimiter(d.rateLimiter, 60, 120)

	d.introspect = admin.NewIntrospectionService(auth, d.keys, d.revocation, d.rotator)
	d.revoke = admin.NewRevocationService(auth, d.revocation, d.rotator)
	d.setupTokens = admin.NewSetupTokenStore()

	return d, nil
}

// provisionTenant registers t and starts its signing key rotation loop, so
// a freshly onboarded tenant has live keys before its first /authorize
// request. The loop's first attempt runs synchronously (keymanager's
// StartRotationLoop ensures an active/next pair before returning), the
// same cold-start guarantee dex's startKeyRotation gives.
func (d *deps) provisionTenant(ctx context.Context, t tenant.Tenant) {
	d.tenants.PutTenant(t)
	d.startTenantRotation(ctx, t.TenantID)
}

// startKeyRotation starts the rotation loop for every tenant already in
// the registry. Safe to call after provisionTenant: a tenant whose loop is
// already running is skipped.
func (d *deps) startKeyRotation(ctx context.Context) {
	for _, id := range d.tenants.TenantIDs() {
		d.startTenantRotation(ctx, id)
	}
}

func (d *deps) startTenantRotation(ctx context.Context, tenantID string) {
	d.rotatingMu.Lock()
	if d.rotating[tenantID] {
		d.rotatingMu.Unlock()
		return
	}
	d.rotating[tenantID] = true
	d.rotatingMu.Unlock()

	d.keys.StartRotationLoop(ctx, tenantID, d.alg, d.cfg.KeyRotationInterval, time.Now)
}

// discoveryDocument builds the metadata document this deployment would
// publish at /.well-known/openid-configuration, given the
// grants and response types tokenendpoint/flow are actually wired for.
func (d *deps) discoveryDocument() discovery.Document {
	return discovery.Build(discovery.Config{
		Issuer:        d.cfg.IssuerURL,
		SupportedAlgs: []string{string(d.alg)},
		SupportedGrants: []string{
			tokenendpoint.GrantAuthorizationCode,
			tokenendpoint.GrantRefreshToken,
			tokenendpoint.GrantDeviceCode,
			tokenendpoint.GrantCIBA,
		},
		SupportedResponse: []string{
			"code", "id_token", "code id_token", "code token", "code id_token token",
		},
		DPoPSupported: true,
	})
}

// close releases every shard ring's worker goroutines: the key manager
// first, then each store, with the settings store last.
func (d *deps) close() {
	d.keys.Close()
	d.flows.Close()
	d.rateLimiter.Close()
	d.revocation.Close()
	d.jtis.Close()
	d.par.Close()
	d.ciba.Close()
	d.devices.Close()
	d.challenges.Close()
	d.rotator.Close()
	d.codes.Close()
	d.sessions.Close()
	d.settings.Close()
}

// queueDepthSources returns every background store's shard ring, named for
// the shard-queue-depth gauge metrics.RunQueueDepthReporter publishes.
func (d *deps) queueDepthSources() map[string]metrics.QueueDepthSource {
	return map[string]metrics.QueueDepthSource{
		"sessions":   d.sessions,
		"codes":      d.codes,
		"refresh":    d.rotator,
		"challenges": d.challenges,
		"devices":    d.devices,
		"ciba":       d.ciba,
		"par":        d.par,
		"dpop_jti":   d.jtis,
		"revocation": d.revocation,
		"ratelimit":  d.rateLimiter,
		"flows":      d.flows,
		"keys":       d.keys,
		"settings":   d.settings,
	}
}

// runMaintenanceLoops starts every background GC/reporting loop and blocks
// until ctx is cancelled. Grounded on dex's startKeyRotation shape
// (internal/keymanager.Manager.StartRotationLoop already provides the
// immediate-then-ticker rotation loop itself); this adds the equivalent
// sweep for every other sharded store's TTL'd records, since nothing else
// in the module prunes expired codes/sessions/challenges/device codes
// otherwise.
func (d *deps) runMaintenanceLoops(ctx context.Context, interval time.Duration, now func() time.Time) {
	go d.metrics.RunQueueDepthReporter(ctx, interval, d.queueDepthSources())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := now()
			d.codes.GarbageCollect(ctx, t)
			d.challenges.GarbageCollect(t)
			d.devices.GarbageCollect(t)
			d.ciba.GarbageCollect(t)
			d.par.GarbageCollect(t)
			d.jtis.GarbageCollect(t)
			d.revocation.GarbageCollect(t)
			d.rotator.GarbageCollect(t)
			d.rateLimiter.GarbageCollect(t)
			if _, err := d.sessions.GarbageCollect(ctx, t); err != nil {
				d.logger.Warnf("authd: session gc: %v", err)
			}
			d.flows.GarbageCollect(t)
		}
	}
}
