package main

import (
	"context"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/pkg/log"
)

func commandServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Assemble the authorization server core and run its background maintenance loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe reads Config from the environment, assembles every collaborator
// via buildDeps, provisions the bootstrap tenant (starting its signing key
// rotation loop), and blocks running the shard queue-depth reporter and
// the per-store TTL sweeps until it receives SIGINT/SIGTERM. Grounded on
// dex's cmd/dex/serve.go runServe: a single function that builds storage +
// server and runs until shutdown — minus the health checks and the part
// that listens on a socket, since HTTP framing is out of this module's
// scope.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := log.Default()

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("authd: issuer=%s alg=%s starting", cfg.IssuerURL, cfg.SigningAlg)

	// Without a provisioned tenant there are no signing keys, and nothing
	// downstream can mint a token. Further tenants provisioned at runtime go
	// through provisionTenant the same way.
	d.provisionTenant(ctx, tenant.Tenant{
		TenantID:         "default",
		BaseDomain:       issuerHost(cfg.IssuerURL),
		DefaultPartition: "default",
	})
	d.startKeyRotation(ctx)

	doc := d.discoveryDocument()
	logger.Infof("authd: discovery document assembled: token_endpoint=%s jwks_uri=%s", doc.TokenEndpoint, doc.JWKSURI)

	d.runMaintenanceLoops(ctx, 30*time.Second, time.Now)

	logger.Infof("authd: shutting down")
	return nil
}

func issuerHost(issuerURL string) string {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
