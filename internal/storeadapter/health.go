package storeadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
)

// Registry aggregates health checks for the CORE adapter and every PII
// partition adapter currently open, using AppsFlyer/go-sundheit the way
// dex's go.mod pulls it in for storage health aggregation.
type Registry struct {
	health gosundheit.Health
}

// NewRegistry builds an empty health registry.
func NewRegistry() *Registry {
	return &Registry{health: gosundheit.New()}
}

// Register adds a periodic ping check for adapter under name.
func (r *Registry) Register(name string, adapter *Adapter, interval time.Duration) error {
	check, err := checks.NewPingCheck(name, pinger{adapter})
	if err != nil {
		return fmt.Errorf("build ping check for %s: %w", name, err)
	}
	return r.health.RegisterCheck(check, gosundheit.ExecutionPeriod(interval))
}

// Results returns the latest health snapshot for every registered adapter
// and whether the aggregate is healthy.
func (r *Registry) Results() (map[string]gosundheit.Result, bool) {
	return r.health.Results()
}

// pinger adapts Adapter to go-sundheit's checks.Pinger interface.
type pinger struct {
	a *Adapter
}

func (p pinger) PingContext(ctx context.Context) error {
	h := p.a.Health(ctx)
	if !h.Healthy {
		return fmt.Errorf("adapter %s unhealthy", p.a.Name())
	}
	return nil
}
