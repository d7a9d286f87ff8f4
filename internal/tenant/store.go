package tenant

import (
	"context"
	"sort"
	"sync"
)

// Registry is an in-memory Tenant/Client registry, implementing both
// ClientStore and internal/flow.TenantStore. Grounded on dexidp/dex's
// storage/memory/memory.go in-memory storage.Storage: a mutex-guarded map
// per record type, since client/tenant registration is admin-time
// configuration rather than request-hot traffic and does not need the
// sharded single-writer treatment the rest of this module gives codes,
// tokens, and sessions.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	clients map[string]Client
}

// NewRegistry builds an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]Tenant),
		clients: make(map[string]Client),
	}
}

// PutTenant registers or replaces a tenant record.
func (r *Registry) PutTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.TenantID] = t
}

// PutClient registers or replaces a client record.
func (r *Registry) PutClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ClientID] = c
}

// TenantIDs returns every registered tenant's ID, sorted.
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetTenant implements internal/flow.TenantStore.
func (r *Registry) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrUnknownTenant
	}
	return t, nil
}

// GetClient implements ClientStore.
func (r *Registry) GetClient(ctx context.Context, clientID string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return Client{}, ErrUnknownClient
	}
	return c, nil
}
