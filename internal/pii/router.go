// Package pii implements the PII Partition Router: resolving which
// storage partition a user's personally identifiable data lives in,
// following a trust hierarchy from tenant policy down to IP-based
// geo-routing. Grounded on the storeadapter.Adapter's Flavor-keyed dispatch
// (choosing a backend by a precomputed classification) generalized here to
// choosing a partition by a layered policy instead of a static flavor
// field.
package pii

import (
	"sort"
	"sync"
	"time"
)

// Method names the rule that resolved a partition, for audit logging.
type Method string

const (
	MethodTenantPolicy      Method = "tenant_policy"
	MethodDeclaredResidence Method = "declared_residence"
	MethodCustomRule        Method = "custom_rule"
	MethodIPRouting         Method = "ip_routing"
	MethodDefault           Method = "default"
)

// Operator is a comparison operator usable in a CustomRule.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNe    Operator = "ne"
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"
	OpGt    Operator = "gt"
	OpLt    Operator = "lt"
	OpGte   Operator = "gte"
	OpLte   Operator = "lte"
)

// CustomRule is one ascending-priority rule tried during partition
// resolution.
type CustomRule struct {
	Priority        int
	Attribute       string
	Operator        Operator
	Value           any
	TargetPartition string
}

// PartitionSettings is the full policy consulted when resolving a
// partition for a new user.
type PartitionSettings struct {
	TenantPartitions     map[string]string // tenant_id -> partition
	CustomRules          []CustomRule      // evaluated ascending by Priority
	IPRoutingEnabled     bool
	CountryToPartition   map[string]string
	DefaultPartition     string
	RegisteredPartitions map[string]bool
}

// NewUserInput is the identity data available when a user is first seen.
type NewUserInput struct {
	TenantID          string
	Attributes        map[string]any // includes any declared-residence field
	DeclaredResidence string         // empty if not declared
	CountryCode       string         // resolved from request IP, empty if unknown
}

// Resolution is the outcome of resolving a partition.
type Resolution struct {
	Partition string
	Method    Method
}

// ResolveForNewUser resolves a first-seen user in trust order: tenant policy,
// then declared residence, then custom rules sorted by ascending priority,
// then IP routing, then the default partition.
func ResolveForNewUser(settings PartitionSettings, input NewUserInput) Resolution {
	if p, ok := settings.TenantPartitions[input.TenantID]; ok && p != "" {
		return Resolution{Partition: p, Method: MethodTenantPolicy}
	}
	if input.DeclaredResidence != "" {
		return Resolution{Partition: input.DeclaredResidence, Method: MethodDeclaredResidence}
	}
	if p, ok := matchCustomRule(settings, input); ok {
		return Resolution{Partition: p, Method: MethodCustomRule}
	}
	if settings.IPRoutingEnabled && input.CountryCode != "" {
		if p, ok := settings.CountryToPartition[input.CountryCode]; ok && p != "" {
			return Resolution{Partition: p, Method: MethodIPRouting}
		}
	}
	return Resolution{Partition: settings.DefaultPartition, Method: MethodDefault}
}

func matchCustomRule(settings PartitionSettings, input NewUserInput) (string, bool) {
	rules := make([]CustomRule, len(settings.CustomRules))
	copy(rules, settings.CustomRules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		if !settings.RegisteredPartitions[rule.TargetPartition] {
			continue
		}
		val, ok := input.Attributes[rule.Attribute]
		if !ok {
			continue
		}
		if evaluateRule(rule.Operator, val, rule.Value) {
			return rule.TargetPartition, true
		}
	}
	return "", false
}

// ResolveForExistingUser resolves a returning
// user: their stored partition, or the default if it was never recorded.
func ResolveForExistingUser(storedPartition, defaultPartition string) string {
	if storedPartition != "" {
		return storedPartition
	}
	return defaultPartition
}

// cacheEntry is one cached PartitionSettings snapshot.
type cacheEntry struct {
	settings  PartitionSettings
	expiresAt time.Time
}

// SettingsCache caches PartitionSettings per tenant with a TTL of at most
// 10s, cleaning up expired entries probabilistically (10%
// chance per read) plus a forced sweep once the cache exceeds 100 entries,
// so a busy deployment never accumulates unbounded cached tenants.
type SettingsCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	rand    func() float64
	maxIdle int
}

// NewSettingsCache builds a cache with the given TTL (clamped to 10s) and a
// source of randomness for the probabilistic sweep (pass rand.Float64 in
// production; tests can inject a deterministic source).
func NewSettingsCache(ttl time.Duration, randFloat64 func() float64) *SettingsCache {
	if ttl <= 0 || ttl > 10*time.Second {
		ttl = 10 * time.Second
	}
	return &SettingsCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		rand:    randFloat64,
		maxIdle: 100,
	}
}

// Get returns the cached settings for tenantID if present and unexpired.
func (c *SettingsCache) Get(tenantID string, now time.Time) (PartitionSettings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeCleanLocked(now)

	e, ok := c.entries[tenantID]
	if !ok || now.After(e.expiresAt) {
		return PartitionSettings{}, false
	}
	return e.settings, true
}

// Put caches settings for tenantID for the cache's TTL.
func (c *SettingsCache) Put(tenantID string, settings PartitionSettings, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = cacheEntry{settings: settings, expiresAt: now.Add(c.ttl)}
}

func (c *SettingsCache) maybeCleanLocked(now time.Time) {
	forced := len(c.entries) > c.maxIdle
	probabilistic := c.rand != nil && c.rand() < 0.10
	if !forced && !probabilistic {
		return
	}
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
