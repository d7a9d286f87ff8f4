package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nullstack-id/authd/internal/storeadapter"
	"github.com/nullstack-id/authd/internal/tenant"
	"github.com/nullstack-id/authd/pkg/log"
)

// AdapterResolver hands the Writer the adapter serving a named PII
// partition. Implementations typically hold one storeadapter.Adapter per
// configured partition and fail for a partition they were never given.
type AdapterResolver interface {
	PartitionAdapter(partition string) (*storeadapter.Adapter, error)
}

// StaticAdapters is an AdapterResolver over a fixed partition -> adapter
// map, enough for deployments whose partitions are all known at startup.
type StaticAdapters map[string]*storeadapter.Adapter

// PartitionAdapter implements AdapterResolver.
func (s StaticAdapters) PartitionAdapter(partition string) (*storeadapter.Adapter, error) {
	a, ok := s[partition]
	if !ok {
		return nil, fmt.Errorf("pii: no adapter for partition %q", partition)
	}
	return a, nil
}

// Writer performs the split-user write sequence: a users_core row in the
// CORE store and a users_pii row in the user's resolved partition. The two
// inserts live in different databases, so there is no cross-partition
// transaction; instead the core row's pii_status closes the window —
// pending until the PII write lands, active after, failed if it errors.
// The core row is never rolled back; a pending/failed user is surfaced for
// retry.
type Writer struct {
	core     *storeadapter.Adapter
	resolver AdapterResolver
	logger   log.Logger
}

// NewWriter builds a Writer over the CORE adapter and a partition resolver.
func NewWriter(core *storeadapter.Adapter, resolver AdapterResolver, logger log.Logger) *Writer {
	return &Writer{core: core, resolver: resolver, logger: log.OrNop(logger)}
}

// CreateUser inserts the user's core row as pending, writes the PII row
// into partition, then flips pii_status to active. On a PII write failure
// the core row is marked failed and the error returned; the user exists
// either way and a later RetryPII can finish the job.
func (w *Writer) CreateUser(ctx context.Context, core tenant.CoreUser, pii tenant.PIIUser, partition string, now time.Time) error {
	core.PIIPartition = partition
	core.PIIStatus = tenant.PIIPending
	core.CreatedAt = now
	core.UpdatedAt = now

	if _, err := w.core.Execute(ctx,
		`INSERT INTO users_core (tenant_id, user_id, is_active, user_type, pii_partition, pii_status, created_at, updated_at, email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		core.TenantID, core.UserID, core.IsActive, string(core.UserType),
		core.PIIPartition, string(core.PIIStatus),
		core.CreatedAt.UnixMilli(), core.UpdatedAt.UnixMilli(), core.EmailVerified,
	); err != nil {
		return fmt.Errorf("pii: insert users_core: %w", err)
	}

	if err := w.writePII(ctx, pii, partition); err != nil {
		w.setStatus(ctx, core.TenantID, core.UserID, tenant.PIIFailed, now)
		return fmt.Errorf("pii: write pii row: %w", err)
	}

	return w.setStatus(ctx, core.TenantID, core.UserID, tenant.PIIActive, now)
}

// RetryPII reattempts the PII write for a user stuck in pending or failed.
func (w *Writer) RetryPII(ctx context.Context, core tenant.CoreUser, pii tenant.PIIUser, now time.Time) error {
	if core.PIIStatus != tenant.PIIPending && core.PIIStatus != tenant.PIIFailed {
		return fmt.Errorf("pii: user %s is %s, nothing to retry", core.UserID, core.PIIStatus)
	}
	if err := w.writePII(ctx, pii, core.PIIPartition); err != nil {
		w.setStatus(ctx, core.TenantID, core.UserID, tenant.PIIFailed, now)
		return fmt.Errorf("pii: write pii row: %w", err)
	}
	return w.setStatus(ctx, core.TenantID, core.UserID, tenant.PIIActive, now)
}

// EraseUser implements GDPR erasure: the PII row is deleted from its
// partition, a tombstone is recorded in CORE, and pii_status moves to
// deleted. The core row itself is retained as a tombstoned record.
func (w *Writer) EraseUser(ctx context.Context, core tenant.CoreUser, now time.Time) error {
	adapter, err := w.resolver.PartitionAdapter(core.PIIPartition)
	if err != nil {
		return err
	}
	if _, err := adapter.Execute(ctx,
		`DELETE FROM users_pii WHERE tenant_id = $1 AND user_id = $2`,
		core.TenantID, core.UserID,
	); err != nil {
		return fmt.Errorf("pii: delete pii row: %w", err)
	}

	_, err = w.core.Batch(ctx, []storeadapter.Statement{
		{
			Query: `INSERT INTO tombstones (tenant_id, user_id, erased_at) VALUES ($1, $2, $3)`,
			Args:  []any{core.TenantID, core.UserID, now.UnixMilli()},
		},
		{
			Query: `UPDATE users_core SET pii_status = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4`,
			Args:  []any{string(tenant.PIIDeleted), now.UnixMilli(), core.TenantID, core.UserID},
		},
	})
	if err != nil {
		return fmt.Errorf("pii: record erasure: %w", err)
	}
	return nil
}

// GetCoreUser reads a user's core row, for partition resolution of an
// existing user.
func (w *Writer) GetCoreUser(ctx context.Context, tenantID, userID string) (tenant.CoreUser, bool, error) {
	return storeadapter.QueryOne(ctx, w.core,
		`SELECT tenant_id, user_id, is_active, user_type, pii_partition, pii_status, created_at, updated_at, email_verified
		 FROM users_core WHERE tenant_id = $1 AND user_id = $2`,
		[]any{tenantID, userID},
		func(row *sql.Row) (tenant.CoreUser, error) {
			var u tenant.CoreUser
			var userType, status string
			var createdAt, updatedAt int64
			err := row.Scan(&u.TenantID, &u.UserID, &u.IsActive, &userType, &u.PIIPartition, &status, &createdAt, &updatedAt, &u.EmailVerified)
			if err != nil {
				return tenant.CoreUser{}, err
			}
			u.UserType = tenant.UserType(userType)
			u.PIIStatus = tenant.PIIStatus(status)
			u.CreatedAt = time.UnixMilli(createdAt)
			u.UpdatedAt = time.UnixMilli(updatedAt)
			return u, nil
		})
}

func (w *Writer) writePII(ctx context.Context, pii tenant.PIIUser, partition string) error {
	adapter, err := w.resolver.PartitionAdapter(partition)
	if err != nil {
		return err
	}
	address, err := json.Marshal(pii.Address)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}
	custom, err := json.Marshal(pii.CustomAttrs)
	if err != nil {
		return fmt.Errorf("marshal custom attributes: %w", err)
	}
	_, err = adapter.Execute(ctx,
		`INSERT INTO users_pii (user_id, tenant_id, email, name, preferred_username, phone, address, custom_attrs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pii.UserID, pii.TenantID, pii.Email, pii.Name, pii.PreferredUsername, pii.Phone,
		string(address), string(custom),
	)
	return err
}

func (w *Writer) setStatus(ctx context.Context, tenantID, userID string, status tenant.PIIStatus, now time.Time) error {
	_, err := w.core.Execute(ctx,
		`UPDATE users_core SET pii_status = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4`,
		string(status), now.UnixMilli(), tenantID, userID,
	)
	if err != nil {
		w.logger.Errorf("pii: update pii_status to %s for %s/%s: %v", status, tenantID, userID, err)
	}
	return err
}
