package search

import (
	"context"

	"go.uber.org/zap"
)

// TenantSource reports the tenants that still exist in the system of record.
type TenantSource interface {
	ActiveTenants(ctx context.Context) ([]string, error)
}

// tenantEvicter is the slice of the driver the cleaner needs.
type tenantEvicter interface {
	Tenants(ctx context.Context) ([]string, error)
	RemoveTenants(ctx context.Context, tenants []string) error
}

// Cleaner removes search data for tenants that no longer exist in the system
// of record. Deleted tenants leave documents behind because deletion happens
// outside any indexing transaction; the cleaner reconciles periodically.
type Cleaner struct {
	driver tenantEvicter
	source TenantSource
	log    *zap.Logger
}

func NewCleaner(driver tenantEvicter, source TenantSource, log *zap.Logger) *Cleaner {
	return &Cleaner{driver: driver, source: source, log: log}
}

// Run performs one reconciliation pass and returns the tenants it evicted.
func (c *Cleaner) Run(ctx context.Context) ([]string, error) {
	indexed, err := c.driver.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	if len(indexed) == 0 {
		return nil, nil
	}

	active, err := c.source.ActiveTenants(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(active))
	for _, t := range active {
		known[t] = struct{}{}
	}

	var orphans []string
	for _, t := range indexed {
		if _, ok := known[t]; !ok {
			orphans = append(orphans, t)
		}
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	if err := c.driver.RemoveTenants(ctx, orphans); err != nil {
		return nil, err
	}
	c.log.Info("evicted orphaned tenants", zap.Int("count", len(orphans)))
	return orphans, nil
}
