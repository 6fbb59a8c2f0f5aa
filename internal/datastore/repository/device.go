package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
)

// DeviceDirectory answers which tenants exist and which devices belong to
// a device type. It is read-only for the engine.
type DeviceDirectory interface {
	ListTenants(ctx context.Context) ([]string, error)
	DevicesOfType(ctx context.Context, tenantID string, typeIDs ...string) ([]string, error)
}

// DeviceRepository adds device registration on top of the directory.
type DeviceRepository interface {
	DeviceDirectory
	SaveDevice(ctx context.Context, device *entities.Device) error
}

// deviceRepository implements DeviceRepository over the devices table.
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// ListTenants returns the distinct tenants that own at least one device.
func (r *deviceRepository) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.WithContext(ctx).Model(&entities.Device{}).
		Distinct().
		Order("tenant_id ASC").
		Pluck("tenant_id", &tenants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// DevicesOfType returns the tenant's device IDs whose type is in typeIDs.
func (r *deviceRepository) DevicesOfType(ctx context.Context, tenantID string, typeIDs ...string) ([]string, error) {
	if len(typeIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.Device{}).
		Where("tenant_id = ? AND device_type_id IN ?", tenantID, typeIDs).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list devices of type for tenant %s: %w", tenantID, err)
	}
	return ids, nil
}

// SaveDevice inserts or updates a device by ID.
func (r *deviceRepository) SaveDevice(ctx context.Context, device *entities.Device) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "device_type_id", "name"}),
	}).Create(device).Error
	if err != nil {
		return fmt.Errorf("failed to save device %s: %w", device.ID, err)
	}
	return nil
}

const tenantsCacheKey = "tenants"

// CachedDirectory memoises directory lookups for a TTL so the evaluation
// loop does not re-read device rows every cycle.
type CachedDirectory struct {
	next  DeviceDirectory
	cache *cache.Cache
}

// NewCachedDirectory wraps next with a TTL cache. A non-positive ttl
// defaults to one minute.
func NewCachedDirectory(next DeviceDirectory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedDirectory{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// ListTenants returns the cached tenant list, refreshing it on expiry.
func (c *CachedDirectory) ListTenants(ctx context.Context) ([]string, error) {
	if v, ok := c.cache.Get(tenantsCacheKey); ok {
		return slices.Clone(v.([]string)), nil
	}
	tenants, err := c.next.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(tenantsCacheKey, slices.Clone(tenants))
	return tenants, nil
}

// DevicesOfType returns cached device IDs for the tenant and type set.
func (c *CachedDirectory) DevicesOfType(ctx context.Context, tenantID string, typeIDs ...string) ([]string, error) {
	key := typesCacheKey(tenantID, typeIDs)
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.([]string)), nil
	}
	ids, err := c.next.DevicesOfType(ctx, tenantID, typeIDs...)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, slices.Clone(ids))
	return ids, nil
}

// Invalidate drops every cached entry.
func (c *CachedDirectory) Invalidate() {
	c.cache.Flush()
}

func typesCacheKey(tenantID string, typeIDs []string) string {
	sorted := slices.Clone(typeIDs)
	slices.Sort(sorted)
	return "types:" + tenantID + ":" + strings.Join(sorted, ",")
}
