// Package tenancy maps org identifiers and public domains to tenant records
// and hands out cached handles to each tenant's isolated database.
package tenancy

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// Directory is the authoritative org -> store registry. Resolve and List
// only ever return active tenants.
type Directory interface {
	ResolveByDomain(ctx context.Context, domain string) (*models.TenantRecord, error)
	ResolveByOrg(ctx context.Context, org string) (*models.TenantRecord, error)
	List(ctx context.Context) ([]models.TenantRecord, error)

	// Reserve inserts a provisioning record under the unique org and domain
	// constraints. A duplicate yields ConflictError.
	Reserve(ctx context.Context, rec *models.TenantRecord) error
	// Activate makes a reserved record visible to resolution.
	Activate(ctx context.Context, org string) error
	// Release removes a reservation that never became active.
	Release(ctx context.Context, org string) error
	// Reservation returns the record for org only while it is still provisioning.
	Reservation(ctx context.Context, org string) (*models.TenantRecord, error)
}

// GormDirectory keeps tenant records in the management database
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory creates a directory on the management database.
// db should be opened with TranslateError so duplicates map to gorm.ErrDuplicatedKey.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Migrate creates the management schema
func (d *GormDirectory) Migrate() error {
	return d.db.AutoMigrate(&models.TenantRecord{}, &models.PlatformOperator{})
}

func (d *GormDirectory) ResolveByDomain(ctx context.Context, domain string) (*models.TenantRecord, error) {
	domain = models.NormalizeDomain(domain)
	var rec models.TenantRecord
	err := d.db.WithContext(ctx).
		Where("domain = ? AND status = ?", domain, models.TenantStatusActive).
		First(&rec).Error
	if err != nil {
		return nil, translateLookup(err, "tenant domain", domain)
	}
	return &rec, nil
}

func (d *GormDirectory) ResolveByOrg(ctx context.Context, org string) (*models.TenantRecord, error) {
	org = models.NormalizeOrg(org)
	var rec models.TenantRecord
	err := d.db.WithContext(ctx).
		Where("org = ? AND status = ?", org, models.TenantStatusActive).
		First(&rec).Error
	if err != nil {
		return nil, translateLookup(err, "tenant", org)
	}
	return &rec, nil
}

func (d *GormDirectory) List(ctx context.Context) ([]models.TenantRecord, error) {
	var recs []models.TenantRecord
	err := d.db.WithContext(ctx).
		Where("status = ?", models.TenantStatusActive).
		Order("org").
		Find(&recs).Error
	if err != nil {
		return nil, apperrors.Unavailable("tenant directory", err)
	}
	return recs, nil
}

func (d *GormDirectory) Reserve(ctx context.Context, rec *models.TenantRecord) error {
	rec.Org = models.NormalizeOrg(rec.Org)
	rec.Domain = models.NormalizeDomain(rec.Domain)
	rec.Status = models.TenantStatusProvisioning

	err := d.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Unavailable("tenant directory", err)
	}

	// the constraint name is driver specific, so look up which key collided
	var existing models.TenantRecord
	lookupErr := d.db.WithContext(ctx).Where("org = ?", rec.Org).First(&existing).Error
	switch {
	case lookupErr == nil:
		return apperrors.Conflict("tenant", "org", rec.Org)
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		return apperrors.Conflict("tenant", "domain", rec.Domain)
	default:
		return apperrors.Unavailable("tenant directory", lookupErr)
	}
}

func (d *GormDirectory) Activate(ctx context.Context, org string) error {
	org = models.NormalizeOrg(org)
	res := d.db.WithContext(ctx).Model(&models.TenantRecord{}).
		Where("org = ? AND status = ?", org, models.TenantStatusProvisioning).
		Update("status", models.TenantStatusActive)
	if res.Error != nil {
		return apperrors.Unavailable("tenant directory", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("tenant reservation", org)
	}
	return nil
}

func (d *GormDirectory) Release(ctx context.Context, org string) error {
	org = models.NormalizeOrg(org)
	err := d.db.WithContext(ctx).
		Where("org = ? AND status = ?", org, models.TenantStatusProvisioning).
		Delete(&models.TenantRecord{}).Error
	if err != nil {
		return apperrors.Unavailable("tenant directory", err)
	}
	return nil
}

func (d *GormDirectory) Reservation(ctx context.Context, org string) (*models.TenantRecord, error) {
	org = models.NormalizeOrg(org)
	var rec models.TenantRecord
	err := d.db.WithContext(ctx).
		Where("org = ? AND status = ?", org, models.TenantStatusProvisioning).
		First(&rec).Error
	if err != nil {
		return nil, translateLookup(err, "tenant reservation", org)
	}
	return &rec, nil
}

func translateLookup(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(entity, key)
	}
	return apperrors.Unavailable("tenant directory", err)
}
