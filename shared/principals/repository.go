// Package principals reads and writes user accounts. Tenant principals live in
// the tenant's own store, reached only through the store router; platform
// operators live in the management database.
package principals

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/credentials"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
)

// StoreResolver hands out the store for an org
type StoreResolver interface {
	StoreFor(ctx context.Context, org string) (*tenancy.Store, error)
}

// Repository accesses principals inside tenant stores
type Repository struct {
	stores StoreResolver
}

func NewRepository(stores StoreResolver) *Repository {
	return &Repository{stores: stores}
}

// FindByEmail looks up a principal in org's store only
func (r *Repository) FindByEmail(ctx context.Context, org, email string) (*models.Principal, error) {
	store, err := r.stores.StoreFor(ctx, org)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)

	var p models.Principal
	if err := store.DB.WithContext(ctx).Where("email = ?", email).First(&p).Error; err != nil {
		return nil, translate(err, email)
	}
	return &p, nil
}

func (r *Repository) FindByID(ctx context.Context, org string, id uint) (*models.Principal, error) {
	store, err := r.stores.StoreFor(ctx, org)
	if err != nil {
		return nil, err
	}

	var p models.Principal
	if err := store.DB.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, strconv.FormatUint(uint64(id), 10))
	}
	return &p, nil
}

// Create registers a principal in org's store. The email must belong to the
// tenant's domain so the principal can later log in.
func (r *Repository) Create(ctx context.Context, org string, np models.NewPrincipal) (*models.Principal, error) {
	store, err := r.stores.StoreFor(ctx, org)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(np.Name)
	email := normalizeEmail(np.Email)
	if name == "" {
		return nil, apperrors.Validation("name", "is required")
	}
	if models.EmailDomain(email) != store.Domain {
		return nil, apperrors.Validation("email", "must belong to "+store.Domain)
	}

	hash, err := credentials.Hash(np.Password)
	if err != nil {
		return nil, err
	}

	p := &models.Principal{
		TenantOrg:      store.Org,
		Name:           name,
		Email:          email,
		HashedPassword: hash,
		IsActive:       true,
		IsAdmin:        np.IsAdmin,
	}
	if err := store.DB.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, r.conflict(ctx, store.DB, p)
		}
		return nil, apperrors.Unavailable("tenant store", err)
	}
	return p, nil
}

// conflict reports which unique field a failed insert collided on
func (r *Repository) conflict(ctx context.Context, db *gorm.DB, p *models.Principal) error {
	var n int64
	err := db.WithContext(ctx).Model(&models.Principal{}).Where("email = ?", p.Email).Count(&n).Error
	if err == nil && n == 0 {
		return apperrors.Conflict("principal", "name", p.Name)
	}
	return apperrors.Conflict("principal", "email", p.Email)
}

func translate(err error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("principal", key)
	}
	return apperrors.Unavailable("tenant store", err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
