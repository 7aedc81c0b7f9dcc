package principals

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/config"
	"github.com/pavitra93/go-tenant-isolation/shared/credentials"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// Operators accesses platform operators in the management database
type Operators struct {
	db *gorm.DB
}

func NewOperators(management *gorm.DB) *Operators {
	return &Operators{db: management}
}

func (o *Operators) FindByEmail(ctx context.Context, email string) (*models.PlatformOperator, error) {
	email = normalizeEmail(email)
	var op models.PlatformOperator
	if err := o.db.WithContext(ctx).Where("email = ?", email).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("platform operator", email)
		}
		return nil, apperrors.Unavailable("management database", err)
	}
	return &op, nil
}

// EnsureBootstrap creates the configured operator when the table is empty.
// It returns false when operators already exist or none is configured.
func (o *Operators) EnsureBootstrap(ctx context.Context, b config.BootstrapOperator, platformDomain string) (bool, error) {
	if b.Password == "" {
		logrus.Warn("PLATFORM_ADMIN_PASSWORD not set, skipping operator bootstrap")
		return false, nil
	}

	var n int64
	if err := o.db.WithContext(ctx).Model(&models.PlatformOperator{}).Count(&n).Error; err != nil {
		return false, apperrors.Unavailable("management database", err)
	}
	if n > 0 {
		return false, nil
	}

	email := normalizeEmail(b.Email)
	if email == "" {
		email = normalizeEmail(b.Username + "@" + platformDomain)
	}
	if models.EmailDomain(email) != models.NormalizeDomain(platformDomain) {
		return false, apperrors.Validation("email", "operator must use the platform domain")
	}

	hash, err := credentials.Hash(b.Password)
	if err != nil {
		return false, err
	}
	op := &models.PlatformOperator{
		Username:       b.Username,
		Email:          email,
		HashedPassword: hash,
		IsActive:       true,
	}
	if err := o.db.WithContext(ctx).Create(op).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, apperrors.Unavailable("management database", err)
	}

	logrus.WithField("email", email).Info("Bootstrap platform operator created")
	return true, nil
}
