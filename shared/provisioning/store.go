package provisioning

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
)

var locatorPattern = regexp.MustCompile(`^tenant_[a-z0-9]+$`)

// PostgresAllocator creates tenant databases on the management server
type PostgresAllocator struct {
	db *gorm.DB
}

func NewPostgresAllocator(management *gorm.DB) *PostgresAllocator {
	return &PostgresAllocator{db: management}
}

// Create runs CREATE DATABASE. It cannot run inside a transaction.
func (a *PostgresAllocator) Create(ctx context.Context, locator string) error {
	ident, err := sanitizeLocator(locator)
	if err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Exec("CREATE DATABASE " + ident).Error; err != nil {
		return fmt.Errorf("create database %s: %w", locator, err)
	}
	return nil
}

func (a *PostgresAllocator) Drop(ctx context.Context, locator string) error {
	ident, err := sanitizeLocator(locator)
	if err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Exec("DROP DATABASE IF EXISTS " + ident).Error; err != nil {
		return fmt.Errorf("drop database %s: %w", locator, err)
	}
	return nil
}

func sanitizeLocator(locator string) (string, error) {
	if !locatorPattern.MatchString(locator) {
		return "", apperrors.Validation("store_locator", "unexpected format")
	}
	return pgx.Identifier{locator}.Sanitize(), nil
}

// GormSeeder migrates and seeds a tenant database through a short-lived handle
type GormSeeder struct {
	open tenancy.Opener
}

func NewGormSeeder(open tenancy.Opener) *GormSeeder {
	return &GormSeeder{open: open}
}

func (s *GormSeeder) Seed(ctx context.Context, locator string, principals []models.Principal) error {
	db, err := s.open(ctx, locator)
	if err != nil {
		return fmt.Errorf("open %s: %w", locator, err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := db.WithContext(ctx).AutoMigrate(&models.Principal{}); err != nil {
		return fmt.Errorf("migrate %s: %w", locator, err)
	}
	return insertPrincipals(ctx, db, principals)
}

func insertPrincipals(ctx context.Context, db *gorm.DB, principals []models.Principal) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&principals).Error; err != nil {
			return fmt.Errorf("insert seed principals: %w", err)
		}
		return nil
	})
}
