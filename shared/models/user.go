package models

import (
	"strings"
	"time"
)

// Principal represents a user stored inside one tenant's isolated database
type Principal struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	TenantOrg      string    `json:"tenant_org" gorm:"type:varchar(50);not null"`
	Name           string    `json:"name" gorm:"type:varchar(50);not null;uniqueIndex"`
	Email          string    `json:"email" gorm:"type:varchar(100);not null;uniqueIndex"`
	HashedPassword string    `json:"-" gorm:"type:varchar(255);not null"`
	IsActive       bool      `json:"is_active" gorm:"default:true"`
	IsAdmin        bool      `json:"is_admin" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Principal) TableName() string {
	return "users"
}

// PlatformOperator represents a platform administrator in the management database
type PlatformOperator struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Username       string    `json:"username" gorm:"type:varchar(50);not null;uniqueIndex"`
	Email          string    `json:"email" gorm:"type:varchar(100);not null;uniqueIndex"`
	HashedPassword string    `json:"-" gorm:"type:varchar(255);not null"`
	IsActive       bool      `json:"is_active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (PlatformOperator) TableName() string {
	return "platform_operators"
}

// NewPrincipal carries the fields needed to create a principal
type NewPrincipal struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	IsAdmin  bool   `json:"is_admin"`
}

type Role string

const (
	RolePlatformOperator Role = "platform_operator"
	RoleTenantAdmin      Role = "tenant_admin"
	RoleTenantUser       Role = "tenant_user"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RolePlatformOperator, RoleTenantAdmin, RoleTenantUser:
		return true
	}
	return false
}

// Identity is the validated caller extracted from a session token
type Identity struct {
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	TenantScope string `json:"tenant_org"`
	PrincipalID uint   `json:"user_id"`
	IsAdmin     bool   `json:"is_admin"`
	TokenID     string `json:"-"`
}

func (id Identity) IsPlatformOperator() bool {
	return id.Role == RolePlatformOperator
}

// EmailDomain returns the lower-cased domain part of an email address,
// or "" when the address has no single '@'.
func EmailDomain(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return NormalizeDomain(domain)
}
