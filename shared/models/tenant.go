package models

import (
	"strings"
	"time"
)

// TenantStatus tracks whether a tenant has finished provisioning
type TenantStatus string

const (
	TenantStatusProvisioning TenantStatus = "provisioning"
	TenantStatusActive       TenantStatus = "active"
)

// PlatformScope is the tenant scope carried by platform operator tokens.
// It is reserved and can never be provisioned as a tenant org.
const PlatformScope = "PLATFORM"

// TenantRecord is the directory entry mapping an org to its isolated store
type TenantRecord struct {
	ID           uint         `json:"-" gorm:"primaryKey"`
	Org          string       `json:"org" gorm:"type:varchar(255);not null;uniqueIndex"`
	Domain       string       `json:"domain" gorm:"type:varchar(255);not null;uniqueIndex"`
	StoreLocator string       `json:"-" gorm:"type:varchar(255);not null;<-:create"`
	Status       TenantStatus `json:"status" gorm:"type:varchar(20);not null;default:'provisioning'"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the table name for the TenantRecord model
func (TenantRecord) TableName() string {
	return "tenants"
}

// IsActive reports whether the tenant is visible to resolution
func (t *TenantRecord) IsActive() bool {
	return t.Status == TenantStatusActive
}

// TenantView is the public shape returned by the provisioning endpoints
type TenantView struct {
	Org       string       `json:"org"`
	Domain    string       `json:"domain"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// View strips internal fields such as the store locator
func (t TenantRecord) View() TenantView {
	return TenantView{
		Org:       t.Org,
		Domain:    t.Domain,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// NormalizeOrg is applied everywhere an org identifier enters the system
func NormalizeOrg(org string) string {
	return strings.ToUpper(strings.TrimSpace(org))
}

// NormalizeDomain lower-cases a public domain for lookup
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// StoreLocatorFor derives the isolated database name for an org
func StoreLocatorFor(org string) string {
	return "tenant_" + strings.ToLower(NormalizeOrg(org))
}
