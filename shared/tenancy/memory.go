package tenancy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// MemoryDirectory is an in-process Directory with the same uniqueness rules
// as the database-backed one. Used by tests and local development.
type MemoryDirectory struct {
	mu       sync.RWMutex
	byOrg    map[string]*models.TenantRecord
	byDomain map[string]string
	nextID   uint
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byOrg:    make(map[string]*models.TenantRecord),
		byDomain: make(map[string]string),
	}
}

func (d *MemoryDirectory) ResolveByDomain(_ context.Context, domain string) (*models.TenantRecord, error) {
	domain = models.NormalizeDomain(domain)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if org, ok := d.byDomain[domain]; ok {
		if rec := d.byOrg[org]; rec.IsActive() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("tenant domain", domain)
}

func (d *MemoryDirectory) ResolveByOrg(_ context.Context, org string) (*models.TenantRecord, error) {
	org = models.NormalizeOrg(org)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rec, ok := d.byOrg[org]; ok && rec.IsActive() {
		cp := *rec
		return &cp, nil
	}
	return nil, apperrors.NotFound("tenant", org)
}

func (d *MemoryDirectory) List(_ context.Context) ([]models.TenantRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.TenantRecord, 0, len(d.byOrg))
	for _, rec := range d.byOrg {
		if rec.IsActive() {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Org < out[j].Org })
	return out, nil
}

func (d *MemoryDirectory) Reserve(_ context.Context, rec *models.TenantRecord) error {
	rec.Org = models.NormalizeOrg(rec.Org)
	rec.Domain = models.NormalizeDomain(rec.Domain)
	rec.Status = models.TenantStatusProvisioning

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byOrg[rec.Org]; ok {
		return apperrors.Conflict("tenant", "org", rec.Org)
	}
	if _, ok := d.byDomain[rec.Domain]; ok {
		return apperrors.Conflict("tenant", "domain", rec.Domain)
	}

	d.nextID++
	now := time.Now()
	rec.ID = d.nextID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := *rec
	d.byOrg[rec.Org] = &cp
	d.byDomain[rec.Domain] = rec.Org
	return nil
}

func (d *MemoryDirectory) Activate(_ context.Context, org string) error {
	org = models.NormalizeOrg(org)
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byOrg[org]
	if !ok || rec.Status != models.TenantStatusProvisioning {
		return apperrors.NotFound("tenant reservation", org)
	}
	rec.Status = models.TenantStatusActive
	rec.UpdatedAt = time.Now()
	return nil
}

func (d *MemoryDirectory) Release(_ context.Context, org string) error {
	org = models.NormalizeOrg(org)
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byOrg[org]
	if !ok || rec.Status != models.TenantStatusProvisioning {
		return nil
	}
	delete(d.byDomain, rec.Domain)
	delete(d.byOrg, org)
	return nil
}

func (d *MemoryDirectory) Reservation(_ context.Context, org string) (*models.TenantRecord, error) {
	org = models.NormalizeOrg(org)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rec, ok := d.byOrg[org]; ok && rec.Status == models.TenantStatusProvisioning {
		cp := *rec
		return &cp, nil
	}
	return nil, apperrors.NotFound("tenant reservation", org)
}

// Len counts records in any status
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byOrg)
}
