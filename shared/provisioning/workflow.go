// Package provisioning creates tenants: a directory record, an isolated
// database and the seed principals inside it. A failed step rolls back the
// earlier ones so no half-built tenant is ever resolvable.
package provisioning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/credentials"
	"github.com/pavitra93/go-tenant-isolation/shared/events"
	"github.com/pavitra93/go-tenant-isolation/shared/guards"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
)

const (
	ServiceAdminName  = "Platform Service"
	ServiceAdminEmail = "service@platform.internal"

	minPasswordLength = 8
)

// Allocator creates and drops isolated tenant databases
type Allocator interface {
	Create(ctx context.Context, locator string) error
	Drop(ctx context.Context, locator string) error
}

// Seeder migrates a fresh tenant database and inserts the initial principals
// in a single transaction.
type Seeder interface {
	Seed(ctx context.Context, locator string, principals []models.Principal) error
}

// Workflow runs tenant creation
type Workflow struct {
	dir            tenancy.Directory
	alloc          Allocator
	seeder         Seeder
	publisher      events.Publisher
	metrics        *metrics.Metrics
	platformDomain string
	timeout        time.Duration

	locks keyedMutex
}

// Config wires a Workflow. Publisher and Metrics may be nil.
type Config struct {
	Directory      tenancy.Directory
	Allocator      Allocator
	Seeder         Seeder
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	PlatformDomain string
	Timeout        time.Duration
}

func NewWorkflow(cfg Config) *Workflow {
	w := &Workflow{
		dir:            cfg.Directory,
		alloc:          cfg.Allocator,
		seeder:         cfg.Seeder,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		platformDomain: models.NormalizeDomain(cfg.PlatformDomain),
		timeout:        cfg.Timeout,
	}
	if w.publisher == nil {
		w.publisher = events.NopPublisher{}
	}
	if w.metrics == nil {
		w.metrics = metrics.Discard()
	}
	return w
}

// CreateTenant provisions org with admin as its first tenant administrator.
// Only platform operators may call it. The returned record is active and
// resolvable; on any error nothing new is resolvable.
func (w *Workflow) CreateTenant(ctx context.Context, requester models.Identity, org string, admin models.NewPrincipal) (*models.TenantRecord, error) {
	if _, err := guards.RequireRole(requester, models.RolePlatformOperator); err != nil {
		return nil, err
	}

	org = models.NormalizeOrg(org)
	domain, err := w.validate(org, admin)
	if err != nil {
		w.metrics.Provisioning.WithLabelValues("invalid").Inc()
		return nil, err
	}

	principals, err := seedPrincipals(org, admin)
	if err != nil {
		return nil, err
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	unlock := w.locks.Lock(org)
	defer unlock()

	log := logrus.WithFields(logrus.Fields{
		"org":       org,
		"domain":    domain,
		"requester": requester.Email,
	})

	rec := &models.TenantRecord{
		Org:          org,
		Domain:       domain,
		StoreLocator: models.StoreLocatorFor(org),
	}
	if err := w.reserve(ctx, log, rec); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			w.metrics.Provisioning.WithLabelValues("conflict").Inc()
			log.WithError(err).Info("Tenant already exists")
		} else {
			w.metrics.Provisioning.WithLabelValues("failed").Inc()
			log.WithError(err).Error("Failed to reserve tenant")
		}
		return nil, err
	}

	// compensation must run even when ctx has timed out
	cleanup := context.WithoutCancel(ctx)

	if err := w.alloc.Create(ctx, rec.StoreLocator); err != nil {
		w.release(cleanup, log, org)
		return nil, w.fail(log, org, "allocate", err)
	}

	if err := w.seeder.Seed(ctx, rec.StoreLocator, principals); err != nil {
		w.drop(cleanup, log, rec.StoreLocator)
		w.release(cleanup, log, org)
		return nil, w.fail(log, org, "seed", err)
	}

	if err := w.dir.Activate(ctx, org); err != nil {
		w.drop(cleanup, log, rec.StoreLocator)
		w.release(cleanup, log, org)
		return nil, w.fail(log, org, "activate", err)
	}
	rec.Status = models.TenantStatusActive

	w.metrics.Provisioning.WithLabelValues("created").Inc()
	log.Info("Tenant provisioned")

	if err := w.publisher.Publish(cleanup, events.Event{
		Type:    events.TypeTenantProvisioned,
		Org:     org,
		Subject: requester.Email,
		Attributes: map[string]string{
			"domain":        domain,
			"store_locator": rec.StoreLocator,
		},
	}); err != nil {
		log.WithError(err).Warn("Failed to queue tenant.provisioned event")
	}

	return rec, nil
}

func (w *Workflow) validate(org string, admin models.NewPrincipal) (string, error) {
	if org == "" {
		return "", apperrors.Validation("org", "is required")
	}
	if org == models.PlatformScope {
		return "", apperrors.Validation("org", "is reserved")
	}
	for _, r := range org {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return "", apperrors.Validation("org", "must be alphanumeric")
		}
	}

	name := strings.TrimSpace(admin.Name)
	if name == "" {
		return "", apperrors.Validation("name", "is required")
	}
	if name == ServiceAdminName {
		return "", apperrors.Validation("name", "is reserved")
	}
	if len(admin.Password) < minPasswordLength {
		return "", apperrors.Validation("password", "must be at least 8 characters")
	}

	domain := models.EmailDomain(admin.Email)
	if domain == "" {
		return "", apperrors.Validation("email", "must be a valid address")
	}
	if domain == w.platformDomain {
		return "", apperrors.Validation("email", "platform domain cannot own a tenant")
	}
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if email == ServiceAdminEmail || domain == models.EmailDomain(ServiceAdminEmail) {
		return "", apperrors.Validation("email", "is reserved")
	}
	return domain, nil
}

// reserve claims org in the directory. A reservation left behind by an
// attempt whose rollback failed is reclaimed once it is older than the
// provisioning timeout; younger ones may still belong to a running attempt.
func (w *Workflow) reserve(ctx context.Context, log *logrus.Entry, rec *models.TenantRecord) error {
	err := w.dir.Reserve(ctx, rec)
	var conflict *apperrors.ConflictError
	if err == nil || !errors.As(err, &conflict) || conflict.Field != "org" {
		return err
	}

	stale, lookupErr := w.dir.Reservation(ctx, rec.Org)
	if lookupErr != nil {
		if errors.Is(lookupErr, apperrors.ErrNotFound) {
			return err
		}
		return lookupErr
	}
	if w.timeout > 0 && time.Since(stale.CreatedAt) < w.timeout {
		return err
	}

	log.WithField("reserved_at", stale.CreatedAt).Warn("Reclaiming abandoned tenant reservation")
	if dropErr := w.alloc.Drop(ctx, stale.StoreLocator); dropErr != nil {
		return apperrors.Provisioning(rec.Org, "reclaim", dropErr)
	}
	if releaseErr := w.dir.Release(ctx, rec.Org); releaseErr != nil {
		return apperrors.Provisioning(rec.Org, "reclaim", releaseErr)
	}
	return w.dir.Reserve(ctx, rec)
}

// seedPrincipals builds the service admin and the tenant admin with hashed passwords
func seedPrincipals(org string, admin models.NewPrincipal) ([]models.Principal, error) {
	servicePassword, err := credentials.RandomPassword()
	if err != nil {
		return nil, apperrors.Provisioning(org, "credentials", err)
	}
	serviceHash, err := credentials.Hash(servicePassword)
	if err != nil {
		return nil, apperrors.Provisioning(org, "credentials", err)
	}
	adminHash, err := credentials.Hash(admin.Password)
	if err != nil {
		return nil, err
	}

	return []models.Principal{
		{
			TenantOrg:      org,
			Name:           ServiceAdminName,
			Email:          ServiceAdminEmail,
			HashedPassword: serviceHash,
			IsActive:       true,
			IsAdmin:        true,
		},
		{
			TenantOrg:      org,
			Name:           strings.TrimSpace(admin.Name),
			Email:          strings.ToLower(strings.TrimSpace(admin.Email)),
			HashedPassword: adminHash,
			IsActive:       true,
			IsAdmin:        true,
		},
	}, nil
}

func (w *Workflow) fail(log *logrus.Entry, org, step string, err error) error {
	w.metrics.Provisioning.WithLabelValues("failed").Inc()
	log.WithFields(logrus.Fields{"step": step, "error": err}).Error("Tenant provisioning failed, rolled back")
	return apperrors.Provisioning(org, step, err)
}

func (w *Workflow) drop(ctx context.Context, log *logrus.Entry, locator string) {
	if err := w.alloc.Drop(ctx, locator); err != nil {
		log.WithError(err).Error("Failed to drop tenant store during rollback")
	}
}

func (w *Workflow) release(ctx context.Context, log *logrus.Entry, org string) {
	if err := w.dir.Release(ctx, org); err != nil {
		log.WithError(err).Error("Failed to release tenant reservation during rollback")
	}
}

// keyedMutex serializes work per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
